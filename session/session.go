// Package session ties a user profile to the sync controller and the
// connectivity signal for the lifetime of one chat screen.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"roomchat/chatsync"
	"roomchat/connectivity"
	"roomchat/models"
)

var (
	// ErrNoUploader indicates a media send without an uploader configured.
	ErrNoUploader = errors.New("session: media uploads are not configured")
	// ErrEmptyText indicates a blank text message.
	ErrEmptyText = errors.New("session: message text is empty")
)

// Uploader stores a local media file and returns its download URL.
type Uploader interface {
	Upload(ctx context.Context, userID, path string) (string, error)
}

// Options configures a Session.
type Options struct {
	Profile    models.Profile
	Controller *chatsync.Controller
	Uploader   Uploader
	Logger     *slog.Logger

	// OnStateChange runs after a connectivity change moves the controller
	// to another data source.
	OnStateChange func(from, to chatsync.State)

	Now   func() time.Time
	NewID func() string
}

// Session is one user's presence in the room.
type Session struct {
	profile    models.Profile
	controller *chatsync.Controller
	uploader   Uploader
	log        *slog.Logger
	onState    func(from, to chatsync.State)
	now        func() time.Time
	newID      func() string

	startOnce sync.Once
	closeOnce sync.Once
}

// New validates opts and returns a session that has not started yet.
func New(opts Options) (*Session, error) {
	if opts.Controller == nil {
		return nil, errors.New("session: controller is required")
	}
	if strings.TrimSpace(opts.Profile.UserID) == "" {
		return nil, errors.New("session: profile user id is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &Session{
		profile:    opts.Profile,
		controller: opts.Controller,
		uploader:   opts.Uploader,
		onState:    opts.OnStateChange,
		log:        opts.Logger.With("component", "session", "user_id", opts.Profile.UserID),
		now:        opts.Now,
		newID:      opts.NewID,
	}, nil
}

// Profile returns the profile the session was opened with.
func (s *Session) Profile() models.Profile {
	return s.profile
}

// Messages returns the current list, newest first.
func (s *Session) Messages() []models.Message {
	return s.controller.Messages()
}

// State returns the controller's current data source.
func (s *Session) State() chatsync.State {
	return s.controller.State()
}

// Start performs the session-start transition. An unknown status counts as
// offline until a definite value arrives. Later calls are ignored.
func (s *Session) Start(ctx context.Context, status connectivity.Status) {
	s.startOnce.Do(func() {
		online := status.Known() && *status.IsConnected
		s.log.Info("session started", "status", status.String())
		s.apply(ctx, online)
	})
}

// Run forwards definite connectivity values to the controller until ctx is
// done or events is closed. Unknown readings are ignored.
func (s *Session) Run(ctx context.Context, events <-chan connectivity.Status) {
	for {
		select {
		case <-ctx.Done():
			return
		case status, ok := <-events:
			if !ok {
				return
			}
			if !status.Known() {
				s.log.Debug("ignoring unknown connectivity reading")
				continue
			}
			s.apply(ctx, *status.IsConnected)
		}
	}
}

func (s *Session) apply(ctx context.Context, online bool) {
	from := s.controller.State()
	s.controller.OnConnectivityChange(ctx, online)
	to := s.controller.State()
	if from == to {
		return
	}
	s.log.Info("data source changed", "from", from, "to", to)
	if s.onState != nil {
		s.onState(from, to)
	}
}

// SendText sends a text message authored by the profile.
func (s *Session) SendText(ctx context.Context, text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyText
	}
	return s.send(ctx, models.TextPayload(text))
}

// SendImage uploads the image at path and sends its URL.
func (s *Session) SendImage(ctx context.Context, path string) (models.Message, error) {
	url, err := s.upload(ctx, path)
	if err != nil {
		return models.Message{}, err
	}
	return s.send(ctx, models.ImagePayload(url))
}

// SendAudio uploads the recording at path and sends its URL.
func (s *Session) SendAudio(ctx context.Context, path string) (models.Message, error) {
	url, err := s.upload(ctx, path)
	if err != nil {
		return models.Message{}, err
	}
	return s.send(ctx, models.AudioPayload(url))
}

// SendLocation sends a map location.
func (s *Session) SendLocation(ctx context.Context, latitude, longitude float64) (models.Message, error) {
	return s.send(ctx, models.LocationPayload(latitude, longitude))
}

// Close ends the session. The controller stops observing the feed and clears
// its list.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.controller.Close()
		s.log.Info("session closed")
	})
}

func (s *Session) upload(ctx context.Context, path string) (string, error) {
	if s.uploader == nil {
		return "", ErrNoUploader
	}
	url, err := s.uploader.Upload(ctx, s.profile.UserID, path)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	return url, nil
}

func (s *Session) send(ctx context.Context, payload models.Payload) (models.Message, error) {
	message := models.Message{
		ID:         s.newID(),
		AuthorID:   s.profile.UserID,
		AuthorName: s.profile.DisplayName,
		CreatedAt:  s.now(),
		Payload:    payload,
	}
	if err := s.controller.OnSend(ctx, message); err != nil {
		return models.Message{}, err
	}
	return message, nil
}

// ReportFeedDrop returns a callback for a dropped feed connection. It marks
// the monitor offline and asks for a fresh probe, so the controller falls
// back to the cache and resubscribes once the relay answers again.
func ReportFeedDrop(monitor *connectivity.Monitor, logger *slog.Logger) func(error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(err error) {
		logger.Warn("feed connection lost", "error", err)
		offline := false
		monitor.Set(&offline)
		monitor.Refresh()
	}
}
