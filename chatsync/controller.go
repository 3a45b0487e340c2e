package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"roomchat/models"
)

var (
	// ErrClosed indicates the session already ended.
	ErrClosed = errors.New("chatsync: controller is closed")
	// ErrFeedRequired indicates a controller built without a Remote Feed.
	ErrFeedRequired = errors.New("chatsync: feed is required")
	// ErrCacheRequired indicates a controller built without a Local Cache.
	ErrCacheRequired = errors.New("chatsync: cache is required")
)

// State is the data source currently feeding the message list.
type State string

const (
	StateDetached State = "DETACHED"
	StateLive     State = "LIVE"
	StateCached   State = "CACHED"
)

const defaultOutboxBatch = 100

// Options configures a Controller.
type Options struct {
	Feed   Feed
	Cache  Cache
	Outbox Outbox

	Collection string
	OrderField string
	Direction  Direction
	CacheKey   string

	Logger *slog.Logger

	// OnChange receives a copy of the list after every mutation. It runs with
	// the controller lock held and must not call back into the controller.
	OnChange func([]models.Message)
}

func (o Options) withDefaults() Options {
	out := o
	if out.Collection == "" {
		out.Collection = DefaultCollection
	}
	if out.OrderField == "" {
		out.OrderField = DefaultOrderField
	}
	if out.Direction == "" {
		out.Direction = Descending
	}
	if out.CacheKey == "" {
		out.CacheKey = DefaultCacheKey
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Controller decides, per connectivity transition, whether the message list
// mirrors the live feed or the local cache.
//
// Every operation runs under one mutex, so transitions, snapshots and sends
// are applied strictly in arrival order.
type Controller struct {
	opts Options
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	messages []models.Message
	closed   bool

	// sub is non-nil only in StateLive. liveToken identifies the
	// subscription whose callbacks may still mutate state; zero means none.
	sub       Subscription
	liveToken uint64
	lastToken uint64
}

// NewController validates options and returns a Detached controller.
func NewController(options Options) (*Controller, error) {
	if options.Feed == nil {
		return nil, ErrFeedRequired
	}
	if options.Cache == nil {
		return nil, ErrCacheRequired
	}

	opts := options.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		opts:     opts,
		log:      opts.Logger.With("component", "chatsync"),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateDetached,
		messages: []models.Message{},
	}, nil
}

// State returns the current data source.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns a copy of the current list, newest first.
func (c *Controller) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.messages...)
}

// OnConnectivityChange applies one authoritative connectivity value. A
// repeated value for the current state is a no-op.
func (c *Controller) OnConnectivityChange(ctx context.Context, isOnline bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if isOnline {
		if c.state == StateLive {
			return
		}
		c.teardownLocked()
		c.goLiveLocked(ctx)
		return
	}

	if c.state == StateCached {
		return
	}
	c.teardownLocked()
	c.goCachedLocked(ctx)
}

// OnRemoteSnapshot applies a snapshot for the active subscription. It is
// ignored unless the controller is Live.
func (c *Controller) OnRemoteSnapshot(documents []json.RawMessage) {
	c.mu.Lock()
	token := c.liveToken
	c.mu.Unlock()

	if token == 0 {
		return
	}
	c.applySnapshot(token, documents)
}

// OnSend shows the message immediately and appends it to the feed's
// collection. Append failures never reach the caller: with an outbox the
// message is queued for replay, otherwise it is logged and dropped.
func (c *Controller) OnSend(ctx context.Context, message models.Message) error {
	if err := message.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	next := make([]models.Message, 0, len(c.messages)+1)
	next = append(next, message)
	next = append(next, c.messages...)
	c.setMessagesLocked(next)

	err := c.opts.Feed.Append(ctx, c.opts.Collection, message)
	if err == nil {
		return nil
	}

	if c.opts.Outbox == nil {
		c.log.Warn("append failed, message dropped", "message_id", message.ID, "error", err)
		return nil
	}
	if qerr := c.opts.Outbox.Enqueue(ctx, c.opts.Collection, message); qerr != nil {
		c.log.Error("append failed and outbox enqueue failed", "message_id", message.ID, "error", err, "outbox_error", qerr)
		return nil
	}
	c.log.Info("append failed, message queued", "message_id", message.ID, "error", err)
	return nil
}

// LoadFromCache reads the cached snapshot. A missing entry yields an empty
// list and no error.
func (c *Controller) LoadFromCache(ctx context.Context) ([]models.Message, error) {
	blob, found, err := c.opts.Cache.Get(ctx, c.opts.CacheKey)
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	if !found {
		return []models.Message{}, nil
	}

	messages, recordErrs, err := DecodeSnapshot(blob)
	if err != nil {
		return nil, err
	}
	for _, recordErr := range recordErrs {
		c.log.Warn("skipping cached record", "error", recordErr)
	}
	return messages, nil
}

// FlushOutbox replays queued messages oldest first, stopping at the first
// failure. It returns the number of messages delivered.
func (c *Controller) FlushOutbox(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}
	return c.flushOutboxLocked(ctx)
}

// Close ends the session: the subscription is torn down, the list cleared,
// and no further cache writes happen.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.teardownLocked()
	c.state = StateDetached
	c.setMessagesLocked([]models.Message{})
	c.cancel()
}

func (c *Controller) goLiveLocked(ctx context.Context) {
	c.lastToken++
	token := c.lastToken
	c.liveToken = token

	query := Query{
		Collection: c.opts.Collection,
		OrderField: c.opts.OrderField,
		Direction:  c.opts.Direction,
	}
	sub, err := c.opts.Feed.Subscribe(ctx, query, func(documents []json.RawMessage) {
		c.applySnapshot(token, documents)
	})
	if err != nil {
		c.liveToken = 0
		c.log.Warn("subscribe failed, falling back to cache", "error", err)
		c.goCachedLocked(ctx)
		return
	}

	c.sub = sub
	c.state = StateLive
	c.log.Debug("subscribed", "collection", query.Collection, "token", token)

	if c.opts.Outbox != nil {
		if _, err := c.flushOutboxLocked(ctx); err != nil {
			c.log.Warn("outbox replay stopped", "error", err)
		}
	}
}

func (c *Controller) goCachedLocked(ctx context.Context) {
	c.state = StateCached

	messages, err := c.LoadFromCache(ctx)
	if err != nil {
		c.log.Error("cache read failed, keeping current list", "error", err)
		return
	}
	c.setMessagesLocked(messages)
}

// teardownLocked unsubscribes at most once per subscription and invalidates
// its token so late callbacks are dropped.
func (c *Controller) teardownLocked() {
	c.liveToken = 0
	if c.sub == nil {
		return
	}
	sub := c.sub
	c.sub = nil
	sub.Unsubscribe()
	c.log.Debug("unsubscribed")
}

func (c *Controller) applySnapshot(token uint64, documents []json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state != StateLive || token != c.liveToken {
		return
	}

	messages, recordErrs := NormalizeSnapshot(documents)
	for _, recordErr := range recordErrs {
		c.log.Warn("skipping malformed record", "error", recordErr)
	}
	c.setMessagesLocked(messages)

	blob, err := EncodeSnapshot(messages)
	if err != nil {
		c.log.Error("cache write-through skipped", "error", err)
		return
	}
	if err := c.opts.Cache.Set(c.ctx, c.opts.CacheKey, blob); err != nil {
		c.log.Error("cache write-through failed", "error", err)
	}
}

func (c *Controller) flushOutboxLocked(ctx context.Context) (int, error) {
	if c.opts.Outbox == nil {
		return 0, nil
	}

	pending, err := c.opts.Outbox.Pending(ctx, defaultOutboxBatch)
	if err != nil {
		return 0, fmt.Errorf("read outbox: %w", err)
	}

	delivered := 0
	for _, entry := range pending {
		if err := c.opts.Feed.Append(ctx, entry.Collection, entry.Message); err != nil {
			if markErr := c.opts.Outbox.MarkAttempted(ctx, entry.Message.ID, err.Error()); markErr != nil {
				c.log.Error("record outbox attempt failed", "message_id", entry.Message.ID, "error", markErr)
			}
			return delivered, fmt.Errorf("replay %q: %w", entry.Message.ID, err)
		}
		if err := c.opts.Outbox.MarkSent(ctx, entry.Message.ID); err != nil {
			return delivered, fmt.Errorf("mark %q sent: %w", entry.Message.ID, err)
		}
		delivered++
	}
	if delivered > 0 {
		c.log.Info("outbox replayed", "delivered", delivered)
	}
	return delivered, nil
}

func (c *Controller) setMessagesLocked(messages []models.Message) {
	c.messages = messages
	if c.opts.OnChange != nil {
		c.opts.OnChange(append([]models.Message(nil), messages...))
	}
}
