// Package relay is the reference backend: anonymous sign-in, the live feed
// over WebSocket, media uploads and a health check.
package relay

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"roomchat/auth"
	"roomchat/feed"
)

// Options configures a Server.
type Options struct {
	Secret         []byte
	TokenTTL       time.Duration
	UploadDir      string
	MaxUploadBytes int64
	PublicURL      string
	Logger         *slog.Logger
	Now            func() time.Time
}

// Server holds the relay state and its HTTP routes.
type Server struct {
	opts     Options
	store    *Store
	logger   *slog.Logger
	upgrader websocket.Upgrader
	router   *gin.Engine
}

// New validates opts, prepares the upload directory and builds the router.
func New(opts Options) (*Server, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("relay: signing secret is required")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	if opts.UploadDir == "" {
		opts.UploadDir = "uploads"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")

	if err := os.MkdirAll(opts.UploadDir, 0o755); err != nil {
		return nil, err
	}

	s := &Server{
		opts:   opts,
		store:  NewStore(),
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.router = s.setupRouter()
	return s, nil
}

// Handler returns the HTTP handler serving every relay route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Store exposes the in-memory collections.
func (s *Server) Store() *Store {
	return s.store
}

func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(s.logger))

	router.GET("/health", s.health)
	router.GET("/uploads/:ref", s.serveUpload)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/anonymous", s.signInAnonymously)
		v1.POST("/uploads", requireAuth(s.opts.Secret), s.upload)
	}

	router.GET(feed.Path, requireAuth(s.opts.Secret), s.serveFeed)

	return router
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type signInRequest struct {
	DisplayName string `json:"display_name"`
	UserID      string `json:"user_id"`
}

func (s *Server) signInAnonymously(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if len(userID) > 128 || strings.ContainsAny(userID, `/\`) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}

	token, claims, err := auth.IssueToken(s.opts.Secret, userID, req.DisplayName, s.opts.TokenTTL, s.opts.Now())
	if err != nil {
		s.logger.Error("issue token failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}

	s.logger.Info("anonymous sign-in", "user_id", claims.Subject)
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"user_id":    claims.Subject,
		"expires_at": claims.ExpiresAt.Time,
	})
}

func (s *Server) serveFeed(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("feed upgrade failed", "err", err)
		return
	}

	conn := newFeedConn(ws, s.store, c.GetString(contextUserID), s.logger)
	conn.serve(c.Request.Context())
}

// uploadURL builds the public download URL for ref.
func (s *Server) uploadURL(c *gin.Context, ref string) string {
	base := s.opts.PublicURL
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + c.Request.Host
	}
	return base + "/uploads/" + ref
}
