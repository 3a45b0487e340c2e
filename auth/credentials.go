package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultRenewBefore is how long before expiry a cached token is replaced.
const DefaultRenewBefore = time.Minute

// Credentials keeps one anonymous session for a device and signs in again
// when the token is missing, close to expiry or invalidated.
type Credentials struct {
	client      *http.Client
	displayName string
	renewBefore time.Duration
	now         func() time.Time

	mu      sync.Mutex
	baseURL string
	userID  string
	session *Session
}

// NewCredentials returns credentials that sign in lazily on first use.
func NewCredentials(client *http.Client, baseURL, userID, displayName string) *Credentials {
	return &Credentials{
		client:      client,
		displayName: displayName,
		renewBefore: DefaultRenewBefore,
		now:         time.Now,
		baseURL:     baseURL,
		userID:      userID,
	}
}

// Session returns a usable session, signing in when needed.
func (c *Credentials) Session(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && !c.session.Expired(c.now().Add(c.renewBefore)) {
		return c.session, nil
	}

	session, err := SignInAnonymously(ctx, c.client, c.baseURL, c.userID, c.displayName)
	if err != nil {
		return nil, err
	}
	c.session = session
	c.userID = session.UserID
	return session, nil
}

// Token returns the current token, signing in when needed. It matches the
// token source signature used by the feed client and the uploader.
func (c *Credentials) Token(ctx context.Context) (string, error) {
	session, err := c.Session(ctx)
	if err != nil {
		return "", err
	}
	return session.Token, nil
}

// UserID returns the identity the relay last confirmed, or the configured one
// before the first sign-in.
func (c *Credentials) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Invalidate drops the cached token so the next call signs in again.
func (c *Credentials) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
}

// SetBaseURL points later sign-ins at another relay and drops the cached
// token, which that relay would not accept.
func (c *Credentials) SetBaseURL(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if strings.TrimRight(c.baseURL, "/") == strings.TrimRight(baseURL, "/") {
		return
	}
	c.baseURL = baseURL
	c.session = nil
}

// BaseURL returns the relay used for sign-in.
func (c *Credentials) BaseURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseURL
}
