package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SignInPath is the relay endpoint for anonymous sign-in.
const SignInPath = "/api/v1/auth/anonymous"

// ErrSignIn is returned for any sign-in failure; callers show it as
// "Unable to sign in".
var ErrSignIn = errors.New("auth: unable to sign in")

// Session is an authenticated anonymous identity.
type Session struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type signInRequest struct {
	DisplayName string `json:"display_name"`
	UserID      string `json:"user_id,omitempty"`
}

type signInResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Error  string `json:"error"`
}

// SignInAnonymously asks the relay for a session token. userID may be empty;
// when set the relay reuses it so the device keeps one identity. A nil client
// uses http.DefaultClient.
func SignInAnonymously(ctx context.Context, client *http.Client, baseURL, userID, displayName string) (*Session, error) {
	if client == nil {
		client = http.DefaultClient
	}

	body, err := json.Marshal(signInRequest{DisplayName: displayName, UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrSignIn, err)
	}

	endpoint := strings.TrimRight(baseURL, "/") + SignInPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignIn, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignIn, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrSignIn, err)
	}

	var decoded signInResponse
	_ = json.Unmarshal(raw, &decoded)
	if resp.StatusCode != http.StatusOK {
		if decoded.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrSignIn, decoded.Error)
		}
		return nil, fmt.Errorf("%w: status %d", ErrSignIn, resp.StatusCode)
	}
	if decoded.Token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrSignIn)
	}

	claims, err := ParseUnverified(decoded.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignIn, err)
	}

	session := &Session{UserID: claims.Subject, Token: decoded.Token}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}
