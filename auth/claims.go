// Package auth issues and reads the anonymous session tokens shared by the
// client and the relay.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is the iss claim carried by every roomchat token.
const Issuer = "roomchat-relay"

var (
	// ErrInvalidToken indicates a token that failed parsing or verification.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrMissingSubject indicates a token without a user id.
	ErrMissingSubject = errors.New("auth: token has no subject")
)

// Claims is the payload of an anonymous session token. The subject is the
// user id.
type Claims struct {
	DisplayName string `json:"display_name,omitempty"`
	IsGuest     bool   `json:"is_guest"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for userID. An empty userID gets a fresh uuid.
func IssueToken(secret []byte, userID, displayName string, ttl time.Duration, now time.Time) (string, *Claims, error) {
	if len(secret) == 0 {
		return "", nil, errors.New("auth: signing secret is required")
	}
	if userID == "" {
		userID = uuid.NewString()
	}

	claims := &Claims{
		DisplayName: displayName,
		IsGuest:     true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// ValidateToken verifies signature, issuer and expiry.
func ValidateToken(secret []byte, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}

// ParseUnverified reads claims without checking the signature. The relay is
// the verifier; the client only needs the user id and expiry.
func ParseUnverified(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}
