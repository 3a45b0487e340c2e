package cache

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"roomchat/chatsync"
	"roomchat/crypto"
)

const sealedKeyInfo = "roomchat cache v1"

// ErrUnsealed indicates a stored value that is not a sealed envelope.
var ErrUnsealed = errors.New("cache: value is not sealed")

// Sealed encrypts values before they reach the wrapped cache. The slot key is
// bound as associated data so a value cannot be moved between slots.
type Sealed struct {
	next chatsync.Cache
	key  []byte
}

// NewSealed derives the value key from master and wraps next.
func NewSealed(next chatsync.Cache, master []byte) (*Sealed, error) {
	key, err := crypto.DeriveKey(master, sealedKeyInfo)
	if err != nil {
		return nil, err
	}
	return &Sealed{next: next, key: key}, nil
}

func (c *Sealed) Get(ctx context.Context, key string) (string, bool, error) {
	stored, found, err := c.next.Get(ctx, key)
	if err != nil || !found {
		return "", found, err
	}

	sealed, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnsealed, err)
	}
	plaintext, err := crypto.Open(c.key, sealed, []byte(key))
	if err != nil {
		return "", false, fmt.Errorf("open cache slot %q: %w", key, err)
	}
	return string(plaintext), true, nil
}

func (c *Sealed) Set(ctx context.Context, key, value string) error {
	sealed, err := crypto.Seal(c.key, []byte(value), []byte(key))
	if err != nil {
		return fmt.Errorf("seal cache slot %q: %w", key, err)
	}
	return c.next.Set(ctx, key, base64.StdEncoding.EncodeToString(sealed))
}
