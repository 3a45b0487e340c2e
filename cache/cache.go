// Package cache provides the Local Cache backends for the message list.
package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"roomchat/chatsync"
	"roomchat/storage"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// ErrUnknownBackend indicates an unsupported backend name.
var ErrUnknownBackend = errors.New("cache: unknown backend")

// Options selects and configures a backend.
type Options struct {
	Backend string

	// Store backs BackendSQLite.
	Store *storage.Store
	// Redis backs BackendRedis.
	Redis       *redis.Options
	RedisPrefix string

	// SealKey, when set, wraps the backend in a Sealed cache.
	SealKey []byte
}

// Open builds the configured cache. The returned close func releases backend
// resources the cache owns; it never closes Store.
func Open(ctx context.Context, opts Options) (chatsync.Cache, func() error, error) {
	var (
		backend chatsync.Cache
		closeFn = func() error { return nil }
	)

	switch opts.Backend {
	case BackendSQLite, "":
		if opts.Store == nil {
			return nil, nil, errors.New("cache: sqlite backend requires a store")
		}
		backend = NewSQLite(opts.Store)
	case BackendRedis:
		if opts.Redis == nil {
			return nil, nil, errors.New("cache: redis backend requires options")
		}
		rdb := redis.NewClient(opts.Redis)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("cache: connect redis: %w", err)
		}
		backend = NewRedis(rdb, opts.RedisPrefix)
		closeFn = rdb.Close
	case BackendMemory:
		backend = NewMemory()
	default:
		return nil, nil, fmt.Errorf("%w %q", ErrUnknownBackend, opts.Backend)
	}

	if opts.SealKey == nil {
		return backend, closeFn, nil
	}
	sealed, err := NewSealed(backend, opts.SealKey)
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	return sealed, closeFn, nil
}
