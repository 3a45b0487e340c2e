package cache

import (
	"context"

	"roomchat/storage"
)

// SQLite keeps cache slots in the client database.
type SQLite struct {
	store *storage.Store
}

// NewSQLite wraps an open store.
func NewSQLite(store *storage.Store) *SQLite {
	return &SQLite{store: store}
}

func (c *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	return c.store.GetCacheEntry(ctx, key)
}

func (c *SQLite) Set(ctx context.Context, key, value string) error {
	return c.store.PutCacheEntry(ctx, key, value)
}
