package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetCacheEntry returns the value stored under key. found is false when no
// row exists.
func (s *Store) GetCacheEntry(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, errors.New("cache_key is required")
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM cache_entries WHERE cache_key = ?`,
		key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get cache entry %q: %w", key, err)
	}

	return value, true, nil
}

// PutCacheEntry replaces the value stored under key.
func (s *Store) PutCacheEntry(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.New("cache_key is required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (cache_key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key,
		value,
		nowUnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put cache entry %q: %w", key, err)
	}

	return nil
}

// DeleteCacheEntry removes the row stored under key.
func (s *Store) DeleteCacheEntry(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("cache_key is required")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete cache entry %q: %w", key, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for delete cache entry %q: %w", key, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
