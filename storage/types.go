package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

const (
	// OutboxStatusPending marks a message waiting for replay.
	OutboxStatusPending = "pending"
	// OutboxStatusSent marks a message the feed accepted.
	OutboxStatusSent = "sent"
	// OutboxStatusFailed marks a message dropped by retention limits.
	OutboxStatusFailed = "failed"
)

// OutboxRecord is the SQLite representation of one queued append.
type OutboxRecord struct {
	ID         int64
	MessageID  string
	Collection string
	Document   string
	Status     string
	Attempts   int
	LastError  *string
	EnqueuedAt int64
	UpdatedAt  int64
}

func validateOutboxStatus(status string) error {
	switch status {
	case OutboxStatusPending, OutboxStatusSent, OutboxStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid outbox status %q", status)
	}
}

func nullString(ptr *string) sql.NullString {
	if ptr == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *ptr, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

type scanner interface {
	Scan(dest ...any) error
}
