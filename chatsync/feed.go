package chatsync

import (
	"context"
	"encoding/json"
	"time"

	"roomchat/models"
)

const (
	// DefaultCollection is the backing collection for the room.
	DefaultCollection = "messages"
	// DefaultOrderField is the record field the feed sorts by.
	DefaultOrderField = "createdAt"
	// DefaultCacheKey is the single Local Cache slot holding the snapshot.
	DefaultCacheKey = "messages"
)

// Direction is the sort direction requested from the feed.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// Query selects and orders one collection of the Remote Feed.
type Query struct {
	Collection string
	OrderField string
	Direction  Direction
}

// SnapshotFunc receives one full ordered batch of raw records.
type SnapshotFunc func(documents []json.RawMessage)

// Subscription is a live query handle. Unsubscribe must be safe to call more
// than once.
type Subscription interface {
	Unsubscribe()
}

// Feed is the backend's live-query and append interface.
//
// Implementations must deliver snapshots from their own goroutine and never
// from inside Subscribe, because the controller holds its lock while
// subscribing.
type Feed interface {
	Subscribe(ctx context.Context, query Query, onSnapshot SnapshotFunc) (Subscription, error)
	Append(ctx context.Context, collection string, message models.Message) error
}

// Cache is a single-slot key-value store used as the offline fallback.
// A missing key returns found=false and a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
}

// OutboxEntry is one message whose durable append has not succeeded yet.
type OutboxEntry struct {
	Collection string
	Message    models.Message
	Attempts   int
	EnqueuedAt time.Time
}

// Outbox durably holds messages sent while the append path was failing.
type Outbox interface {
	Enqueue(ctx context.Context, collection string, message models.Message) error
	Pending(ctx context.Context, limit int) ([]OutboxEntry, error)
	MarkSent(ctx context.Context, messageID string) error
	MarkAttempted(ctx context.Context, messageID string, reason string) error
}
