package relay

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"roomchat/chatsync"
	"roomchat/models"
)

func storeMessage(id string, createdAt time.Time) models.Message {
	return models.Message{
		ID:         id,
		AuthorID:   "user-1",
		AuthorName: "Ann",
		CreatedAt:  createdAt,
		Payload:    models.TextPayload("text " + id),
	}
}

func messageIDs(messages []models.Message) []string {
	ids := make([]string, len(messages))
	for i, message := range messages {
		ids[i] = message.ID
	}
	return ids
}

func TestStoreSnapshotOrdering(t *testing.T) {
	store := NewStore()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for _, m := range []models.Message{
		storeMessage("b", base.Add(time.Minute)),
		storeMessage("a", base),
		storeMessage("tie-1", base.Add(2*time.Minute)),
		storeMessage("tie-2", base.Add(2*time.Minute)),
	} {
		if _, err := store.Append("messages", m); err != nil {
			t.Fatalf("Append %s failed: %v", m.ID, err)
		}
	}

	desc, err := store.Snapshot(chatsync.Query{Collection: "messages", OrderField: "createdAt", Direction: chatsync.Descending})
	if err != nil {
		t.Fatalf("Snapshot desc failed: %v", err)
	}
	if got := messageIDs(desc); len(got) != 4 || got[0] != "tie-1" || got[1] != "tie-2" || got[2] != "b" || got[3] != "a" {
		t.Fatalf("unexpected descending order %v", got)
	}

	asc, err := store.Snapshot(chatsync.Query{Collection: "messages", Direction: chatsync.Ascending})
	if err != nil {
		t.Fatalf("Snapshot asc failed: %v", err)
	}
	if got := messageIDs(asc); got[0] != "a" || got[3] != "tie-2" {
		t.Fatalf("unexpected ascending order %v", got)
	}

	if _, err := store.Snapshot(chatsync.Query{Collection: "messages", OrderField: "authorName"}); !errors.Is(err, ErrUnsupportedOrder) {
		t.Fatalf("expected ErrUnsupportedOrder, got %v", err)
	}
}

func TestStoreAppendIsIdempotentAndNotifies(t *testing.T) {
	store := NewStore()
	var notified int32
	stop := store.Watch("messages", func() { atomic.AddInt32(&notified, 1) })
	other := store.Watch("other", func() { t.Errorf("unexpected notification for other collection") })
	defer other()

	m := storeMessage("m1", time.Now())
	added, err := store.Append("messages", m)
	if err != nil || !added {
		t.Fatalf("expected first append to add, got added=%v err=%v", added, err)
	}
	added, err = store.Append("messages", m)
	if err != nil || added {
		t.Fatalf("expected duplicate append to be ignored, got added=%v err=%v", added, err)
	}
	if store.Len("messages") != 1 {
		t.Fatalf("expected one stored message, got %d", store.Len("messages"))
	}
	if atomic.LoadInt32(&notified) != 1 {
		t.Fatalf("expected one notification, got %d", notified)
	}

	stop()
	if _, err := store.Append("messages", storeMessage("m2", time.Now())); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if atomic.LoadInt32(&notified) != 1 {
		t.Fatalf("expected no notification after unwatch")
	}

	if _, err := store.Append("messages", models.Message{ID: "bad", CreatedAt: time.Now()}); !errors.Is(err, models.ErrNoPayload) {
		t.Fatalf("expected ErrNoPayload, got %v", err)
	}
	if _, err := store.Append("", m); err == nil {
		t.Fatalf("expected error for empty collection")
	}
}
