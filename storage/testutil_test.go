package storage

import (
	"context"
	"testing"
	"time"

	"roomchat/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustEnqueue(t *testing.T, store *Store, messageID, text string) {
	t.Helper()

	err := store.Enqueue(context.Background(), "messages", models.Message{
		ID:         messageID,
		AuthorID:   "user-1",
		AuthorName: "Ann",
		CreatedAt:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Payload:    models.TextPayload(text),
	})
	if err != nil {
		t.Fatalf("enqueue %q: %v", messageID, err)
	}
}
