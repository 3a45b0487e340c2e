package relay

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"roomchat/chatsync"
	"roomchat/models"
)

// ErrUnsupportedOrder is returned for live queries on a field other than
// createdAt.
var ErrUnsupportedOrder = errors.New("relay: unsupported order field")

type storedMessage struct {
	seq     uint64
	message models.Message
}

type watcher struct {
	collection string
	notify     func()
}

// Store keeps every collection in memory. Appends are idempotent per message
// id so replayed outbox entries never duplicate a message.
type Store struct {
	mu          sync.RWMutex
	collections map[string][]storedMessage
	ids         map[string]map[string]struct{}
	seq         uint64

	watchMu  sync.Mutex
	watchers map[uint64]watcher
	watchSeq uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		collections: make(map[string][]storedMessage),
		ids:         make(map[string]map[string]struct{}),
		watchers:    make(map[uint64]watcher),
	}
}

// Append adds message to collection and notifies watchers of that
// collection. added is false when a message with the same id already exists.
func (s *Store) Append(collection string, message models.Message) (bool, error) {
	if collection == "" {
		return false, errors.New("collection is required")
	}
	if err := message.Validate(); err != nil {
		return false, fmt.Errorf("invalid message: %w", err)
	}

	s.mu.Lock()
	seen, ok := s.ids[collection]
	if !ok {
		seen = make(map[string]struct{})
		s.ids[collection] = seen
	}
	if _, dup := seen[message.ID]; dup {
		s.mu.Unlock()
		return false, nil
	}
	seen[message.ID] = struct{}{}
	s.seq++
	s.collections[collection] = append(s.collections[collection], storedMessage{seq: s.seq, message: message})
	s.mu.Unlock()

	s.notify(collection)
	return true, nil
}

// Snapshot returns the collection ordered by createdAt. Equal timestamps keep
// insertion order in both directions.
func (s *Store) Snapshot(query chatsync.Query) ([]models.Message, error) {
	if query.OrderField != "" && query.OrderField != chatsync.DefaultOrderField {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedOrder, query.OrderField)
	}

	s.mu.RLock()
	stored := append([]storedMessage(nil), s.collections[query.Collection]...)
	s.mu.RUnlock()

	descending := query.Direction != chatsync.Ascending
	sort.SliceStable(stored, func(i, j int) bool {
		a, b := stored[i].message.CreatedAt, stored[j].message.CreatedAt
		if descending {
			return a.After(b)
		}
		return a.Before(b)
	})

	out := make([]models.Message, len(stored))
	for i, entry := range stored {
		out[i] = entry.message
	}
	return out, nil
}

// Len reports the number of messages in collection.
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

// Watch calls notify after every append to collection until the returned
// function is called.
func (s *Store) Watch(collection string, notify func()) func() {
	s.watchMu.Lock()
	s.watchSeq++
	id := s.watchSeq
	s.watchers[id] = watcher{collection: collection, notify: notify}
	s.watchMu.Unlock()

	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

func (s *Store) notify(collection string) {
	s.watchMu.Lock()
	targets := make([]func(), 0, len(s.watchers))
	for _, w := range s.watchers {
		if w.collection == collection {
			targets = append(targets, w.notify)
		}
	}
	s.watchMu.Unlock()

	for _, notify := range targets {
		notify()
	}
}
