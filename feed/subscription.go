package feed

import (
	"encoding/json"
	"sync"

	"roomchat/chatsync"
)

// subscription delivers snapshots for one live query. The mailbox holds at
// most one pending snapshot; a newer one replaces it.
type subscription struct {
	client     *Client
	id         uint64
	onSnapshot chatsync.SnapshotFunc

	mailbox  chan []json.RawMessage
	done     chan struct{}
	stopOnce sync.Once
}

func newSubscription(client *Client, id uint64, onSnapshot chatsync.SnapshotFunc) *subscription {
	return &subscription{
		client:     client,
		id:         id,
		onSnapshot: onSnapshot,
		mailbox:    make(chan []json.RawMessage, 1),
		done:       make(chan struct{}),
	}
}

// Unsubscribe stops delivery and tells the relay. Safe to call repeatedly and
// never waits for an in-flight callback.
func (s *subscription) Unsubscribe() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.client.unsubscribe(s)
	})
}

// stopLocal stops delivery without notifying the relay.
func (s *subscription) stopLocal() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.client.mu.Lock()
		delete(s.client.subs, s.id)
		s.client.mu.Unlock()
	})
}

func (s *subscription) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

func (s *subscription) deliver(documents []json.RawMessage) {
	for {
		select {
		case <-s.done:
			return
		case s.mailbox <- documents:
			return
		default:
		}
		select {
		case <-s.mailbox:
		default:
		}
	}
}

func (s *subscription) dispatch() {
	for {
		select {
		case <-s.done:
			return
		case documents := <-s.mailbox:
			select {
			case <-s.done:
				return
			default:
			}
			s.onSnapshot(documents)
		}
	}
}
