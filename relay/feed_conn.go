package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roomchat/chatsync"
	"roomchat/feed"
	"roomchat/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 64
)

// feedConn serves the live feed protocol for one WebSocket connection.
type feedConn struct {
	ws     *websocket.Conn
	store  *Store
	userID string
	logger *slog.Logger

	send      chan feed.Envelope
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	subs map[uint64]func()
}

func newFeedConn(ws *websocket.Conn, store *Store, userID string, logger *slog.Logger) *feedConn {
	return &feedConn{
		ws:     ws,
		store:  store,
		userID: userID,
		logger: logger.With("user_id", userID),
		send:   make(chan feed.Envelope, sendBuffer),
		done:   make(chan struct{}),
		subs:   make(map[uint64]func()),
	}
}

// serve blocks until the connection ends.
func (c *feedConn) serve(ctx context.Context) {
	defer func() {
		c.unsubscribeAll()
		c.shutdown()
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writeLoop(ctx)

	c.readLoop(ctx)
}

func (c *feedConn) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		var env feed.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info("feed client disconnected")
			} else {
				c.logger.Warn("feed read error", "err", err)
			}
			return
		}

		switch env.Type {
		case feed.TypeSubscribe:
			c.handleSubscribe(env)
		case feed.TypeUnsubscribe:
			c.handleUnsubscribe(env.ID)
		case feed.TypeAppend:
			c.handleAppend(env)
		default:
			c.enqueue(feed.Envelope{Type: feed.TypeError, ID: env.ID, Error: fmt.Sprintf("unsupported frame type %q", env.Type)})
		}
	}
}

func (c *feedConn) handleSubscribe(env feed.Envelope) {
	query := chatsync.Query{
		Collection: env.Collection,
		OrderField: env.OrderField,
		Direction:  chatsync.Direction(env.Direction),
	}
	if query.Collection == "" {
		c.enqueue(feed.Envelope{Type: feed.TypeError, ID: env.ID, Error: "collection is required"})
		return
	}
	if _, err := c.store.Snapshot(query); err != nil {
		c.enqueue(feed.Envelope{Type: feed.TypeError, ID: env.ID, Error: err.Error()})
		return
	}

	push := func() { c.pushSnapshot(env.ID, query) }

	c.mu.Lock()
	if cancel, exists := c.subs[env.ID]; exists {
		cancel()
	}
	c.subs[env.ID] = c.store.Watch(query.Collection, push)
	c.mu.Unlock()

	c.logger.Debug("feed subscribed", "id", env.ID, "collection", query.Collection)
	push()
}

func (c *feedConn) handleUnsubscribe(id uint64) {
	c.mu.Lock()
	cancel, exists := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()

	if exists {
		cancel()
		c.logger.Debug("feed unsubscribed", "id", id)
	}
}

func (c *feedConn) handleAppend(env feed.Envelope) {
	var message models.Message
	if err := json.Unmarshal(env.Document, &message); err != nil {
		c.enqueue(feed.Envelope{Type: feed.TypeError, ID: env.ID, Error: fmt.Sprintf("decode document: %v", err)})
		return
	}
	if !message.IsSystem && message.AuthorID != c.userID {
		c.enqueue(feed.Envelope{Type: feed.TypeError, ID: env.ID, Error: "author does not match token subject"})
		return
	}

	added, err := c.store.Append(env.Collection, message)
	if err != nil {
		c.enqueue(feed.Envelope{Type: feed.TypeError, ID: env.ID, Error: err.Error()})
		return
	}
	if !added {
		c.logger.Debug("duplicate append acknowledged", "message_id", message.ID)
	}
	c.enqueue(feed.Envelope{Type: feed.TypeAck, ID: env.ID})
}

func (c *feedConn) pushSnapshot(id uint64, query chatsync.Query) {
	c.mu.Lock()
	_, active := c.subs[id]
	c.mu.Unlock()
	if !active {
		return
	}

	messages, err := c.store.Snapshot(query)
	if err != nil {
		c.enqueue(feed.Envelope{Type: feed.TypeError, ID: id, Error: err.Error()})
		return
	}

	documents := make([]json.RawMessage, 0, len(messages))
	for _, message := range messages {
		raw, err := json.Marshal(message)
		if err != nil {
			c.logger.Error("encode snapshot document failed", "message_id", message.ID, "err", err)
			continue
		}
		documents = append(documents, raw)
	}
	c.enqueue(feed.Envelope{Type: feed.TypeSnapshot, ID: id, Documents: documents})
}

// enqueue drops the connection when the client cannot keep up; it redials
// and receives a fresh snapshot.
func (c *feedConn) enqueue(env feed.Envelope) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- env:
	case <-c.done:
	default:
		c.logger.Warn("feed client too slow, closing connection")
		c.shutdown()
	}
}

func (c *feedConn) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer func() { _ = c.ws.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case env := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(env); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.logger.Warn("feed write error", "err", err)
				}
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("feed ping failed", "err", err)
				return
			}
		}
	}
}

func (c *feedConn) unsubscribeAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[uint64]func())
	c.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
}

func (c *feedConn) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}
