package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roomchat/chatsync"
	"roomchat/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 20

	// DefaultAppendTimeout bounds how long Append waits for an ack.
	DefaultAppendTimeout = 10 * time.Second
)

var (
	// ErrNotConnected indicates no open feed connection.
	ErrNotConnected = errors.New("feed: not connected")
	// ErrAppendTimeout indicates the relay did not acknowledge an append in time.
	ErrAppendTimeout = errors.New("feed: append not acknowledged")
	// ErrRejected indicates the relay answered a request with an error frame.
	ErrRejected = errors.New("feed: request rejected")
	// ErrClosed indicates the client was closed.
	ErrClosed = errors.New("feed: client closed")
)

// Options configures a Client.
type Options struct {
	// BaseURL is the relay base URL, e.g. http://relay.local:8080.
	BaseURL string
	// Token is the session token sent on connect.
	Token string
	// TokenSource, when set, is asked for a token before every dial and
	// takes precedence over Token.
	TokenSource func(ctx context.Context) (string, error)
	// OnUnauthorized runs when the relay refuses the token, so the source
	// can drop it before the next dial.
	OnUnauthorized func()

	Dialer        *websocket.Dialer
	AppendTimeout time.Duration
	Logger        *slog.Logger

	// OnDisconnect runs on its own goroutine after an open connection drops
	// for any reason other than Close.
	OnDisconnect func(err error)
}

// Client is a chatsync.Feed backed by one WebSocket connection. The
// connection is dialled lazily by Subscribe and replaced after it drops.
type Client struct {
	opts Options
	log  *slog.Logger

	dialMu sync.Mutex

	mu      sync.Mutex
	conn    *connection
	nextID  uint64
	subs    map[uint64]*subscription
	pending map[uint64]chan error
	closed  bool
}

// New returns an unconnected client.
func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if opts.AppendTimeout <= 0 {
		opts.AppendTimeout = DefaultAppendTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		opts:    opts,
		log:     opts.Logger.With("component", "feed"),
		subs:    make(map[uint64]*subscription),
		pending: make(map[uint64]chan error),
	}
}

// SetToken replaces the token used for the next dial.
func (c *Client) SetToken(token string) {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()
	c.opts.Token = token
}

// SetBaseURL points the next dial at another relay. An open connection is
// kept until it drops.
func (c *Client) SetBaseURL(baseURL string) {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()
	c.opts.BaseURL = baseURL
}

// Connected reports whether a connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect dials the relay if no connection is open.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.ensureConnected(ctx)
	return err
}

// Subscribe registers a live query. Snapshots are delivered on a
// per-subscription goroutine; only the latest undelivered snapshot is kept.
func (c *Client) Subscribe(ctx context.Context, query chatsync.Query, onSnapshot chatsync.SnapshotFunc) (chatsync.Subscription, error) {
	if onSnapshot == nil {
		return nil, errors.New("feed: snapshot callback is required")
	}

	conn, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	sub := newSubscription(c, c.nextID, onSnapshot)
	c.subs[sub.id] = sub
	c.mu.Unlock()

	go sub.dispatch()

	frame, err := json.Marshal(Envelope{
		Type:       TypeSubscribe,
		ID:         sub.id,
		Collection: query.Collection,
		OrderField: query.OrderField,
		Direction:  string(query.Direction),
	})
	if err == nil {
		err = conn.enqueue(ctx, frame)
	}
	if err != nil {
		sub.stopLocal()
		return nil, fmt.Errorf("subscribe %q: %w", query.Collection, err)
	}

	c.log.Debug("subscribed", "id", sub.id, "collection", query.Collection)
	return sub, nil
}

// Append sends one document and waits for the relay's acknowledgement. It
// fails fast with ErrNotConnected when no connection is open.
func (c *Client) Append(ctx context.Context, collection string, message models.Message) error {
	document, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.nextID++
	id := c.nextID
	wait := make(chan error, 1)
	c.pending[id] = wait
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	frame, err := json.Marshal(Envelope{Type: TypeAppend, ID: id, Collection: collection, Document: document})
	if err != nil {
		return fmt.Errorf("encode append: %w", err)
	}
	if err := conn.enqueue(ctx, frame); err != nil {
		return err
	}

	timer := time.NewTimer(c.opts.AppendTimeout)
	defer timer.Stop()

	select {
	case err := <-wait:
		return err
	case <-timer.C:
		return ErrAppendTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drops the connection and stops every subscription.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	subs := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subs = make(map[uint64]*subscription)
	c.failPendingLocked(ErrClosed)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	if conn != nil {
		conn.close()
	}
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) (*connection, error) {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	token := c.opts.Token
	if c.opts.TokenSource != nil {
		fresh, err := c.opts.TokenSource(ctx)
		if err != nil {
			return nil, fmt.Errorf("dial feed: %w", err)
		}
		token = fresh
	}

	endpoint, err := URL(c.opts.BaseURL, token)
	if err != nil {
		return nil, err
	}

	ws, resp, err := c.opts.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			if c.opts.OnUnauthorized != nil {
				c.opts.OnUnauthorized()
			}
			return nil, fmt.Errorf("dial feed: %w: unauthorized", ErrRejected)
		}
		return nil, fmt.Errorf("dial feed: %w", err)
	}

	conn := &connection{
		ws:   ws,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return nil, ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	go c.writeLoop(conn)
	go c.readLoop(conn)

	c.log.Info("feed connected", "url", c.opts.BaseURL)
	return conn, nil
}

func (c *Client) readLoop(conn *connection) {
	var readErr error
	defer func() {
		if c.dropConnection(conn) && c.opts.OnDisconnect != nil {
			go c.opts.OnDisconnect(readErr)
		}
	}()

	conn.ws.SetReadLimit(maxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env Envelope
		if err := conn.ws.ReadJSON(&env); err != nil {
			readErr = err
			select {
			case <-conn.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.log.Warn("feed read error", "error", err)
				} else {
					c.log.Info("feed disconnected", "reason", err)
				}
			}
			return
		}
		c.handleEnvelope(env)
	}
}

func (c *Client) handleEnvelope(env Envelope) {
	switch env.Type {
	case TypeSnapshot:
		c.mu.Lock()
		sub := c.subs[env.ID]
		c.mu.Unlock()
		if sub == nil {
			return
		}
		documents := env.Documents
		if documents == nil {
			documents = []json.RawMessage{}
		}
		sub.deliver(documents)
	case TypeAck, TypeError:
		var result error
		if env.Type == TypeError {
			result = fmt.Errorf("%w: %s", ErrRejected, env.Error)
		}
		c.mu.Lock()
		wait := c.pending[env.ID]
		_, isSub := c.subs[env.ID]
		c.mu.Unlock()
		if wait != nil {
			select {
			case wait <- result:
			default:
			}
			return
		}
		if isSub && result != nil {
			c.log.Warn("subscription rejected", "id", env.ID, "error", result)
		}
	default:
		c.log.Warn("unexpected frame", "type", env.Type)
	}
}

func (c *Client) writeLoop(conn *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case frame := <-conn.send:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Warn("feed write error", "error", err)
				conn.close()
				return
			}
		case <-ticker.C:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Warn("feed ping failed", "error", err)
				conn.close()
				return
			}
		}
	}
}

// dropConnection forgets conn and fails in-flight appends. Subscriptions
// stay registered until their owner unsubscribes. It reports whether conn
// was the live connection of an open client.
func (c *Client) dropConnection(conn *connection) bool {
	conn.close()

	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.conn == conn
	if current {
		c.conn = nil
		c.failPendingLocked(ErrNotConnected)
	}
	return current && !c.closed
}

func (c *Client) failPendingLocked(err error) {
	for id, wait := range c.pending {
		select {
		case wait <- err:
		default:
		}
		delete(c.pending, id)
	}
}

func (c *Client) unsubscribe(sub *subscription) {
	c.mu.Lock()
	delete(c.subs, sub.id)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return
	}
	frame, err := json.Marshal(Envelope{Type: TypeUnsubscribe, ID: sub.id})
	if err != nil {
		return
	}
	if !conn.tryEnqueue(frame) {
		c.log.Warn("unsubscribe frame dropped", "id", sub.id)
	}
}

type connection struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
}

func (c *connection) enqueue(ctx context.Context, frame []byte) error {
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *connection) tryEnqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

var _ chatsync.Feed = (*Client)(nil)
