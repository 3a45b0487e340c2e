// Package feed implements the Remote Feed over a WebSocket connection to the
// relay, and defines the frames both sides exchange.
package feed

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Path is the relay endpoint serving the live feed.
const Path = "/ws/feed"

// Frame types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeSnapshot    = "snapshot"
	TypeAppend      = "append"
	TypeAck         = "ack"
	TypeError       = "error"
)

// Envelope is one frame on the feed connection. ID names the subscription
// for subscribe/unsubscribe/snapshot frames and the request for
// append/ack/error frames; both share one counter per connection.
type Envelope struct {
	Type       string            `json:"type"`
	ID         uint64            `json:"id,omitempty"`
	Collection string            `json:"collection,omitempty"`
	OrderField string            `json:"order_field,omitempty"`
	Direction  string            `json:"direction,omitempty"`
	Documents  []json.RawMessage `json:"documents,omitempty"`
	Document   json.RawMessage   `json:"document,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// URL turns a relay base URL (http, https, ws or wss) into the feed endpoint
// carrying token as a query parameter.
func URL(base, token string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}

	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported backend url scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("backend url %q has no host", base)
	}

	parsed.Path = strings.TrimRight(parsed.Path, "/") + Path
	query := parsed.Query()
	if token != "" {
		query.Set("token", token)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
