package discovery

import (
	"context"
	"errors"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// EventRelayUpserted is emitted when a relay appears or metadata changes.
	EventRelayUpserted EventType = "relay_upserted"
	// EventRelayRemoved is emitted when a previously seen relay disappears.
	EventRelayRemoved EventType = "relay_removed"
)

// EventType identifies relay discovery updates.
type EventType string

// Event carries discovery updates for the client.
type Event struct {
	Type  EventType
	Relay Endpoint
}

// Endpoint is a relay found on the LAN.
type Endpoint struct {
	Instance  string
	Version   int
	Path      string
	HostName  string
	Port      int
	Addresses []string
	LastSeen  time.Time
}

// URL returns the HTTP base URL of the relay, preferring an IPv4 address.
func (e Endpoint) URL() string {
	host := ""
	for _, addr := range e.Addresses {
		if ip := net.ParseIP(addr); ip != nil && ip.To4() != nil {
			host = addr
			break
		}
	}
	if host == "" && len(e.Addresses) > 0 {
		host = e.Addresses[0]
	}
	if host == "" {
		host = strings.TrimSuffix(e.HostName, ".")
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(e.Port)) + strings.TrimSuffix(e.Path, "/")
}

type refreshRequest struct {
	ctx  context.Context
	done chan error
}

// Scanner discovers relays with periodic and manual mDNS browse operations.
type Scanner struct {
	cfg Config

	browse browseFunc

	mu     sync.RWMutex
	relays map[string]Endpoint

	events chan Event

	startOnce sync.Once
	stopOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	refreshRequests chan refreshRequest
}

// NewScanner creates a scanner with config defaults applied.
func NewScanner(config Config) (*Scanner, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		browse = resolver.Browse
	}

	return &Scanner{
		cfg:             cfg,
		browse:          browse,
		relays:          make(map[string]Endpoint),
		events:          make(chan Event, 32),
		refreshRequests: make(chan refreshRequest),
	}, nil
}

// Start begins background scanning.
func (s *Scanner) Start() {
	s.startOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.wg.Add(1)
		go s.loop()
	})
}

// Stop stops background scanning and closes the events channel.
func (s *Scanner) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		close(s.events)
	})
}

// Events provides asynchronous discovery updates.
func (s *Scanner) Events() <-chan Event {
	return s.events
}

// Refresh triggers an immediate scan.
func (s *Scanner) Refresh(ctx context.Context) error {
	if s.ctx == nil {
		return errors.New("relay scanner is not started")
	}

	req := refreshRequest{
		ctx:  ctx,
		done: make(chan error, 1),
	}

	select {
	case s.refreshRequests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return errors.New("relay scanner is stopped")
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return errors.New("relay scanner is stopped")
	}
}

// ListRelays returns the relays seen in the last scan, sorted by instance.
func (s *Scanner) ListRelays() []Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedEndpoints(s.relays)
}

func (s *Scanner) loop() {
	defer s.wg.Done()

	s.runScan(s.ctx)

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runScan(s.ctx)
		case req := <-s.refreshRequests:
			req.done <- s.runScan(req.ctx)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scanner) runScan(requestCtx context.Context) error {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go func() {
		select {
		case <-requestCtx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	next, err := s.scanOnce(ctx)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		// Partial scan window; keep the previous view.
		return err
	}
	s.applySnapshot(next)
	return nil
}

// scanOnce browses for one scan window bounded by ScanTimeout or ctx. A
// timeout just means the window ended naturally.
func (s *Scanner) scanOnce(ctx context.Context) (map[string]Endpoint, error) {
	scanCtx, cancel := context.WithTimeout(ctx, s.cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	collected := make(map[string]Endpoint)
	var collectedMu sync.Mutex
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		incoming := (<-chan *zeroconf.ServiceEntry)(entries)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry, ok := <-incoming:
				if !ok {
					// Closed by the resolver; wait out the window.
					incoming = nil
					continue
				}
				if entry == nil {
					continue
				}
				endpoint, ok := parseEntry(entry, s.cfg.Version)
				if !ok {
					continue
				}
				endpoint.LastSeen = time.Now()
				collectedMu.Lock()
				collected[endpoint.Instance] = endpoint
				collectedMu.Unlock()
			}
		}
	}()

	browseErr := s.browse(scanCtx, s.cfg.Service, s.cfg.Domain, entries)
	if browseErr != nil && !errors.Is(browseErr, context.DeadlineExceeded) && !errors.Is(browseErr, context.Canceled) {
		return nil, browseErr
	}

	<-scanCtx.Done()
	<-collectorDone

	collectedMu.Lock()
	defer collectedMu.Unlock()
	return collected, nil
}

func (s *Scanner) applySnapshot(next map[string]Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.relays
	s.relays = next

	for id, relay := range next {
		old, exists := previous[id]
		if !exists || !endpointsEqual(old, relay) {
			s.emitEvent(Event{Type: EventRelayUpserted, Relay: relay})
		}
	}

	for id, relay := range previous {
		if _, exists := next[id]; !exists {
			s.emitEvent(Event{Type: EventRelayRemoved, Relay: relay})
		}
	}
}

func (s *Scanner) emitEvent(event Event) {
	select {
	case s.events <- event:
	default:
	}
}

func sortedEndpoints(relays map[string]Endpoint) []Endpoint {
	out := make([]Endpoint, 0, len(relays))
	for _, relay := range relays {
		out = append(out, relay)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Instance < out[j].Instance
	})
	return out
}

func parseEntry(entry *zeroconf.ServiceEntry, wantVersion int) (Endpoint, bool) {
	txt := txtToMap(entry.Text)

	version, err := strconv.Atoi(txt["version"])
	if err != nil || version != wantVersion {
		return Endpoint{}, false
	}
	if entry.Port <= 0 {
		return Endpoint{}, false
	}

	addresses := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	seen := make(map[string]struct{})
	for _, ip := range append(entry.AddrIPv4, entry.AddrIPv6...) {
		if ip == nil {
			continue
		}
		raw := ip.String()
		if _, exists := seen[raw]; exists {
			continue
		}
		seen[raw] = struct{}{}
		addresses = append(addresses, raw)
	}
	sort.Strings(addresses)
	if len(addresses) == 0 && strings.TrimSpace(entry.HostName) == "" {
		return Endpoint{}, false
	}

	name := strings.TrimSpace(entry.Instance)
	if name == "" {
		name = strings.TrimSpace(entry.HostName)
	}

	return Endpoint{
		Instance:  name,
		Version:   version,
		Path:      normalizePath(txt["path"]),
		HostName:  entry.HostName,
		Port:      entry.Port,
		Addresses: addresses,
	}, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}

func endpointsEqual(a, b Endpoint) bool {
	if a.Instance != b.Instance ||
		a.Version != b.Version ||
		a.Path != b.Path ||
		a.HostName != b.HostName ||
		a.Port != b.Port ||
		len(a.Addresses) != len(b.Addresses) {
		return false
	}
	for i := range a.Addresses {
		if a.Addresses[i] != b.Addresses[i] {
			return false
		}
	}
	return true
}
