// Package connectivity produces the tri-state connectivity signal consumed by
// the chat session.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HealthPath is the relay endpoint probed by HTTPProbe.
const HealthPath = "/health"

// DefaultInterval is the probe period when none is configured.
const DefaultInterval = 5 * time.Second

// Status is one connectivity reading. A nil IsConnected means unknown.
type Status struct {
	IsConnected *bool
}

// Online, Offline and Unknown build statuses.
func Online() Status  { v := true; return Status{IsConnected: &v} }
func Offline() Status { v := false; return Status{IsConnected: &v} }
func Unknown() Status { return Status{} }

// Known reports whether the status carries a definite value.
func (s Status) Known() bool { return s.IsConnected != nil }

func (s Status) String() string {
	if s.IsConnected == nil {
		return "unknown"
	}
	if *s.IsConnected {
		return "online"
	}
	return "offline"
}

func (s Status) equal(other Status) bool {
	if s.IsConnected == nil || other.IsConnected == nil {
		return s.IsConnected == nil && other.IsConnected == nil
	}
	return *s.IsConnected == *other.IsConnected
}

// Probe reports whether the backend is reachable.
type Probe interface {
	Check(ctx context.Context) (bool, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) (bool, error)

func (f ProbeFunc) Check(ctx context.Context) (bool, error) { return f(ctx) }

// HTTPProbe treats a 2xx answer from <BaseURL>/health as online.
type HTTPProbe struct {
	BaseURL string
	Client  *http.Client
}

func (p HTTPProbe) Check(ctx context.Context) (bool, error) {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(p.BaseURL, "/")+HealthPath, nil)
	if err != nil {
		return false, fmt.Errorf("build health request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// Monitor polls a Probe and emits a Status on every change. The first reading
// is always emitted.
type Monitor struct {
	probe    Probe
	interval time.Duration
	log      *slog.Logger

	events          chan Status
	refreshRequests chan struct{}
	stopCh          chan struct{}
	doneCh          chan struct{}

	mu           sync.Mutex
	last         Status
	emitted      bool
	running      bool
	stopped      bool
	eventsClosed bool
}

// NewMonitor returns a stopped monitor.
func NewMonitor(probe Probe, interval time.Duration, logger *slog.Logger) (*Monitor, error) {
	if probe == nil {
		return nil, errors.New("connectivity: probe is required")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		probe:           probe,
		interval:        interval,
		log:             logger.With("component", "connectivity"),
		events:          make(chan Status, 16),
		refreshRequests: make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}, nil
}

// Events returns the status channel. It is closed after Stop.
func (m *Monitor) Events() <-chan Status {
	return m.events
}

// Current returns the last emitted status.
func (m *Monitor) Current() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Start launches the polling loop. The first probe runs immediately.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running || m.stopped {
		m.mu.Unlock()
		return errors.New("connectivity: monitor already started")
	}
	m.running = true
	m.mu.Unlock()

	go m.loop(ctx)
	return nil
}

// Refresh asks for an immediate probe.
func (m *Monitor) Refresh() {
	select {
	case m.refreshRequests <- struct{}{}:
	default:
	}
}

// Set pushes a reading from outside the probe loop, e.g. an OS reachability
// callback. A nil value emits unknown.
func (m *Monitor) Set(isConnected *bool) {
	status := Status{}
	if isConnected != nil {
		v := *isConnected
		status.IsConnected = &v
	}
	m.publish(status)
}

// Stop ends the loop and closes the events channel.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	running := m.running
	close(m.stopCh)
	m.mu.Unlock()

	if running {
		<-m.doneCh
	}
	m.mu.Lock()
	m.eventsClosed = true
	close(m.events)
	m.mu.Unlock()
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.runProbe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.runProbe(ctx)
		case <-m.refreshRequests:
			m.runProbe(ctx)
		}
	}
}

func (m *Monitor) runProbe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	online, err := m.probe.Check(probeCtx)
	if err != nil {
		m.log.Warn("connectivity probe failed", "error", err)
		m.publish(Unknown())
		return
	}
	if online {
		m.publish(Online())
	} else {
		m.publish(Offline())
	}
}

func (m *Monitor) publish(status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.eventsClosed {
		return
	}
	if m.emitted && m.last.equal(status) {
		return
	}
	m.last = status
	m.emitted = true

	m.log.Debug("connectivity changed", "status", status.String())
	for {
		select {
		case m.events <- status:
			return
		default:
		}
		// Full: drop the oldest reading so the newest one is never lost.
		select {
		case <-m.events:
			m.log.Warn("connectivity consumer lagging, oldest event dropped")
		default:
		}
	}
}
