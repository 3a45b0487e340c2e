package connectivity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type scriptedProbe struct {
	mu      sync.Mutex
	results []bool
	err     error
	calls   int
}

func (p *scriptedProbe) Check(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return false, p.err
	}
	if len(p.results) == 0 {
		return true, nil
	}
	result := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	return result, nil
}

func (p *scriptedProbe) set(results ...bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = results
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nextStatus(t *testing.T, events <-chan Status) Status {
	t.Helper()
	select {
	case status, ok := <-events:
		if !ok {
			t.Fatalf("events channel closed")
		}
		return status
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for status")
	}
	return Status{}
}

func TestMonitorEmitsFirstReadingAndChangesOnly(t *testing.T) {
	probe := &scriptedProbe{results: []bool{true}}
	monitor, err := NewMonitor(probe, time.Hour, discardLogger())
	if err != nil {
		t.Fatalf("NewMonitor failed: %v", err)
	}
	if err := monitor.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer monitor.Stop()

	if got := nextStatus(t, monitor.Events()); got.String() != "online" {
		t.Fatalf("expected first reading online, got %s", got)
	}

	monitor.Refresh()
	select {
	case status := <-monitor.Events():
		t.Fatalf("unchanged reading must not be emitted, got %s", status)
	case <-time.After(100 * time.Millisecond):
	}

	probe.set(false)
	monitor.Refresh()
	if got := nextStatus(t, monitor.Events()); got.String() != "offline" {
		t.Fatalf("expected offline, got %s", got)
	}
	if monitor.Current().String() != "offline" {
		t.Fatalf("expected Current offline, got %s", monitor.Current())
	}
}

func TestMonitorProbeErrorIsUnknown(t *testing.T) {
	probe := &scriptedProbe{err: errors.New("resolver unavailable")}
	monitor, err := NewMonitor(probe, time.Hour, discardLogger())
	if err != nil {
		t.Fatalf("NewMonitor failed: %v", err)
	}
	if err := monitor.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer monitor.Stop()

	status := nextStatus(t, monitor.Events())
	if status.Known() {
		t.Fatalf("expected unknown status, got %s", status)
	}
}

func TestMonitorSetPushesValues(t *testing.T) {
	monitor, err := NewMonitor(ProbeFunc(func(context.Context) (bool, error) { return true, nil }), time.Hour, discardLogger())
	if err != nil {
		t.Fatalf("NewMonitor failed: %v", err)
	}

	offline := false
	monitor.Set(&offline)
	monitor.Set(&offline)
	monitor.Set(nil)

	if got := nextStatus(t, monitor.Events()); got.String() != "offline" {
		t.Fatalf("expected offline, got %s", got)
	}
	if got := nextStatus(t, monitor.Events()); got.Known() {
		t.Fatalf("expected unknown, got %s", got)
	}

	monitor.Stop()
	monitor.Set(&offline)
	if _, ok := <-monitor.Events(); ok {
		t.Fatalf("expected closed events channel after Stop")
	}
}

func TestMonitorKeepsNewestWhenConsumerLags(t *testing.T) {
	monitor, err := NewMonitor(ProbeFunc(func(context.Context) (bool, error) { return true, nil }), time.Hour, discardLogger())
	if err != nil {
		t.Fatalf("NewMonitor failed: %v", err)
	}
	defer monitor.Stop()

	online, offline := true, false
	for i := 0; i < 40; i++ {
		if i%2 == 0 {
			monitor.Set(&online)
		} else {
			monitor.Set(&offline)
		}
	}

	var last Status
	for len(monitor.Events()) > 0 {
		last = <-monitor.Events()
	}
	if last.String() != "offline" {
		t.Fatalf("expected newest reading offline, got %s", last)
	}
}

func TestHTTPProbe(t *testing.T) {
	healthy := true
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.URL.Path != HealthPath {
			http.NotFound(w, r)
			return
		}
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))

	probe := HTTPProbe{BaseURL: server.URL + "/", Client: server.Client()}
	online, err := probe.Check(context.Background())
	if err != nil || !online {
		t.Fatalf("expected online, got %v %v", online, err)
	}

	mu.Lock()
	healthy = false
	mu.Unlock()
	online, err = probe.Check(context.Background())
	if err != nil || online {
		t.Fatalf("expected offline on 503, got %v %v", online, err)
	}

	server.Close()
	online, err = probe.Check(context.Background())
	if err != nil || online {
		t.Fatalf("expected offline when unreachable, got %v %v", online, err)
	}
}
