package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"roomchat/chatsync"
)

func TestStateNoticeAnnouncesLossAndRecovery(t *testing.T) {
	var out bytes.Buffer
	notice := stateNotice(&out)

	notice(chatsync.StateDetached, chatsync.StateLive)
	if out.Len() != 0 {
		t.Fatalf("expected no notice on first connect, got %q", out.String())
	}

	notice(chatsync.StateLive, chatsync.StateCached)
	notice(chatsync.StateCached, chatsync.StateLive)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "Connection lost!") || !strings.HasPrefix(lines[1], "Connected.") {
		t.Fatalf("unexpected notices %q", out.String())
	}
}

func TestRelayTargetProbeFollowsMoves(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	gone := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	gone.Close()

	target := newRelayTarget(gone.URL)
	probe := target.probe()

	if online, _ := probe.Check(context.Background()); online {
		t.Fatalf("expected closed relay to probe offline")
	}

	target.set(healthy.URL)
	online, err := probe.Check(context.Background())
	if err != nil || !online {
		t.Fatalf("expected moved relay to probe online, online=%v err=%v", online, err)
	}
}
