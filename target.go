package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"roomchat/chatsync"
	"roomchat/connectivity"
	"roomchat/media"
)

// relayTarget is the relay base URL currently in use. Discovery may move it
// while the client runs.
type relayTarget struct {
	mu  sync.RWMutex
	url string
}

func newRelayTarget(url string) *relayTarget {
	return &relayTarget{url: url}
}

func (t *relayTarget) get() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.url
}

func (t *relayTarget) set(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.url = url
}

// probe checks the health endpoint of whichever relay is current.
func (t *relayTarget) probe() connectivity.Probe {
	return connectivity.ProbeFunc(func(ctx context.Context) (bool, error) {
		return connectivity.HTTPProbe{BaseURL: t.get()}.Check(ctx)
	})
}

// relayUploader uploads to the current relay with a fresh token.
type relayUploader struct {
	target *relayTarget
	tokens func(ctx context.Context) (string, error)
}

func (u *relayUploader) Upload(ctx context.Context, userID, path string) (string, error) {
	uploader := &media.Uploader{BaseURL: u.target.get(), TokenSource: u.tokens}
	return uploader.Upload(ctx, userID, path)
}

// stateNotice prints a line when the client loses or regains the relay.
func stateNotice(w io.Writer) func(from, to chatsync.State) {
	return func(from, to chatsync.State) {
		switch to {
		case chatsync.StateCached:
			fmt.Fprintln(w, "Connection lost! Showing cached messages.")
		case chatsync.StateLive:
			if from == chatsync.StateCached {
				fmt.Fprintln(w, "Connected. Showing live messages.")
			}
		}
	}
}
