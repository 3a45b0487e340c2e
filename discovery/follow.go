package discovery

import (
	"context"
	"sort"
)

// FollowRelays consumes scanner events and calls move whenever the client
// should switch relays: the relay it uses re-advertises under a new address,
// or it disappears and another relay is known. current is the base URL in use
// when following starts. It returns when ctx is done or events is closed.
func FollowRelays(ctx context.Context, events <-chan Event, current string, move func(Endpoint)) {
	known := make(map[string]Endpoint)
	currentInstance := ""
	lost := false

	switchTo := func(endpoint Endpoint) {
		current = endpoint.URL()
		currentInstance = endpoint.Instance
		lost = false
		move(endpoint)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			relay := event.Relay
			url := relay.URL()

			switch event.Type {
			case EventRelayUpserted:
				known[relay.Instance] = relay
				switch {
				case url == current:
					currentInstance = relay.Instance
					lost = false
				case relay.Instance == currentInstance, lost:
					switchTo(relay)
				}
			case EventRelayRemoved:
				delete(known, relay.Instance)
				if url != current && relay.Instance != currentInstance {
					continue
				}
				if next, ok := firstKnown(known); ok {
					switchTo(next)
					continue
				}
				lost = true
			}
		}
	}
}

func firstKnown(known map[string]Endpoint) (Endpoint, bool) {
	if len(known) == 0 {
		return Endpoint{}, false
	}
	names := make([]string, 0, len(known))
	for name := range known {
		names = append(names, name)
	}
	sort.Strings(names)
	return known[names[0]], true
}
