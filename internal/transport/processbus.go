package transport

import (
	"sync"

	"github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/envelope"
)

// ProcessBus is the native-broadcast-channel analogue: an in-memory
// pub/sub hub shared by every ProcessBus instance constructed for the
// same channel name, anywhere in the process. It models the way a
// BroadcastChannel fans a post out to every other tab/worker on the
// same named channel, collapsed onto goroutines since a single Go
// process stands in for a single host here. Construction never fails.
type ProcessBus struct {
	hub *busHub

	mu      sync.Mutex
	handler func(envelope.Envelope)
}

type busHub struct {
	mu          sync.Mutex
	subscribers map[*ProcessBus]struct{}
}

var (
	busRegistryMu sync.Mutex
	busRegistry   = map[string]*busHub{}
)

func hubFor(channelName string) *busHub {
	busRegistryMu.Lock()
	defer busRegistryMu.Unlock()
	hub, ok := busRegistry[channelName]
	if !ok {
		hub = &busHub{subscribers: map[*ProcessBus]struct{}{}}
		busRegistry[channelName] = hub
	}
	return hub
}

func newProcessBus(channelName string) *ProcessBus {
	hub := hubFor(channelName)
	bus := &ProcessBus{hub: hub}

	hub.mu.Lock()
	hub.subscribers[bus] = struct{}{}
	hub.mu.Unlock()

	return bus
}

func (b *ProcessBus) OnMessage(cb func(envelope.Envelope)) {
	b.mu.Lock()
	b.handler = cb
	b.mu.Unlock()
}

func (b *ProcessBus) Post(env envelope.Envelope) {
	b.hub.mu.Lock()
	peers := make([]*ProcessBus, 0, len(b.hub.subscribers)-1)
	for sub := range b.hub.subscribers {
		if sub != b {
			peers = append(peers, sub)
		}
	}
	b.hub.mu.Unlock()

	for _, sub := range peers {
		sub.mu.Lock()
		cb := sub.handler
		sub.mu.Unlock()
		if cb != nil {
			cb(env)
		}
	}
}

func (b *ProcessBus) Close() error {
	b.hub.mu.Lock()
	delete(b.hub.subscribers, b)
	b.hub.mu.Unlock()
	return nil
}
