package transport

import "github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/envelope"

// Loopback is the final fallback: it has no cross-context delivery
// mechanism at all. Post is a pure no-op; the owning Flock is the only
// party that will ever see a posted envelope, via its own explicit
// self-dispatch. Select returns it when it is forced, when a forced
// variant cannot be built, or when neither ProcessBus nor FileWatchBus
// can be constructed.
type Loopback struct {
	handler func(envelope.Envelope)
}

func newLoopback() *Loopback {
	return &Loopback{}
}

func (l *Loopback) OnMessage(cb func(envelope.Envelope)) { l.handler = cb }

func (l *Loopback) Post(envelope.Envelope) {}

func (l *Loopback) Close() error { return nil }
