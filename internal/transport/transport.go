// Package transport abstracts the pub/sub medium a Flock publishes
// election and message envelopes over: the concrete broadcast
// primitive is treated as external, and this package supplies three
// variants plus a one-shot selection policy between them.
//
// Contract shared by every implementation: Post delivers the envelope
// to every *other* subscriber on the same channel name — never back to
// the Transport instance that called Post, the same way a native
// broadcast channel never delivers to its own sender. The caller
// (internal/flock) is responsible for explicitly dispatching a copy to
// its own local members after every Post, for every variant, including
// the pure-loopback one. Post never returns an error: failures are
// swallowed.
package transport

import (
	"go.uber.org/zap"

	"github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/clock"
	"github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/envelope"
)

// Transport is the pub/sub capability a Flock publishes over.
type Transport interface {
	// Post publishes env to every other subscriber on this channel.
	Post(env envelope.Envelope)
	// OnMessage registers the single handler invoked for envelopes
	// arriving from other subscribers. Only one handler may be
	// registered; a second call replaces the first.
	OnMessage(cb func(envelope.Envelope))
	// Close releases any resources (watchers, registry entries) held
	// by this Transport instance.
	Close() error
}

// Kind names a concrete Transport variant, used for logging and to
// force a specific variant in tests.
type Kind string

const (
	KindProcessBus Kind = "process-bus"
	KindFileWatch  Kind = "file-watch"
	KindLoopback   Kind = "loopback"
)

// Options configures Select.
type Options struct {
	ChannelName string
	// Force, if non-empty, skips the try-in-order selection policy and
	// constructs exactly this variant; if it cannot be built, Select
	// logs a warning and returns a Loopback instead. Used by tests;
	// production callers leave it empty.
	Force Kind
	// Dir is the shared directory FileWatchBus writes its well-known
	// key file into. Defaults to os.TempDir() if empty.
	Dir string
	Clock  clock.Clock
	Logger *zap.Logger
}

// Select tries the native broadcast analogue first; if construction
// fails, it tries the shared-storage fallback; otherwise it falls back
// to pure loopback. Selection happens once, at Flock construction.
func Select(opts Options) Transport {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	build := func(k Kind) (Transport, error) {
		switch k {
		case KindProcessBus:
			return newProcessBus(opts.ChannelName), nil
		case KindFileWatch:
			return newFileWatchBus(opts.ChannelName, opts.Dir, opts.Clock, logger)
		case KindLoopback:
			return newLoopback(), nil
		}
		return nil, errUnknownKind(k)
	}

	if opts.Force != "" {
		t, err := build(opts.Force)
		if err != nil {
			logger.Warn("forced transport failed, falling back to loopback",
				zap.String("kind", string(opts.Force)), zap.Error(err))
			return newLoopback()
		}
		return t
	}

	for _, k := range []Kind{KindProcessBus, KindFileWatch} {
		t, err := build(k)
		if err == nil {
			logger.Debug("transport selected", zap.String("kind", string(k)))
			return t
		}
		logger.Debug("transport construction failed, trying next",
			zap.String("kind", string(k)), zap.Error(err))
	}

	logger.Debug("transport selected", zap.String("kind", string(KindLoopback)))
	return newLoopback()
}

type errUnknownKind Kind

func (e errUnknownKind) Error() string { return "transport: unknown kind " + string(e) }
