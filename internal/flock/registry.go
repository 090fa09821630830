package flock

import (
	"sync"

	"go.uber.org/zap"

	"github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/clock"
	"github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/transport"
)

// Registry is the process-scoped channelName -> Flock multiton: each
// channel name maps to exactly one coordinator within a process. The
// package-level Default registry backs production use; tests construct
// their own Registry (or call Default.Reset()) to avoid cross-test
// leakage.
type Registry struct {
	mu     sync.Mutex
	flocks map[string]*Flock
	clk    clock.Clock
	logger *zap.Logger
}

// NewRegistry builds an empty Registry. clk/logger may be nil, in
// which case clock.Real{} and a no-op logger are used.
func NewRegistry(clk clock.Clock, logger *zap.Logger) *Registry {
	return &Registry{
		flocks: map[string]*Flock{},
		clk:    clk,
		logger: logger,
	}
}

// Default is the process-wide registry member.New uses when it is
// given a nil registry.
var Default = NewRegistry(nil, nil)

// Get returns the existing Flock for opts.ChannelName, or constructs
// one. Subsequent calls for an already-known channel ignore timing
// overrides in opts — first writer wins.
func (r *Registry) Get(opts Options) *Flock {
	name := opts.ChannelName
	if name == "" {
		name = DefaultChannelName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.flocks[name]; ok {
		return f
	}

	opts.ChannelName = name
	tr := transport.Select(transport.Options{
		ChannelName: name,
		Clock:       r.clk,
		Logger:      r.logger,
	})
	f := New(opts, tr, r.clk, r.logger)
	r.flocks[name] = f
	return f
}

// Reset tears down every Flock this registry holds and clears it,
// exposed for test suites that need a clean slate between cases.
func (r *Registry) Reset() {
	r.mu.Lock()
	flocks := make([]*Flock, 0, len(r.flocks))
	for _, f := range r.flocks {
		flocks = append(flocks, f)
	}
	r.flocks = map[string]*Flock{}
	r.mu.Unlock()

	for _, f := range flocks {
		f.Close()
	}
}
