package transport

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/clock"
	"github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/envelope"
)

// removalDelay is how long a FileWatchBus leaves a posted envelope's
// well-known key file in place before deleting it. Scheduling removal
// shortly after the write means repeated writes of an equal serialized
// value still trigger notifications — otherwise an identical payload
// written twice in a row would produce no filesystem change for
// fsnotify to report.
const removalDelay = 50 * time.Millisecond

// FileWatchBus is the shared-storage fallback: it serializes each
// posted envelope to a well-known file named after the channel and
// relies on github.com/fsnotify/fsnotify to notify every other
// FileWatchBus instance watching the same directory, analogous to a
// localStorage "storage" event fired on another tab.
type FileWatchBus struct {
	channelName string
	path        string
	dir         string
	watcher     *fsnotify.Watcher
	clk         clock.Clock
	logger      *zap.Logger

	mu            sync.Mutex
	handler       func(envelope.Envelope)
	lastSelfWrite []byte

	stopCh chan struct{}
}

func newFileWatchBus(channelName, dir string, clk clock.Clock, logger *zap.Logger) (*FileWatchBus, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	dir = filepath.Join(dir, "flock-transport")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	if clk == nil {
		clk = clock.Real{}
	}

	bus := &FileWatchBus{
		channelName: channelName,
		path:        filepath.Join(dir, channelName+".json"),
		dir:         dir,
		watcher:     watcher,
		clk:         clk,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
	go bus.loop()
	return bus, nil
}

func (b *FileWatchBus) loop() {
	for {
		select {
		case <-b.stopCh:
			return
		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if event.Name != b.path {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			b.handleKeyChanged()
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Debug("file watch bus error", zap.Error(err))
		}
	}
}

func (b *FileWatchBus) handleKeyChanged() {
	data, err := os.ReadFile(b.path)
	if err != nil {
		// The writer's scheduled removal may have already fired; a
		// missing key on read is not an error for this transport.
		return
	}

	b.mu.Lock()
	if bytes.Equal(data, b.lastSelfWrite) {
		// Our own write — the spec requires the coordinator to perform
		// loopback explicitly rather than have the transport deliver it.
		b.mu.Unlock()
		return
	}
	cb := b.handler
	b.mu.Unlock()

	env, err := envelope.Unmarshal(data)
	if err != nil {
		b.logger.Debug("dropping malformed shared-storage payload", zap.Error(err))
		return
	}
	if cb != nil {
		cb(env)
	}
}

func (b *FileWatchBus) OnMessage(cb func(envelope.Envelope)) {
	b.mu.Lock()
	b.handler = cb
	b.mu.Unlock()
}

func (b *FileWatchBus) Post(env envelope.Envelope) {
	data, err := envelope.Marshal(env)
	if err != nil {
		// Serialization failure: dropped silently.
		return
	}

	b.mu.Lock()
	b.lastSelfWrite = data
	b.mu.Unlock()

	if err := os.WriteFile(b.path, data, 0o644); err != nil {
		b.logger.Debug("shared-storage write failed", zap.Error(err))
		return
	}

	timer := b.clk.NewTimer(removalDelay)
	go func() {
		<-timer.C()
		os.Remove(b.path)
	}()
}

func (b *FileWatchBus) Close() error {
	close(b.stopCh)
	os.Remove(b.path)
	return b.watcher.Close()
}
