// Package member implements the user-facing participant: pending/retry
// bookkeeping, request/response and one-way leader messaging,
// leader-only fan-out, and leadership-change driven retry migration.
//
// SendRequest blocks the calling goroutine until the response (or a
// MaxRetriesReachedError) arrives, rather than returning a future —
// the natural shape for a synchronous call in Go.
package member

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/clock"
	"github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/flock"
	"github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/idgen"
)

// Fixed retry parameters.
const (
	MaxRetries         = 3
	RetrySweepInterval = 5 * time.Second

	defaultRequestTimeoutPad = 500 * time.Millisecond
)

// MaxRetriesReachedError is returned by SendRequest once an entry has
// been resent MaxRetries times with no response.
type MaxRetriesReachedError struct {
	RequestID string
}

func (e *MaxRetriesReachedError) Error() string {
	return fmt.Sprintf("member: request %s: max retries reached", e.RequestID)
}

type kind int

const (
	kindRequest kind = iota
	kindMessage
)

// pendingEntry is shared, by pointer, between the pending and retry
// tables across its whole lifetime so attempts accumulates correctly
// across timeout -> retry -> resend cycles. A request ID lives in
// exactly one of the two tables at a time; the same entry just moves
// between them.
type pendingEntry struct {
	kind     kind
	payload  any
	timeout  time.Duration
	timer    clock.Timer
	resultCh chan requestResult // nil for kindMessage
	attempts int
}

type requestResult struct {
	payload json.RawMessage
	err     error
}

// Options configures a Member. ID is generated via internal/idgen if
// left blank. The three callbacks are a capability bag: supply only
// the ones this participant needs.
type Options struct {
	ID                string
	ChannelName       string
	HeartbeatInterval time.Duration
	HeartbeatTtl      time.Duration
	Debug             bool

	OnMessage          func(flock.InboundMessage)
	OnRequest          func(payload json.RawMessage, reply flock.Reply)
	OnLeadershipChange func(leaderID string)
}

// Member is the public participant bound to one Flock channel.
type Member struct {
	id     string
	fl     *flock.Flock
	clk    clock.Clock
	logger *zap.Logger

	userOnLeadershipChange func(string)

	mu                sync.Mutex
	pending           map[string]*pendingEntry
	retry             map[string]*pendingEntry
	leaderKnown       bool
	lastKnownLeaderID string

	sweepTicker clock.Ticker
	sweepStop   chan struct{}
	closed      bool
}

// New constructs a Member, joining (or creating) the Flock for
// opts.ChannelName via reg (nil defaults to flock.Default, the process
// registry). clk/logger may be nil.
func New(opts Options, reg *flock.Registry, clk clock.Clock, logger *zap.Logger) *Member {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = flock.Default
	}
	if opts.ID == "" {
		opts.ID = idgen.New()
	}

	fl := reg.Get(flock.Options{
		ChannelName:       opts.ChannelName,
		HeartbeatInterval: opts.HeartbeatInterval,
		HeartbeatTtl:      opts.HeartbeatTtl,
		Debug:             opts.Debug,
	})

	m := &Member{
		id:                     opts.ID,
		fl:                     fl,
		clk:                    clk,
		logger:                 logger.With(zap.String("memberId", opts.ID)),
		userOnLeadershipChange: opts.OnLeadershipChange,
		pending:                map[string]*pendingEntry{},
		retry:                  map[string]*pendingEntry{},
	}

	fl.Register(&flock.MemberDescriptor{
		ID:                 opts.ID,
		OnMessage:          opts.OnMessage,
		OnRequest:          opts.OnRequest,
		OnLeadershipChange: m.handleLeadershipChange,
		Owner:              m,
	})

	m.sweepTicker = clk.NewTicker(RetrySweepInterval)
	m.sweepStop = make(chan struct{})
	go m.sweepLoop()

	return m
}

// ID returns this member's identity.
func (m *Member) ID() string { return m.id }

// ChannelName returns the channel this member's Flock coordinates.
func (m *Member) ChannelName() string { return m.fl.ChannelName() }

// IsLeader reports whether this specific member currently holds
// leadership.
func (m *Member) IsLeader() bool {
	return m.fl.IsLeaderLocal() && m.fl.LeaderID() == m.id
}

// SendRequest publishes a request and blocks until a response arrives
// or retries are exhausted. While no leader exists the request stays
// queued and the call keeps blocking; if the retry queue is dropped
// because this member has itself become leader, the call does not
// return. timeout <= 0 uses heartbeatTtl + 500ms.
func (m *Member) SendRequest(payload any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = m.fl.HeartbeatTtl() + defaultRequestTimeoutPad
	}
	requestID := idgen.New()
	resultCh := make(chan requestResult, 1)
	timer := m.clk.NewTimer(timeout)

	entry := &pendingEntry{kind: kindRequest, payload: payload, timeout: timeout, timer: timer, resultCh: resultCh}

	m.mu.Lock()
	m.pending[requestID] = entry
	m.mu.Unlock()

	go m.awaitTimeout(requestID, timer)

	m.fl.SendRequest(m.id, requestID, payload)

	res := <-resultCh
	return res.payload, res.err
}

// SendMessageToLeader publishes a one-way message to the leader.
// Unlike SendRequest it has no user-visible result: success is the
// absence of a MaxRetriesReached-equivalent failure, which for
// message-kind entries is simply dropped.
func (m *Member) SendMessageToLeader(payload any) {
	requestID := idgen.New()
	timeout := m.fl.HeartbeatTtl() + defaultRequestTimeoutPad
	timer := m.clk.NewTimer(timeout)

	entry := &pendingEntry{kind: kindMessage, payload: payload, timeout: timeout, timer: timer}

	m.mu.Lock()
	m.pending[requestID] = entry
	m.mu.Unlock()

	go m.awaitTimeout(requestID, timer)

	m.fl.SendMessageToLeader(m.id, requestID, payload)
}

// GetMembersInfo returns the deduplicated global member set. This is a
// leader-only action; non-leaders get nil.
func (m *Member) GetMembersInfo() []string {
	if !m.IsLeader() {
		return nil
	}
	return m.fl.GetGlobalMembers()
}

// SendToMember fans a direct message out to targetID. No-op if this
// member is not currently leader.
func (m *Member) SendToMember(targetID string, payload any) {
	if !m.IsLeader() {
		return
	}
	m.fl.SendToMember(m.id, targetID, payload)
}

// BroadcastToMembers fans payload out to every member. No-op if this
// member is not currently leader.
func (m *Member) BroadcastToMembers(payload any) {
	if !m.IsLeader() {
		return
	}
	m.fl.BroadcastToMembers(m.id, payload)
}

// CedeLeadership relinquishes leadership while keeping the member
// registered.
func (m *Member) CedeLeadership() { m.fl.CedeLeadership(m.id) }

// Resign permanently tears this member down: stops the retry sweep
// timer and unregisters from the Flock.
func (m *Member) Resign() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.sweepStop)
	m.sweepTicker.Stop()
	m.mu.Unlock()

	m.fl.Unregister(m.id)
}

// ResolvePending implements flock.PendingResolver.
func (m *Member) ResolvePending(requestID string, payload json.RawMessage, isFinal bool) {
	m.mu.Lock()
	entry, ok := m.pending[requestID]
	if ok {
		delete(m.pending, requestID)
	}
	m.mu.Unlock()

	if !ok {
		return // no-op: RequestId no longer pending
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	if entry.kind == kindMessage {
		return // ack: drop silently
	}
	if entry.resultCh != nil {
		entry.resultCh <- requestResult{payload: payload}
	}
}

// awaitTimeout moves requestID from pending to retry if it is still
// pending when timer fires, preserving attempts so resend cycles
// accumulate correctly toward MaxRetries.
func (m *Member) awaitTimeout(requestID string, timer clock.Timer) {
	<-timer.C()

	m.mu.Lock()
	entry, ok := m.pending[requestID]
	if ok {
		delete(m.pending, requestID)
		entry.timer = nil
		m.retry[requestID] = entry
	}
	m.mu.Unlock()
}

// handleLeadershipChange is installed as this member's
// OnLeadershipChange descriptor callback; it migrates pending work to
// the retry queue on a real leadership change before forwarding to the
// user's own callback, if any.
func (m *Member) handleLeadershipChange(newLeaderID string) {
	m.mu.Lock()
	amILeader := newLeaderID != "" && newLeaderID == m.id
	isInitialDiscovery := !m.leaderKnown && newLeaderID != ""
	m.leaderKnown = true
	m.lastKnownLeaderID = newLeaderID

	shouldDrain := amILeader || !isInitialDiscovery
	var drained bool
	if shouldDrain {
		drained = m.drainPendingToRetryLocked()
	}
	m.mu.Unlock()

	if drained {
		m.processRetry()
	}

	if m.userOnLeadershipChange != nil {
		m.userOnLeadershipChange(newLeaderID)
	}
}

// drainPendingToRetryLocked moves every pending entry into the retry
// queue with its timer stopped, reporting whether anything moved.
// Caller holds m.mu.
func (m *Member) drainPendingToRetryLocked() bool {
	if len(m.pending) == 0 {
		return false
	}
	for id, e := range m.pending {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		m.retry[id] = e
	}
	m.pending = map[string]*pendingEntry{}
	return true
}

// processRetry drains the retry queue, resending each entry that still
// has attempts left and failing the rest with MaxRetriesReachedError.
func (m *Member) processRetry() {
	m.mu.Lock()
	if m.fl.IsLeaderLocal() && m.fl.LeaderID() == m.id {
		// Self-addressed retries are meaningless: drop silently, no
		// rejections emitted.
		m.retry = map[string]*pendingEntry{}
		m.mu.Unlock()
		return
	}
	snapshot := m.retry
	m.retry = map[string]*pendingEntry{}
	m.mu.Unlock()

	for requestID, entry := range snapshot {
		entry.attempts++
		if entry.attempts > MaxRetries {
			if entry.kind == kindRequest && entry.resultCh != nil {
				entry.resultCh <- requestResult{err: &MaxRetriesReachedError{RequestID: requestID}}
			}
			continue
		}
		m.resend(requestID, entry)
	}
}

// resend re-publishes entry's payload and re-inserts it into pending
// with a fresh timeout.
func (m *Member) resend(requestID string, entry *pendingEntry) {
	timer := m.clk.NewTimer(entry.timeout)
	entry.timer = timer

	m.mu.Lock()
	m.pending[requestID] = entry
	m.mu.Unlock()

	go m.awaitTimeout(requestID, timer)

	switch entry.kind {
	case kindRequest:
		m.fl.SendRequest(m.id, requestID, entry.payload)
	case kindMessage:
		m.fl.SendMessageToLeader(m.id, requestID, entry.payload)
	}
}

// sweepLoop re-runs processRetry on RetrySweepInterval whenever a
// leader exists and the retry queue is non-empty, covering the case
// where no leadership-change event happens to trigger a retry.
func (m *Member) sweepLoop() {
	for {
		select {
		case <-m.sweepStop:
			return
		case <-m.sweepTicker.C():
			m.mu.Lock()
			leaderExists := m.fl.LeaderID() != ""
			nonEmpty := len(m.retry) > 0
			m.mu.Unlock()

			if leaderExists && nonEmpty {
				m.processRetry()
			}
		}
	}
}
