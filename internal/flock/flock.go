// Package flock implements the per-channel election coordinator. One
// Flock instance is the unique coordinator for its channel name within
// a process (enforced by Registry, in registry.go); the coordinator
// owns election state, the heartbeat and monitor timers, the local
// member registry, and envelope dispatch.
//
// The election itself is a loopback-first-claim-wins scheme: a
// candidacy broadcast over the transport is applied locally by its own
// publisher unless a conflicting claim or heartbeat beats it there,
// rather than an ID-ordered bully election.
package flock

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/clock"
	"github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/envelope"
	"github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/transport"
)

// Default options and fixed internal timings.
const (
	DefaultChannelName       = "flock_channel_v1"
	DefaultHeartbeatInterval = 2 * time.Second
	DefaultHeartbeatTtl      = 5 * time.Second
	checkInterval            = 1 * time.Second
	discoveryElectionDelay   = 500 * time.Millisecond
	exclusionDuration        = 1500 * time.Millisecond
)

// PendingResolver is the subset of member.Member the Flock needs to
// route a response envelope back to the sender's pending-request
// table. Decoupled into an interface so internal/flock does not import
// the member package (member imports flock, not the reverse).
type PendingResolver interface {
	ResolvePending(requestID string, payload json.RawMessage, isFinal bool)
}

// InboundMessage is delivered to a MemberDescriptor's OnMessage
// callback for broadcast, direct, and leader-message deliveries.
type InboundMessage struct {
	SenderID string
	Type     string
	Payload  json.RawMessage
}

// Reply is handed to a MemberDescriptor's OnRequest callback so it can
// answer a request; calling it publishes a response envelope.
type Reply func(payload any)

// MemberDescriptor is a capability bag: a unique ID plus whichever
// user callbacks this participant supplies. Any of the three may be
// nil; the Flock only dispatches the capabilities that are present.
type MemberDescriptor struct {
	ID                 string
	OnMessage          func(InboundMessage)
	OnRequest          func(payload json.RawMessage, reply Reply)
	OnLeadershipChange func(leaderID string)
	Owner              PendingResolver
}

// Options configures a Flock. ChannelName is the multiton key.
type Options struct {
	ChannelName       string
	HeartbeatInterval time.Duration
	HeartbeatTtl      time.Duration
	Debug             bool
}

func (o Options) withDefaults(logger *zap.Logger) Options {
	if o.ChannelName == "" {
		o.ChannelName = DefaultChannelName
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.HeartbeatTtl <= 0 {
		o.HeartbeatTtl = DefaultHeartbeatTtl
	}
	if o.HeartbeatTtl <= o.HeartbeatInterval {
		logger.Warn("heartbeatTtl must exceed heartbeatInterval, widening",
			zap.Duration("heartbeatInterval", o.HeartbeatInterval),
			zap.Duration("requestedTtl", o.HeartbeatTtl))
		o.HeartbeatTtl = o.HeartbeatInterval + DefaultHeartbeatInterval
	}
	return o
}

// Flock is the coordinator for one channel. Construct via Registry.Get
// in production; tests may call New directly to wire a specific
// transport (e.g. two Flocks sharing one transport.ProcessBus hub to
// simulate two hosts on one channel).
type Flock struct {
	opts   Options
	tr     transport.Transport
	clk    clock.Clock
	logger *zap.Logger

	mu                  sync.Mutex
	localMembers        map[string]*MemberDescriptor
	localOrder          []string
	remoteMembers       map[string]time.Time
	leaderID            string
	lastHeartbeatAt     time.Time
	heartbeatTicker     clock.Ticker
	heartbeatStop       chan struct{}
	monitorTicker       clock.Ticker
	monitorStop         chan struct{}
	excludedCandidateID string
	exclusionTimer      clock.Timer
	closed              bool
}

// New constructs a Flock bound to tr, starting its monitor timer
// immediately. logger may be nil (treated as a no-op logger).
func New(opts Options, tr transport.Transport, clk clock.Clock, logger *zap.Logger) *Flock {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	opts = opts.withDefaults(logger)

	f := &Flock{
		opts:          opts,
		tr:            tr,
		clk:           clk,
		logger:        logger.With(zap.String("channel", opts.ChannelName)),
		localMembers:  map[string]*MemberDescriptor{},
		remoteMembers: map[string]time.Time{},
	}

	tr.OnMessage(f.handleEnvelope)

	f.monitorTicker = clk.NewTicker(checkInterval)
	f.monitorStop = make(chan struct{})
	go f.monitorLoop(f.monitorTicker, f.monitorStop)

	return f
}

// ChannelName returns the channel this Flock coordinates.
func (f *Flock) ChannelName() string { return f.opts.ChannelName }

// HeartbeatTtl returns the configured TTL, used by Member to size its
// default request timeout.
func (f *Flock) HeartbeatTtl() time.Duration { return f.opts.HeartbeatTtl }

// now is a small convenience wrapper.
func (f *Flock) now() time.Time { return f.clk.Now() }

// publish posts env over the transport, then explicitly dispatches a
// local copy: every Transport variant (native, shared-storage,
// loopback) withholds delivery back to the publisher, so the
// coordinator performs that loopback itself, uniformly, exactly once,
// and always in post-then-local order.
func (f *Flock) publish(env envelope.Envelope) {
	f.tr.Post(env)
	f.handleEnvelope(env)
}

// Register adds desc as a local participant.
func (f *Flock) Register(desc *MemberDescriptor) {
	f.mu.Lock()
	f.localMembers[desc.ID] = desc
	f.localOrder = append(f.localOrder, desc.ID)
	leaderSnapshot := f.leaderID
	f.mu.Unlock()

	if leaderSnapshot != "" {
		timer := f.clk.NewTimer(0)
		go func() {
			<-timer.C()
			if desc.OnLeadershipChange != nil {
				desc.OnLeadershipChange(leaderSnapshot)
			}
		}()
	}

	f.publish(envelope.New(envelope.TypeRequestLeaderSync, desc.ID, "", "", nil, f.now()))

	timer := f.clk.NewTimer(discoveryElectionDelay)
	go func() {
		<-timer.C()
		f.mu.Lock()
		stillNoLeader := f.leaderID == ""
		f.mu.Unlock()
		if stillNoLeader {
			f.triggerElection()
		}
	}()
}

// Unregister removes memberID as a local participant.
func (f *Flock) Unregister(memberID string) {
	f.mu.Lock()
	desc, existed := f.localMembers[memberID]
	if existed {
		delete(f.localMembers, memberID)
		for i, id := range f.localOrder {
			if id == memberID {
				f.localOrder = append(f.localOrder[:i], f.localOrder[i+1:]...)
				break
			}
		}
	}
	wasLeader := f.leaderID == memberID
	f.mu.Unlock()

	if !existed {
		return
	}

	if wasLeader {
		if desc.OnLeadershipChange != nil {
			desc.OnLeadershipChange("")
		}
		// handleResign (arriving via the explicit self-loopback in
		// publish) owns clearing leaderID and triggering the election;
		// we do not clear it directly here.
		f.publish(envelope.New(envelope.TypeResign, memberID, "", "", nil, f.now()))
	}
}

// IsLocal reports whether id is one of this Flock's local members.
func (f *Flock) IsLocal(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isLocalLocked(id)
}

func (f *Flock) isLocalLocked(id string) bool {
	if id == "" {
		return false
	}
	_, ok := f.localMembers[id]
	return ok
}

// IsLeaderLocal reports whether the current leader is a local member.
func (f *Flock) IsLeaderLocal() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaderID != "" && f.isLocalLocked(f.leaderID)
}

// LeaderID returns the current leader, or "" if none is known.
func (f *Flock) LeaderID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaderID
}

// GetGlobalMembers returns the deduplicated union of local member IDs
// and non-stale remote members, pruning expired remote entries lazily
// on read.
func (f *Flock) GetGlobalMembers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clk.Now()
	seen := map[string]struct{}{}
	out := make([]string, 0, len(f.localMembers)+len(f.remoteMembers))

	for id := range f.localMembers {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for id, ts := range f.remoteMembers {
		if now.Sub(ts) > f.opts.HeartbeatTtl {
			delete(f.remoteMembers, id)
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// SendRequest publishes a request envelope.
func (f *Flock) SendRequest(senderID, requestID string, payload any) {
	f.publish(envelope.New(envelope.TypeRequest, senderID, "", requestID, payload, f.now()))
}

// SendMessageToLeader publishes a message-to-leader envelope.
func (f *Flock) SendMessageToLeader(senderID, requestID string, payload any) {
	f.publish(envelope.New(envelope.TypeMessageToLeader, senderID, "", requestID, payload, f.now()))
}

// SendToMember publishes a direct-message envelope. Restricting this to
// leaders is enforced by the caller (member.Member), which only calls
// this when it holds local leadership.
func (f *Flock) SendToMember(senderID, targetID string, payload any) {
	f.publish(envelope.New(envelope.TypeDirectMessage, senderID, targetID, "", payload, f.now()))
}

// BroadcastToMembers publishes a broadcast envelope.
func (f *Flock) BroadcastToMembers(senderID string, payload any) {
	f.publish(envelope.New(envelope.TypeBroadcast, senderID, "", "", payload, f.now()))
}

// CedeLeadership excludes memberID from candidate selection for
// exclusionDuration, then resigns.
func (f *Flock) CedeLeadership(memberID string) {
	f.mu.Lock()
	if f.exclusionTimer != nil {
		f.exclusionTimer.Stop() // scheduling a new exclusion cancels the previous one.
	}
	f.excludedCandidateID = memberID
	timer := f.clk.NewTimer(exclusionDuration)
	f.exclusionTimer = timer
	f.mu.Unlock()

	go func() {
		<-timer.C()
		f.mu.Lock()
		if f.excludedCandidateID == memberID {
			f.excludedCandidateID = ""
			f.exclusionTimer = nil
		}
		f.mu.Unlock()
	}()

	f.publish(envelope.New(envelope.TypeResign, memberID, "", "", nil, f.now()))
}

// Close stops this Flock's timers and its transport. A long-lived
// embedded library needs to be able to shut channels down without
// leaking goroutines, unlike a browser tab that simply closes.
func (f *Flock) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.monitorStop)
	f.monitorTicker.Stop()
	if f.exclusionTimer != nil {
		f.exclusionTimer.Stop()
	}
	f.mu.Unlock()

	f.stopHeartbeatTimer()
	return f.tr.Close()
}

func (f *Flock) monitorLoop(ticker clock.Ticker, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			f.runMonitorTick()
		}
	}
}

func (f *Flock) runMonitorTick() {
	f.mu.Lock()
	leaderLocal := f.leaderID != "" && f.isLocalLocked(f.leaderID)
	shouldElect := false
	if !leaderLocal {
		if f.leaderID == "" || f.clk.Now().Sub(f.lastHeartbeatAt) > f.opts.HeartbeatTtl {
			f.leaderID = ""
			shouldElect = true
		}
	}
	f.mu.Unlock()

	if shouldElect {
		f.triggerElection()
	}
}

// triggerElection chooses a local candidate and publishes a claim on
// its behalf. Because of explicit loopback, the publisher's own Flock
// applies the claim to itself immediately unless a conflicting
// claim/heartbeat wins first.
func (f *Flock) triggerElection() {
	candidate := f.selectCandidate()
	if candidate == "" {
		return
	}
	f.publish(envelope.New(envelope.TypeClaim, candidate, "", "", nil, f.now()))
}

// selectCandidate reuses a still-local incumbent if we are currently
// leader-local, otherwise the first local member not currently
// excluded, in insertion order.
func (f *Flock) selectCandidate() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.leaderID != "" && f.isLocalLocked(f.leaderID) {
		return f.leaderID
	}
	for _, id := range f.localOrder {
		if id != f.excludedCandidateID {
			return id
		}
	}
	return ""
}

func (f *Flock) handleEnvelope(env envelope.Envelope) {
	if !env.Valid() {
		return
	}
	if env.SenderID != "" {
		f.mu.Lock()
		f.remoteMembers[env.SenderID] = f.clk.Now()
		f.mu.Unlock()
	}

	switch env.Type {
	case envelope.TypeClaim:
		f.handleClaim(env)
	case envelope.TypeHeartbeat:
		f.handleHeartbeat(env)
	case envelope.TypeResign:
		f.handleResign(env)
	case envelope.TypeRequestLeaderSync:
		f.handleRequestLeaderSync(env)
	case envelope.TypeRequest:
		f.handleRequest(env)
	case envelope.TypeMessageToLeader:
		f.handleMessageToLeader(env)
	case envelope.TypeResponse:
		f.handleResponse(env)
	case envelope.TypeBroadcast:
		f.handleBroadcast(env)
	case envelope.TypeDirectMessage:
		f.handleDirectMessage(env)
	}
}

func (f *Flock) handleClaim(env envelope.Envelope) {
	candidate := env.SenderID

	f.mu.Lock()
	selfIsLeaderLocal := f.leaderID != "" && f.isLocalLocked(f.leaderID)
	foreignClaim := selfIsLeaderLocal && candidate != f.leaderID
	currentLeader := f.leaderID
	f.mu.Unlock()

	if foreignClaim {
		// "self is LEADER_LOCAL and c ≠ leaderId -> publish heartbeat
		// (assert leadership)" — the incumbent reasserts rather than
		// accepting the foreign claim.
		f.publish(envelope.New(envelope.TypeHeartbeat, currentLeader, "", "", nil, f.now()))
		return
	}

	f.acceptLeader(candidate)
}

func (f *Flock) handleHeartbeat(env envelope.Envelope) {
	f.mu.Lock()
	f.lastHeartbeatAt = f.clk.Now()
	f.mu.Unlock()

	f.acceptLeader(env.SenderID)
}

// acceptLeader applies a claim or heartbeat's implied leader, starting
// or stopping the heartbeat timer so it only ever runs while this
// process is leader-local, and notifying local members only on an
// actual change.
func (f *Flock) acceptLeader(candidate string) {
	f.mu.Lock()
	changed := f.leaderID != candidate
	f.leaderID = candidate
	isLocalNow := f.isLocalLocked(candidate)
	f.mu.Unlock()

	if isLocalNow {
		f.ensureHeartbeatTimer(changed)
	} else {
		f.stopHeartbeatTimer()
	}

	if changed {
		f.notifyLeadershipChangeToAll(candidate)
	}
}

func (f *Flock) handleResign(env envelope.Envelope) {
	f.mu.Lock()
	if f.leaderID != env.SenderID {
		f.mu.Unlock()
		return
	}
	f.leaderID = ""
	f.mu.Unlock()

	f.stopHeartbeatTimer()
	f.triggerElection()
}

func (f *Flock) handleRequestLeaderSync(envelope.Envelope) {
	f.mu.Lock()
	leaderLocal := f.leaderID != "" && f.isLocalLocked(f.leaderID)
	leaderID := f.leaderID
	f.mu.Unlock()

	if leaderLocal {
		f.publish(envelope.New(envelope.TypeHeartbeat, leaderID, "", "", nil, f.now()))
	}
}

func (f *Flock) handleRequest(env envelope.Envelope) {
	desc := f.localLeaderDescriptor()
	if desc == nil || desc.OnRequest == nil {
		return
	}
	originSender := env.SenderID
	requestID := env.RequestID
	reply := func(res any) {
		f.publish(envelope.New(envelope.TypeResponse, desc.ID, originSender, requestID, res, f.now()))
	}
	desc.OnRequest(env.Payload, reply)
}

func (f *Flock) handleMessageToLeader(env envelope.Envelope) {
	desc := f.localLeaderDescriptor()
	if desc == nil {
		return
	}
	if desc.OnMessage != nil {
		desc.OnMessage(InboundMessage{SenderID: env.SenderID, Type: "leader-message", Payload: env.Payload})
	}
	f.publish(envelope.New(envelope.TypeResponse, desc.ID, env.SenderID, env.RequestID, nil, f.now()))
}

func (f *Flock) handleResponse(env envelope.Envelope) {
	f.mu.Lock()
	target := f.localMembers[env.TargetID]
	f.mu.Unlock()

	if target == nil || target.Owner == nil {
		return
	}
	target.Owner.ResolvePending(env.RequestID, env.Payload, true)
}

func (f *Flock) handleBroadcast(env envelope.Envelope) {
	f.mu.Lock()
	descs := make([]*MemberDescriptor, 0, len(f.localMembers))
	for _, d := range f.localMembers {
		descs = append(descs, d)
	}
	f.mu.Unlock()

	for _, d := range descs {
		if d.OnMessage != nil {
			d.OnMessage(InboundMessage{SenderID: env.SenderID, Type: "broadcast", Payload: env.Payload})
		}
	}
}

func (f *Flock) handleDirectMessage(env envelope.Envelope) {
	f.mu.Lock()
	target := f.localMembers[env.TargetID]
	f.mu.Unlock()

	if target == nil || target.OnMessage == nil {
		return
	}
	target.OnMessage(InboundMessage{SenderID: env.SenderID, Type: "direct-message", Payload: env.Payload})
}

func (f *Flock) localLeaderDescriptor() *MemberDescriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leaderID == "" {
		return nil
	}
	return f.localMembers[f.leaderID]
}

func (f *Flock) notifyLeadershipChangeToAll(leaderID string) {
	f.mu.Lock()
	descs := make([]*MemberDescriptor, 0, len(f.localMembers))
	for _, d := range f.localMembers {
		descs = append(descs, d)
	}
	f.mu.Unlock()

	for _, d := range descs {
		if d.OnLeadershipChange != nil {
			d.OnLeadershipChange(leaderID)
		}
	}
}

// ensureHeartbeatTimer starts the heartbeat ticker if not already
// running, optionally publishing one immediate heartbeat — used
// exactly when this process just became leader-local: publish once
// immediately, then settle into the regular interval.
func (f *Flock) ensureHeartbeatTimer(immediate bool) {
	f.mu.Lock()
	alreadyRunning := f.heartbeatTicker != nil
	if !alreadyRunning {
		ticker := f.clk.NewTicker(f.opts.HeartbeatInterval)
		stop := make(chan struct{})
		f.heartbeatTicker = ticker
		f.heartbeatStop = stop
		go f.heartbeatLoop(ticker, stop)
	}
	leaderID := f.leaderID
	f.mu.Unlock()

	if immediate {
		f.publish(envelope.New(envelope.TypeHeartbeat, leaderID, "", "", nil, f.now()))
	}
}

func (f *Flock) heartbeatLoop(ticker clock.Ticker, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			f.mu.Lock()
			stillLeaderLocal := f.leaderID != "" && f.isLocalLocked(f.leaderID)
			leaderID := f.leaderID
			f.mu.Unlock()

			if !stillLeaderLocal {
				f.stopHeartbeatTimer()
				return
			}
			f.publish(envelope.New(envelope.TypeHeartbeat, leaderID, "", "", nil, f.now()))
		}
	}
}

func (f *Flock) stopHeartbeatTimer() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.heartbeatTicker == nil {
		return
	}
	f.heartbeatTicker.Stop()
	close(f.heartbeatStop)
	f.heartbeatTicker = nil
	f.heartbeatStop = nil
}
