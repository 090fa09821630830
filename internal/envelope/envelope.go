// Package envelope defines the wire record exchanged over a Transport
// and its closed set of message types, grounded on the small tagged
// JSON notification record in mfrister-river's leadership elector.
package envelope

import (
	"encoding/json"
	"time"
)

// Type is the closed set of envelope kinds. An unknown type decoded off
// the wire still lands in the Type field; Valid reports it as invalid
// and internal/flock drops it at the dispatch boundary.
type Type string

const (
	TypeClaim             Type = "claim"
	TypeHeartbeat         Type = "heartbeat"
	TypeResign            Type = "resign"
	TypeRequestLeaderSync Type = "request-leader-sync"
	TypeRequest           Type = "request"
	TypeMessageToLeader   Type = "message-to-leader"
	TypeResponse          Type = "response"
	TypeBroadcast         Type = "broadcast"
	TypeDirectMessage     Type = "direct-message"
)

// Envelope is the record posted to and delivered by a Transport.
type Envelope struct {
	Type      Type            `json:"type"`
	SenderID  string          `json:"senderId,omitempty"`
	TargetID  string          `json:"targetId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Ts        int64           `json:"_ts"`
}

// New builds an Envelope, marshalling payload if non-nil. A marshal
// failure yields a zero-payload envelope rather than an error:
// transport-level serialization failures are swallowed, not surfaced
// to callers.
func New(typ Type, senderID, targetID, requestID string, payload any, now time.Time) Envelope {
	env := Envelope{
		Type:      typ,
		SenderID:  senderID,
		TargetID:  targetID,
		RequestID: requestID,
		Ts:        now.UnixMilli(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			env.Payload = raw
		}
	}
	return env
}

// Decode unmarshals payload into v. Returns false (never an error) on
// malformed or absent payloads; protocol violations are dropped
// silently rather than surfaced as errors.
func (e Envelope) Decode(v any) bool {
	if len(e.Payload) == 0 {
		return false
	}
	return json.Unmarshal(e.Payload, v) == nil
}

// Valid reports whether the envelope carries a recognized Type. An
// empty Type (a missing `type` field) is dropped silently rather than
// dispatched.
func (e Envelope) Valid() bool {
	switch e.Type {
	case TypeClaim, TypeHeartbeat, TypeResign, TypeRequestLeaderSync,
		TypeRequest, TypeMessageToLeader, TypeResponse, TypeBroadcast, TypeDirectMessage:
		return true
	default:
		return false
	}
}

// Marshal serializes the envelope for transports that need a byte
// representation (the shared-storage fallback). A failure here is
// reported to the caller, who is responsible for dropping it silently.
func Marshal(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal is the inverse of Marshal.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(data, &e)
	return e, err
}
