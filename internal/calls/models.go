package calls

import "time"

// State is the lifecycle position of one call session.
//
// requested -> ringing -> accepted -> connected -> {disconnected|ended|failed}
//
// ended and failed are terminal. disconnected is a transient substate that
// permits one reconnection window before the session fails.
type State string

const (
	StateRequested    State = "requested"
	StateRinging      State = "ringing"
	StateAccepted     State = "accepted"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateEnded        State = "ended"
	StateFailed       State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// Well-known end reasons. Hangups carry the reason supplied by the party that
// hung up (defaulting to ReasonHangup).
const (
	ReasonTimeout            = "timeout"
	ReasonRejected           = "rejected"
	ReasonHangup             = "hangup"
	ReasonReconnectExhausted = "reconnect_exhausted"
)

// Session is the immutable snapshot of one call attempt between exactly two
// identities. A session is created on a call request and never reused once
// terminal.
type Session struct {
	ID       string `json:"call_id"`
	CallerID string `json:"caller_id"`
	CalleeID string `json:"callee_id"`

	State     State  `json:"state"`
	EndReason string `json:"end_reason,omitempty"`

	// ConnectedAt and EndedAt are zero until the session reaches the
	// corresponding state.
	CreatedAt   time.Time `json:"created_at"`
	ConnectedAt time.Time `json:"connected_at"`
	EndedAt     time.Time `json:"ended_at"`
}

// Event is a call-lifecycle notification fanned out to a party's live
// connections. The JSON shape matches the realtime wire protocol.
type Event struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	FromID string `json:"from_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Server-pushed event types.
const (
	EventIncoming         = "call:incoming"
	EventAccepted         = "call:accepted"
	EventConnected        = "call:connected"
	EventEnded            = "call:ended"
	EventPeerDisconnected = "call:peer_disconnected"
	EventPeerReconnected  = "call:peer_reconnected"
)
