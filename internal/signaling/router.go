// Package signaling relays opaque negotiation payloads (offers, answers,
// transport candidates) between the two participants of a call. It holds no
// call state of its own: every delivery re-resolves the pair through the call
// coordinator, so a relay for an ended or foreign call is refused at the door.
package signaling

import (
	"fmt"
	"log/slog"

	"counsel-platform/internal/observability/metrics"
)

// Kinds of negotiation payloads the router will carry. The payload body itself
// is never inspected.
const (
	KindOffer     = "offer"
	KindAnswer    = "answer"
	KindCandidate = "candidate"
)

// Calls resolves a call id to its participant pair.
type Calls interface {
	Participants(callID string) (caller, callee string, terminal bool, ok bool)
}

// Sender fans a message out to all live connections of one identity and
// reports how many received it.
type Sender interface {
	Route(userID string, msg any) int
}

// RoutingError explains why a payload was not relayed.
type RoutingError struct {
	CallID string
	Reason string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("signal for call %s refused: %s", e.CallID, e.Reason)
}

const (
	RefusedUnknownCall    = "unknown_call"
	RefusedTerminal       = "terminal"
	RefusedNotParticipant = "not_participant"
	RefusedBadKind        = "bad_kind"
)

// Signal is a relayed negotiation payload as delivered to the receiving party.
type Signal struct {
	Type    string `json:"type"`
	CallID  string `json:"call_id"`
	FromID  string `json:"from_id"`
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

type Router struct {
	calls Calls
	send  Sender
	log   *slog.Logger
}

func NewRouter(calls Calls, send Sender, log *slog.Logger) *Router {
	return &Router{calls: calls, send: send, log: log}
}

// Forward relays one payload from a verified sender identity to the other
// participant of the call. The sender identity always comes from the
// authenticated connection, never from the message body.
func (r *Router) Forward(fromID, callID, kind string, payload any) error {
	switch kind {
	case KindOffer, KindAnswer, KindCandidate:
	default:
		return &RoutingError{CallID: callID, Reason: RefusedBadKind}
	}

	caller, callee, terminal, ok := r.calls.Participants(callID)
	if !ok {
		return &RoutingError{CallID: callID, Reason: RefusedUnknownCall}
	}
	if terminal {
		return &RoutingError{CallID: callID, Reason: RefusedTerminal}
	}

	var to string
	switch fromID {
	case caller:
		to = callee
	case callee:
		to = caller
	default:
		r.log.Warn("signal from non-participant dropped", "call_id", callID, "from", fromID)
		return &RoutingError{CallID: callID, Reason: RefusedNotParticipant}
	}

	delivered := r.send.Route(to, Signal{
		Type:    "call:signal",
		CallID:  callID,
		FromID:  fromID,
		Kind:    kind,
		Payload: payload,
	})
	metrics.SignalsForwarded.Inc()
	r.log.Debug("signal forwarded", "call_id", callID, "kind", kind, "delivered", delivered)
	return nil
}
