// Package rtc is the realtime edge: it upgrades authenticated HTTP requests to
// websockets, binds them to the connection gateway, and translates the JSON
// wire protocol into coordinator, signaling, and presence operations.
package rtc

import "encoding/json"

// Client-to-server message types.
const (
	MsgCallRequest   = "call:request"
	MsgCallAccept    = "call:accept"
	MsgCallDecline   = "call:decline"
	MsgCallSignal    = "call:signal"
	MsgCallConnected = "call:connected"
	MsgCallHangup    = "call:hangup"
	MsgPresenceSet   = "presence:set"
	MsgPing          = "ping"
)

// ClientMessage is the envelope for everything a client sends. Fields beyond
// Type are populated per message type; unknown fields are ignored.
//
// The sender identity is never read from the message; it is bound to the
// connection at upgrade time.
type ClientMessage struct {
	Type string `json:"type"`

	CallID   string `json:"call_id,omitempty"`
	CalleeID string `json:"callee_id,omitempty"`

	// Signaling relay fields (call:signal).
	Kind    string          `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// call:hangup may carry a reason.
	Reason string `json:"reason,omitempty"`

	// presence:set.
	Available *bool `json:"available,omitempty"`
}

// Ack confirms a client message was applied. For call:request it carries the
// created session so the caller learns the call id.
type Ack struct {
	Type    string `json:"type"`
	Op      string `json:"op"`
	CallID  string `json:"call_id,omitempty"`
	Session any    `json:"session,omitempty"`
}

// ErrorEvent reports a refused client message. Code is machine-readable;
// Message is for humans.
type ErrorEvent struct {
	Type    string `json:"type"`
	Op      string `json:"op,omitempty"`
	CallID  string `json:"call_id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Pong answers an application-level ping.
type Pong struct {
	Type string `json:"type"`
}

func ack(op, callID string) Ack {
	return Ack{Type: "ack", Op: op, CallID: callID}
}

func errEvent(op, callID, code, message string) ErrorEvent {
	return ErrorEvent{Type: "error", Op: op, CallID: callID, Code: code, Message: message}
}
