// Package notify bridges internal state changes to connected clients.
package notify

import (
	"log/slog"
	"time"
)

// Sender fans a message out to all live connections of one identity.
type Sender interface {
	Route(userID string, msg any) int
}

// PresenceUpdate is pushed to interested parties when an identity's
// availability flips.
type PresenceUpdate struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
	At     int64  `json:"at"`
}

// Fanout delivers call events and presence updates over the realtime gateway.
// Deliveries are fire-and-forget; an offline recipient simply misses the push
// and recovers state on its next connect.
type Fanout struct {
	send  Sender
	clock func() time.Time
	log   *slog.Logger
}

func NewFanout(send Sender, log *slog.Logger) *Fanout {
	return &Fanout{send: send, clock: time.Now, log: log}
}

// Publish delivers one call event to every live connection of the identity.
func (f *Fanout) Publish(userID string, event any) {
	n := f.send.Route(userID, event)
	if n == 0 {
		f.log.Debug("event to offline identity dropped", "user_id", userID)
	}
}

// PresenceChanged pushes an availability flip to the identity's own devices so
// that every device agrees on the published state.
func (f *Fanout) PresenceChanged(userID string, online bool) {
	f.send.Route(userID, PresenceUpdate{
		Type:   "presence:update",
		UserID: userID,
		Online: online,
		At:     f.clock().Unix(),
	})
}
