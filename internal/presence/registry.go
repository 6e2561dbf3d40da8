// Package presence is the authoritative in-memory record of which identities
// currently hold a live realtime connection and have opted in to being reachable.
//
// Invariants:
//   - online == (available flag AND live-connection count > 0)
//   - the registry is updated before any transition is surfaced to listeners,
//     so admission checks never act on state older than an emitted event
//   - IsOnline never blocks on external I/O; everything here is memory-only
package presence

import (
	"context"
	"sync"
	"time"
)

// Events receives registry transitions. Implementations must be fast and
// non-blocking; they are invoked outside the registry lock but on the mutating
// goroutine.
type Events interface {
	// PresenceChanged fires whenever the externally visible online value flips.
	PresenceChanged(userID string, online bool)

	// Reachable / Unreachable track the live-connection count crossing zero,
	// independent of the availability flag. The call coordinator uses these to
	// drive the disconnected/reconnected transitions of active calls.
	Reachable(userID string)
	Unreachable(userID string)
}

// EventFuncs adapts plain functions to the Events interface. Nil fields are no-ops.
type EventFuncs struct {
	OnPresenceChanged func(userID string, online bool)
	OnReachable       func(userID string)
	OnUnreachable     func(userID string)
}

func (e EventFuncs) PresenceChanged(userID string, online bool) {
	if e.OnPresenceChanged != nil {
		e.OnPresenceChanged(userID, online)
	}
}
func (e EventFuncs) Reachable(userID string) {
	if e.OnReachable != nil {
		e.OnReachable(userID)
	}
}
func (e EventFuncs) Unreachable(userID string) {
	if e.OnUnreachable != nil {
		e.OnUnreachable(userID)
	}
}

type record struct {
	available    bool
	role         string
	conns        map[string]time.Time // connID -> last heartbeat
	lastActiveAt time.Time
}

// Snapshot is the read-only view of one identity's presence.
type Snapshot struct {
	UserID       string    `json:"user_id"`
	Role         string    `json:"role,omitempty"`
	Online       bool      `json:"online"`
	Available    bool      `json:"available"`
	Connections  int       `json:"connections"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Registry tracks presence for all identities. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	records map[string]*record

	listeners []Events

	clock      func() time.Time
	staleAfter time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock injects a clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) { r.clock = clock }
}

// WithStaleAfter sets the heartbeat staleness cutoff.
func WithStaleAfter(d time.Duration) Option {
	return func(r *Registry) { r.staleAfter = d }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		records:    make(map[string]*record),
		clock:      time.Now,
		staleAfter: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers a transition listener. Not safe to call concurrently
// with mutations; wire all listeners before the registry goes live.
func (r *Registry) Subscribe(ev Events) {
	r.listeners = append(r.listeners, ev)
}

// SetAvailable records the explicit opt-in/opt-out. It does not by itself
// create a connection; an available identity with no connections stays offline.
func (r *Registry) SetAvailable(userID string, available bool) {
	r.mu.Lock()
	rec := r.ensure(userID)
	before := r.online(rec)
	rec.available = available
	rec.lastActiveAt = r.clock()
	after := r.online(rec)
	r.mu.Unlock()

	r.emitPresence(userID, before, after)
}

// ConnectionOpened adds one live connection for userID. The role is recorded
// on first sight and is immutable for the record lifetime.
func (r *Registry) ConnectionOpened(userID, role, connID string) {
	now := r.clock()

	r.mu.Lock()
	rec := r.ensure(userID)
	before := r.online(rec)
	wasReachable := len(rec.conns) > 0
	if rec.role == "" {
		rec.role = role
	}
	rec.conns[connID] = now
	rec.lastActiveAt = now
	after := r.online(rec)
	nowReachable := len(rec.conns) > 0
	r.mu.Unlock()

	if !wasReachable && nowReachable {
		for _, l := range r.listeners {
			l.Reachable(userID)
		}
	}
	r.emitPresence(userID, before, after)
}

// ConnectionClosed removes one live connection. Unknown connection ids are a
// no-op, which makes double-close produce exactly one offline transition.
func (r *Registry) ConnectionClosed(userID, connID string) {
	r.mu.Lock()
	rec, ok := r.records[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, ok := rec.conns[connID]; !ok {
		r.mu.Unlock()
		return
	}
	before := r.online(rec)
	delete(rec.conns, connID)
	rec.lastActiveAt = r.clock()
	after := r.online(rec)
	unreachable := len(rec.conns) == 0
	r.mu.Unlock()

	if unreachable {
		for _, l := range r.listeners {
			l.Unreachable(userID)
		}
	}
	r.emitPresence(userID, before, after)
}

// Heartbeat refreshes lastActiveAt for one connection.
func (r *Registry) Heartbeat(userID, connID string) {
	now := r.clock()
	r.mu.Lock()
	if rec, ok := r.records[userID]; ok {
		if _, ok := rec.conns[connID]; ok {
			rec.conns[connID] = now
			rec.lastActiveAt = now
		}
	}
	r.mu.Unlock()
}

// IsOnline is the synchronous admission check. Memory-only by design.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[userID]
	if !ok {
		return false
	}
	return r.online(rec)
}

// Lookup returns the presence snapshot for one identity.
func (r *Registry) Lookup(userID string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[userID]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		UserID:       userID,
		Role:         rec.role,
		Online:       r.online(rec),
		Available:    rec.available,
		Connections:  len(rec.conns),
		LastActiveAt: rec.lastActiveAt,
	}, true
}

// staleConn identifies one connection that missed its heartbeat window.
type staleConn struct {
	UserID string
	ConnID string
}

// ExpireStale treats connections that have not heartbeat within staleAfter as
// closed and returns them so the gateway can tear down the underlying sockets.
func (r *Registry) ExpireStale(now time.Time) []staleConn {
	cutoff := now.Add(-r.staleAfter)

	r.mu.Lock()
	var stale []staleConn
	for userID, rec := range r.records {
		for connID, beat := range rec.conns {
			if beat.Before(cutoff) {
				stale = append(stale, staleConn{UserID: userID, ConnID: connID})
			}
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		r.ConnectionClosed(s.UserID, s.ConnID)
	}
	return stale
}

// Run drives the staleness reaper until ctx is cancelled. closer is invoked
// for each reaped connection so the gateway can close the dead socket; it may
// be nil.
func (r *Registry) Run(ctx context.Context, interval time.Duration, closer func(connID string)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, s := range r.ExpireStale(r.clock()) {
				if closer != nil {
					closer(s.ConnID)
				}
			}
		}
	}
}

func (r *Registry) ensure(userID string) *record {
	rec, ok := r.records[userID]
	if !ok {
		rec = &record{conns: make(map[string]time.Time)}
		r.records[userID] = rec
	}
	return rec
}

// online computes the derived flag. Caller must hold r.mu.
func (r *Registry) online(rec *record) bool {
	return rec.available && len(rec.conns) > 0
}

func (r *Registry) emitPresence(userID string, before, after bool) {
	if before == after {
		return
	}
	for _, l := range r.listeners {
		l.PresenceChanged(userID, after)
	}
}
