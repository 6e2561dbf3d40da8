// Package gateway owns the table of live realtime connections and multiplexes
// one identity across possibly several of them (tabs, devices).
//
// Credential verification happens before a connection reaches this package
// (internal/rtc exchanges the signed connection token); the gateway only binds
// an already-authenticated identity to a transport.
package gateway

import (
	"log/slog"
	"sync"

	"counsel-platform/internal/observability/metrics"

	"github.com/google/uuid"
)

// PresenceSink receives connection lifecycle events. Implemented by
// presence.Registry.
type PresenceSink interface {
	ConnectionOpened(userID, role, connID string)
	ConnectionClosed(userID, connID string)
	Heartbeat(userID, connID string)
}

type Gateway struct {
	mu     sync.RWMutex
	conns  map[string]*Connection            // connID -> conn
	byUser map[string]map[string]*Connection // userID -> connID -> conn

	presence PresenceSink
	log      *slog.Logger
}

func New(presence PresenceSink, log *slog.Logger) *Gateway {
	return &Gateway{
		conns:    make(map[string]*Connection),
		byUser:   make(map[string]map[string]*Connection),
		presence: presence,
		log:      log,
	}
}

// Open registers a new live connection for an authenticated identity and
// starts its write pump. The returned connection id keys all later operations.
func (g *Gateway) Open(userID, role string, t Transport) *Connection {
	conn := newConnection(uuid.NewString(), userID, role, t, g.log)

	g.mu.Lock()
	g.conns[conn.ID] = conn
	set, ok := g.byUser[userID]
	if !ok {
		set = make(map[string]*Connection)
		g.byUser[userID] = set
	}
	set[conn.ID] = conn
	g.mu.Unlock()

	go conn.writePump(func() { g.Close(conn.ID) })

	// Registry update happens after the table insert so presence listeners
	// observing "reachable" can already route to this connection.
	g.presence.ConnectionOpened(userID, role, conn.ID)
	metrics.ConnectionsActive.Inc()

	g.log.Info("connection opened", "conn_id", conn.ID, "user_id", userID, "role", role)
	return conn
}

// Close deregisters a connection and closes its transport. Idempotent:
// closing an unknown or already-closed id is a no-op.
func (g *Gateway) Close(connID string) {
	g.mu.Lock()
	conn, ok := g.conns[connID]
	if !ok {
		g.mu.Unlock()
		return
	}
	delete(g.conns, connID)
	if set, ok := g.byUser[conn.UserID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(g.byUser, conn.UserID)
		}
	}
	g.mu.Unlock()

	conn.shutdown()
	g.presence.ConnectionClosed(conn.UserID, connID)
	metrics.ConnectionsActive.Dec()

	g.log.Info("connection closed", "conn_id", connID, "user_id", conn.UserID)
}

// Send delivers one message to exactly one connection. A missing connection is
// an expected race with Close and is logged, never fatal.
func (g *Gateway) Send(connID string, msg any) {
	g.mu.RLock()
	conn, ok := g.conns[connID]
	g.mu.RUnlock()
	if !ok {
		g.log.Debug("send to unknown connection", "conn_id", connID)
		return
	}
	conn.enqueue(msg)
}

// Route delivers a message to all connections currently owned by an identity
// (multi-device fan-out). Returns the number of connections reached.
func (g *Gateway) Route(userID string, msg any) int {
	g.mu.RLock()
	set := g.byUser[userID]
	targets := make([]*Connection, 0, len(set))
	for _, c := range set {
		targets = append(targets, c)
	}
	g.mu.RUnlock()

	n := 0
	for _, c := range targets {
		if c.enqueue(msg) {
			n++
		}
	}
	return n
}

// Heartbeat refreshes presence liveness for the identity behind connID.
func (g *Gateway) Heartbeat(connID string) {
	g.mu.RLock()
	conn, ok := g.conns[connID]
	g.mu.RUnlock()
	if !ok {
		return
	}
	g.presence.Heartbeat(conn.UserID, connID)
}

// CountForUser returns how many live connections an identity owns.
func (g *Gateway) CountForUser(userID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byUser[userID])
}

// CloseAll tears down every connection; used on shutdown.
func (g *Gateway) CloseAll() {
	g.mu.RLock()
	ids := make([]string, 0, len(g.conns))
	for id := range g.conns {
		ids = append(ids, id)
	}
	g.mu.RUnlock()

	for _, id := range ids {
		g.Close(id)
	}
}
