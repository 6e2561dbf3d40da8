package gateway

import (
	"log/slog"
	"sync"
	"time"
)

// Transport abstracts the wire below one connection. Production uses a
// gorilla/websocket adapter (internal/rtc); tests use in-memory fakes.
type Transport interface {
	WriteJSON(v any) error
	Close() error
}

// sendBuffer bounds the per-connection outbound queue. A full buffer means a
// consumer that stopped reading; messages to it are dropped and logged rather
// than blocking the sender.
const sendBuffer = 64

// Connection is one live realtime channel bound to an authenticated identity.
// The identity is immutable for the lifetime of the connection.
type Connection struct {
	ID        string
	UserID    string
	Role      string
	CreatedAt time.Time

	transport Transport
	send      chan any
	done      chan struct{}
	closeOnce sync.Once

	log *slog.Logger
}

func newConnection(id, userID, role string, t Transport, log *slog.Logger) *Connection {
	return &Connection{
		ID:        id,
		UserID:    userID,
		Role:      role,
		CreatedAt: time.Now(),
		transport: t,
		send:      make(chan any, sendBuffer),
		done:      make(chan struct{}),
		log:       log,
	}
}

// enqueue places one message on the outbound queue. Messages enqueued from a
// single goroutine are written to the wire in order. Returns false if the
// connection is closed or the buffer is full.
func (c *Connection) enqueue(msg any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn("send buffer full, dropping message", "conn_id", c.ID, "user_id", c.UserID)
		return false
	}
}

// writePump drains the outbound queue onto the transport. Runs as the single
// writer goroutine for this connection; exits when the connection closes.
func (c *Connection) writePump(onDead func()) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.transport.WriteJSON(msg); err != nil {
				// Treat a write failure as the peer being gone.
				c.log.Debug("write failed", "conn_id", c.ID, "err", err)
				onDead()
				return
			}
		}
	}
}

// shutdown closes the transport exactly once.
func (c *Connection) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.transport.Close()
	})
}
