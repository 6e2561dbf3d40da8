package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"counsel-platform/internal/auth"
	"counsel-platform/internal/calls"
	"counsel-platform/internal/config"
	"counsel-platform/internal/gateway"
	"counsel-platform/internal/observability/metrics"
	"counsel-platform/internal/presence"
	"counsel-platform/internal/rbac"
	"counsel-platform/internal/signaling"
	"counsel-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser clients connect from the app origin; cross-origin abuse is
	// prevented by the signed connection token, not the Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const maxMessageSize = 64 * 1024 // signaling payloads are small; reject anything else

// Handler owns the websocket endpoint.
type Handler struct {
	auth     *auth.Manager
	gateway  *gateway.Gateway
	registry *presence.Registry
	coord    *calls.Coordinator
	router   *signaling.Router
	rdb      *redis.Client // nil disables the cross-instance connection cap
	cfg      config.CallConfig
	log      *slog.Logger
}

func NewHandler(
	am *auth.Manager,
	gw *gateway.Gateway,
	reg *presence.Registry,
	coord *calls.Coordinator,
	router *signaling.Router,
	rdb *redis.Client,
	cfg config.CallConfig,
	log *slog.Logger,
) *Handler {
	return &Handler{
		auth:     am,
		gateway:  gw,
		registry: reg,
		coord:    coord,
		router:   router,
		rdb:      rdb,
		cfg:      cfg,
		log:      log,
	}
}

// Serve upgrades GET /v1/rtc to a websocket. The short-lived connection token
// rides in the "token" query parameter because browser websocket clients
// cannot set headers.
func (h *Handler) Serve(c *gin.Context) {
	claims, err := h.auth.Verify(c.Query("token"), auth.TokenTypeConnection, time.Now())
	if err != nil {
		metrics.AuthFailures.Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid connection token"})
		return
	}

	slotKey := "rtc:conns:" + claims.UserID
	if h.rdb != nil {
		acquired, err := utils.AcquireConnSlot(c.Request.Context(), h.rdb, slotKey, h.cfg.MaxConnsPerUser, h.slotTTL())
		if err != nil {
			h.log.Error("conn slot acquire failed", "user_id", claims.UserID, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
			return
		}
		if !acquired {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many concurrent connections"})
			return
		}
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.releaseSlot(slotKey)
		h.log.Warn("websocket upgrade failed", "user_id", claims.UserID, "error", err)
		return
	}

	conn := h.gateway.Open(claims.UserID, claims.Role, &wsTransport{conn: ws})

	h.readLoop(ws, conn)

	h.gateway.Close(conn.ID)
	h.releaseSlot(slotKey)
}

// readLoop consumes client messages until the connection dies. Liveness is
// application-level: any message, including ping, refreshes the read deadline
// and the presence heartbeat.
func (h *Handler) readLoop(ws *websocket.Conn, conn *gateway.Connection) {
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.HeartbeatTimeout))

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("websocket read failed", "conn_id", conn.ID, "error", err)
			}
			return
		}

		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.HeartbeatTimeout))
		h.gateway.Heartbeat(conn.ID)

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.gateway.Send(conn.ID, errEvent("", "", "bad_request", "malformed message"))
			continue
		}
		h.dispatch(conn, msg)
	}
}

func (h *Handler) dispatch(conn *gateway.Connection, msg ClientMessage) {
	switch msg.Type {
	case MsgPing:
		h.gateway.Send(conn.ID, Pong{Type: "pong"})
		if h.rdb != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = utils.RefreshConnSlot(ctx, h.rdb, "rtc:conns:"+conn.UserID, h.slotTTL())
			cancel()
		}

	case MsgPresenceSet:
		if msg.Available == nil {
			h.gateway.Send(conn.ID, errEvent(msg.Type, "", "bad_request", "available is required"))
			return
		}
		h.registry.SetAvailable(conn.UserID, *msg.Available)
		h.gateway.Send(conn.ID, ack(msg.Type, ""))

	case MsgCallRequest:
		if msg.CalleeID == "" {
			h.gateway.Send(conn.ID, errEvent(msg.Type, "", "bad_request", "callee_id is required"))
			return
		}
		// Admins hold connections for ops tooling; they are not call parties.
		if !rbac.CalleeEligible(conn.Role) {
			h.gateway.Send(conn.ID, errEvent(msg.Type, "", "forbidden", "role cannot place calls"))
			return
		}
		sess, err := h.coord.Request(conn.UserID, msg.CalleeID)
		if err != nil {
			h.sendCallError(conn.ID, msg.Type, "", err)
			return
		}
		h.gateway.Send(conn.ID, Ack{Type: "ack", Op: msg.Type, CallID: sess.ID, Session: sess})

	case MsgCallAccept:
		h.callOp(conn, msg, func() error { return h.coord.Accept(msg.CallID, conn.UserID) })

	case MsgCallDecline:
		h.callOp(conn, msg, func() error { return h.coord.Decline(msg.CallID, conn.UserID) })

	case MsgCallConnected:
		h.callOp(conn, msg, func() error { return h.coord.HandshakeComplete(msg.CallID, conn.UserID) })

	case MsgCallHangup:
		h.callOp(conn, msg, func() error { return h.coord.Hangup(msg.CallID, conn.UserID, msg.Reason) })

	case MsgCallSignal:
		if msg.CallID == "" {
			h.gateway.Send(conn.ID, errEvent(msg.Type, "", "bad_request", "call_id is required"))
			return
		}
		if err := h.router.Forward(conn.UserID, msg.CallID, msg.Kind, msg.Payload); err != nil {
			h.sendCallError(conn.ID, msg.Type, msg.CallID, err)
			return
		}

	default:
		h.gateway.Send(conn.ID, errEvent(msg.Type, "", "bad_request", "unknown message type"))
	}
}

func (h *Handler) callOp(conn *gateway.Connection, msg ClientMessage, op func() error) {
	if msg.CallID == "" {
		h.gateway.Send(conn.ID, errEvent(msg.Type, "", "bad_request", "call_id is required"))
		return
	}
	if err := op(); err != nil {
		h.sendCallError(conn.ID, msg.Type, msg.CallID, err)
		return
	}
	h.gateway.Send(conn.ID, ack(msg.Type, msg.CallID))
}

// sendCallError maps domain errors onto wire error codes.
func (h *Handler) sendCallError(connID, op, callID string, err error) {
	var adm *calls.AdmissionError
	var route *signaling.RoutingError
	switch {
	case errors.As(err, &adm):
		h.gateway.Send(connID, errEvent(op, callID, adm.Reason, err.Error()))
	case errors.As(err, &route):
		h.gateway.Send(connID, errEvent(op, callID, route.Reason, err.Error()))
	case errors.Is(err, calls.ErrUnknownCall):
		h.gateway.Send(connID, errEvent(op, callID, "unknown_call", err.Error()))
	case errors.Is(err, calls.ErrTerminal):
		h.gateway.Send(connID, errEvent(op, callID, "terminal", err.Error()))
	case errors.Is(err, calls.ErrNotParticipant):
		h.gateway.Send(connID, errEvent(op, callID, "not_participant", err.Error()))
	case errors.Is(err, calls.ErrBadTransition):
		h.gateway.Send(connID, errEvent(op, callID, "bad_transition", err.Error()))
	default:
		h.log.Error("call operation failed", "op", op, "call_id", callID, "error", err)
		h.gateway.Send(connID, errEvent(op, callID, "internal", "internal error"))
	}
}

// slotTTL bounds how long a crashed process can hold slots: a couple of missed
// heartbeat windows past the point where the registry reaps the connection.
func (h *Handler) slotTTL() time.Duration {
	return 3 * h.cfg.HeartbeatTimeout
}

func (h *Handler) releaseSlot(slotKey string) {
	if h.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := utils.ReleaseConnSlot(ctx, h.rdb, slotKey); err != nil {
		h.log.Warn("conn slot release failed", "key", slotKey, "error", err)
	}
}
