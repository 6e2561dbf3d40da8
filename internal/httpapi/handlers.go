package httpapi

import (
	"net/http"
	"time"

	"counsel-platform/internal/auth"
	"counsel-platform/internal/calls"
	"counsel-platform/internal/presence"
	"counsel-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth     *auth.Manager
	Presence *presence.Registry
	Calls    *calls.Coordinator
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	if !rbac.IsKnown(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// ConnectionToken exchanges a verified access token for a short-lived
// connection token that authenticates the websocket upgrade.
func (h Handlers) ConnectionToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil || userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	role, _ := auth.Role(c.Request.Context())

	tok, err := h.Auth.IssueConnectionToken(time.Now(), userID, role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connection_token": tok})
}

// --- Presence ---

// GetPresence reports another identity's published presence. Callers only
// learn the derived online flag, not connection counts or availability intent.
func (h Handlers) GetPresence(c *gin.Context) {
	if h.Presence == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "presence not configured"})
		return
	}
	userID := c.Param("user_id")
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}

	snap, ok := h.Presence.Lookup(userID)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "online": false})
		return
	}

	// Admins get the full snapshot for support tooling.
	if role, err := auth.Role(c.Request.Context()); err == nil && rbac.IsAdmin(role) {
		c.JSON(http.StatusOK, snap)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "online": snap.Online})
}

// --- Calls ---

// GetCall returns the current snapshot of one call session. Only participants
// and admins may read it.
func (h Handlers) GetCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	callID := c.Param("call_id")
	if callID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil || userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}

	snap, ok := h.Calls.Get(callID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}

	role, _ := auth.Role(c.Request.Context())
	if userID != snap.CallerID && userID != snap.CalleeID && !rbac.IsAdmin(role) {
		// Indistinguishable from a missing call so strangers cannot probe ids.
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}
