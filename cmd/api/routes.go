package main

import (
	"counsel-platform/internal/auth"
	"counsel-platform/internal/httpapi"
	"counsel-platform/internal/rbac"
	"counsel-platform/internal/rtc"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	authMW   gin.HandlerFunc
	rtc      *rtc.Handler
	handlers httpapi.Handlers
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The websocket upgrade authenticates with a connection token, not an
	// access token, so it sits outside the protected group.
	r.GET("/v1/rtc", deps.rtc.Serve)

	// Login is public but rate limited: it is the only unauthenticated
	// endpoint that does real work.
	loginLimiter := httpapi.NewRateLimiter(1, 5)
	r.POST("/v1/auth/login", loginLimiter.Handler(), deps.handlers.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(deps.authMW)
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "role": role})
		})

		tokenLimiter := httpapi.NewRateLimiter(1, 10)
		v1.POST("/rtc/token", tokenLimiter.Handler(), deps.handlers.ConnectionToken)

		v1.GET("/presence/:user_id", deps.handlers.GetPresence)

		callsGroup := v1.Group("/calls")
		callsGroup.Use(rbac.RequireAnyRole(rbac.RoleClient, rbac.RoleCounselor))
		{
			callsGroup.GET("/:call_id", deps.handlers.GetCall)
		}
	}
}
