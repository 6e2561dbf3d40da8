package httpapi

import (
	"net/http"
	"sync"
	"time"

	"counsel-platform/internal/auth"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter enforces per-key token buckets on the HTTP edge. Buckets are
// created on demand; idle ones are evicted opportunistically during lookups so
// memory stays bounded.
//
// The limiter is process-local. It is abuse control for the login and token
// endpoints, not an authorization mechanism.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket
	ttl     time.Duration
	lookups int
	sweepAt int
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*bucket),
		ttl:     10 * time.Minute,
		sweepAt: 5000,
	}
}

// key prefers the authenticated identity and falls back to the client IP.
// Prefixes keep the two namespaces from colliding.
func key(c *gin.Context) string {
	if userID, err := auth.UserID(c.Request.Context()); err == nil && userID != "" {
		return "user:" + userID
	}
	return "ip:" + c.ClientIP()
}

func (rl *RateLimiter) get(k string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Sweep before touching the requested bucket so a stale entry for this
	// same key gets evicted rather than refreshed.
	rl.lookups++
	if rl.lookups >= rl.sweepAt {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.ttl {
				delete(rl.buckets, k)
			}
		}
		rl.lookups = 0
	}

	if b, ok := rl.buckets[k]; ok {
		b.lastSeen = now
		return b.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.buckets[k] = &bucket{limiter: lim, lastSeen: now}
	return lim
}

// Handler returns the gin middleware.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.get(key(c)).Allow() {
			c.Next()
			return
		}
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": "rate limit exceeded",
		})
	}
}
