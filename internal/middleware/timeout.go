// Package middleware provides gin HTTP middleware for the admin API.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// TimeoutConfig configures Timeout.
type TimeoutConfig struct {
	// Timeout is the maximum duration of an admin API request.
	Timeout time.Duration

	// ExcludedPrefix is skipped entirely; the WebSocket upgrade route lives
	// for the connection's lifetime and must never be deadlined like a
	// request/response call.
	ExcludedPrefix string
}

// DefaultTimeoutConfig enforces the 5-second admin request deadline,
// excluding the WebSocket upgrade path.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Timeout:        5 * time.Second,
		ExcludedPrefix: "/app/",
	}
}

// Timeout aborts a request with 408 once config.Timeout elapses. The
// handler chain keeps running in its own goroutine after the deadline so a
// slow backend call is not left dangling; its eventual write is just
// discarded because the response has already been sent.
func Timeout(config TimeoutConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.ExcludedPrefix != "" && strings.HasPrefix(c.Request.URL.Path, config.ExcludedPrefix) {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.Timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		done := make(chan struct{})
		go func() {
			c.Next()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			c.AbortWithStatusJSON(http.StatusRequestTimeout, gin.H{
				"message": "request timeout",
			})
		}
	}
}
