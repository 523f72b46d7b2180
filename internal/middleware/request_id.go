// Package middleware provides gin HTTP middleware for the admin API.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the header carrying the correlation ID.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin context key for the correlation ID.
	RequestIDKey = "request_id"
)

// RequestID propagates or generates a correlation ID for each admin API
// call. A caller that already has a trace ID (e.g. a backend server
// forwarding its own request ID) wins; otherwise one is generated. Every
// generated ID is node-prefixed so a log aggregator spanning a multi-node
// deployment can tell which broker instance originated it without cross
// referencing the log's own source field.
func RequestID(nodeID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = nodeID + "-" + uuid.New().String()
		}

		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}

// GetRequestID retrieves the correlation ID set by RequestID.
func GetRequestID(c *gin.Context) string {
	if v, ok := c.Get(RequestIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
