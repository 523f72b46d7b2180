// Package middleware provides gin HTTP middleware for the admin API.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DefaultMaxRequestBodySize bounds an admin API request body when a server
// config omits max_request_size. The admin API only ever carries small
// signed JSON payloads (single events, 10-event batches), so this is set
// well below what a general-purpose HTTP API would allow.
const DefaultMaxRequestBodySize int64 = 256 * 1024

// RequestSizeLimiter rejects a request whose declared Content-Length
// exceeds maxSize, and wraps the body in an http.MaxBytesReader so a client
// that lies about Content-Length is still cut off while streaming.
// GET/HEAD/OPTIONS requests never carry a body and are passed through.
func RequestSizeLimiter(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		if c.Request.ContentLength > maxSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"message": "request body exceeds maximum allowed size",
			})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// DefaultSizeLimiter applies DefaultMaxRequestBodySize.
func DefaultSizeLimiter() gin.HandlerFunc {
	return RequestSizeLimiter(DefaultMaxRequestBodySize)
}
