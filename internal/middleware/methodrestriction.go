package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AllowedHTTPMethods restricts requests to the methods the admin API
// actually exposes (GET, POST), rejecting TRACE/CONNECT/PUT/PATCH/DELETE
// before they reach routing.
func AllowedHTTPMethods() gin.HandlerFunc {
	allowed := map[string]bool{
		http.MethodGet:  true,
		http.MethodPost: true,
	}

	return func(c *gin.Context) {
		if !allowed[c.Request.Method] {
			c.Header("Allow", "GET, POST")
			c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{
				"message": "method not allowed",
			})
			return
		}
		c.Next()
	}
}
