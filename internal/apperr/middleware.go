package apperr

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pulsewire/broker/internal/logger"
)

// ErrorHandler converts the last gin.Error attached to the context into the
// admin API's {message, errors?} JSON body, logging at a severity matched to
// the HTTP status.
func ErrorHandler() gin.HandlerFunc {
	log := logger.Component("admin")
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last()

		if appErr, ok := err.Err.(*AppError); ok {
			if appErr.HTTPStatus >= 500 {
				log.Error().Str("kind", string(appErr.Kind)).Msg(appErr.Message)
			} else {
				log.Warn().Str("kind", string(appErr.Kind)).Msg(appErr.Message)
			}
			c.JSON(appErr.HTTPStatus, appErr.ToHTTPResponse())
			return
		}

		log.Error().Err(err.Err).Msg("unhandled admin API error")
		c.JSON(http.StatusInternalServerError, HTTPResponse{Message: "internal server error"})
	}
}

// Recovery turns a panic in an admin handler into a 500 instead of crashing
// the process; WebSocket connections have their own per-connection recovery
// in internal/ws.
func Recovery() gin.HandlerFunc {
	log := logger.Component("admin")
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("recovered from panic in admin handler")
				c.JSON(http.StatusInternalServerError, HTTPResponse{Message: "internal server error"})
				c.Abort()
			}
		}()
		c.Next()
	}
}

// Abort sends err's HTTP response and stops the middleware chain.
func Abort(c *gin.Context, err *AppError) {
	c.Error(err)
	c.AbortWithStatusJSON(err.HTTPStatus, err.ToHTTPResponse())
}
