// Package admin implements the broker's admin HTTP API: the event
// publishing, channel/connection inspection, and user-termination
// endpoints a backend server uses to drive the broker, wired together
// with the same gin middleware chain the rest of the codebase uses.
package admin

import (
	"github.com/gin-gonic/gin"

	"github.com/pulsewire/broker/internal/apperr"
	"github.com/pulsewire/broker/internal/broker"
	"github.com/pulsewire/broker/internal/dispatcher"
	"github.com/pulsewire/broker/internal/middleware"
)

// Server owns the gin engine backing the admin API.
type Server struct {
	broker         *broker.Broker
	dispatcher     *dispatcher.Dispatcher
	maxRequestSize int64
}

// New constructs a Server over b and d, and registers itself as d's metrics
// responder so peer nodes' aggregation requests get answered.
func New(b *broker.Broker, d *dispatcher.Dispatcher) *Server {
	s := &Server{broker: b, dispatcher: d, maxRequestSize: middleware.DefaultMaxRequestBodySize}
	d.SetMetricsResponder(s.localChannelInfo)
	return s
}

// SetMaxRequestSize overrides the request body limit applied to every
// non-GET admin API call, sourced from a server's max_request_size config.
func (s *Server) SetMaxRequestSize(n int64) {
	if n > 0 {
		s.maxRequestSize = n
	}
}

// Router builds the complete gin engine: middleware chain, the
// unauthenticated health check, the WebSocket upgrade route, and the
// signature-protected admin endpoints.
func (s *Server) Router(mountWebSocket func(c *gin.Context)) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestID(s.broker.NodeID),
		apperr.Recovery(),
		middleware.StructuredLoggerWithConfigFunc(middleware.DefaultStructuredLoggerConfig()),
		middleware.Timeout(middleware.DefaultTimeoutConfig()),
		middleware.AllowedHTTPMethods(),
		middleware.SecurityHeaders(),
		middleware.RequestSizeLimiter(s.maxRequestSize),
		apperr.ErrorHandler(),
	)

	r.GET("/up", s.handleHealth)
	r.GET("/app/:appKey", mountWebSocket)

	apps := r.Group("/apps/:appId")
	apps.Use(s.verifySignature())
	{
		apps.POST("/events", s.handleEvents)
		apps.POST("/batch_events", s.handleBatchEvents)
		apps.GET("/channels", s.handleChannels)
		apps.GET("/channels/:channel", s.handleChannel)
		apps.GET("/channels/:channel/users", s.handleChannelUsers)
		apps.GET("/connections", s.handleConnections)
		apps.POST("/users/:userId/terminate_connections", s.handleTerminateConnections)
	}
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{"health": "OK", "node_id": s.broker.NodeID}
	if !s.dispatcher.BusHealthy() {
		resp["degraded"] = true
	}
	c.JSON(200, resp)
}
