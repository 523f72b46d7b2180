package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pulsewire/broker/internal/apperr"
)

// handleChannels implements GET /apps/{appId}/channels.
func (s *Server) handleChannels(c *gin.Context) {
	appID := c.Param("appId")
	registry, ok := s.broker.Registry(appID)
	if !ok {
		apperr.Abort(c, apperr.AppNotFound())
		return
	}

	prefix := c.Query("filter_by_prefix")
	fields := splitInfo(c.Query("info"))

	out := gin.H{}
	for _, ch := range registry.All() {
		if prefix != "" && !strings.HasPrefix(ch.Name, prefix) {
			continue
		}
		out[ch.Name] = channelInfo(ch, fields)
	}
	c.JSON(http.StatusOK, gin.H{"channels": out})
}

// handleChannel implements GET /apps/{appId}/channels/{channel}.
func (s *Server) handleChannel(c *gin.Context) {
	appID := c.Param("appId")
	registry, ok := s.broker.Registry(appID)
	if !ok {
		apperr.Abort(c, apperr.AppNotFound())
		return
	}

	ch, ok := registry.Find(c.Param("channel"))
	if !ok {
		c.JSON(http.StatusOK, gin.H{"occupied": false})
		return
	}
	c.JSON(http.StatusOK, channelInfo(ch, splitInfo(c.Query("info"))))
}

// handleChannelUsers implements GET /apps/{appId}/channels/{channel}/users,
// valid only for presence-variant channels.
func (s *Server) handleChannelUsers(c *gin.Context) {
	appID := c.Param("appId")
	registry, ok := s.broker.Registry(appID)
	if !ok {
		apperr.Abort(c, apperr.AppNotFound())
		return
	}

	ch, ok := registry.Find(c.Param("channel"))
	if !ok {
		apperr.Abort(c, apperr.NotFound("channel"))
		return
	}
	if !ch.Kind.TracksPresence() {
		apperr.Abort(c, apperr.NotPresenceChannel())
		return
	}

	users := make([]gin.H, 0, len(ch.UserIDs()))
	for _, id := range ch.UserIDs() {
		users = append(users, gin.H{"id": id})
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// handleConnections implements GET /apps/{appId}/connections.
func (s *Server) handleConnections(c *gin.Context) {
	appID := c.Param("appId")
	if _, ok := s.broker.AppByID(appID); !ok {
		apperr.Abort(c, apperr.AppNotFound())
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": s.broker.ConnectionCount(appID)})
}

// handleTerminateConnections implements
// POST /apps/{appId}/users/{userId}/terminate_connections. It terminates
// this node's own matching connections, then asks every other node to do
// the same over the bus.
func (s *Server) handleTerminateConnections(c *gin.Context) {
	appID := c.Param("appId")
	userID := c.Param("userId")
	if _, ok := s.broker.AppByID(appID); !ok {
		apperr.Abort(c, apperr.AppNotFound())
		return
	}

	s.broker.TerminateUserConnections(appID, userID)
	s.dispatcher.PublishTerminate(c.Request.Context(), appID, userID)
	c.JSON(http.StatusOK, gin.H{})
}
