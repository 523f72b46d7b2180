package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/pulsewire/broker/internal/apperr"
	"github.com/pulsewire/broker/internal/dispatcher"
)

// maxBatchEvents is the admin API's batch_events size cap (spec §4.8 / S6:
// an 11th item is rejected outright, none of the batch is published).
const maxBatchEvents = 10

var validate = validator.New()

// eventBody is one publish request, shared by /events and each item of
// /batch_events. Exactly one of Channel/Channels must be set by the caller;
// normalizeChannels reconciles the two into a single list.
type eventBody struct {
	Name     string   `json:"name" validate:"required"`
	Data     string   `json:"data" validate:"required"`
	Channel  string   `json:"channel"`
	Channels []string `json:"channels"`
	SocketID string   `json:"socket_id"`
	Info     string   `json:"info"`
}

type batchBody struct {
	Batch []eventBody `json:"batch" validate:"required,max=10,dive"`
}

func normalizeChannels(channel string, channels []string) []string {
	if len(channels) > 0 {
		return channels
	}
	if channel != "" {
		return []string{channel}
	}
	return nil
}

// handleEvents implements POST /apps/{appId}/events.
func (s *Server) handleEvents(c *gin.Context) {
	appID := c.Param("appId")

	var body eventBody
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.Abort(c, apperr.ValidationFailed(map[string][]string{"body": {"invalid JSON body"}}))
		return
	}
	if err := validate.Struct(body); err != nil {
		apperr.Abort(c, apperr.ValidationFailed(apperr.FieldErrors(err)))
		return
	}
	channels := normalizeChannels(body.Channel, body.Channels)
	if len(channels) == 0 {
		apperr.Abort(c, apperr.ValidationFailed(map[string][]string{"channel": {"channel or channels is required"}}))
		return
	}

	s.dispatcher.Dispatch(c.Request.Context(), appID, dispatcher.Event{
		Name:     body.Name,
		Channels: channels,
		Data:     body.Data,
		SocketID: body.SocketID,
	})

	if body.Info == "" {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.channelInfoAggregate(c.Request.Context(), appID, channels, body.Info))
}

// handleBatchEvents implements POST /apps/{appId}/batch_events. The whole
// batch is rejected — nothing published — if it exceeds maxBatchEvents or
// any item fails validation.
func (s *Server) handleBatchEvents(c *gin.Context) {
	appID := c.Param("appId")

	var body batchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.Abort(c, apperr.ValidationFailed(map[string][]string{"batch": {"invalid JSON body"}}))
		return
	}
	if len(body.Batch) > maxBatchEvents {
		apperr.Abort(c, apperr.BatchTooLarge())
		return
	}
	for _, item := range body.Batch {
		if err := validate.Struct(item); err != nil {
			apperr.Abort(c, apperr.ValidationFailed(apperr.FieldErrors(err)))
			return
		}
		if len(normalizeChannels(item.Channel, item.Channels)) == 0 {
			apperr.Abort(c, apperr.ValidationFailed(map[string][]string{"channel": {"channel or channels is required"}}))
			return
		}
	}

	anyInfo := false
	results := make([]gin.H, 0, len(body.Batch))
	for _, item := range body.Batch {
		channels := normalizeChannels(item.Channel, item.Channels)
		s.dispatcher.Dispatch(c.Request.Context(), appID, dispatcher.Event{
			Name:     item.Name,
			Channels: channels,
			Data:     item.Data,
			SocketID: item.SocketID,
		})
		if item.Info != "" {
			anyInfo = true
			results = append(results, s.channelInfoAggregate(c.Request.Context(), appID, channels, item.Info))
		}
	}

	if !anyInfo {
		c.JSON(http.StatusOK, gin.H{"batch": []gin.H{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch": results})
}
