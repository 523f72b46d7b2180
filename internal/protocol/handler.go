// Package protocol decodes inbound pusher:* frames, enforces subscribe
// authorization, and formats the broker's replies. It is the single place
// that turns a raw client frame into channel operations and dispatcher
// calls.
package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/pulsewire/broker/internal/apperr"
	"github.com/pulsewire/broker/internal/broker"
	"github.com/pulsewire/broker/internal/dispatcher"
	"github.com/pulsewire/broker/internal/logger"
)

// maxViolations is how many protocol violations (malformed frame, unknown
// event) one connection may commit before the handler terminates it.
const maxViolations = 5

// Handler is the single pusher:* event entry point, shared by every
// connection on this node.
type Handler struct {
	broker     *broker.Broker
	dispatcher *dispatcher.Dispatcher
}

// New constructs a Handler wired to broker and dispatcher.
func New(b *broker.Broker, d *dispatcher.Dispatcher) *Handler {
	return &Handler{broker: b, dispatcher: d}
}

// Welcome sends pusher:connection_established immediately after a new socket
// is accepted.
func (h *Handler) Welcome(conn *broker.Connection) {
	data := map[string]interface{}{
		"socket_id":        conn.ID(),
		"activity_timeout": conn.App.ActivityTimeoutSec,
	}
	conn.Send(broker.EncodeFrame(broker.NewFrame("pusher:connection_established", "", data)))
}

// Handle decodes and dispatches one inbound frame for conn. It always
// touches the connection first, since liveness tracking applies to every
// frame including malformed ones.
func (h *Handler) Handle(conn *broker.Connection, raw []byte) {
	conn.Touch()

	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.violate(conn, apperr.InvalidPayload("Invalid JSON"))
		return
	}
	if frame.Event == "" {
		h.violate(conn, apperr.InvalidPayload("Missing event"))
		return
	}

	switch {
	case frame.Event == "pusher:subscribe":
		h.handleSubscribe(conn, frame)
	case frame.Event == "pusher:unsubscribe":
		h.handleUnsubscribe(conn, frame)
	case frame.Event == "pusher:ping":
		conn.Send(broker.EncodeFrame(broker.NewFrame("pusher:pong", "", nil)))
	case frame.Event == "pusher:pong":
		// touch() above already recorded the activity.
	case strings.HasPrefix(frame.Event, "client-"):
		h.handleClientEvent(conn, frame)
	default:
		h.violate(conn, apperr.UnknownEvent())
	}
}

func (h *Handler) handleSubscribe(conn *broker.Connection, frame InboundFrame) {
	if len(frame.Data) == 0 {
		h.violate(conn, apperr.InvalidPayload("subscribe requires data"))
		return
	}
	var payload subscribePayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		h.violate(conn, apperr.InvalidPayload("invalid subscribe payload"))
		return
	}
	if payload.Channel == "" {
		h.violate(conn, apperr.InvalidPayload("channel is required"))
		return
	}
	if payload.ChannelData != "" {
		var js interface{}
		if err := json.Unmarshal([]byte(payload.ChannelData), &js); err != nil {
			h.violate(conn, apperr.InvalidPayload("channel_data is not valid JSON"))
			return
		}
	}

	registry, ok := h.broker.Registry(conn.App.AppID)
	if !ok {
		return
	}
	ch := registry.FindOrCreate(payload.Channel)

	if appErr := ch.Subscribe(conn, payload.Auth, payload.ChannelData); appErr != nil {
		h.sendFrame(conn, broker.Frame{Event: "pusher:error", Data: encodeWSError(appErr)})
		return
	}

	h.sendFrame(conn, broker.Frame{
		Event:   "pusher_internal:subscription_succeeded",
		Channel: payload.Channel,
		Data:    string(ch.Data()),
	})

	if ch.Kind.IsCached() {
		if ch.HasCachedPayload() {
			conn.Send(ch.CachedPayload())
		} else {
			h.sendFrame(conn, broker.Frame{Event: "pusher:cache_miss", Channel: payload.Channel})
		}
	}
}

func (h *Handler) handleUnsubscribe(conn *broker.Connection, frame InboundFrame) {
	var payload unsubscribePayload
	if len(frame.Data) > 0 {
		_ = json.Unmarshal(frame.Data, &payload)
	}
	if payload.Channel == "" {
		return
	}
	registry, ok := h.broker.Registry(conn.App.AppID)
	if !ok {
		return
	}
	if ch, ok := registry.Find(payload.Channel); ok {
		ch.Unsubscribe(conn)
	}
}

func (h *Handler) handleClientEvent(conn *broker.Connection, frame InboundFrame) {
	if frame.Channel == "" {
		return
	}
	registry, ok := h.broker.Registry(conn.App.AppID)
	if !ok {
		return
	}
	ch, ok := registry.Find(frame.Channel)
	if !ok {
		return
	}
	if !ch.Kind.AllowsClientEvents() {
		return
	}

	dataStr, err := stringifyEventData(frame.Data)
	if err != nil {
		h.violate(conn, apperr.InvalidPayload("invalid client event data"))
		return
	}

	h.dispatcher.Dispatch(context.Background(), conn.App.AppID, dispatcher.Event{
		Name:     frame.Event,
		Channels: []string{frame.Channel},
		Data:     dataStr,
		SocketID: conn.ID(),
	})
}

// stringifyEventData turns a client-event data value — object, array, or
// JSON string — into the literal string the outbound frame's data field
// carries. A JSON string value is unwrapped so it is not double-quoted on
// the way back out; an object or array keeps its compact JSON text.
func stringifyEventData(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var v interface{}
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return "", err
	}
	return string(trimmed), nil
}

func (h *Handler) sendFrame(conn *broker.Connection, f broker.Frame) {
	conn.Send(broker.EncodeFrame(f))
}

func encodeWSError(err *apperr.AppError) string {
	b, _ := json.Marshal(err.ToWSFrame())
	return string(b)
}

// violate sends a pusher:error frame for err and terminates the connection
// once it has committed too many protocol violations. Authorization
// failures are sent via sendFrame directly instead, since a bad subscribe
// signature alone must leave the connection open (S5).
func (h *Handler) violate(conn *broker.Connection, err *apperr.AppError) {
	h.sendFrame(conn, broker.Frame{Event: "pusher:error", Data: encodeWSError(err)})

	if conn.IncViolation() >= maxViolations {
		logger.Connection(conn.ID(), conn.App.AppID).Warn().Msg("terminating connection after repeated protocol violations")
		h.broker.Disconnect(conn)
		conn.Terminate()
	}
}
