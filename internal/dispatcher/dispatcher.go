// Package dispatcher bridges local channel broadcast with the external bus:
// every event either originates from the admin API or a client-* event and
// needs fanning out to this node's own subscribers plus (when a bus is
// configured) every other node's.
package dispatcher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsewire/broker/internal/broker"
	"github.com/pulsewire/broker/internal/bus"
	"github.com/pulsewire/broker/internal/logger"
)

// metricsWindow bounds how long RequestMetrics waits for peer nodes to
// reply before returning whatever arrived (spec §4.8: a 500ms aggregation
// window for channel info requested with the info= query across a
// multi-node deployment).
const metricsWindow = 500 * time.Millisecond

// MetricsResponder computes this node's own view of the requested channels'
// info, for replying to another node's RequestMetrics call. The admin
// package supplies this once it constructs its channel-info logic, closing
// the dependency loop without dispatcher importing admin.
type MetricsResponder func(appID string, channels []string, fields string) json.RawMessage

// Event is the normalized shape of one dispatch request. Data is always the
// literal wire string (already stringified JSON, or opaque text) — callers
// never pass an object for Dispatcher to re-encode.
type Event struct {
	Name     string
	Channels []string
	Data     string
	SocketID string // excluded connection, if any
}

// Dispatcher ties a Broker to an optional Bus. A nil bus means this node
// runs standalone: dispatch only ever reaches local subscribers.
type Dispatcher struct {
	broker     *broker.Broker
	bus        bus.Bus
	busChannel string

	metricsResponder MetricsResponder
	pending          sync.Map // reply token -> chan bus.Envelope
}

// New constructs a Dispatcher. busInstance may be nil for single-node mode.
func New(b *broker.Broker, busInstance bus.Bus, busChannel string) *Dispatcher {
	return &Dispatcher{broker: b, bus: busInstance, busChannel: busChannel}
}

// SetMetricsResponder registers the callback used to answer another node's
// metrics_request envelopes. Must be called before Start if a bus is
// configured; admin wires this in during construction.
func (d *Dispatcher) SetMetricsResponder(fn MetricsResponder) {
	d.metricsResponder = fn
}

// BusHealthy reports false only when a bus is configured, implements
// HealthChecker, and is currently in its reconnect grace window. A
// standalone node (nil bus) or a backend with no health signal is always
// considered healthy.
func (d *Dispatcher) BusHealthy() bool {
	hc, ok := d.bus.(bus.HealthChecker)
	if !ok {
		return true
	}
	return hc.Healthy()
}

// RequestMetrics asks every other node for their view of channels' info and
// returns whatever replies arrive inside the aggregation window. Returns nil
// immediately if no bus is configured — callers fall back to local-only
// info in that case.
func (d *Dispatcher) RequestMetrics(ctx context.Context, appID string, channels []string, fields string) []bus.Envelope {
	if d.bus == nil {
		return nil
	}

	token := uuid.NewString()
	replies := make(chan bus.Envelope, 64)
	d.pending.Store(token, replies)
	defer d.pending.Delete(token)

	env := bus.Envelope{
		Kind:     "metrics_request",
		AppID:    appID,
		Origin:   d.broker.NodeID,
		ReplyTo:  token,
		Channels: channels,
		Fields:   fields,
	}
	if err := d.bus.Publish(ctx, d.busChannel, bus.Encode(env)); err != nil {
		logger.Component("dispatcher").Error().Err(err).Msg("bus publish failed")
		return nil
	}

	deadline := time.After(metricsWindow)
	var results []bus.Envelope
	for {
		select {
		case e := <-replies:
			results = append(results, e)
		case <-deadline:
			return results
		case <-ctx.Done():
			return results
		}
	}
}

// Start subscribes to the bus channel and routes incoming envelopes to
// HandleIncoming. A no-op when running without a bus.
func (d *Dispatcher) Start() error {
	if d.bus == nil {
		return nil
	}
	return d.bus.Subscribe(d.busChannel, d.HandleIncoming)
}

// Dispatch fans out locally, then — if a bus is configured — publishes the
// same payload for every other node to pick up.
func (d *Dispatcher) Dispatch(ctx context.Context, appID string, e Event) {
	d.dispatchLocal(appID, e)

	if d.bus == nil {
		return
	}
	for _, channelName := range e.Channels {
		env := bus.Envelope{
			Kind:    "dispatch",
			AppID:   appID,
			Event:   e.Name,
			Channel: channelName,
			Data:    e.Data,
			Origin:  d.broker.NodeID,
			Except:  e.SocketID,
		}
		if err := d.bus.Publish(ctx, d.busChannel, bus.Encode(env)); err != nil {
			logger.Component("dispatcher").Error().Err(err).Msg("bus publish failed")
		}
	}
}

// DispatchSynchronously fans out locally only. Used by HandleIncoming so a
// message received from the bus never gets republished to it.
func (d *Dispatcher) DispatchSynchronously(appID string, e Event) {
	d.dispatchLocal(appID, e)
}

func (d *Dispatcher) dispatchLocal(appID string, e Event) {
	registry, ok := d.broker.Registry(appID)
	if !ok {
		return
	}

	var except *broker.Connection
	if e.SocketID != "" {
		for _, c := range d.broker.Connections(appID) {
			if c.ID() == e.SocketID {
				except = c
				break
			}
		}
	}

	for _, channelName := range e.Channels {
		ch, ok := registry.Find(channelName)
		if !ok {
			continue
		}
		ch.Broadcast(broker.Frame{Event: e.Name, Channel: channelName, Data: e.Data}, except)
	}
}

// PublishTerminate asks every other node to locally terminate userID's
// connections on appID, for the admin API's terminate_connections endpoint.
func (d *Dispatcher) PublishTerminate(ctx context.Context, appID, userID string) {
	if d.bus == nil {
		return
	}
	env := bus.Envelope{Kind: "terminate", AppID: appID, UserID: userID, Origin: d.broker.NodeID}
	if err := d.bus.Publish(ctx, d.busChannel, bus.Encode(env)); err != nil {
		logger.Component("dispatcher").Error().Err(err).Msg("bus publish failed")
	}
}

// HandleIncoming is the bus message handler: it drops self-originated and
// unknown-app messages, then dispatches locally.
func (d *Dispatcher) HandleIncoming(payload []byte) {
	log := logger.Component("dispatcher")

	env, err := bus.Decode(payload)
	if err != nil {
		log.Warn().Err(err).Msg("dropping malformed bus message")
		return
	}
	if env.Origin == d.broker.NodeID {
		return
	}
	app, ok := d.broker.AppByID(env.AppID)
	if !ok {
		log.Warn().Str("app_id", env.AppID).Msg("dropping bus message for unknown app")
		return
	}

	switch env.Kind {
	case "terminate":
		d.broker.TerminateUserConnections(app.AppID, env.UserID)
	case "metrics_request":
		if d.metricsResponder == nil {
			return
		}
		payload := d.metricsResponder(app.AppID, env.Channels, env.Fields)
		reply := bus.Envelope{
			Kind:    "metrics_reply",
			AppID:   app.AppID,
			Origin:  d.broker.NodeID,
			ReplyTo: env.ReplyTo,
			Payload: payload,
		}
		if err := d.bus.Publish(context.Background(), d.busChannel, bus.Encode(reply)); err != nil {
			log.Error().Err(err).Msg("bus publish failed replying to metrics request")
		}
	case "metrics_reply":
		v, ok := d.pending.Load(env.ReplyTo)
		if !ok {
			return
		}
		select {
		case v.(chan bus.Envelope) <- env:
		default:
			log.Warn().Str("reply_to", env.ReplyTo).Msg("metrics reply channel full, dropping")
		}
	default:
		d.DispatchSynchronously(app.AppID, Event{
			Name:     env.Event,
			Channels: []string{env.Channel},
			Data:     env.Data,
			SocketID: env.Except,
		})
	}
}
