package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pulsewire/broker/internal/logger"
)

// NATSConfig configures a NATS-backed Bus.
type NATSConfig struct {
	URL            string
	Username       string
	Password       string
	TimeoutSec     int // connection attempt timeout, default 60s
	OutboxCapacity int // queued-publish capacity while disconnected, default 10000
}

// NATSBus fans app events out over a single NATS subject. Reconnect and
// error handling follow the same option pattern the rest of the codebase
// uses for its own NATS subscriber: named connection, bounded reconnect
// wait, and explicit disconnect/reconnect/error callbacks for observability.
type NATSBus struct {
	cfg  NATSConfig
	conn *nats.Conn

	mu      sync.Mutex
	channel string
	handler Handler
	sub     *nats.Subscription
	stopped bool
	outbox  *outbox
}

// NewNATSBus constructs a disconnected NATSBus; call Connect to dial.
func NewNATSBus(cfg NATSConfig) *NATSBus {
	if cfg.OutboxCapacity == 0 {
		cfg.OutboxCapacity = 10000
	}
	if cfg.TimeoutSec == 0 {
		cfg.TimeoutSec = 60
	}
	return &NATSBus{cfg: cfg, outbox: newOutbox(cfg.OutboxCapacity)}
}

// Connect dials NATS, retrying every second until it succeeds or cfg's
// timeout elapses.
func (b *NATSBus) Connect(ctx context.Context) error {
	log := logger.Component("bus")

	opts := []nats.Option{
		nats.Name("pulsewire-broker"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1), // unbounded; our own deadline governs the initial connect
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats bus disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("addr", nc.ConnectedUrl()).Msg("nats bus reconnected")
			b.flushOutbox()
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("nats bus error")
		}),
	}
	if b.cfg.Username != "" {
		opts = append(opts, nats.UserInfo(b.cfg.Username, b.cfg.Password))
	}

	deadline := time.Now().Add(time.Duration(b.cfg.TimeoutSec) * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := nats.Connect(b.cfg.URL, opts...)
		if err == nil {
			b.conn = conn
			log.Info().Str("url", b.cfg.URL).Msg("connected to nats bus")
			return nil
		}
		lastErr = err
		log.Warn().Err(err).Msg("nats bus connect attempt failed, retrying in 1s")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("nats bus: failed to connect within %ds: %w", b.cfg.TimeoutSec, lastErr)
}

// Close unsubscribes, drains, and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	b.stopped = true
	sub := b.sub
	b.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
	if b.conn != nil {
		b.conn.Close()
	}
	return nil
}

// Publish sends payload on channel. nats.go's own client queues writes
// during a transient disconnect, but we mirror RedisBus and use our own
// bounded outbox so overflow behavior and warnings are identical across
// backends.
func (b *NATSBus) Publish(_ context.Context, channel string, payload []byte) error {
	if b.conn == nil || !b.conn.IsConnected() {
		if dropped := b.outbox.push(channel, payload); dropped {
			logger.Component("bus").Warn().Msg("bus outbox full, dropped oldest queued event")
		}
		return nil
	}
	return b.conn.Publish(channel, payload)
}

// Subscribe registers handler for channel.
func (b *NATSBus) Subscribe(channel string, handler Handler) error {
	b.mu.Lock()
	b.channel = channel
	b.handler = handler
	b.mu.Unlock()

	sub, err := b.conn.Subscribe(channel, func(msg *nats.Msg) {
		b.mu.Lock()
		h := b.handler
		b.mu.Unlock()
		if h != nil {
			h(msg.Data)
		}
	})
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()
	return nil
}

// Healthy reports the underlying connection's state, as tracked by
// nats.go's own reconnect loop (see the ReconnectHandler/DisconnectErrHandler
// registered in Connect).
func (b *NATSBus) Healthy() bool {
	return b.conn != nil && b.conn.IsConnected()
}

func (b *NATSBus) flushOutbox() {
	channels, payloads := b.outbox.drain()
	for i, payload := range payloads {
		if err := b.conn.Publish(channels[i], payload); err != nil {
			logger.Component("bus").Error().Err(err).Msg("failed to flush queued bus event")
		}
	}
	if len(payloads) > 0 {
		logger.Component("bus").Info().Int("flushed", len(payloads)).Msg("nats bus queue flushed")
	}
}
