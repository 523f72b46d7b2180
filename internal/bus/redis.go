package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulsewire/broker/internal/logger"
)

// RedisConfig configures a Redis-backed Bus.
type RedisConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	DB                int
	TLS               bool
	TimeoutSec        int // connection attempt timeout, default 60s
	OutboxCapacity    int // queued-publish capacity while disconnected, default 10000
}

// RedisBus fans app events out over a single Redis pub/sub channel. Its
// client pool configuration mirrors the broker's general-purpose Redis
// client: a modest pool for Publish calls, short timeouts, and bounded
// retries, since a stalled bus must surface as a backend failure quickly
// rather than pile up blocked goroutines.
type RedisBus struct {
	cfg    RedisConfig
	client *redis.Client

	mu       sync.Mutex
	channel  string
	handler  Handler
	pubsub   *redis.PubSub
	stopped  bool
	outbox   *outbox
	reconMu  sync.Mutex
	reconing bool
}

// NewRedisBus constructs a disconnected RedisBus; call Connect to dial.
func NewRedisBus(cfg RedisConfig) *RedisBus {
	if cfg.OutboxCapacity == 0 {
		cfg.OutboxCapacity = 10000
	}
	if cfg.TimeoutSec == 0 {
		cfg.TimeoutSec = 60
	}
	return &RedisBus{
		cfg:    cfg,
		outbox: newOutbox(cfg.OutboxCapacity),
	}
}

func (b *RedisBus) newClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:            fmt.Sprintf("%s:%d", b.cfg.Host, b.cfg.Port),
		Username:        b.cfg.Username,
		Password:        b.cfg.Password,
		DB:              b.cfg.DB,
		PoolSize:        25,
		MinIdleConns:    5,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})
}

// Connect dials Redis, retrying every second until it succeeds or cfg's
// timeout elapses, per the bus reconnection policy.
func (b *RedisBus) Connect(ctx context.Context) error {
	log := logger.Component("bus")
	b.client = b.newClient()

	deadline := time.Now().Add(time.Duration(b.cfg.TimeoutSec) * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := b.client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			log.Info().Str("addr", b.client.Options().Addr).Msg("connected to redis bus")
			return nil
		}
		lastErr = err
		log.Warn().Err(err).Msg("redis bus connect attempt failed, retrying in 1s")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("redis bus: failed to connect within %ds: %w", b.cfg.TimeoutSec, lastErr)
}

// Close stops the subscribe loop and closes the client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	b.stopped = true
	ps := b.pubsub
	b.mu.Unlock()
	if ps != nil {
		ps.Close()
	}
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

// Publish sends payload on channel. If the connection is currently down, it
// is queued in the bounded outbox instead of blocking or failing.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	err := b.client.Publish(ctx, channel, payload).Err()
	if err == nil {
		return nil
	}

	if dropped := b.outbox.push(channel, payload); dropped {
		logger.Component("bus").Warn().Msg("bus outbox full, dropped oldest queued event")
	}
	go b.reconnectLoop(context.Background())
	return nil
}

// Subscribe starts a background loop delivering messages on channel to
// handler, reconnecting automatically on failure.
func (b *RedisBus) Subscribe(channel string, handler Handler) error {
	b.mu.Lock()
	b.channel = channel
	b.handler = handler
	b.mu.Unlock()
	return b.resubscribe(context.Background())
}

func (b *RedisBus) resubscribe(ctx context.Context) error {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return err
	}

	b.mu.Lock()
	b.pubsub = ps
	b.mu.Unlock()

	go b.consume(ps)
	return nil
}

func (b *RedisBus) consume(ps *redis.PubSub) {
	log := logger.Component("bus")
	ch := ps.Channel()
	for msg := range ch {
		b.mu.Lock()
		handler := b.handler
		b.mu.Unlock()
		if handler != nil {
			handler([]byte(msg.Payload))
		}
	}

	b.mu.Lock()
	stopped := b.stopped
	b.mu.Unlock()
	if stopped {
		return
	}

	log.Warn().Msg("redis bus subscription closed, reconnecting")
	b.reconnectLoop(context.Background())
}

// Healthy reports false while reconnectLoop is actively retrying the Redis
// connection, i.e. the admin API's reconnect grace window.
func (b *RedisBus) Healthy() bool {
	b.reconMu.Lock()
	defer b.reconMu.Unlock()
	return !b.reconing
}

// reconnectLoop retries the connection every second until it succeeds, the
// configured timeout elapses (fatal), or the bus is closed. Only one
// reconnect attempt runs at a time.
func (b *RedisBus) reconnectLoop(ctx context.Context) {
	b.reconMu.Lock()
	if b.reconing {
		b.reconMu.Unlock()
		return
	}
	b.reconing = true
	b.reconMu.Unlock()
	defer func() {
		b.reconMu.Lock()
		b.reconing = false
		b.reconMu.Unlock()
	}()

	log := logger.Component("bus")
	if err := b.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("bus reconnect deadline exceeded, broker shutting down")
		return
	}

	if err := b.resubscribe(ctx); err != nil {
		log.Fatal().Err(err).Msg("bus resubscribe failed after reconnect")
		return
	}

	channels, payloads := b.outbox.drain()
	for i, payload := range payloads {
		if err := b.client.Publish(ctx, channels[i], payload).Err(); err != nil {
			logger.Component("bus").Error().Err(err).Msg("failed to flush queued bus event")
		}
	}
	log.Info().Int("flushed", len(payloads)).Msg("redis bus reconnected")
}
