package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedisBusHealthyReflectsReconnectState(t *testing.T) {
	b := NewRedisBus(RedisConfig{Host: "localhost", Port: 6379})
	assert.True(t, b.Healthy(), "a fresh bus that hasn't entered reconnectLoop is healthy")

	b.reconMu.Lock()
	b.reconing = true
	b.reconMu.Unlock()
	assert.False(t, b.Healthy())

	b.reconMu.Lock()
	b.reconing = false
	b.reconMu.Unlock()
	assert.True(t, b.Healthy())
}

func TestNATSBusHealthyIsFalseBeforeConnect(t *testing.T) {
	b := NewNATSBus(NATSConfig{URL: "nats://localhost:4222"})
	assert.False(t, b.Healthy(), "a bus with no underlying connection is never healthy")
}

func TestRedisBusAndNATSBusSatisfyHealthChecker(t *testing.T) {
	var _ HealthChecker = (*RedisBus)(nil)
	var _ HealthChecker = (*NATSBus)(nil)
}
