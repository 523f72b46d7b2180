package broker

import (
	"sync"

	"github.com/pulsewire/broker/internal/logger"
)

// ChannelManager is the per-app channel registry. It exclusively owns the
// channels it creates: a channel is registered by FindOrCreate, and dropped
// once its last subscriber leaves or a rejected subscribe leaves it empty.
type ChannelManager struct {
	app *Application

	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewChannelManager returns an empty registry for app.
func NewChannelManager(app *Application) *ChannelManager {
	return &ChannelManager{app: app, channels: make(map[string]*Channel)}
}

// FindOrCreate returns the existing channel for name, or constructs and
// registers a new one composed for name's variant per the prefix table.
func (m *ChannelManager) FindOrCreate(name string) *Channel {
	m.mu.RLock()
	if ch, ok := m.channels[name]; ok {
		m.mu.RUnlock()
		return ch
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[name]; ok {
		return ch
	}
	ch := newChannel(name, m.app, m)
	m.channels[name] = ch
	logger.Component("broker").Info().
		Str("app_id", m.app.AppID).Str("channel", name).Msg("channel created")
	return ch
}

// Find returns the channel registered under name, if any.
func (m *ChannelManager) Find(name string) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// All returns a snapshot of every currently-registered channel.
func (m *ChannelManager) All() []*Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	return out
}

// Count returns the number of currently-registered channels.
func (m *ChannelManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels)
}

// remove drops name from the registry, but only if it is still empty —
// protects against a concurrent subscribe landing between the caller's own
// emptiness check and this call.
func (m *ChannelManager) remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[name]
	if !ok || !ch.IsEmpty() {
		return
	}
	delete(m.channels, name)
	logger.Component("broker").Info().
		Str("app_id", m.app.AppID).Str("channel", name).Msg("channel removed")
}

// UnsubscribeAll removes conn from every channel it is subscribed to across
// this app, used during graceful shutdown and connection close.
func (m *ChannelManager) UnsubscribeAll(conn *Connection) {
	for _, ch := range m.All() {
		if _, ok := ch.conns.Find(conn); ok {
			ch.Unsubscribe(conn)
		}
	}
}
