package broker

import "sync"

// ChannelConnection binds a Connection to one channel subscription, carrying
// whatever per-subscription data the client supplied (presence channel_data,
// mainly).
type ChannelConnection struct {
	Connection *Connection
	UserID     string
	UserInfo   interface{}
}

// ChannelConnectionManager is the per-channel socket_id -> ChannelConnection
// map. All operations are O(1); reads (used by broadcast) may run
// concurrently with writes (subscribe/unsubscribe), guarded by an RWMutex so
// broadcast never blocks on another broadcast.
type ChannelConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*ChannelConnection
}

// NewChannelConnectionManager returns an empty manager.
func NewChannelConnectionManager() *ChannelConnectionManager {
	return &ChannelConnectionManager{
		byID: make(map[string]*ChannelConnection),
	}
}

// Add registers conn under cc.Connection.ID(), replacing any existing entry
// for that socket ID.
func (m *ChannelConnectionManager) Add(cc *ChannelConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[cc.Connection.ID()] = cc
}

// Remove drops the subscription for conn, returning the removed record (or
// nil if conn was not subscribed).
func (m *ChannelConnectionManager) Remove(conn *Connection) *ChannelConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	cc, ok := m.byID[conn.ID()]
	if !ok {
		return nil
	}
	delete(m.byID, conn.ID())
	return cc
}

// Find returns the subscription record for conn, if any.
func (m *ChannelConnectionManager) Find(conn *Connection) (*ChannelConnection, bool) {
	return m.FindByID(conn.ID())
}

// FindByID returns the subscription record for the given socket ID, if any.
func (m *ChannelConnectionManager) FindByID(socketID string) (*ChannelConnection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cc, ok := m.byID[socketID]
	return cc, ok
}

// All returns a snapshot slice of every current subscription. Broadcast
// takes this snapshot under the read lock, then sends outside it.
func (m *ChannelConnectionManager) All() []*ChannelConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ChannelConnection, 0, len(m.byID))
	for _, cc := range m.byID {
		out = append(out, cc)
	}
	return out
}

// IsEmpty reports whether no subscriptions remain.
func (m *ChannelConnectionManager) IsEmpty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID) == 0
}

// Flush removes every subscription, returning what was removed. Used during
// graceful shutdown and channel teardown.
func (m *ChannelConnectionManager) Flush() []*ChannelConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ChannelConnection, 0, len(m.byID))
	for _, cc := range m.byID {
		out = append(out, cc)
	}
	m.byID = make(map[string]*ChannelConnection)
	return out
}
