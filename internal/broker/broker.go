// Package broker implements the core, transport-agnostic domain model: the
// connection liveness state machine, the six-variant channel taxonomy, per-
// app channel and connection registries, and the Broker façade that owns all
// of it. It has no knowledge of gorilla/websocket, gin, or the pub/sub bus;
// internal/ws, internal/admin, and internal/bus all depend on it, never the
// other way around.
package broker

import (
	"sync"

	"github.com/google/uuid"
)

// Broker owns every per-process subsystem: the app registry, one channel
// registry and one connection index per app, the shared socket ID sequence,
// and the node's own identity. There is exactly one Broker per running
// process; it replaces what the source modeled as a static/global factory.
type Broker struct {
	// NodeID tags every bus publish this node makes, so the incoming bus
	// handler can recognize and drop this node's own messages.
	NodeID string

	mu         sync.RWMutex
	appsByID   map[string]*Application
	appsByKey  map[string]*Application
	registries map[string]*ChannelManager
	conns      map[string]*connectionIndex
	idSeq      *socketIDSequence
}

// New constructs a Broker for the given set of configured applications.
func New(apps []*Application) *Broker {
	b := &Broker{
		NodeID:     uuid.NewString(),
		appsByID:   make(map[string]*Application),
		appsByKey:  make(map[string]*Application),
		registries: make(map[string]*ChannelManager),
		conns:      make(map[string]*connectionIndex),
		idSeq:      NewSocketIDSequence(),
	}
	for _, app := range apps {
		b.appsByID[app.AppID] = app
		b.appsByKey[app.Key] = app
		b.registries[app.AppID] = NewChannelManager(app)
		b.conns[app.AppID] = newConnectionIndex()
	}
	return b
}

// AppByID looks up an application by its app_id (used in admin API paths).
func (b *Broker) AppByID(id string) (*Application, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	app, ok := b.appsByID[id]
	return app, ok
}

// AppByKey looks up an application by its public key (used in the WebSocket
// path and client auth strings).
func (b *Broker) AppByKey(key string) (*Application, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	app, ok := b.appsByKey[key]
	return app, ok
}

// Registry returns the channel registry for an app.
func (b *Broker) Registry(appID string) (*ChannelManager, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.registries[appID]
	return r, ok
}

// Apps returns every configured application.
func (b *Broker) Apps() []*Application {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Application, 0, len(b.appsByID))
	for _, app := range b.appsByID {
		out = append(out, app)
	}
	return out
}

// Connect registers a new connection for app over conn and adds it to the
// app's connection index. Returns a nil Connection and false if the app's
// max_connections is already met.
func (b *Broker) Connect(app *Application, conn Sender, origin string, useControlFrames bool) (*Connection, bool) {
	b.mu.RLock()
	idx := b.conns[app.AppID]
	b.mu.RUnlock()

	if app.MaxConnections > 0 && idx.count() >= app.MaxConnections {
		return nil, false
	}

	c := NewConnection(app, conn, origin, useControlFrames, b.idSeq)
	idx.add(c)
	return c, true
}

// Disconnect removes conn from its app's connection registries and
// channels. It does not close the transport; callers terminate separately.
func (b *Broker) Disconnect(conn *Connection) {
	b.mu.RLock()
	idx := b.conns[conn.App.AppID]
	registry := b.registries[conn.App.AppID]
	b.mu.RUnlock()

	if registry != nil {
		registry.UnsubscribeAll(conn)
	}
	if idx != nil {
		idx.remove(conn)
	}
}

// ConnectionCount returns the number of live connections for an app.
func (b *Broker) ConnectionCount(appID string) int {
	b.mu.RLock()
	idx := b.conns[appID]
	b.mu.RUnlock()
	if idx == nil {
		return 0
	}
	return idx.count()
}

// Connections returns a snapshot of every live connection for an app.
func (b *Broker) Connections(appID string) []*Connection {
	b.mu.RLock()
	idx := b.conns[appID]
	b.mu.RUnlock()
	if idx == nil {
		return nil
	}
	return idx.all()
}

// AllConnections returns a snapshot of every live connection across every
// app, used for graceful shutdown.
func (b *Broker) AllConnections() []*Connection {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*Connection
	for _, idx := range b.conns {
		out = append(out, idx.all()...)
	}
	return out
}

// TerminateUserConnections closes every local connection for appID that
// holds any presence subscription carrying userID, and unsubscribes them
// from every channel first. Every presence subscription of a connection is
// matched, not only its most recent one. Returns the number of connections
// terminated.
func (b *Broker) TerminateUserConnections(appID, userID string) int {
	registry, ok := b.Registry(appID)
	if !ok {
		return 0
	}

	matched := make(map[string]*Connection)
	for _, ch := range registry.All() {
		if ch.presence == nil {
			continue
		}
		for _, cc := range ch.conns.All() {
			if cc.UserID == userID {
				matched[cc.Connection.ID()] = cc.Connection
			}
		}
	}

	for _, conn := range matched {
		b.Disconnect(conn)
		conn.Terminate()
	}
	return len(matched)
}
