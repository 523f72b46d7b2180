package broker

import "sync"

// connectionIndex is the server-wide index of live connections for one app,
// keyed by socket ID. It is the "global connection index" mentioned in the
// data model's ownership rules: every connection is jointly referenced by
// the channels it has subscribed to and by this index.
type connectionIndex struct {
	mu         sync.RWMutex
	bySocketID map[string]*Connection
}

func newConnectionIndex() *connectionIndex {
	return &connectionIndex{bySocketID: make(map[string]*Connection)}
}

func (i *connectionIndex) add(c *Connection) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.bySocketID[c.ID()] = c
}

func (i *connectionIndex) remove(c *Connection) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.bySocketID, c.ID())
}

func (i *connectionIndex) count() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.bySocketID)
}

func (i *connectionIndex) all() []*Connection {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]*Connection, 0, len(i.bySocketID))
	for _, c := range i.bySocketID {
		out = append(out, c)
	}
	return out
}
