package broker

import (
	"encoding/json"
	"sync"

	"github.com/pulsewire/broker/internal/apperr"
	"github.com/pulsewire/broker/internal/auth"
	"github.com/pulsewire/broker/internal/logger"
)

// Channel is the one concrete type backing all six variants from the
// taxonomy. Its behavior is composed rather than inherited: Kind gates
// whether subscribe requires a signature, tracks presence, or retains a
// cached payload, so a single struct plus a couple of optional fields covers
// every variant the prefix table can produce.
type Channel struct {
	Name string
	Kind ChannelKind
	App  *Application

	manager *ChannelManager
	conns   *ChannelConnectionManager

	presence *presenceTracker // non-nil iff Kind.TracksPresence()

	cacheMu       sync.RWMutex
	cachedPayload []byte
	hasCached     bool
}

func newChannel(name string, app *Application, manager *ChannelManager) *Channel {
	kind := classify(name)
	c := &Channel{
		Name:    name,
		Kind:    kind,
		App:     app,
		manager: manager,
		conns:   NewChannelConnectionManager(),
	}
	if kind.TracksPresence() {
		c.presence = newPresenceTracker()
	}
	return c
}

// Subscribe verifies auth (if required), records the subscription, and for
// presence channels broadcasts pusher_internal:member_added when the
// subscriber is the first socket for their user_id. Returns a non-nil
// AppError (always an authorization failure here) on auth rejection; no
// membership is recorded in that case, and a channel left empty by the
// rejection is dropped from the registry.
func (c *Channel) Subscribe(conn *Connection, authToken, channelData string) *apperr.AppError {
	if c.Kind.RequiresAuth() {
		if !auth.VerifyChannelAuth(c.App.Secret, c.App.Key, authToken, conn.ID(), c.Name, channelData) {
			c.manager.remove(c.Name)
			return apperr.Unauthorized()
		}
	}

	cc := &ChannelConnection{Connection: conn}

	if c.Kind.TracksPresence() {
		pd, err := parsePresenceData(channelData)
		if err != nil {
			logger.Component("broker").Warn().
				Str("channel", c.Name).Str("socket_id", conn.ID()).Err(err).
				Msg("presence subscription missing or invalid user_id")
		} else {
			cc.UserID = pd.UserID
			cc.UserInfo = pd.UserInfo
		}
	}

	c.conns.Add(cc)

	if c.presence != nil && cc.UserID != "" {
		isNewUser := c.presence.add(cc.UserID, conn.ID(), cc.UserInfo)
		if isNewUser {
			c.BroadcastInternally(memberAddedFrame(c.Name, cc.UserID, cc.UserInfo), conn)
		}
	}

	return nil
}

// Unsubscribe removes conn's subscription. For presence channels, it
// broadcasts pusher_internal:member_removed once the departing user_id has
// no remaining sockets on the channel. If the channel is left empty, it asks
// the owning manager to remove it from the registry.
func (c *Channel) Unsubscribe(conn *Connection) {
	cc := c.conns.Remove(conn)
	if cc == nil {
		return
	}

	if c.presence != nil && cc.UserID != "" {
		stillPresent := c.presence.remove(cc.UserID, conn.ID())
		if !stillPresent {
			c.BroadcastInternally(memberRemovedFrame(c.Name, cc.UserID), nil)
		}
	}

	if c.conns.IsEmpty() {
		c.manager.remove(c.Name)
	}
}

// Broadcast fans frame out to every subscriber except (optionally) one, then,
// for cache-variant channels, stores the encoded frame as the channel's
// cached payload. External callers (the admin API, client events) use this;
// it is the only path that mutates the cache.
func (c *Channel) Broadcast(frame Frame, except *Connection) {
	encoded := EncodeFrame(frame)
	c.fanOut(encoded, except)
	if c.Kind.IsCached() {
		c.setCachedPayload(encoded)
	}
}

// BroadcastInternally fans frame out identically but never touches the
// cache. Every pusher_internal:* event the channel itself emits must go
// through this path.
func (c *Channel) BroadcastInternally(frame Frame, except *Connection) {
	encoded := EncodeFrame(frame)
	c.fanOut(encoded, except)
}

func (c *Channel) fanOut(encoded []byte, except *Connection) {
	for _, cc := range c.conns.All() {
		if except != nil && cc.Connection.ID() == except.ID() {
			continue
		}
		cc.Connection.Send(encoded)
	}
}

// Data returns the channel-type-specific subscription_succeeded payload:
// "{}" for every non-presence variant, or the presence membership view.
//
// If any current subscriber lacks a user_id — an invariant violation that
// should never occur — Data logs a warning and returns an empty presence
// view rather than a partial or inconsistent one.
func (c *Channel) Data() []byte {
	if c.presence == nil {
		return []byte("{}")
	}

	for _, cc := range c.conns.All() {
		if cc.UserID == "" {
			logger.Component("broker").Warn().
				Str("channel", c.Name).
				Msg("presence channel has a subscription without user_id; returning empty view")
			empty := PresenceView{IDs: []string{}, Hash: map[string]interface{}{}}
			b, _ := json.Marshal(map[string]interface{}{"presence": empty})
			return b
		}
	}

	view := c.presence.snapshot()
	b, _ := json.Marshal(map[string]interface{}{"presence": view})
	return b
}

// HasCachedPayload reports whether this (necessarily cache-variant) channel
// has ever seen an external broadcast.
func (c *Channel) HasCachedPayload() bool {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return c.hasCached
}

// CachedPayload returns the verbatim bytes of the last external broadcast.
func (c *Channel) CachedPayload() []byte {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return c.cachedPayload
}

func (c *Channel) setCachedPayload(encoded []byte) {
	buf := make([]byte, len(encoded))
	copy(buf, encoded)
	c.cacheMu.Lock()
	c.cachedPayload = buf
	c.hasCached = true
	c.cacheMu.Unlock()
}

// SubscriberCount returns the number of live subscriptions, used by the
// admin API's channel metrics.
func (c *Channel) SubscriberCount() int {
	return len(c.conns.All())
}

// IsEmpty reports whether the channel currently has no subscribers.
func (c *Channel) IsEmpty() bool {
	return c.conns.IsEmpty()
}

// UserIDs returns the distinct user_ids subscribed to a presence channel, in
// no particular order. Used by the admin API's channel-users endpoint.
func (c *Channel) UserIDs() []string {
	if c.presence == nil {
		return nil
	}
	return c.presence.snapshot().IDs
}
