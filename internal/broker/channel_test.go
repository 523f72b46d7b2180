package broker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsewire/broker/internal/auth"
)

func TestPublicChannelSubscribeAndBroadcast(t *testing.T) {
	app := testApp()
	mgr := NewChannelManager(app)
	ch := mgr.FindOrCreate("chat")

	conn, fs := newTestConnection(app)
	require.Nil(t, ch.Subscribe(conn, "", ""))
	assert.Equal(t, "{}", string(ch.Data()))

	ch.Broadcast(Frame{Event: "msg", Channel: "chat", Data: `{"text":"hi"}`}, nil)
	msgs := fs.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, string(msgs[0]), `"data":"{\"text\":\"hi\"}"`)
}

func TestPrivateChannelRejectsBadSignature(t *testing.T) {
	app := testApp()
	mgr := NewChannelManager(app)
	ch := mgr.FindOrCreate("private-room")

	conn, _ := newTestConnection(app)
	err := ch.Subscribe(conn, app.Key+":deadbeef", "")
	require.NotNil(t, err)
	assert.True(t, ch.IsEmpty())
}

func TestPrivateChannelAcceptsGoodSignature(t *testing.T) {
	app := testApp()
	mgr := NewChannelManager(app)
	ch := mgr.FindOrCreate("private-room")

	conn, _ := newTestConnection(app)
	message := auth.ChannelAuthString(conn.ID(), "private-room", "")
	sig := app.Key + ":" + auth.Sign(app.Secret, message)

	require.Nil(t, ch.Subscribe(conn, sig, ""))
	assert.False(t, ch.IsEmpty())
}

func TestPresenceChannelTracksMembersAndBroadcastsJoinLeave(t *testing.T) {
	app := testApp()
	mgr := NewChannelManager(app)
	ch := mgr.FindOrCreate("presence-room")

	connA, fsA := newTestConnection(app)
	dataA := `{"user_id":"u1","user_info":{"name":"Alice"}}`
	sigA := app.Key + ":" + auth.Sign(app.Secret, auth.ChannelAuthString(connA.ID(), "presence-room", dataA))
	require.Nil(t, ch.Subscribe(connA, sigA, dataA))

	var viewA struct {
		Presence PresenceView `json:"presence"`
	}
	require.NoError(t, json.Unmarshal(ch.Data(), &viewA))
	assert.Equal(t, 1, viewA.Presence.Count)
	assert.Equal(t, []string{"u1"}, viewA.Presence.IDs)

	connB, _ := newTestConnection(app)
	dataB := `{"user_id":"u2","user_info":{"name":"Bob"}}`
	sigB := app.Key + ":" + auth.Sign(app.Secret, auth.ChannelAuthString(connB.ID(), "presence-room", dataB))
	require.Nil(t, ch.Subscribe(connB, sigB, dataB))

	aMsgs := fsA.messages()
	require.Len(t, aMsgs, 1, "A must receive member_added for B")
	assert.Contains(t, string(aMsgs[0]), "pusher_internal:member_added")
	assert.Contains(t, string(aMsgs[0]), "u2")

	ch.Unsubscribe(connB)
	aMsgs = fsA.messages()
	require.Len(t, aMsgs, 2, "A must receive member_removed for B")
	assert.Contains(t, string(aMsgs[1]), "pusher_internal:member_removed")

	ch.Unsubscribe(connA)
	assert.True(t, ch.IsEmpty())
}

func TestCacheChannelRepliesCacheMissThenReplaysLastPayload(t *testing.T) {
	app := testApp()
	mgr := NewChannelManager(app)
	ch := mgr.FindOrCreate("cache-prices")

	conn, _ := newTestConnection(app)
	require.Nil(t, ch.Subscribe(conn, "", ""))
	assert.False(t, ch.HasCachedPayload())

	ch.Broadcast(Frame{Event: "price", Channel: "cache-prices", Data: `{"p":1}`}, nil)
	assert.True(t, ch.HasCachedPayload())

	conn2, fs2 := newTestConnection(app)
	require.Nil(t, ch.Subscribe(conn2, "", ""))
	conn2.Send(ch.CachedPayload())
	msgs := fs2.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, string(msgs[0]), `\"p\":1`)
}

func TestBroadcastInternallyNeverTouchesCache(t *testing.T) {
	app := testApp()
	mgr := NewChannelManager(app)
	ch := mgr.FindOrCreate("presence-cache-room")

	conn, _ := newTestConnection(app)
	data := `{"user_id":"u1"}`
	sig := app.Key + ":" + auth.Sign(app.Secret, auth.ChannelAuthString(conn.ID(), "presence-cache-room", data))
	require.Nil(t, ch.Subscribe(conn, sig, data))

	assert.False(t, ch.HasCachedPayload(), "member_added must not populate the cache")
}

func TestChannelRemovedFromRegistryWhenEmpty(t *testing.T) {
	app := testApp()
	mgr := NewChannelManager(app)
	ch := mgr.FindOrCreate("chat")

	conn, _ := newTestConnection(app)
	require.Nil(t, ch.Subscribe(conn, "", ""))
	_, ok := mgr.Find("chat")
	assert.True(t, ok)

	ch.Unsubscribe(conn)
	_, ok = mgr.Find("chat")
	assert.False(t, ok, "channel must be dropped from the registry once empty")
}
