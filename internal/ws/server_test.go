package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsewire/broker/internal/broker"
	"github.com/pulsewire/broker/internal/dispatcher"
	"github.com/pulsewire/broker/internal/protocol"
)

func newTestServer(app *broker.Application) (*httptest.Server, *broker.Broker) {
	b := broker.New([]*broker.Application{app})
	d := dispatcher.New(b, nil, "")
	h := protocol.New(b, d)
	s := New(b, h)

	mux := http.NewServeMux()
	mux.HandleFunc("/app/", func(w http.ResponseWriter, r *http.Request) {
		appKey := strings.TrimPrefix(r.URL.Path, "/app/")
		s.ServeHTTP(w, r, appKey)
	})
	return httptest.NewServer(mux), b
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func TestServeHTTPUpgradesAndSendsWelcome(t *testing.T) {
	app := &broker.Application{AppID: "app1", Key: "key1", Secret: "s", PingIntervalSec: 120, ActivityTimeoutSec: 30}
	srv, b := newTestServer(app)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "/app/key1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "pusher:connection_established")

	assert.Eventually(t, func() bool { return b.ConnectionCount(app.AppID) == 1 }, time.Second, 10*time.Millisecond)
}

func TestServeHTTPRejectsUnknownAppKey(t *testing.T) {
	app := &broker.Application{AppID: "app1", Key: "key1", Secret: "s", PingIntervalSec: 120, ActivityTimeoutSec: 30}
	srv, _ := newTestServer(app)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "/app/unknown-key"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeHTTPRejectsDisallowedOrigin(t *testing.T) {
	app := &broker.Application{AppID: "app1", Key: "key1", Secret: "s", PingIntervalSec: 120, ActivityTimeoutSec: 30, AllowedOrigins: []string{"https://allowed.example"}}
	srv, _ := newTestServer(app)
	defer srv.Close()

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "/app/key1"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServeHTTPEnforcesMaxConnections(t *testing.T) {
	app := &broker.Application{AppID: "app1", Key: "key1", Secret: "s", PingIntervalSec: 120, ActivityTimeoutSec: 30, MaxConnections: 1}
	srv, b := newTestServer(app)
	defer srv.Close()

	first, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "/app/key1"), nil)
	require.NoError(t, err)
	defer first.Close()
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = first.ReadMessage()
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return b.ConnectionCount(app.AppID) == 1 }, time.Second, 10*time.Millisecond)

	second, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "/app/key1"), nil)
	require.NoError(t, err, "the upgrade itself succeeds before the broker rejects the connection")
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := second.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "pusher:error")
}
