package admin

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsewire/broker/internal/auth"
	"github.com/pulsewire/broker/internal/broker"
	"github.com/pulsewire/broker/internal/bus"
	"github.com/pulsewire/broker/internal/dispatcher"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testApp() *broker.Application {
	return &broker.Application{AppID: "app1", Key: "key1", Secret: "secret1", PingIntervalSec: 120, ActivityTimeoutSec: 30}
}

func newTestRouter(app *broker.Application) *gin.Engine {
	b := broker.New([]*broker.Application{app})
	d := dispatcher.New(b, nil, "")
	s := New(b, d)
	return s.Router(func(c *gin.Context) {})
}

func signedRequest(t *testing.T, app *broker.Application, method, path string, query url.Values, body []byte) *http.Request {
	t.Helper()
	if query == nil {
		query = url.Values{}
	}
	if len(body) > 0 {
		sum := md5.Sum(body)
		query.Set("body_md5", hex.EncodeToString(sum[:]))
	}
	message := auth.RequestAuthString(method, path, query)
	sig := auth.Sign(app.Secret, message)
	query.Set("auth_signature", sig)

	full := path + "?" + query.Encode()
	req := httptest.NewRequest(method, full, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealthCheckRequiresNoSignature(t *testing.T) {
	r := newTestRouter(testApp())
	req := httptest.NewRequest(http.MethodGet, "/up", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "degraded")
}

type unhealthyTestBus struct{ healthy bool }

func (unhealthyTestBus) Connect(ctx context.Context) error                           { return nil }
func (unhealthyTestBus) Close() error                                                 { return nil }
func (unhealthyTestBus) Publish(ctx context.Context, channel string, p []byte) error  { return nil }
func (unhealthyTestBus) Subscribe(channel string, h bus.Handler) error                { return nil }
func (u unhealthyTestBus) Healthy() bool                                             { return u.healthy }

func TestHealthCheckReportsDegradedWhenBusUnhealthy(t *testing.T) {
	app := testApp()
	b := broker.New([]*broker.Application{app})
	d := dispatcher.New(b, unhealthyTestBus{healthy: false}, "broker")
	s := New(b, d)
	r := s.Router(func(c *gin.Context) {})

	req := httptest.NewRequest(http.MethodGet, "/up", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"degraded":true`)
}

func TestEventsRequiresValidSignature(t *testing.T) {
	app := testApp()
	r := newTestRouter(app)

	req := httptest.NewRequest(http.MethodPost, "/apps/app1/events?auth_signature=deadbeef", bytes.NewReader([]byte(`{"name":"msg","channel":"chat","data":"{}"}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEventsAcceptsValidSignatureAndDispatches(t *testing.T) {
	app := testApp()
	r := newTestRouter(app)

	body := []byte(`{"name":"msg","channel":"chat","data":"{\"x\":1}"}`)
	req := signedRequest(t, app, http.MethodPost, "/apps/app1/events", url.Values{}, body)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestEventsRejectsMissingChannel(t *testing.T) {
	app := testApp()
	r := newTestRouter(app)

	body := []byte(`{"name":"msg","data":"{}"}`)
	req := signedRequest(t, app, http.MethodPost, "/apps/app1/events", url.Values{}, body)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestBatchEventsRejectsMoreThanTenEvents(t *testing.T) {
	app := testApp()
	r := newTestRouter(app)

	batch := make([]map[string]string, 11)
	for i := range batch {
		batch[i] = map[string]string{"name": "msg", "channel": "chat", "data": "{}"}
	}
	payload, _ := json.Marshal(map[string]interface{}{"batch": batch})

	req := signedRequest(t, app, http.MethodPost, "/apps/app1/batch_events", url.Values{}, payload)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestChannelsFiltersByPrefix(t *testing.T) {
	app := testApp()
	b := broker.New([]*broker.Application{app})
	d := dispatcher.New(b, nil, "")
	s := New(b, d)
	r := s.Router(func(c *gin.Context) {})

	registry, _ := b.Registry(app.AppID)
	registry.FindOrCreate("private-room")
	registry.FindOrCreate("chat")

	req := signedRequest(t, app, http.MethodGet, "/apps/app1/channels", url.Values{"filter_by_prefix": {"private-"}}, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out struct {
		Channels map[string]interface{} `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	_, hasPrivate := out.Channels["private-room"]
	_, hasChat := out.Channels["chat"]
	assert.True(t, hasPrivate)
	assert.False(t, hasChat)
}

func TestChannelUsersReturnsNotFoundForAbsentChannel(t *testing.T) {
	app := testApp()
	r := newTestRouter(app)

	req := signedRequest(t, app, http.MethodGet, "/apps/app1/channels/presence-room/users", url.Values{}, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
}

func TestChannelUsersReturnsBadRequestForNonPresenceChannel(t *testing.T) {
	app := testApp()
	b := broker.New([]*broker.Application{app})
	d := dispatcher.New(b, nil, "")
	s := New(b, d)
	r := s.Router(func(c *gin.Context) {})

	registry, _ := b.Registry(app.AppID)
	registry.FindOrCreate("chat")

	req := signedRequest(t, app, http.MethodGet, "/apps/app1/channels/chat/users", url.Values{}, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestChannelUsersListsMembersForPresenceChannel(t *testing.T) {
	app := testApp()
	b := broker.New([]*broker.Application{app})
	d := dispatcher.New(b, nil, "")
	s := New(b, d)
	r := s.Router(func(c *gin.Context) {})

	registry, _ := b.Registry(app.AppID)
	ch := registry.FindOrCreate("presence-room")
	conn, _ := b.Connect(app, noopSender{}, "", true)
	data := `{"user_id":"u1"}`
	sig := app.Key + ":" + auth.Sign(app.Secret, auth.ChannelAuthString(conn.ID(), "presence-room", data))
	require.Nil(t, ch.Subscribe(conn, sig, data))

	req := signedRequest(t, app, http.MethodGet, "/apps/app1/channels/presence-room/users", url.Values{}, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"u1"`)
}

func TestTerminateConnectionsRequiresValidSignature(t *testing.T) {
	app := testApp()
	r := newTestRouter(app)

	req := httptest.NewRequest(http.MethodPost, "/apps/app1/users/u1/terminate_connections?auth_signature=bad", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestConnectionsReportsCount(t *testing.T) {
	app := testApp()
	b := broker.New([]*broker.Application{app})
	d := dispatcher.New(b, nil, "")
	s := New(b, d)
	r := s.Router(func(c *gin.Context) {})

	b.Connect(app, noopSender{}, "", true)

	req := signedRequest(t, app, http.MethodGet, "/apps/app1/connections", url.Values{}, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"connections":1`)
}

type noopSender struct{}

func (noopSender) Send([]byte)  {}
func (noopSender) Control(int)  {}
func (noopSender) Close() error { return nil }
