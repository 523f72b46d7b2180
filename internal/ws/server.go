package ws

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/pulsewire/broker/internal/apperr"
	"github.com/pulsewire/broker/internal/broker"
	"github.com/pulsewire/broker/internal/logger"
	"github.com/pulsewire/broker/internal/protocol"
)

// Server upgrades incoming HTTP requests on /app/{appKey} to WebSocket
// connections and runs each one's actor goroutines.
type Server struct {
	broker  *broker.Broker
	handler *protocol.Handler

	upgrader websocket.Upgrader
}

// New constructs a Server backed by b and the shared protocol handler.
func New(b *broker.Broker, handler *protocol.Handler) *Server {
	return &Server{
		broker:  b,
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true }, // origin enforced after app lookup
		},
	}
}

// ServeHTTP handles a single /app/{appKey} upgrade request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request, appKey string) {
	log := logger.Component("ws")

	app, ok := s.broker.AppByKey(appKey)
	if !ok {
		http.Error(w, "application not found", http.StatusNotFound)
		return
	}

	origin := r.Header.Get("Origin")
	if !app.OriginAllowed(origin) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	rawConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	sc := newSocketConn(rawConn)
	conn, accepted := s.broker.Connect(app, sc, origin, true)
	if !accepted {
		frame := broker.NewFrame("pusher:error", "", apperr.ConnectionLimitReached().ToWSFrame())
		rawConn.WriteMessage(websocket.TextMessage, broker.EncodeFrame(frame))
		rawConn.Close()
		return
	}

	if app.MaxMessageSizeBytes > 0 {
		rawConn.SetReadLimit(int64(app.MaxMessageSizeBytes))
	}

	go sc.writePump()

	s.handler.Welcome(conn)
	s.readPump(conn, sc)
}

// readPump reads frames sequentially from one connection — the "one logical
// actor per connection" serialization the concurrency model requires — and
// hands each to the shared protocol handler.
func (s *Server) readPump(conn *broker.Connection, sc *socketConn) {
	log := logger.Component("ws")
	defer func() {
		s.broker.Disconnect(conn)
		conn.Terminate()
	}()

	rawConn := sc.conn
	rawConn.SetPongHandler(func(string) error {
		conn.Touch()
		return nil
	})

	for {
		_, message, err := rawConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Str("socket_id", conn.ID()).Err(err).Msg("websocket read error")
			}
			return
		}
		s.handler.Handle(conn, message)
	}
}
