// Package ws is the gorilla/websocket transport: it upgrades HTTP requests
// on /app/{appKey}, wraps each socket in a broker.Connection, and runs the
// per-connection readPump/writePump actor pair, generalized from a single
// shared hub to one channel registry per application.
package ws

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsewire/broker/internal/logger"
)

// sendQueueSize is the bounded outbound buffer per connection. A subscriber
// slower than this is dropped rather than allowed to stall a broadcast.
const sendQueueSize = 256

// writeWait bounds how long a single write may take before the connection
// is considered dead.
const writeWait = 10 * time.Second

// socketConn adapts a gorilla/websocket.Conn to broker.Sender: a bounded
// send queue plus a writer goroutine, so Channel.Broadcast's fan-out never
// blocks on a slow client.
type socketConn struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce chan struct{}
}

func newSocketConn(conn *websocket.Conn) *socketConn {
	return &socketConn{
		conn:      conn,
		send:      make(chan []byte, sendQueueSize),
		closeOnce: make(chan struct{}),
	}
}

// Send enqueues payload for the writer goroutine. If the queue is full the
// connection is considered unhealthy and is closed instead of blocking the
// caller (who may be a broadcast fanning out to thousands of others).
func (s *socketConn) Send(payload []byte) {
	select {
	case s.send <- payload:
	default:
		logger.Component("ws").Warn().Msg("send queue full, dropping connection")
		s.Close()
	}
}

// Control sends a control frame; opcode is a gorilla/websocket message type
// constant (websocket.PingMessage, etc).
func (s *socketConn) Control(opcode int) {
	_ = s.conn.WriteControl(opcode, nil, time.Now().Add(writeWait))
}

// Close closes the underlying socket and signals writePump to stop, once;
// the send channel itself is never closed.
func (s *socketConn) Close() error {
	select {
	case <-s.closeOnce:
		return nil
	default:
		close(s.closeOnce)
	}
	return s.conn.Close()
}

// writePump drains the send queue to the socket, piggy-backing any
// already-queued messages onto the same websocket message the way the
// teacher's Client.writePump batches pending sends.
func (s *socketConn) writePump() {
	defer s.conn.Close()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(s.send)
			for i := 0; i < n; i++ {
				w.Write(<-s.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-s.closeOnce:
			return
		}
	}
}
