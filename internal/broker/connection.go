package broker

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pulsewire/broker/internal/logger"
)

// PingOpcode is the control-frame opcode Connection.Ping callers pass to
// Sender.Control. It matches gorilla/websocket.PingMessage so internal/ws
// can pass it straight through without broker importing gorilla itself.
const PingOpcode = 9

// Sender is the minimal transport contract a Connection needs from its
// underlying socket. internal/ws supplies the gorilla/websocket-backed
// implementation; tests can substitute a fake.
type Sender interface {
	// Send enqueues a text frame. Sending on a closed connection must be a
	// silent no-op.
	Send(payload []byte)
	// Control enqueues a control frame (e.g. a ping) if the transport
	// supports one; transports without control-frame support ignore it.
	Control(opcode int)
	// Close closes the underlying socket. Must be idempotent.
	Close() error
}

// Connection wraps one live WebSocket and implements the liveness state
// machine from the connection/liveness design: Active while frames keep
// arriving inside the app's ping interval, Inactive once that window lapses
// without having been pinged yet, Stale once pinged and still silent.
type Connection struct {
	App  *Application
	Conn Sender

	Origin            string
	UsesControlFrames bool

	socketID      string
	idSeq         *socketIDSequence
	lastSeenAt    int64 // unix seconds, atomic
	hasBeenPinged int32 // atomic bool
	closed        int32 // atomic bool
	violations    int32 // atomic count of protocol violations
}

// IncViolation records one protocol violation (malformed frame, unknown
// event) and returns the running count, so the protocol handler can
// terminate a connection that won't stop sending garbage.
func (c *Connection) IncViolation() int32 {
	return atomic.AddInt32(&c.violations, 1)
}

// socketIDSequence hands out the two components of a socket ID. A broker
// owns exactly one sequence, shared by every connection it creates.
type socketIDSequence struct {
	hi, lo uint64
}

func (s *socketIDSequence) next() string {
	hi := atomic.AddUint64(&s.hi, 1)
	lo := atomic.AddUint64(&s.lo, 7) // odd stride keeps the pair from marching in lockstep
	return fmt.Sprintf("%d.%d", hi%1_000_000_000+1, lo%1_000_000_000+1)
}

// NewConnection constructs a Connection bound to app and transport conn,
// assigning it a socket ID from seq and marking it freshly touched.
func NewConnection(app *Application, conn Sender, origin string, useControlFrames bool, seq *socketIDSequence) *Connection {
	c := &Connection{
		App:               app,
		Conn:              conn,
		Origin:            origin,
		UsesControlFrames: useControlFrames,
		idSeq:             seq,
	}
	c.socketID = seq.next()
	c.Touch()
	return c
}

// NewSocketIDSequence returns a fresh sequence for a broker instance to share
// across all the connections it creates.
func NewSocketIDSequence() *socketIDSequence {
	return &socketIDSequence{}
}

// ID returns the connection's stable socket ID, in the "<n>.<n>" format.
func (c *Connection) ID() string {
	return c.socketID
}

// Touch marks the connection as having just produced activity: it becomes
// Active and clears any pending ping flag. Called on every inbound frame,
// including pong replies.
func (c *Connection) Touch() {
	atomic.StoreInt64(&c.lastSeenAt, time.Now().Unix())
	atomic.StoreInt32(&c.hasBeenPinged, 0)
}

// Ping marks that a ping has been sent to this connection. It does not send
// anything itself; the scheduler is responsible for writing the frame.
func (c *Connection) Ping() {
	atomic.StoreInt32(&c.hasBeenPinged, 1)
}

func (c *Connection) pingInterval() time.Duration {
	return time.Duration(c.App.PingIntervalSec) * time.Second
}

// IsActive reports whether the connection has produced activity within the
// app's configured ping interval.
func (c *Connection) IsActive() bool {
	lastSeen := atomic.LoadInt64(&c.lastSeenAt)
	deadline := lastSeen + int64(c.pingInterval().Seconds())
	return time.Now().Unix() < deadline
}

// IsInactive reports whether the connection has gone quiet but has not yet
// been sent a ping.
func (c *Connection) IsInactive() bool {
	return !c.IsActive() && atomic.LoadInt32(&c.hasBeenPinged) == 0
}

// IsStale reports whether the connection was pinged and never replied.
func (c *Connection) IsStale() bool {
	return !c.IsActive() && atomic.LoadInt32(&c.hasBeenPinged) == 1
}

// Send writes payload to the underlying socket. A send to an already-closed
// connection is swallowed and logged at debug level rather than surfaced to
// the caller.
func (c *Connection) Send(payload []byte) {
	if atomic.LoadInt32(&c.closed) == 1 {
		logger.Connection(c.socketID, c.App.AppID).Debug().Msg("send on closed connection dropped")
		return
	}
	c.Conn.Send(payload)
}

// Terminate closes the underlying socket. Safe to call more than once.
func (c *Connection) Terminate() {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return
	}
	if err := c.Conn.Close(); err != nil {
		logger.Connection(c.socketID, c.App.AppID).Debug().Err(err).Msg("error closing connection")
	}
}

// IsClosed reports whether Terminate has already run.
func (c *Connection) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}
