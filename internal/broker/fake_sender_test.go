package broker

import "sync"

// fakeSender is a minimal in-memory Sender for tests — no network, just a
// record of what was sent and whether Close was called.
type fakeSender struct {
	mu      sync.Mutex
	sent    [][]byte
	closed  bool
	control []int
}

func (f *fakeSender) Send(payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	f.sent = append(f.sent, cp)
}

func (f *fakeSender) Control(opcode int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.control = append(f.control, opcode)
}

func (f *fakeSender) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSender) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func testApp() *Application {
	return &Application{
		AppID:              "app1",
		Key:                "key1",
		Secret:             "secret1",
		PingIntervalSec:    120,
		ActivityTimeoutSec: 30,
	}
}

func newTestConnection(app *Application) (*Connection, *fakeSender) {
	fs := &fakeSender{}
	return NewConnection(app, fs, "https://example.com", true, NewSocketIDSequence()), fs
}
