package bus

import "sync"

// outbox buffers publishes attempted while the backend connection is down.
// Capacity is bounded; once full, the oldest queued message is dropped to
// make room and the caller is told so it can log a warning.
type outbox struct {
	mu       sync.Mutex
	items    [][]byte
	channels []string
	capacity int
}

func newOutbox(capacity int) *outbox {
	return &outbox{capacity: capacity}
}

// push enqueues payload for channel, returning true if an older item was
// dropped to make room.
func (o *outbox) push(channel string, payload []byte) (dropped bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.items) >= o.capacity {
		o.items = o.items[1:]
		o.channels = o.channels[1:]
		dropped = true
	}
	o.items = append(o.items, payload)
	o.channels = append(o.channels, channel)
	return dropped
}

// drain removes and returns everything queued, in FIFO order.
func (o *outbox) drain() (channels []string, payloads [][]byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	channels, payloads = o.channels, o.items
	o.channels, o.items = nil, nil
	return channels, payloads
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}
