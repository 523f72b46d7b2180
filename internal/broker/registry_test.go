package broker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindOrCreateReturnsSameChannelForConcurrentCallers(t *testing.T) {
	mgr := NewChannelManager(testApp())

	var wg sync.WaitGroup
	results := make([]*Channel, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = mgr.FindOrCreate("chat")
		}(i)
	}
	wg.Wait()

	for _, ch := range results {
		assert.Same(t, results[0], ch)
	}
	assert.Equal(t, 1, mgr.Count())
}

func TestUnsubscribeAllRemovesFromEveryChannel(t *testing.T) {
	app := testApp()
	mgr := NewChannelManager(app)
	conn, _ := newTestConnection(app)

	a := mgr.FindOrCreate("chat-a")
	b := mgr.FindOrCreate("chat-b")
	a.Subscribe(conn, "", "")
	b.Subscribe(conn, "", "")

	mgr.UnsubscribeAll(conn)

	assert.True(t, a.IsEmpty())
	assert.True(t, b.IsEmpty())
}
