package eventsink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (c *captureSink) Publish(_ context.Context, ev Event) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestQueueDeliversInOrder(t *testing.T) {
	sink := &captureSink{}
	q := NewQueue(sink, 8)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Publish(context.Background(), Event{ID: string(rune('a' + i)), Kind: KindDecision}))
	}
	q.Close()

	require.Equal(t, 5, sink.count())
	assert.Equal(t, "a", sink.events[0].ID)
	assert.Equal(t, "e", sink.events[4].ID)
}

func TestQueuePublishNeverBlocks(t *testing.T) {
	sink := &captureSink{block: make(chan struct{})}
	q := NewQueue(sink, 2)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			_ = q.Publish(context.Background(), Event{ID: "x", Kind: KindDecision})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a saturated queue")
	}
	assert.Greater(t, q.Dropped(), 0, "saturation must shed events")
	close(sink.block)
	q.Close()
}
