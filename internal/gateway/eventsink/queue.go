package eventsink

import (
	"context"
	"sync"
	"time"

	"riskcore/internal/logger"
)

// Queue decouples event producers from the underlying sink with a bounded
// buffer drained by a single background worker. When the buffer is full the
// oldest event is dropped so publishing never blocks an order submission.
type Queue struct {
	sink Sink

	mu      sync.Mutex
	buf     chan Event
	dropped int

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewQueue(sink Sink, size int) *Queue {
	if sink == nil {
		sink = Nop{}
	}
	if size <= 0 {
		size = 256
	}
	q := &Queue{
		sink:   sink,
		buf:    make(chan Event, size),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go q.drain()
	return q
}

// Publish enqueues without blocking. Returns immediately; delivery failures
// are logged by the worker, never surfaced to the caller.
func (q *Queue) Publish(_ context.Context, ev Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case <-q.stopCh:
		return nil
	default:
	}
	for {
		select {
		case q.buf <- ev:
			return nil
		default:
			// full: shed the oldest entry and retry
			select {
			case old := <-q.buf:
				q.dropped++
				logger.Warnf("eventsink: queue full, dropping %s event id=%s (dropped=%d)", old.Kind, old.ID, q.dropped)
			default:
			}
		}
	}
}

// Dropped reports how many events have been shed since start.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close stops the worker after flushing whatever is already buffered.
func (q *Queue) Close() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		<-q.doneCh
	})
}

func (q *Queue) drain() {
	defer close(q.doneCh)
	for {
		select {
		case ev := <-q.buf:
			q.deliver(ev)
		case <-q.stopCh:
			for {
				select {
				case ev := <-q.buf:
					q.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.sink.Publish(ctx, ev); err != nil {
		logger.Warnf("eventsink: publish %s event id=%s failed: %v", ev.Kind, ev.ID, err)
	}
}
