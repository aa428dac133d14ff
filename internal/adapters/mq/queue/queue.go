// Package queue buffers observations between submission and the merge workers.
package queue

import (
	"context"
	"sync"

	"github.com/okian/fieldmemo/internal/domain/model"
	"github.com/okian/fieldmemo/pkg/metrics"
)

const defaultQueueCapacity = 10_000

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an observation without blocking. It returns ErrFull when
	// the queue is at capacity and ErrClosed after Close.
	Enqueue(ctx context.Context, o model.Observation) error

	// Dequeue returns the channel observations are delivered on. It is
	// closed once the queue is closed and drained.
	Dequeue() <-chan model.Observation

	Len() int
	Capacity() int
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	items    chan model.Observation
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.items = make(chan model.Observation, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0.0)
	return q
}

// Enqueue implements Queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, o model.Observation) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError("closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueEnqueueError("context_cancelled")
		return err
	}

	select {
	case q.items <- o:
		metrics.RecordQueueEnqueue()
		q.updateGauges()
		return nil
	default:
		metrics.RecordQueueEnqueueError("full")
		metrics.RecordErrorByComponent("queue", "queue_full")
		return ErrFull
	}
}

// Dequeue implements Queue.
func (q *InMemoryQueue) Dequeue() <-chan model.Observation {
	return q.items
}

// Len returns the current number of queued observations.
func (q *InMemoryQueue) Len() int {
	q.updateGauges()
	return len(q.items)
}

// Capacity returns the queue bound.
func (q *InMemoryQueue) Capacity() int {
	return q.capacity
}

// Close stops accepting observations. Already queued ones are still delivered.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.items)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func (q *InMemoryQueue) updateGauges() {
	size := len(q.items)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}
