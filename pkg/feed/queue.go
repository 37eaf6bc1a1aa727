package feed

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrQueueClosed = errors.New("Batch queue closed")
var ErrQueueTimeout = errors.New("Timed out waiting for a batch")

// Queue is a bounded FIFO of dense batches, shared by the producers and the training loop.
// Once closed, every blocked and future Enqueue and Dequeue returns ErrQueueClosed.
type Queue struct {
	items     chan *Batch
	closed    chan struct{}
	closeOnce sync.Once
}

func NewQueue(capacity int) *Queue {
	return &Queue{
		items:  make(chan *Batch, max(capacity, 1)),
		closed: make(chan struct{}),
	}
}

// Enqueue blocks until there is space in the queue, the queue is closed, or ctx is done
func (q *Queue) Enqueue(ctx context.Context, b *Batch) error {
	if q.IsClosed() {
		return ErrQueueClosed
	}
	select {
	case q.items <- b:
		// A send that raced with Close is not considered successful
		if q.IsClosed() {
			return ErrQueueClosed
		}
		return nil
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until a batch is available.
// Returns ErrQueueTimeout if nothing arrives within timeout.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Batch, error) {
	if q.IsClosed() {
		return nil, ErrQueueClosed
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case b := <-q.items:
		return b, nil
	case <-q.closed:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrQueueTimeout
	}
}

// Close wakes all blocked callers. Batches still in the queue are dropped.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
}

func (q *Queue) IsClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

// Len returns the number of batches waiting in the queue
func (q *Queue) Len() int {
	return len(q.items)
}

func (q *Queue) Cap() int {
	return cap(q.items)
}
