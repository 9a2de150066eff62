// Package memory provides a bounded in-process job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/scrape-engine-gateway/internal/jobs"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = jobs.ErrQueueClosed

// ErrFull is returned by TryEnqueue when no capacity is left.
var ErrFull = jobs.ErrQueueFull

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan jobs.QueueItem
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan jobs.QueueItem, capacity),
	}
}

// TryEnqueue pushes an item without blocking. A full queue returns ErrFull so
// the API can shed load instead of holding the request open.
func (q *Queue) TryEnqueue(item jobs.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (jobs.QueueItem, error) {
	select {
	case <-ctx.Done():
		return jobs.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return jobs.QueueItem{}, ErrClosed
		}
		return item, nil
	}
}

// Len reports the number of buffered items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown. Items already buffered can
// still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
