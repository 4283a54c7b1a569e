// Package memory provides the in-process job queue backing each worker pool.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/collegedata/crawler/internal/pipeline"
)

// Queue is a bounded in-memory queue with context-aware operations. Each
// worker pool owns one instance; there is no process-wide queue.
type Queue struct {
	ch      chan pipeline.QueueItem
	closeMu sync.Mutex
	closed  bool
}

// New constructs a queue with the provided capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	return &Queue{
		ch: make(chan pipeline.QueueItem, capacity),
	}
}

// Enqueue pushes a job reference or returns once the context ends.
func (q *Queue) Enqueue(ctx context.Context, item pipeline.QueueItem) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next job reference, respecting context cancellation.
// Callers bound the wait with context.WithTimeout.
func (q *Queue) Dequeue(ctx context.Context) (pipeline.QueueItem, error) {
	select {
	case <-ctx.Done():
		return pipeline.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return pipeline.QueueItem{}, errors.New("queue closed")
		}
		return item, nil
	}
}

// Size returns the number of items currently buffered.
func (q *Queue) Size() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
