// Package runner fans out queued combination runs to a pool of workers.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/linkforge/harvester/internal/harvest"
)

// ErrQueueClosed is returned by Enqueue and Dequeue after Close.
var ErrQueueClosed = errors.New("run queue closed")

// Queue is a bounded in-memory run queue with context-aware operations.
type Queue struct {
	ch     chan harvest.RunRequest
	mu     sync.RWMutex
	closed bool
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan harvest.RunRequest, capacity),
	}
}

// Enqueue pushes a run request or returns if the context ends. The read lock
// is held across the send so Close cannot close the channel under a sender.
func (q *Queue) Enqueue(ctx context.Context, req harvest.RunRequest) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- req:
		return nil
	}
}

// Dequeue pops the next run request, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (harvest.RunRequest, error) {
	select {
	case <-ctx.Done():
		return harvest.RunRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req, ok := <-q.ch:
		if !ok {
			return harvest.RunRequest{}, ErrQueueClosed
		}
		return req, nil
	}
}

// Close closes the underlying channel for shutdown. Close waits for in-flight
// enqueues to finish; queued requests remain dequeueable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
