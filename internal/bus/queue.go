package bus

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrQueueFull   = errors.New("queue full")
	ErrQueueClosed = errors.New("queue closed")
)

// Queue is a bounded FIFO of messages consumed by a single Run loop.
type Queue[T any] struct {
	ch     chan T
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity), done: make(chan struct{})}
}

// TryPublish enqueues a message without blocking.
func (q *Queue[T]) TryPublish(msg T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Publish enqueues a message, waiting while the queue is full. A wait is
// cut short by Close.
func (q *Queue[T]) Publish(ctx context.Context, msg T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- msg:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of queued messages.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Close stops the queue from accepting new messages. Queued messages are
// still delivered by Run.
func (q *Queue[T]) Close() {
	q.once.Do(func() { close(q.done) })
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Run consumes messages until the context is done or the queue is closed and drained.
func (q *Queue[T]) Run(ctx context.Context, handler func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-q.ch:
			if !ok {
				return
			}
			handler(msg)
		}
	}
}

// Drain handles queued messages on the caller's goroutine until the queue is
// empty and returns how many were handled. It must not run alongside Run.
func (q *Queue[T]) Drain(handler func(T)) int {
	var n int
	for {
		select {
		case msg, ok := <-q.ch:
			if !ok {
				return n
			}
			handler(msg)
			n++
		default:
			return n
		}
	}
}
