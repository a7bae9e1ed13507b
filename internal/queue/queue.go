// Package queue provides a bounded FIFO shared between producers and one
// consumer goroutine.
package queue

import "sync"

// Bounded is a goroutine-safe FIFO with a fixed capacity, backed by a ring
// buffer.
type Bounded[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
	size  int
	ready chan struct{}
}

// NewBounded creates a queue holding at most capacity items. A capacity
// below 1 is raised to 1.
func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}

	return &Bounded[T]{
		items: make([]T, capacity),
		ready: make(chan struct{}, 1),
	}
}

// Push adds item at the tail. It returns false when the queue is full.
func (q *Bounded[T]) Push(item T) bool {
	q.mu.Lock()
	if q.size == len(q.items) {
		q.mu.Unlock()
		return false
	}
	q.items[(q.head+q.size)%len(q.items)] = item
	q.size++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}

	return true
}

// Pop removes and returns the item at the head.
func (q *Bounded[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.size == 0 {
		return zero, false
	}

	item := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--

	return item, true
}

// Ready is signalled after a Push. One signal may cover several items, so
// the consumer pops until the queue is empty.
func (q *Bounded[T]) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of queued items.
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.size
}

// Cap returns the capacity.
func (q *Bounded[T]) Cap() int {
	return len(q.items)
}
