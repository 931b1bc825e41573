package taskq

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrFull is returned by TryPut on a bounded queue at capacity, and by
	// Put when the context expires before space becomes available.
	ErrFull = errors.New("taskq: queue full")

	// ErrEmpty is returned by TryGet on an empty queue, and by Get when the
	// context expires before an item becomes available.
	ErrEmpty = errors.New("taskq: queue empty")
)

// Queue is a FIFO queue with an optional capacity bound, safe for use by
// multiple concurrent producers and consumers. A bounded queue applies
// backpressure: producers block (or fail, for TryPut) once the buffer is
// full, which caps the amount of work buffered ahead of the consumers.
//
// Each item is delivered to exactly one Get/TryGet call, in the order the
// corresponding Put/TryPut calls completed.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int

	// changed is closed and replaced whenever the buffer changes, waking
	// every blocked Put and Get so they can re-check their condition.
	changed chan struct{}
}

// New creates a queue. A capacity greater than zero bounds the number of
// buffered items; zero or negative means unbounded, matching the semantics
// of the queue primitive this replaces.
func New[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

// TryPut appends item without blocking. It returns ErrFull if the queue is
// bounded and at capacity; the item is not inserted in that case.
func (q *Queue[T]) TryPut(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.full() {
		return ErrFull
	}
	q.append(item)
	return nil
}

// Put appends item, blocking while the queue is at capacity. If ctx is
// cancelled or its deadline passes before space becomes available, Put
// returns ErrFull and the item is not inserted.
func (q *Queue[T]) Put(ctx context.Context, item T) error {
	for {
		q.mu.Lock()
		if !q.full() {
			q.append(item)
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ErrFull
		}
	}
}

// TryGet removes and returns the oldest item without blocking. It returns
// ErrEmpty if the queue is empty.
func (q *Queue[T]) TryGet() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		var zero T
		return zero, ErrEmpty
	}
	return q.pop(), nil
}

// Get removes and returns the oldest item, blocking while the queue is
// empty. If ctx is cancelled or its deadline passes before an item becomes
// available, Get returns ErrEmpty.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.pop()
			q.mu.Unlock()
			return item, nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			var zero T
			return zero, ErrEmpty
		}
	}
}

// Len returns the number of currently buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the configured capacity, or 0 for an unbounded queue.
func (q *Queue[T]) Cap() int {
	return q.capacity
}

func (q *Queue[T]) full() bool {
	return q.capacity > 0 && len(q.items) >= q.capacity
}

// append and pop must be called with q.mu held. Both close the current
// changed channel so blocked callers re-check their condition.
func (q *Queue[T]) append(item T) {
	q.items = append(q.items, item)
	q.wake()
}

func (q *Queue[T]) pop() T {
	item := q.items[0]
	var zero T
	q.items[0] = zero // release the reference for GC
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	q.wake()
	return item
}

func (q *Queue[T]) wake() {
	close(q.changed)
	q.changed = make(chan struct{})
}
