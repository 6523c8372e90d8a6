package pipeline

import (
	"sync"
)

// BoundedQueue is a thread-safe fixed-capacity ring buffer. Unlike a
// channel it exposes depth and overflow accounting, and close-with-drain
// semantics: receivers see remaining items before the closed signal.
type BoundedQueue[T any] struct {
	mu       sync.Mutex
	sendCond *sync.Cond
	recvCond *sync.Cond
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	// Stats
	totalEnqueued int64
	totalDequeued int64
}

// NewBoundedQueue creates a queue with the given capacity.
func NewBoundedQueue[T any](capacity int) *BoundedQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &BoundedQueue[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
	q.sendCond = sync.NewCond(&q.mu)
	q.recvCond = sync.NewCond(&q.mu)
	return q
}

// TrySend adds an item without blocking. Returns false if the queue is
// full or closed.
func (q *BoundedQueue[T]) TrySend(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.count == q.capacity {
		return false
	}
	q.enqueue(item)
	return true
}

// Send adds an item, blocking while the queue is full. Returns false if
// the queue is closed.
func (q *BoundedQueue[T]) Send(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == q.capacity && !q.closed {
		q.sendCond.Wait()
	}
	if q.closed {
		return false
	}
	q.enqueue(item)
	return true
}

// Receive removes and returns an item, blocking until one is available
// or the queue is closed and drained.
func (q *BoundedQueue[T]) Receive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.recvCond.Wait()
	}
	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.dequeue(), true
}

// TryReceive removes an item without blocking.
func (q *BoundedQueue[T]) TryReceive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.dequeue(), true
}

// Close closes the queue. Senders fail immediately; receivers drain
// remaining items, then observe the close.
func (q *BoundedQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.sendCond.Broadcast()
	q.recvCond.Broadcast()
}

// Closed reports whether the queue is closed.
func (q *BoundedQueue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the current depth.
func (q *BoundedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the capacity.
func (q *BoundedQueue[T]) Cap() int {
	return q.capacity
}

// Stats returns queue statistics.
func (q *BoundedQueue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Depth:         q.count,
		Capacity:      q.capacity,
		TotalEnqueued: q.totalEnqueued,
		TotalDequeued: q.totalDequeued,
	}
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Depth         int
	Capacity      int
	TotalEnqueued int64
	TotalDequeued int64
}

// enqueue adds an item. Must be called with lock held and space free.
func (q *BoundedQueue[T]) enqueue(item T) {
	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % q.capacity
	q.count++
	q.totalEnqueued++
	q.recvCond.Signal()
}

// dequeue removes an item. Must be called with lock held and count > 0.
func (q *BoundedQueue[T]) dequeue() T {
	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero // Clear reference for GC
	q.head = (q.head + 1) % q.capacity
	q.count--
	q.totalDequeued++
	q.sendCond.Signal()
	return item
}
