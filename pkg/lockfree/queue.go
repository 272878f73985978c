// Package lockfree provides lock-free data structures for handing work
// between goroutines without blocking the consumer.
package lockfree

import (
	"runtime"
	"sync/atomic"
)

// Queue is a bounded lock-free multi-producer queue using per-slot sequence
// numbers. Any number of goroutines may Enqueue; Dequeue is safe for several
// consumers too, though stockpile only ever drains from the driver goroutine.
type Queue[T any] struct {
	buffer   []cell[T]
	capacity uint64
	mask     uint64

	// Separate enqueue and dequeue indices on different cache lines
	enqueuePos atomic.Uint64
	_padding1  [7]uint64 //nolint:unused

	dequeuePos atomic.Uint64
	_padding2  [7]uint64 //nolint:unused
}

// cell is a queue slot. sequence tells producers and consumers whose turn
// it is: pos when free for the producer at pos, pos+1 once filled.
type cell[T any] struct {
	sequence atomic.Uint64
	value    T
}

// NewQueue creates a queue holding at least capacity items.
// Capacity will be rounded up to the next power of 2 for efficient masking,
// and is never below 2: with a single slot a filled cell looks free to the
// next producer.
func NewQueue[T any](capacity int) *Queue[T] {
	size := uint64(2)
	for size < uint64(capacity) {
		size <<= 1
	}

	q := &Queue[T]{
		buffer:   make([]cell[T], size),
		capacity: size,
		mask:     size - 1,
	}
	for i := uint64(0); i < size; i++ {
		q.buffer[i].sequence.Store(i)
	}
	return q
}

// Enqueue adds an item. It returns false without blocking when the queue is
// full.
func (q *Queue[T]) Enqueue(item T) bool {
	for {
		pos := q.enqueuePos.Load()
		c := &q.buffer[pos&q.mask]
		seq := c.sequence.Load()

		diff := int64(seq) - int64(pos)
		if diff == 0 {
			if q.enqueuePos.CompareAndSwap(pos, pos+1) {
				c.value = item
				c.sequence.Store(pos + 1)
				return true
			}
		} else if diff < 0 {
			return false
		}

		// Another producer moved first, retry
		runtime.Gosched()
	}
}

// Dequeue removes the oldest item. The boolean is false when the queue is
// empty.
func (q *Queue[T]) Dequeue() (T, bool) {
	var zero T
	for {
		pos := q.dequeuePos.Load()
		c := &q.buffer[pos&q.mask]
		seq := c.sequence.Load()

		diff := int64(seq) - int64(pos+1)
		if diff == 0 {
			if q.dequeuePos.CompareAndSwap(pos, pos+1) {
				item := c.value
				c.value = zero
				c.sequence.Store(pos + q.capacity)
				return item, true
			}
		} else if diff < 0 {
			return zero, false
		}

		runtime.Gosched()
	}
}

// Len returns the number of queued items.
// This is an approximation in concurrent scenarios.
func (q *Queue[T]) Len() int {
	enq := q.enqueuePos.Load()
	deq := q.dequeuePos.Load()
	if enq < deq {
		return 0
	}
	return int(enq - deq)
}

// Cap returns the queue capacity after rounding.
func (q *Queue[T]) Cap() int {
	return int(q.capacity)
}

// AtomicCounter provides a lock-free counter for statistics
// with atomic operations for thread-safe updates.
type AtomicCounter struct {
	value atomic.Uint64
}

// Increment atomically increments the counter by one.
func (c *AtomicCounter) Increment() {
	c.value.Add(1)
}

// Get returns the current value of the counter atomically.
func (c *AtomicCounter) Get() uint64 {
	return c.value.Load()
}
