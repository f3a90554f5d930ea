// Package rtqueue provides the wait-free single-producer/single-consumer
// ring used for every handoff to and from the audio thread.
//
// Exactly one goroutine may call Push and exactly one may call Pop/Peek.
// Neither side ever blocks or allocates.
package rtqueue

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Ring is a bounded SPSC FIFO. The zero value is not usable; use New.
type Ring[T any] struct {
	_     cpu.CacheLinePad
	head  atomic.Uint64 // next slot to read, owned by the consumer
	_     cpu.CacheLinePad
	tail  atomic.Uint64 // next slot to write, owned by the producer
	_     cpu.CacheLinePad
	mask  uint64
	slots []T
}

// New returns a ring holding at least capacity items. The capacity is
// rounded up to a power of two, minimum 2.
func New[T any](capacity int) *Ring[T] {
	size := uint64(2)
	for size < uint64(max(capacity, 0)) {
		size <<= 1
	}
	return &Ring[T]{
		mask:  size - 1,
		slots: make([]T, size),
	}
}

// Push appends v and reports false when the ring is full
func (r *Ring[T]) Push(v T) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() > r.mask {
		return false
	}
	r.slots[tail&r.mask] = v
	// The store publishes the slot write to the consumer
	r.tail.Store(tail + 1)
	return true
}

// Pop removes the oldest item
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	head := r.head.Load()
	if head == r.tail.Load() {
		return zero, false
	}
	idx := head & r.mask
	v := r.slots[idx]
	// Drop the reference so retired objects are collectable
	r.slots[idx] = zero
	r.head.Store(head + 1)
	return v, true
}

// Peek returns the oldest item without removing it
func (r *Ring[T]) Peek() (T, bool) {
	head := r.head.Load()
	if head == r.tail.Load() {
		var zero T
		return zero, false
	}
	return r.slots[head&r.mask], true
}

// Len returns the number of queued items. It is exact only when called from
// the producer or consumer goroutine.
func (r *Ring[T]) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Cap returns the ring capacity
func (r *Ring[T]) Cap() int {
	return len(r.slots)
}

// Full reports whether a Push would fail
func (r *Ring[T]) Full() bool {
	return r.Len() >= r.Cap()
}
