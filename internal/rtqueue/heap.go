package rtqueue

// Heap is a fixed-capacity binary min-heap owned by a single goroutine.
// It never grows, so Push and Pop do not allocate.
type Heap[T any] struct {
	items []T
	less  func(a, b T) bool
}

// NewHeap returns a heap holding at most capacity items ordered by less
func NewHeap[T any](capacity int, less func(a, b T) bool) *Heap[T] {
	return &Heap[T]{items: make([]T, 0, max(capacity, 1)), less: less}
}

// Push adds v and reports false when the heap is full
func (h *Heap[T]) Push(v T) bool {
	if len(h.items) == cap(h.items) {
		return false
	}
	h.items = append(h.items, v)
	h.up(len(h.items) - 1)
	return true
}

// Peek returns the least item without removing it
func (h *Heap[T]) Peek() (T, bool) {
	if len(h.items) == 0 {
		var zero T
		return zero, false
	}
	return h.items[0], true
}

// Pop removes the least item
func (h *Heap[T]) Pop() (T, bool) {
	var zero T
	n := len(h.items) - 1
	if n < 0 {
		return zero, false
	}
	v := h.items[0]
	h.items[0] = h.items[n]
	h.items[n] = zero
	h.items = h.items[:n]
	if n > 0 {
		h.down(0)
	}
	return v, true
}

// Len returns the number of items
func (h *Heap[T]) Len() int {
	return len(h.items)
}

// Cap returns the heap capacity
func (h *Heap[T]) Cap() int {
	return cap(h.items)
}

// Full reports whether a Push would fail
func (h *Heap[T]) Full() bool {
	return len(h.items) == cap(h.items)
}

func (h *Heap[T]) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(h.items[i], h.items[parent]) {
			return
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *Heap[T]) down(i int) {
	n := len(h.items)
	for {
		least := i
		if l := 2*i + 1; l < n && h.less(h.items[l], h.items[least]) {
			least = l
		}
		if r := 2*i + 2; r < n && h.less(h.items[r], h.items[least]) {
			least = r
		}
		if least == i {
			return
		}
		h.items[i], h.items[least] = h.items[least], h.items[i]
		i = least
	}
}
