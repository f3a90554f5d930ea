package graph

import "fmt"

// Handle is a stable reference to an arena slot. A handle goes stale when
// its slot is freed; the generation tells a reused slot apart.
type Handle struct {
	Index uint32
	Gen   uint32
}

// NilHandle never resolves
var NilHandle = Handle{}

// IsNil reports whether h is the zero handle
func (h Handle) IsNil() bool {
	return h == NilHandle
}

func (h Handle) String() string {
	return fmt.Sprintf("%d@%d", h.Index, h.Gen)
}

type slot[T any] struct {
	value T
	gen   uint32
	live  bool
}

// Arena stores values in reusable slots addressed by Handle. It is not
// safe for concurrent use; Store guards it.
type Arena[T any] struct {
	slots []slot[T]
	free  []uint32
	live  int
}

// NewArena returns an arena with room for capacity values before growing
func NewArena[T any](capacity int) *Arena[T] {
	// Slot 0 is reserved so the zero Handle never resolves
	slots := make([]slot[T], 1, capacity+1)
	return &Arena[T]{slots: slots}
}

// Insert stores v and returns its handle
func (a *Arena[T]) Insert(v T) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot[T]{gen: 1})
	}
	s := &a.slots[idx]
	s.value = v
	s.live = true
	a.live++
	return Handle{Index: idx, Gen: s.gen}
}

// Get resolves h
func (a *Arena[T]) Get(h Handle) (T, bool) {
	var zero T
	if h.Index == 0 || int(h.Index) >= len(a.slots) {
		return zero, false
	}
	s := &a.slots[h.Index]
	if !s.live || s.gen != h.Gen {
		return zero, false
	}
	return s.value, true
}

// Remove frees h's slot and bumps its generation
func (a *Arena[T]) Remove(h Handle) (T, bool) {
	v, ok := a.Get(h)
	if !ok {
		return v, false
	}
	s := &a.slots[h.Index]
	var zero T
	s.value = zero
	s.live = false
	s.gen++
	a.free = append(a.free, h.Index)
	a.live--
	return v, true
}

// Len returns the number of live values
func (a *Arena[T]) Len() int {
	return a.live
}
