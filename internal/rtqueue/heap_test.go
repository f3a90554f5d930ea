package rtqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stamped struct {
	at  int
	seq int
}

func lessStamped(a, b stamped) bool {
	if a.at != b.at {
		return a.at < b.at
	}
	return a.seq < b.seq
}

func TestHeapPopsInOrder(t *testing.T) {
	t.Parallel()

	h := NewHeap[int](8, func(a, b int) bool { return a < b })
	for _, v := range []int{5, 1, 7, 3, 3, 0, 9} {
		require.True(t, h.Push(v))
	}
	v, ok := h.Peek()
	require.True(t, ok)
	assert.Equal(t, 0, v)

	var got []int
	for h.Len() > 0 {
		v, _ := h.Pop()
		got = append(got, v)
	}
	assert.Equal(t, []int{0, 1, 3, 3, 5, 7, 9}, got)
	_, ok = h.Pop()
	assert.False(t, ok)
}

func TestHeapIsStableBySequence(t *testing.T) {
	t.Parallel()

	h := NewHeap[stamped](8, lessStamped)
	for i, at := range []int{4, 2, 4, 2, 4} {
		require.True(t, h.Push(stamped{at: at, seq: i}))
	}
	var got []stamped
	for h.Len() > 0 {
		v, _ := h.Pop()
		got = append(got, v)
	}
	assert.Equal(t, []stamped{{2, 1}, {2, 3}, {4, 0}, {4, 2}, {4, 4}}, got)
}

func TestHeapRejectsWhenFull(t *testing.T) {
	t.Parallel()

	h := NewHeap[int](2, func(a, b int) bool { return a < b })
	require.True(t, h.Push(2))
	require.True(t, h.Push(1))
	assert.True(t, h.Full())
	assert.False(t, h.Push(0))
	assert.Equal(t, 2, h.Cap())

	v, _ := h.Pop()
	assert.Equal(t, 1, v)
	assert.False(t, h.Full())
}

func TestHeapPushDoesNotAllocate(t *testing.T) {
	h := NewHeap[int](64, func(a, b int) bool { return a < b })
	allocs := testing.AllocsPerRun(100, func() {
		for i := range 64 {
			h.Push(64 - i)
		}
		for h.Len() > 0 {
			h.Pop()
		}
	})
	assert.Zero(t, allocs)
}
