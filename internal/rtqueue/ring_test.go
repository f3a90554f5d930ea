package rtqueue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityRoundsUp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2, New[int](0).Cap())
	assert.Equal(t, 2, New[int](2).Cap())
	assert.Equal(t, 8, New[int](5).Cap())
	assert.Equal(t, 1024, New[int](1024).Cap())
}

func TestPushPopFIFO(t *testing.T) {
	t.Parallel()

	r := New[int](4)
	for i := range 4 {
		require.True(t, r.Push(i))
	}
	assert.True(t, r.Full())
	assert.False(t, r.Push(99), "push fails when full")
	assert.Equal(t, 4, r.Len())

	v, ok := r.Peek()
	require.True(t, ok)
	assert.Equal(t, 0, v)

	for i := range 4 {
		v, ok := r.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok = r.Pop()
	assert.False(t, ok)
	_, ok = r.Peek()
	assert.False(t, ok)
}

func TestPopClearsSlot(t *testing.T) {
	t.Parallel()

	r := New[*int](2)
	x := 7
	require.True(t, r.Push(&x))
	_, ok := r.Pop()
	require.True(t, ok)
	assert.Nil(t, r.slots[0])
}

func TestWrapAround(t *testing.T) {
	t.Parallel()

	r := New[int](2)
	for i := range 100 {
		require.True(t, r.Push(i))
		v, ok := r.Pop()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	assert.Zero(t, r.Len())
}

func TestConcurrentProducerConsumer(t *testing.T) {
	t.Parallel()

	const n = 100_000
	r := New[int](64)
	got := make([]int, 0, n)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; {
			if r.Push(i) {
				i++
			}
		}
	}()
	go func() {
		defer wg.Done()
		for len(got) < n {
			if v, ok := r.Pop(); ok {
				got = append(got, v)
			}
		}
	}()
	wg.Wait()

	require.Len(t, got, n)
	for i, v := range got {
		if v != i {
			t.Fatalf("item %d out of order: got %d", i, v)
		}
	}
}

func TestPushPopDoNotAllocate(t *testing.T) {
	r := New[int](8)
	allocs := testing.AllocsPerRun(1000, func() {
		r.Push(1)
		r.Pop()
	})
	assert.Zero(t, allocs)
}
