package evbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuffer(t *testing.T, capacity int) *Buffer {
	t.Helper()
	b, err := New(capacity, 256)
	require.NoError(t, err)
	return b
}

func TestNewRejectsTinyCapacity(t *testing.T) {
	t.Parallel()

	_, err := New(HeaderSize, 64)
	require.ErrorIs(t, err, ErrCapacity)
}

func TestAppendAndRead(t *testing.T) {
	t.Parallel()

	b := newBuffer(t, 256)
	require.True(t, b.Append(0, []byte{0x90, 0x40, 0x40}))
	require.True(t, b.Append(10, []byte{0x80, 0x40, 0x00}))
	require.True(t, b.Append(10, []byte{0xB0, 0x07}))

	assert.Equal(t, uint32(3), b.Count())
	assert.Equal(t, 3*HeaderSize+8, b.Size())
	assert.Equal(t, uint64(10), b.Latest())

	b.Rewind()
	ts, payload, ok := b.Current()
	require.True(t, ok)
	assert.Equal(t, uint64(0), ts)
	assert.Equal(t, []byte{0x90, 0x40, 0x40}, payload)

	require.True(t, b.Advance())
	assert.Equal(t, uint64(10), b.NextTime())
	require.True(t, b.Advance())
	_, payload, ok = b.Current()
	require.True(t, ok)
	assert.Equal(t, []byte{0xB0, 0x07}, payload)

	assert.False(t, b.Advance())
	_, _, ok = b.Current()
	assert.False(t, ok)
	assert.Equal(t, uint64(256), b.NextTime(), "exhausted buffer returns the frame count")
}

func TestEmptyBufferNeverInventsData(t *testing.T) {
	t.Parallel()

	b := newBuffer(t, 64)
	_, _, ok := b.Current()
	assert.False(t, ok)
	assert.False(t, b.Advance())
	assert.Equal(t, uint64(256), b.NextTime())
	assert.Empty(t, b.Events())
}

func TestAppendRejectsOutOfOrder(t *testing.T) {
	t.Parallel()

	b := newBuffer(t, 128)
	require.True(t, b.Append(5, []byte{1}))
	assert.False(t, b.Append(4, []byte{2}))
	assert.Equal(t, uint32(1), b.Count())
	assert.Equal(t, uint64(5), b.Latest())

	require.True(t, b.Append(5, []byte{3}), "equal timestamps are accepted")
}

func TestAppendMonotonicProperty(t *testing.T) {
	t.Parallel()

	b := newBuffer(t, 4096)
	stamps := []uint64{3, 1, 4, 1, 5, 9, 2, 6, 5, 3, 5, 8, 9, 7, 9}
	for _, ts := range stamps {
		b.Append(ts, []byte{byte(ts)})
	}

	events := b.Events()
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		assert.LessOrEqual(t, events[i-1].Time, events[i].Time)
	}
}

func TestAppendCapacityRejectionKeepsRecords(t *testing.T) {
	t.Parallel()

	b := newBuffer(t, 2*HeaderSize+4)
	require.True(t, b.Append(1, []byte{1, 2}))
	require.True(t, b.Append(2, []byte{3, 4}))
	assert.Equal(t, 0, b.Free())

	assert.False(t, b.Append(3, nil), "a header alone no longer fits")

	events := b.Events()
	require.Len(t, events, 2)
	assert.Equal(t, Event{Time: 1, Payload: []byte{1, 2}}, events[0])
	assert.Equal(t, Event{Time: 2, Payload: []byte{3, 4}}, events[1])
}

func TestAppendRejectsPartialFit(t *testing.T) {
	t.Parallel()

	b := newBuffer(t, HeaderSize+2)
	assert.False(t, b.Append(0, []byte{1, 2, 3}))
	assert.Equal(t, 0, b.Size())
	assert.True(t, b.Append(0, []byte{1, 2}))
}

func TestReset(t *testing.T) {
	t.Parallel()

	b := newBuffer(t, 128)
	require.True(t, b.Append(50, []byte{1}))
	b.Reset()

	assert.True(t, b.Empty())
	assert.Equal(t, 0, b.Size())
	require.True(t, b.Append(0, []byte{2}), "latest timestamp resets with the block")
}

func TestAppendDoesNotAllocate(t *testing.T) {
	b := newBuffer(t, 1<<16)
	msg := NoteOn(0, 60, 100)

	allocs := testing.AllocsPerRun(100, func() {
		b.Reset()
		b.Append(1, msg[:])
		b.Rewind()
		_, _, _ = b.Current()
		b.Advance()
	})
	assert.Zero(t, allocs)
}

func TestMIDIHelpers(t *testing.T) {
	t.Parallel()

	on := NoteOn(2, 60, 100)
	assert.Equal(t, Message{0x92, 60, 100}, on)
	assert.True(t, IsNoteOn(on[:]))
	assert.False(t, IsNoteOff(on[:]))
	assert.Equal(t, uint8(2), Channel(on[:]))

	off := NoteOff(2, 60)
	assert.True(t, IsNoteOff(off[:]))

	zeroVel := NoteOn(0, 60, 0)
	assert.False(t, IsNoteOn(zeroVel[:]))
	assert.True(t, IsNoteOff(zeroVel[:]), "note-on with zero velocity is a note-off")

	allOff := AllNotesOff(0)
	assert.True(t, IsAllNotesOff(allOff[:]))
	assert.False(t, IsNoteOn(nil))
	assert.Equal(t, byte(0), Status(nil))
}
