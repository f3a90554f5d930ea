// Package evbuf implements the binary event buffer: a packed,
// timestamp-ordered byte arena holding the MIDI-like events of one
// processing block.
//
// Each record is encoded little endian as
//
//	[8-byte timestamp][4-byte size][size bytes payload]
//
// A Buffer is written by one goroutine at a time (the audio thread once the
// owning port is live). Methods that run on the audio thread never allocate.
package evbuf

import (
	"encoding/binary"

	"github.com/patchgraph/ingen/internal/errors"
)

// HeaderSize is the encoded size of a record header
const HeaderSize = 12

const (
	tsOffset   = 0
	sizeOffset = 8
)

// Sentinel errors returned by buffer construction, Merge and Join.
var (
	ErrCapacity      = errors.NewStd("evbuf: capacity must exceed the record header")
	ErrEmptyInput    = errors.NewStd("evbuf: merge inputs must both be non-empty")
	ErrNoCapacity    = errors.NewStd("evbuf: destination lacks capacity for merge")
	ErrOutOfOrder    = errors.NewStd("evbuf: timestamp precedes latest appended event")
	ErrAlreadyJoined = errors.NewStd("evbuf: buffer is already joined")
	ErrSelfJoin      = errors.NewStd("evbuf: buffer cannot join itself")
	ErrStaleAlias    = errors.NewStd("evbuf: joined buffer was released")
	ErrReleased      = errors.NewStd("evbuf: buffer was released")
)

// arena is the shared write state of a buffer. A joined buffer points at
// the arena of the buffer it aliases.
type arena struct {
	data   []byte
	size   int
	count  uint32
	latest uint64
}

// Buffer is a binary event buffer. Its storage is either Owned (its own
// arena) or AliasOf another buffer at a recorded generation.
type Buffer struct {
	own      arena
	alias    *Buffer
	aliasGen uint32
	gen      uint32
	released bool
	frames   uint32
	readPos  int
}

// New allocates a buffer of capacity bytes for blocks of frames samples.
// Allocation happens once, at graph-build time.
func New(capacity int, frames uint32) (*Buffer, error) {
	if capacity <= HeaderSize {
		return nil, errors.New(ErrCapacity).
			Component("evbuf").
			Category(errors.CategoryEventBuffer).
			Context("capacity", capacity).
			Build()
	}
	return &Buffer{
		own:    arena{data: make([]byte, capacity)},
		frames: frames,
	}, nil
}

// storage resolves the arena this buffer reads and writes, or nil when the
// buffer was released or aliases a released buffer.
func (b *Buffer) storage() *arena {
	if b.alias == nil {
		if b.released {
			return nil
		}
		return &b.own
	}
	if b.alias.released || b.alias.gen != b.aliasGen {
		return nil
	}
	return &b.alias.own
}

// Validate reports whether the buffer storage is usable
func (b *Buffer) Validate() error {
	if b.alias != nil && b.storage() == nil {
		return ErrStaleAlias
	}
	if b.released {
		return ErrReleased
	}
	return nil
}

// Append writes one record. It returns false without writing anything when
// the remaining capacity is below HeaderSize+len(payload), when ts is
// earlier than the latest appended timestamp, or when the storage is stale.
func (b *Buffer) Append(ts uint64, payload []byte) bool {
	a := b.storage()
	if a == nil {
		return false
	}
	need := HeaderSize + len(payload)
	if len(a.data)-a.size < need {
		return false
	}
	if a.count > 0 && ts < a.latest {
		return false
	}

	rec := a.data[a.size : a.size+need]
	binary.LittleEndian.PutUint64(rec[tsOffset:], ts)
	binary.LittleEndian.PutUint32(rec[sizeOffset:], uint32(len(payload)))
	copy(rec[HeaderSize:], payload)

	a.size += need
	a.count++
	a.latest = ts
	return true
}

// Reset logically empties the buffer and rewinds the read cursor. Called
// once per block. Resetting a joined buffer empties the shared arena.
func (b *Buffer) Reset() {
	if a := b.storage(); a != nil {
		a.size = 0
		a.count = 0
		a.latest = 0
	}
	b.readPos = 0
}

// Rewind moves the read cursor to the first record
func (b *Buffer) Rewind() {
	b.readPos = 0
}

// Current decodes the record under the read cursor
func (b *Buffer) Current() (ts uint64, payload []byte, ok bool) {
	a := b.storage()
	if a == nil || b.readPos+HeaderSize > a.size {
		return 0, nil, false
	}
	return decode(a.data, b.readPos)
}

// Advance moves the read cursor past the current record and reports
// whether another record follows.
func (b *Buffer) Advance() bool {
	a := b.storage()
	if a == nil || b.readPos+HeaderSize > a.size {
		return false
	}
	size := binary.LittleEndian.Uint32(a.data[b.readPos+sizeOffset:])
	b.readPos += HeaderSize + int(size)
	return b.readPos+HeaderSize <= a.size
}

// NextTime returns the timestamp under the read cursor, or Frames() when the
// buffer is exhausted.
func (b *Buffer) NextTime() uint64 {
	ts, _, ok := b.Current()
	if !ok {
		return uint64(b.frames)
	}
	return ts
}

func decode(data []byte, pos int) (ts uint64, payload []byte, ok bool) {
	ts = binary.LittleEndian.Uint64(data[pos+tsOffset:])
	size := int(binary.LittleEndian.Uint32(data[pos+sizeOffset:]))
	start := pos + HeaderSize
	return ts, data[start : start+size : start+size], true
}

// Size returns the encoded bytes in use
func (b *Buffer) Size() int {
	if a := b.storage(); a != nil {
		return a.size
	}
	return 0
}

// Capacity returns the arena size in bytes
func (b *Buffer) Capacity() int {
	if a := b.storage(); a != nil {
		return len(a.data)
	}
	return 0
}

// Free returns the unused bytes
func (b *Buffer) Free() int {
	if a := b.storage(); a != nil {
		return len(a.data) - a.size
	}
	return 0
}

// Count returns the number of records
func (b *Buffer) Count() uint32 {
	if a := b.storage(); a != nil {
		return a.count
	}
	return 0
}

// Latest returns the latest appended timestamp
func (b *Buffer) Latest() uint64 {
	if a := b.storage(); a != nil {
		return a.latest
	}
	return 0
}

// Empty reports whether the buffer holds no records
func (b *Buffer) Empty() bool {
	return b.Count() == 0
}

// Frames returns the block length used as the exhausted sentinel
func (b *Buffer) Frames() uint32 {
	return b.frames
}

// Generation returns the release generation of the buffer's own arena
func (b *Buffer) Generation() uint32 {
	return b.gen
}

// Release marks the buffer destroyed. Buffers still joined to it report
// ErrStaleAlias from then on.
func (b *Buffer) Release() {
	b.released = true
	b.gen++
	b.alias = nil
}

// Event is one decoded record
type Event struct {
	Time    uint64
	Payload []byte
}

// Events decodes every record into a new slice. It allocates and is meant
// for tests and non real-time inspection.
func (b *Buffer) Events() []Event {
	a := b.storage()
	if a == nil {
		return nil
	}
	events := make([]Event, 0, a.count)
	for pos := 0; pos+HeaderSize <= a.size; {
		ts, payload, _ := decode(a.data, pos)
		events = append(events, Event{Time: ts, Payload: append([]byte(nil), payload...)})
		pos += HeaderSize + len(payload)
	}
	return events
}
