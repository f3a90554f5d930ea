package driver

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/patchgraph/ingen/internal/errors"
	"github.com/patchgraph/ingen/internal/rtqueue"
)

// MaxMIDIMessage is the largest message Inject accepts
const MaxMIDIMessage = 3

// midiRecordSize is the encoded size of one ring record:
// [8-byte frame time][4-byte size][3 bytes message, zero padded]
const midiRecordSize = 8 + 4 + MaxMIDIMessage

// midiPumpPoll bounds how long records wait when the decoded queue was full
const midiPumpPoll = time.Millisecond

// ErrMIDIFull is returned when the ring has no room for a record
var ErrMIDIFull = errors.NewStd("midi input ring is full")

// midiRecord is a decoded ring record
type midiRecord struct {
	ts   uint64
	size uint8
	data [MaxMIDIMessage]byte
}

// MIDIInput carries channel messages from MIDI producers to the audio
// callback. Injectors write fixed-size records to a byte ring; a pump
// goroutine decodes them into a wait-free queue that the audio callback
// drains. Any goroutine may Inject; only the audio callback Drains.
type MIDIInput struct {
	ring    *ringbuffer.RingBuffer
	decoded *rtqueue.Ring[midiRecord]
	clock   func() uint64

	writeMu sync.Mutex // keeps records whole across concurrent injectors
	pumpMu  sync.Mutex // single producer for decoded
	dropped atomic.Uint64
	wake    chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// Audio callback state
	scratch [MaxMIDIMessage]byte
}

// NewMIDIInput returns an input holding size bytes of records. clock
// stamps messages injected without an explicit time.
func NewMIDIInput(size int, clock func() uint64) *MIDIInput {
	if size < midiRecordSize {
		size = midiRecordSize
	}
	records := size / midiRecordSize
	return &MIDIInput{
		ring:    ringbuffer.New(records * midiRecordSize),
		decoded: rtqueue.New[midiRecord](records),
		clock:   clock,
		wake:    make(chan struct{}, 1),
	}
}

// Start runs the pump. Starting a running pump has no effect.
func (m *MIDIInput) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
}

// Stop ends the pump and waits for it
func (m *MIDIInput) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
}

func (m *MIDIInput) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(midiPumpPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-ticker.C:
		}
		m.Pump()
	}
}

// Pump decodes queued records into the audio callback's queue until the
// ring is empty or the queue is full, returning how many it moved. The
// running pump goroutine calls it; tests may call it directly.
func (m *MIDIInput) Pump() int {
	m.pumpMu.Lock()
	defer m.pumpMu.Unlock()
	var raw [midiRecordSize]byte
	n := 0
	for !m.decoded.Full() {
		if m.ring.Length() < midiRecordSize {
			return n
		}
		if _, err := m.ring.Read(raw[:]); err != nil {
			return n
		}
		rec := midiRecord{
			ts:   binary.LittleEndian.Uint64(raw[0:8]),
			size: uint8(min(binary.LittleEndian.Uint32(raw[8:12]), MaxMIDIMessage)),
		}
		copy(rec.data[:], raw[12:])
		m.decoded.Push(rec)
		n++
	}
	return n
}

// Inject queues msg at the current frame time
func (m *MIDIInput) Inject(msg []byte) error {
	var now uint64
	if m.clock != nil {
		now = m.clock()
	}
	return m.InjectAt(now, msg)
}

// InjectAt queues msg at frame ts. Messages must be injected in
// non-decreasing time order; the audio callback clamps stragglers.
func (m *MIDIInput) InjectAt(ts uint64, msg []byte) error {
	if len(msg) == 0 || len(msg) > MaxMIDIMessage {
		return errors.Newf("midi message of %d bytes", len(msg)).
			Component(component).
			Category(errors.CategoryMIDIDriver).
			Context("size", len(msg)).
			Build()
	}
	var rec [midiRecordSize]byte
	binary.LittleEndian.PutUint64(rec[0:8], ts)
	binary.LittleEndian.PutUint32(rec[8:12], uint32(len(msg)))
	copy(rec[12:], msg)

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.ring.Free() < midiRecordSize {
		m.dropped.Add(1)
		return errors.New(ErrMIDIFull).
			Component(component).
			Category(errors.CategoryMIDIDriver).
			Build()
	}
	if _, err := m.ring.Write(rec[:]); err != nil {
		m.dropped.Add(1)
		return errors.New(err).
			Component(component).
			Category(errors.CategoryMIDIDriver).
			Build()
	}
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

// Drain calls fn for every decoded message stamped before end, in
// injection order. The first message at or after end stays queued for a
// later block. msg is only valid during the call. Audio callback only;
// it never takes a lock.
func (m *MIDIInput) Drain(end uint64, fn func(ts uint64, msg []byte)) int {
	n := 0
	for {
		rec, ok := m.decoded.Peek()
		if !ok || rec.ts >= end {
			return n
		}
		m.decoded.Pop()
		m.scratch = rec.data
		fn(rec.ts, m.scratch[:rec.size])
		n++
	}
}

// Pending returns the number of queued messages, decoded or not
func (m *MIDIInput) Pending() int {
	return m.ring.Length()/midiRecordSize + m.decoded.Len()
}

// Dropped returns the number of messages rejected because the ring was full
func (m *MIDIInput) Dropped() uint64 { return m.dropped.Load() }

// Reset discards queued messages. Only call while the audio callback and
// the pump are stopped.
func (m *MIDIInput) Reset() {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.ring.Reset()
	for {
		if _, ok := m.decoded.Pop(); !ok {
			return
		}
	}
}
