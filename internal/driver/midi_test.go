package driver

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchgraph/ingen/internal/errors"
)

type drained struct {
	ts  uint64
	msg []byte
}

// drainAll pumps the ring, then drains up to end
func drainAll(m *MIDIInput, end uint64) []drained {
	m.Pump()
	var got []drained
	m.Drain(end, func(ts uint64, msg []byte) {
		got = append(got, drained{ts: ts, msg: append([]byte(nil), msg...)})
	})
	return got
}

func TestMIDIInputDrainHoldsFutureMessages(t *testing.T) {
	t.Parallel()

	m := NewMIDIInput(1024, nil)
	require.NoError(t, m.InjectAt(10, []byte{0x90, 60, 100}))
	require.NoError(t, m.InjectAt(70, []byte{0x80, 60, 0}))
	require.NoError(t, m.InjectAt(80, []byte{0xC0, 5}))

	got := drainAll(m, 64)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(10), got[0].ts)
	assert.Equal(t, []byte{0x90, 60, 100}, got[0].msg)

	// Messages past the block end stay queued
	assert.Equal(t, 2, m.Pending())
	got = drainAll(m, 128)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(70), got[0].ts)
	assert.Equal(t, []byte{0xC0, 5}, got[1].msg, "short messages keep their length")
	assert.Empty(t, drainAll(m, 1<<20))
}

func TestMIDIInputStampsWithClock(t *testing.T) {
	t.Parallel()

	m := NewMIDIInput(1024, func() uint64 { return 4096 })
	require.NoError(t, m.Inject([]byte{0x90, 1, 1}))
	got := drainAll(m, 4097)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(4096), got[0].ts)
}

func TestMIDIInputRejects(t *testing.T) {
	t.Parallel()

	m := NewMIDIInput(2*midiRecordSize, nil)
	err := m.InjectAt(0, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMIDIDriver))
	require.Error(t, m.InjectAt(0, []byte{0xF0, 1, 2, 3}))
	assert.Zero(t, m.Dropped(), "malformed messages are not counted as drops")

	require.NoError(t, m.InjectAt(0, []byte{0x90, 1, 1}))
	require.NoError(t, m.InjectAt(0, []byte{0x90, 2, 1}))
	err = m.InjectAt(0, []byte{0x90, 3, 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMIDIFull)
	assert.Equal(t, uint64(1), m.Dropped())

	m.Reset()
	assert.Zero(t, m.Pending())
	assert.Empty(t, drainAll(m, 1000))
}

func TestMIDIInputConcurrentInjectKeepsRecordsWhole(t *testing.T) {
	t.Parallel()

	m := NewMIDIInput(64*midiRecordSize, nil)
	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 16 {
				_ = m.InjectAt(0, []byte{0x90, byte(w), byte(i)})
			}
		}()
	}
	wg.Wait()

	got := drainAll(m, 1)
	assert.Len(t, got, 64)
	for _, d := range got {
		require.Len(t, d.msg, 3)
		assert.Equal(t, byte(0x90), d.msg[0])
		assert.Less(t, d.msg[1], byte(4))
	}
}

func TestMIDIInputDrainSeesOnlyPumpedMessages(t *testing.T) {
	t.Parallel()

	m := NewMIDIInput(1024, nil)
	require.NoError(t, m.InjectAt(0, []byte{0x90, 60, 100}))

	n := m.Drain(64, func(uint64, []byte) { t.Error("undecoded message drained") })
	assert.Zero(t, n)
	assert.Equal(t, 1, m.Pending())

	assert.Equal(t, 1, m.Pump())
	assert.Len(t, drainAll(m, 64), 1)
	assert.Zero(t, m.Pending())
}

func TestMIDIInputPumpStopsWhenQueueIsFull(t *testing.T) {
	t.Parallel()

	m := NewMIDIInput(4*midiRecordSize, nil)
	for i := range 4 {
		require.NoError(t, m.InjectAt(uint64(i), []byte{0x90, byte(i), 1}))
	}
	assert.Equal(t, 4, m.Pump())
	require.NoError(t, m.InjectAt(4, []byte{0x90, 4, 1}))
	assert.Zero(t, m.Pump(), "decoded queue is full")

	got := drainAll(m, 2)
	require.Len(t, got, 2)
	got = drainAll(m, 10)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(4), got[2].ts)
}

func TestMIDIInputPumpGoroutine(t *testing.T) {
	t.Parallel()

	m := NewMIDIInput(1024, nil)
	m.Start()
	m.Start()
	defer m.Stop()

	require.NoError(t, m.InjectAt(5, []byte{0x90, 64, 90}))
	var got []drained
	require.Eventually(t, func() bool {
		m.Drain(64, func(ts uint64, msg []byte) {
			got = append(got, drained{ts: ts, msg: append([]byte(nil), msg...)})
		})
		return len(got) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, []byte{0x90, 64, 90}, got[0].msg)

	m.Stop()
	m.Stop()
}
