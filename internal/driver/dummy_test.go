package driver

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchgraph/ingen/internal/errors"
)

func TestDummyCycleCallsProcess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	d, err := NewDummy(func(nframes uint32, out [][]float32) {
		calls.Add(1)
		assert.Equal(t, uint32(32), nframes)
		require.Len(t, out, 2)
		for c := range out {
			for i := range out[c][:nframes] {
				out[c][i] = float32(c + 1)
			}
		}
	}, 48000, 32, 2)
	require.NoError(t, err)

	d.Cycle(3)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, uint64(96), d.FrameTime())
	assert.InDelta(t, 2, d.Output()[1][31], 1e-6)
	assert.Equal(t, uint32(48000), d.SampleRate())
	assert.Equal(t, uint32(32), d.BlockSize())
}

func TestDummyTicker(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	d, err := NewDummy(func(uint32, [][]float32) { calls.Add(1) }, 48000, 64, 1)
	require.NoError(t, err)
	d.SetInterval(time.Millisecond)

	require.NoError(t, d.Activate())
	require.NoError(t, d.Activate())
	assert.True(t, d.Running())
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 5*time.Second, time.Millisecond)

	require.NoError(t, d.Deactivate())
	require.NoError(t, d.Deactivate())
	assert.False(t, d.Running())
	stopped := calls.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load(), "no callback after Deactivate")
}

func TestNewDummyValidatesFormat(t *testing.T) {
	t.Parallel()

	_, err := NewDummy(func(uint32, [][]float32) {}, 0, 64, 2)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = DummyFactory(48000, 64, 0)(func(uint32, [][]float32) {})
	require.Error(t, err)
}
