package wavrender

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// square writes +/-0.5 alternating every block on channel 0
func square() func(uint32, [][]float32) {
	sign := float32(0.5)
	return func(nframes uint32, out [][]float32) {
		for i := range nframes {
			out[0][i] = sign
			out[1][i] = 0
		}
		sign = -sign
	}
}

func TestRenderWritesPCM(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "render.wav")
	r, err := New(path, square(), 8000, 100, 2)
	require.NoError(t, err)

	stats, err := r.Render(context.Background(), 250)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), stats.Frames)
	assert.InDelta(t, 0.5, stats.Peak, 1e-6)
	assert.Equal(t, path, r.Path())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, 2, buf.Format.NumChannels)
	assert.Equal(t, 8000, buf.Format.SampleRate)
	require.Len(t, buf.Data, 500)

	half := int(math.Round(0.5 * math.MaxInt16))
	assert.Equal(t, half, buf.Data[0])
	assert.Equal(t, 0, buf.Data[1])
	assert.Equal(t, -half, buf.Data[200], "second block flips sign")
}

func TestRenderHonorsContext(t *testing.T) {
	t.Parallel()

	r, err := New(filepath.Join(t.TempDir(), "cancel.wav"), square(), 8000, 100, 2)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := r.Render(ctx, 1000)
	require.Error(t, err)
	assert.Zero(t, stats.Frames)
}

func TestToPCM16Clamps(t *testing.T) {
	t.Parallel()

	assert.Equal(t, math.MaxInt16, toPCM16(2))
	assert.Equal(t, -math.MaxInt16, toPCM16(-2))
	assert.Equal(t, 0, toPCM16(0))
}
