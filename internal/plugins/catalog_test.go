package plugins

import (
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchgraph/ingen/internal/errors"
	"github.com/patchgraph/ingen/internal/evbuf"
	"github.com/patchgraph/ingen/internal/logger"
)

func newTestCatalog() *Catalog {
	return NewCatalog(logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC))
}

func TestCatalogBuiltins(t *testing.T) {
	t.Parallel()

	c := newTestCatalog()
	uris := make([]string, 0)
	for _, d := range c.Plugins() {
		uris = append(uris, d.URI)
	}
	assert.Equal(t, []string{URIControlSum, URIGain, URIMIDINote, URIMixer, URISine}, uris)
}

func TestCatalogLookup(t *testing.T) {
	t.Parallel()

	c := newTestCatalog()

	d, ok := c.Plugin(URIGain)
	require.True(t, ok)
	assert.Equal(t, 1, d.PortIndex("gain"))
	assert.Equal(t, -1, d.PortIndex("nope"))

	short, ok := c.Plugin("gain")
	require.True(t, ok)
	assert.Same(t, d, short)

	_, ok = c.Plugin("urn:ingen:missing")
	assert.False(t, ok)
	_, ok = c.Plugin("urn:ingen:missing")
	assert.False(t, ok, "cached miss")
}

type silence struct{ stateless }

func (silence) Run(*IO, uint32) {}

func TestRegisterInvalidatesMisses(t *testing.T) {
	t.Parallel()

	c := newTestCatalog()
	_, ok := c.Plugin("urn:test:silence")
	require.False(t, ok)

	require.NoError(t, c.Register(Descriptor{URI: "urn:test:silence", Name: "Silence"}, func(Params) Instance { return silence{} }))
	_, ok = c.Plugin("urn:test:silence")
	assert.True(t, ok)

	err := c.Register(Descriptor{URI: "urn:test:silence"}, func(Params) Instance { return silence{} })
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))
}

func TestInstantiateErrors(t *testing.T) {
	t.Parallel()

	c := newTestCatalog()
	_, err := c.Instantiate(nil, "x", 1, 48000, 64)
	require.ErrorIs(t, err, ErrUnknownPlugin)
	assert.True(t, errors.IsNotFound(err))

	d, _ := c.Plugin(URISine)
	_, err = c.Instantiate(d, "osc", 1, 0, 64)
	require.Error(t, err)
}

func runPlugin(t *testing.T, uri string, nframes uint32, setup func(io *IO)) (Instance, *IO) {
	t.Helper()
	c := newTestCatalog()
	d, ok := c.Plugin(uri)
	require.True(t, ok)
	inst, err := c.Instantiate(d, "test", 1, 48000, nframes)
	require.NoError(t, err)

	io := NewIO(len(d.Ports))
	for i, p := range d.Ports {
		switch p.Type {
		case evbuf.KindAudio:
			io.Audio[i] = make([]float32, nframes)
		case evbuf.KindControl:
			io.Control[i] = p.Default
		case evbuf.KindEvent:
			buf, err := evbuf.New(256, nframes)
			require.NoError(t, err)
			io.Events[i] = buf
		}
	}
	if setup != nil {
		setup(&io)
	}
	inst.Activate()
	inst.Run(&io, nframes)
	return inst, &io
}

func TestGainAndMixer(t *testing.T) {
	t.Parallel()

	_, io := runPlugin(t, URIGain, 4, func(io *IO) {
		copy(io.Audio[0], []float32{1, -1, 0.5, 0})
		io.Control[1] = 2
	})
	assert.Equal(t, []float32{2, -2, 1, 0}, io.Audio[2])

	_, io = runPlugin(t, URIMixer, 2, func(io *IO) {
		copy(io.Audio[0], []float32{1, 2})
		copy(io.Audio[1], []float32{3, 4})
		io.Control[2] = 0.5
	})
	assert.Equal(t, []float32{2, 3}, io.Audio[3])
}

func TestControlSum(t *testing.T) {
	t.Parallel()

	_, io := runPlugin(t, URIControlSum, 1, func(io *IO) {
		io.Control[0], io.Control[1] = 1.5, 2
	})
	assert.InDelta(t, 3.5, io.Control[2], 1e-6)
}

func TestSineStartsAtZeroPhase(t *testing.T) {
	t.Parallel()

	_, io := runPlugin(t, URISine, 64, func(io *IO) {
		io.Control[0] = 12000 // quarter of the sample rate
		io.Control[1] = 1
	})
	out := io.Audio[2]
	assert.InDelta(t, 0, out[0], 1e-6)
	assert.InDelta(t, 1, out[1], 1e-5)
	assert.InDelta(t, 0, out[2], 1e-5)
	assert.InDelta(t, -1, out[3], 1e-5)
}

func TestMIDINote(t *testing.T) {
	t.Parallel()

	inst, io := runPlugin(t, URIMIDINote, 64, func(io *IO) {
		on1, on2, off2 := evbuf.NoteOn(0, 69, 127), evbuf.NoteOn(0, 81, 64), evbuf.NoteOff(0, 81)
		require.True(t, io.Events[0].Append(0, on1[:]))
		require.True(t, io.Events[0].Append(10, on2[:]))
		require.True(t, io.Events[0].Append(20, off2[:]))
	})
	assert.InDelta(t, 440, io.Control[1], 1e-3, "released note falls back to the held one")
	assert.InDelta(t, 1, io.Control[2], 0)
	assert.InDelta(t, 1, io.Control[3], 1e-6)

	io.Events[0].Reset()
	allOff := evbuf.AllNotesOff(0)
	require.True(t, io.Events[0].Append(0, allOff[:]))
	inst.Run(io, 64)
	assert.InDelta(t, 0, io.Control[2], 0)
	assert.InDelta(t, 440, io.Control[1], 1e-3, "frequency holds after release")
}

func TestMIDINoteReceiver(t *testing.T) {
	t.Parallel()

	inst, io := runPlugin(t, URIMIDINote, 64, func(*IO) {})
	nr, ok := inst.(NoteReceiver)
	require.True(t, ok)

	nr.NoteOn(60, 127, 0)
	nr.NoteOn(69, 64, 12)
	io.Events[0].Reset()
	inst.Run(io, 64)
	assert.InDelta(t, 440, io.Control[1], 1e-3)
	assert.InDelta(t, 64.0/127, io.Control[3], 1e-6)

	nr.NoteOff(69, 0)
	inst.Run(io, 64)
	assert.InDelta(t, NoteFrequency(60), io.Control[1], 1e-3)

	nr.NoteOn(60, 0, 0)
	inst.Run(io, 64)
	assert.InDelta(t, 0, io.Control[2], 0, "velocity zero releases")

	nr.NoteOn(72, 90, 0)
	nr.AllNotesOff(0)
	inst.Run(io, 64)
	assert.InDelta(t, 0, io.Control[2], 0)

	_, ok = any(&gain{}).(NoteReceiver)
	assert.False(t, ok)
}

func TestNoteFrequency(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 440, NoteFrequency(69), 1e-4)
	assert.InDelta(t, 261.6256, NoteFrequency(60), 1e-3)
	assert.InDelta(t, 880, NoteFrequency(81), 1e-3)
	assert.False(t, math.IsNaN(float64(NoteFrequency(0))))
}
