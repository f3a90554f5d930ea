package plugins

import (
	"math"

	"github.com/patchgraph/ingen/internal/evbuf"
)

// Built-in plugin URIs
const (
	URIGain       = "urn:ingen:gain"
	URISine       = "urn:ingen:sine"
	URIMIDINote   = "urn:ingen:midi-note"
	URIControlSum = "urn:ingen:control-sum"
	URIMixer      = "urn:ingen:mixer"
)

func audioIn(symbol, name string) PortDescriptor {
	return PortDescriptor{Symbol: symbol, Name: name, Direction: Input, Type: evbuf.KindAudio}
}

func audioOut(symbol, name string) PortDescriptor {
	return PortDescriptor{Symbol: symbol, Name: name, Direction: Output, Type: evbuf.KindAudio}
}

func controlIn(symbol, name string, def, lo, hi float32) PortDescriptor {
	return PortDescriptor{Symbol: symbol, Name: name, Direction: Input, Type: evbuf.KindControl, Default: def, Min: lo, Max: hi}
}

func controlOut(symbol, name string, lo, hi float32) PortDescriptor {
	return PortDescriptor{Symbol: symbol, Name: name, Direction: Output, Type: evbuf.KindControl, Min: lo, Max: hi}
}

func builtinDescriptors() []*Descriptor {
	return []*Descriptor{
		{
			URI:   URIGain,
			Name:  "Gain",
			Class: "amplifier",
			Ports: []PortDescriptor{
				audioIn("in", "In"),
				controlIn("gain", "Gain", 1, 0, 4),
				audioOut("out", "Out"),
			},
			factory: func(Params) Instance { return &gain{} },
		},
		{
			URI:   URISine,
			Name:  "Sine Oscillator",
			Class: "oscillator",
			Ports: []PortDescriptor{
				controlIn("freq", "Frequency", 440, 1, 20000),
				controlIn("amp", "Amplitude", 0.5, 0, 1),
				audioOut("out", "Out"),
			},
			factory: func(p Params) Instance { return &sine{sampleRate: float64(p.SampleRate)} },
		},
		{
			URI:   URIMIDINote,
			Name:  "MIDI Note",
			Class: "converter",
			Ports: []PortDescriptor{
				{Symbol: "in", Name: "In", Direction: Input, Type: evbuf.KindEvent},
				controlOut("freq", "Frequency", 0, 20000),
				controlOut("gate", "Gate", 0, 1),
				controlOut("velocity", "Velocity", 0, 1),
			},
			factory: func(Params) Instance { return newMIDINote() },
		},
		{
			URI:   URIControlSum,
			Name:  "Control Sum",
			Class: "utility",
			Ports: []PortDescriptor{
				controlIn("a", "A", 0, -1e6, 1e6),
				controlIn("b", "B", 0, -1e6, 1e6),
				controlOut("out", "Out", -2e6, 2e6),
			},
			factory: func(Params) Instance { return &controlSum{} },
		},
		{
			URI:   URIMixer,
			Name:  "Mixer",
			Class: "mixer",
			Ports: []PortDescriptor{
				audioIn("in_1", "In 1"),
				audioIn("in_2", "In 2"),
				controlIn("level", "Level", 1, 0, 4),
				audioOut("out", "Out"),
			},
			factory: func(Params) Instance { return &mixer{} },
		},
	}
}

// stateless embeds no-op lifecycle methods
type stateless struct{}

func (stateless) Activate()   {}
func (stateless) Deactivate() {}
func (stateless) Cleanup()    {}

type gain struct{ stateless }

func (g *gain) Run(io *IO, nframes uint32) {
	in, out, k := io.Audio[0], io.Audio[2], io.Control[1]
	for i := range nframes {
		out[i] = in[i] * k
	}
}

type sine struct {
	stateless
	sampleRate float64
	phase      float64
}

func (s *sine) Activate() { s.phase = 0 }

func (s *sine) Run(io *IO, nframes uint32) {
	freq, amp, out := float64(io.Control[0]), io.Control[1], io.Audio[2]
	inc := 2 * math.Pi * freq / s.sampleRate
	for i := range nframes {
		out[i] = amp * float32(math.Sin(s.phase))
		s.phase += inc
		if s.phase >= 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
}

type controlSum struct{ stateless }

func (c *controlSum) Run(io *IO, _ uint32) {
	io.Control[2] = io.Control[0] + io.Control[1]
}

type mixer struct{ stateless }

func (m *mixer) Run(io *IO, nframes uint32) {
	a, b, level, out := io.Audio[0], io.Audio[1], io.Control[2], io.Audio[3]
	for i := range nframes {
		out[i] = (a[i] + b[i]) * level
	}
}

// maxHeldNotes bounds the note stack of the MIDI note converter
const maxHeldNotes = 16

// midiNote converts note events to frequency, gate and velocity controls.
// The most recently pressed held note wins.
type midiNote struct {
	held     [maxHeldNotes]uint8
	velocity [maxHeldNotes]uint8
	n        int
	limit    int
}

var _ NoteReceiver = (*midiNote)(nil)

func newMIDINote() *midiNote {
	return &midiNote{limit: maxHeldNotes}
}

func (m *midiNote) Activate()   { m.n = 0 }
func (m *midiNote) Deactivate() { m.n = 0 }
func (m *midiNote) Cleanup()    {}

func (m *midiNote) Run(io *IO, _ uint32) {
	in := io.Events[0]
	if in != nil {
		in.Rewind()
		for {
			_, msg, ok := in.Current()
			if !ok {
				break
			}
			switch {
			case evbuf.IsNoteOn(msg):
				m.press(msg[1], msg[2])
			case evbuf.IsNoteOff(msg):
				m.release(msg[1])
			case evbuf.IsAllNotesOff(msg):
				m.n = 0
			}
			if !in.Advance() {
				break
			}
		}
	}

	if m.n == 0 {
		io.Control[2] = 0
		io.Control[3] = 0
		return
	}
	top := m.n - 1
	io.Control[1] = NoteFrequency(m.held[top])
	io.Control[2] = 1
	io.Control[3] = float32(m.velocity[top]) / 127
}

func (m *midiNote) NoteOn(note, velocity uint8, _ uint32) {
	if velocity == 0 {
		m.release(note)
		return
	}
	m.press(note, velocity)
}

func (m *midiNote) NoteOff(note uint8, _ uint32) { m.release(note) }

func (m *midiNote) AllNotesOff(_ uint32) { m.n = 0 }

func (m *midiNote) press(note, vel uint8) {
	m.release(note)
	if m.n == m.limit {
		// Steal the oldest note
		copy(m.held[:], m.held[1:m.n])
		copy(m.velocity[:], m.velocity[1:m.n])
		m.n--
	}
	m.held[m.n] = note
	m.velocity[m.n] = vel
	m.n++
}

func (m *midiNote) release(note uint8) {
	for i := 0; i < m.n; i++ {
		if m.held[i] == note {
			copy(m.held[i:], m.held[i+1:m.n])
			copy(m.velocity[i:], m.velocity[i+1:m.n])
			m.n--
			return
		}
	}
}

// NoteFrequency returns the equal-tempered frequency of a MIDI note (A4 = 69 = 440 Hz)
func NoteFrequency(note uint8) float32 {
	return float32(440 * math.Pow(2, (float64(note)-69)/12))
}
