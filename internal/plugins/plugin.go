// Package plugins provides the plugin catalog and the built-in plugin
// bodies instantiated as graph nodes.
//
// A plugin body is opaque to the engine. The engine hands an Instance its
// port buffers through IO and calls Run once per block on the audio thread.
package plugins

import (
	"github.com/patchgraph/ingen/internal/evbuf"
)

// Direction of a port relative to its owner
type Direction uint8

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// PortDescriptor describes one plugin port
type PortDescriptor struct {
	Symbol    string     `json:"symbol"`
	Name      string     `json:"name"`
	Direction Direction  `json:"direction"`
	Type      evbuf.Kind `json:"type"`
	Default   float32    `json:"default"`
	Min       float32    `json:"min"`
	Max       float32    `json:"max"`
}

// Descriptor describes a plugin available for instantiation
type Descriptor struct {
	URI   string           `json:"uri"`
	Name  string           `json:"name"`
	Class string           `json:"class"`
	Ports []PortDescriptor `json:"ports"`

	factory func(p Params) Instance
}

// PortIndex returns the index of the port with symbol, or -1
func (d *Descriptor) PortIndex(symbol string) int {
	for i := range d.Ports {
		if d.Ports[i].Symbol == symbol {
			return i
		}
	}
	return -1
}

// Params are the instantiation parameters passed to a plugin body
type Params struct {
	Name       string
	Polyphony  int
	SampleRate uint32
	BlockSize  uint32
}

// IO carries the port buffers of one instance, indexed by port. Entries
// that do not match a port's type are nil/zero.
type IO struct {
	Audio   [][]float32
	Control []float32
	Events  []*evbuf.Buffer
}

// NewIO sizes an IO for ports
func NewIO(ports int) IO {
	return IO{
		Audio:   make([][]float32, ports),
		Control: make([]float32, ports),
		Events:  make([]*evbuf.Buffer, ports),
	}
}

// Instance is an instantiated plugin body.
//
// Run is called on the audio thread and must not block or allocate. Control
// inputs are in io.Control before Run; control outputs are read from
// io.Control after Run. Output event buffers are reset by the caller.
type Instance interface {
	Activate()
	Run(io *IO, nframes uint32)
	Deactivate()
	Cleanup()
}

// NoteReceiver is implemented by instances that accept notes directly from
// stamped engine events. Calls happen on the audio thread before Run of the
// block containing offset.
type NoteReceiver interface {
	NoteOn(note, velocity uint8, offset uint32)
	NoteOff(note uint8, offset uint32)
	AllNotesOff(offset uint32)
}
