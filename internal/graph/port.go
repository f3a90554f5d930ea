package graph

import (
	"math"
	"sync/atomic"

	"github.com/patchgraph/ingen/internal/evbuf"
	"github.com/patchgraph/ingen/internal/plugins"
)

// BufferConfig sizes the buffers allocated for every port
type BufferConfig struct {
	BlockSize     uint32
	EventCapacity int
}

// Port is an input or output of a node or patch.
//
// The value is an atomic float32 written by SetPortValue events on the
// audio thread and read by clients. Buffers are allocated once at creation
// and only touched by the audio thread while the port is live.
type Port struct {
	object

	block  Block
	index  int
	symbol string
	dir    plugins.Direction
	typ    evbuf.Kind
	min    float32
	max    float32
	def    float32

	value     atomic.Uint32
	monitored atomic.Bool
	overflows atomic.Uint64

	audio   []float32
	events  *evbuf.Buffer
	scratch *evbuf.Buffer
}

func newPort(block Block, index int, d plugins.PortDescriptor, cfg BufferConfig) (*Port, error) {
	p := &Port{
		object: object{path: block.Path().Child(d.Symbol)},
		block:  block,
		index:  index,
		symbol: d.Symbol,
		dir:    d.Direction,
		typ:    d.Type,
		min:    d.Min,
		max:    d.Max,
		def:    d.Default,
	}
	p.value.Store(math.Float32bits(d.Default))

	switch d.Type {
	case evbuf.KindAudio:
		p.audio = make([]float32, cfg.BlockSize)
	case evbuf.KindEvent:
		var err error
		if p.events, err = evbuf.New(cfg.EventCapacity, cfg.BlockSize); err != nil {
			return nil, err
		}
		// Node outputs are only ever written by their plugin
		if _, isNode := block.(*Node); !isNode || d.Direction == plugins.Input {
			if p.scratch, err = evbuf.New(cfg.EventCapacity, cfg.BlockSize); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

func (p *Port) Kind() ObjectKind { return ObjectPort }

// Retired reports whether the owning block was retired
func (p *Port) Retired() bool { return p.block.Retired() }

// Block returns the node or patch owning the port
func (p *Port) Block() Block { return p.block }

func (p *Port) Index() int                   { return p.index }
func (p *Port) Symbol() string               { return p.symbol }
func (p *Port) Direction() plugins.Direction { return p.dir }
func (p *Port) Type() evbuf.Kind             { return p.typ }
func (p *Port) IsInput() bool                { return p.dir == plugins.Input }
func (p *Port) IsOutput() bool               { return p.dir == plugins.Output }
func (p *Port) Default() float32             { return p.def }

// Range returns the suggested value bounds
func (p *Port) Range() (lo, hi float32) { return p.min, p.max }

// Value returns the current control value
func (p *Port) Value() float32 {
	return math.Float32frombits(p.value.Load())
}

// SetValue stores v. Audio inputs without connections are filled with the
// value each block.
func (p *Port) SetValue(v float32) {
	p.value.Store(math.Float32bits(v))
}

// Monitored reports whether value snapshots are broadcast for this port
func (p *Port) Monitored() bool { return p.monitored.Load() }

// SetMonitored toggles value monitoring
func (p *Port) SetMonitored(on bool) { p.monitored.Store(on) }

// Overflows counts event mixes dropped for lack of buffer capacity
func (p *Port) Overflows() uint64 { return p.overflows.Load() }

// Audio returns the audio buffer truncated to nframes
func (p *Port) Audio(nframes uint32) []float32 {
	if p.audio == nil {
		return nil
	}
	return p.audio[:min(nframes, uint32(len(p.audio)))]
}

// Events returns the event buffer, nil for non-event ports
func (p *Port) Events() *evbuf.Buffer { return p.events }

// Peak returns the absolute peak of the first nframes audio samples, or
// the control value for other port types.
func (p *Port) Peak(nframes uint32) float32 {
	if p.typ != evbuf.KindAudio {
		return p.Value()
	}
	var peak float32
	for _, s := range p.Audio(nframes) {
		if s < 0 {
			s = -s
		}
		peak = max(peak, s)
	}
	return peak
}

// mergeFrom adds the events of src to the port buffer in time order
func (p *Port) mergeFrom(src *evbuf.Buffer) {
	if src.Empty() {
		return
	}
	var err error
	if p.events.Empty() || p.scratch == nil {
		err = evbuf.Copy(p.events, src)
	} else {
		p.scratch.Reset()
		if err = evbuf.Merge(p.scratch, p.events, src); err == nil {
			p.events.Reset()
			err = evbuf.Copy(p.events, p.scratch)
		}
	}
	if err != nil {
		p.overflows.Add(1)
	}
}

// silence clears the port's output for one block
func (p *Port) silence(nframes uint32) {
	switch p.typ {
	case evbuf.KindAudio:
		clear(p.Audio(nframes))
	case evbuf.KindEvent:
		p.events.Reset()
	}
}

func (p *Port) release() {
	if p.events != nil {
		p.events.Unjoin()
		p.events.Release()
	}
	if p.scratch != nil {
		p.scratch.Release()
	}
}
