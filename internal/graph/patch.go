package graph

import (
	"slices"
	"sync/atomic"

	"github.com/patchgraph/ingen/internal/evbuf"
	"github.com/patchgraph/ingen/internal/plugins"
)

// Patch is a container of nodes and sub-patches with its own ports. The
// root patch has no parent.
type Patch struct {
	object
	lifecycle

	parent    *Patch
	polyphony int
	cfg       BufferConfig
	enabled   atomic.Bool

	// Control view, guarded by the Store lock
	ports       []*Port
	blocks      []Block
	connections []*Connection

	order atomic.Pointer[ProcessOrder]
}

// NewPatch creates a disabled patch at path. Parent is nil for the root.
func NewPatch(parent *Patch, path Path, polyphony int, cfg BufferConfig) *Patch {
	p := &Patch{
		object:    object{path: path},
		parent:    parent,
		polyphony: max(polyphony, 1),
		cfg:       cfg,
	}
	p.order.Store(&ProcessOrder{patch: p})
	return p
}

func (p *Patch) Kind() ObjectKind { return ObjectPatch }
func (p *Patch) Parent() *Patch   { return p.parent }
func (p *Patch) Polyphony() int   { return p.polyphony }
func (p *Patch) IsRoot() bool     { return p.parent == nil }

// Ports returns the patch's own ports (control view)
func (p *Patch) Ports() []*Port { return p.ports }

// Blocks returns the nodes and sub-patches in creation order (control view)
func (p *Patch) Blocks() []Block { return p.blocks }

// Connections returns the patch's connections (control view)
func (p *Patch) Connections() []*Connection { return p.connections }

// Retired reports whether the patch or an enclosing patch was retired
func (p *Patch) Retired() bool {
	if p.retired.Load() {
		return true
	}
	return p.parent != nil && p.parent.Retired()
}

// Enabled reports whether the patch processes audio
func (p *Patch) Enabled() bool { return p.enabled.Load() }

// SetEnabled starts or stops processing. Called on the audio thread.
func (p *Patch) SetEnabled(on bool) { p.enabled.Store(on) }

// Order returns the process order currently used by the audio thread
func (p *Patch) Order() *ProcessOrder { return p.order.Load() }

// Port returns the patch port named symbol (control view)
func (p *Patch) Port(symbol string) (*Port, bool) {
	for _, port := range p.ports {
		if port.symbol == symbol {
			return port, true
		}
	}
	return nil, false
}

// addPort creates a patch port. Only reachable from the audio thread once
// a recompiled order is swapped in.
func (p *Patch) addPort(symbol string, dir plugins.Direction, typ evbuf.Kind, def float32) (*Port, error) {
	port, err := newPort(p, len(p.ports), plugins.PortDescriptor{
		Symbol:    symbol,
		Name:      symbol,
		Direction: dir,
		Type:      typ,
		Default:   def,
		Max:       1,
	}, p.cfg)
	if err != nil {
		return nil, err
	}
	p.ports = append(p.ports, port)
	return port, nil
}

func (p *Patch) addBlock(b Block) {
	p.blocks = append(p.blocks, b)
}

func (p *Patch) removeBlock(b Block) {
	p.blocks = slices.DeleteFunc(p.blocks, func(x Block) bool { return x == b })
	p.connections = slices.DeleteFunc(p.connections, func(c *Connection) bool {
		return c.src.block == b || c.dst.block == b
	})
}

// Process runs one block of the patch. A disabled patch outputs silence.
func (p *Patch) Process(nframes uint32) {
	o := p.order.Load()
	if !p.enabled.Load() {
		o.silence(nframes)
		return
	}
	o.Run(nframes)
}

// Swap installs o as the process order and returns the replaced order for
// the maid. Called on the audio thread.
func (p *Patch) Swap(o *ProcessOrder) *ProcessOrder {
	old := p.order.Load()
	if old == o {
		return nil
	}
	old.Uninstall()
	o.Install()
	p.order.Store(o)
	return old
}

// Reclaim reclaims every block of the patch, its order and its ports. It
// runs once, off the audio thread, after the patch was unlinked.
func (p *Patch) Reclaim() {
	if !p.beginReclaim() {
		return
	}
	if o := p.order.Load(); o != nil {
		o.Uninstall()
		o.Reclaim()
	}
	for _, b := range p.blocks {
		if r, ok := b.(interface{ Reclaim() }); ok {
			r.Reclaim()
		}
	}
	for _, port := range p.ports {
		port.release()
	}
	p.blocks = nil
	p.connections = nil
}
