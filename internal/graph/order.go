package graph

import (
	"sync/atomic"

	"github.com/patchgraph/ingen/internal/evbuf"
	"github.com/patchgraph/ingen/internal/plugins"
)

// mixTarget gathers the sources feeding one input (or patch output) port
type mixTarget struct {
	dst    *Port
	srcs   []*Port
	join   bool
	joined bool
}

// ProcessOrder is the audio thread's view of a patch: blocks in dependency
// order with the mixing work for each block's inputs. It is immutable once
// compiled except for the join state, which only the audio thread touches.
type ProcessOrder struct {
	patch   *Patch
	blocks  []Block
	inputs  [][]mixTarget
	sinks   []mixTarget
	sources []*Port
	outputs []*Port

	gen       atomic.Uint32
	reclaimed atomic.Bool
}

// Compile builds a process order from the patch's control view using
// Kahn's algorithm. Blocks without dependencies between them keep their
// creation order. A cycle yields ErrCycle.
func Compile(p *Patch) (*ProcessOrder, error) {
	n := len(p.blocks)
	index := make(map[Block]int, n)
	for i, b := range p.blocks {
		index[b] = i
	}

	indegree := make([]int, n)
	edges := make([][]int, n)
	sources := make(map[*Port][]*Port)
	for _, c := range p.connections {
		sources[c.dst] = append(sources[c.dst], c.src)
		from, fromBlock := index[c.src.block]
		to, toBlock := index[c.dst.block]
		if !fromBlock || !toBlock {
			continue
		}
		edges[from] = append(edges[from], to)
		indegree[to]++
	}

	queue := make([]int, 0, n)
	for i := range n {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}
	o := &ProcessOrder{patch: p, blocks: make([]Block, 0, n)}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		o.blocks = append(o.blocks, p.blocks[i])
		for _, j := range edges[i] {
			if indegree[j]--; indegree[j] == 0 {
				queue = append(queue, j)
			}
		}
	}
	if len(o.blocks) != n {
		return nil, errConnection(p.Path(), p.Path(), ErrCycle)
	}

	o.inputs = make([][]mixTarget, len(o.blocks))
	for i, b := range o.blocks {
		for _, port := range b.Ports() {
			if port.dir != plugins.Input {
				continue
			}
			srcs := sources[port]
			o.inputs[i] = append(o.inputs[i], mixTarget{
				dst:  port,
				srcs: srcs,
				join: len(srcs) == 1 && joinable(srcs[0], port),
			})
		}
	}
	for _, port := range p.ports {
		if port.dir == plugins.Output {
			o.sinks = append(o.sinks, mixTarget{dst: port, srcs: sources[port]})
			o.outputs = append(o.outputs, port)
		} else {
			o.sources = append(o.sources, port)
		}
	}
	return o, nil
}

// Patch returns the patch the order was compiled for
func (o *ProcessOrder) Patch() *Patch { return o.patch }

// Blocks returns the blocks in processing order
func (o *ProcessOrder) Blocks() []Block { return o.blocks }

// Inputs returns the patch's input ports at compile time
func (o *ProcessOrder) Inputs() []*Port { return o.sources }

// Input returns the patch input named symbol as of compile time. Safe on
// the audio thread, unlike Patch.Port.
func (o *ProcessOrder) Input(symbol string) (*Port, bool) {
	for _, port := range o.sources {
		if port.symbol == symbol {
			return port, true
		}
	}
	return nil, false
}

// Outputs returns the patch's output ports at compile time
func (o *ProcessOrder) Outputs() []*Port { return o.outputs }

// Install joins single-source event inputs to their source buffers.
// Called on the audio thread when the order becomes current.
func (o *ProcessOrder) Install() {
	for i := range o.inputs {
		for j := range o.inputs[i] {
			t := &o.inputs[i][j]
			if t.join && !t.joined {
				t.joined = t.dst.events.Join(t.srcs[0].events) == nil
			}
		}
	}
}

// Uninstall undoes Install. Called on the audio thread when the order is
// replaced, before it is handed to the maid.
func (o *ProcessOrder) Uninstall() {
	for i := range o.inputs {
		for j := range o.inputs[i] {
			t := &o.inputs[i][j]
			if t.joined {
				t.dst.events.Unjoin()
				t.joined = false
			}
		}
	}
}

// Run mixes each block's inputs, processes the block, then mixes the
// patch outputs.
func (o *ProcessOrder) Run(nframes uint32) {
	for i, b := range o.blocks {
		for j := range o.inputs[i] {
			o.inputs[i][j].mix(nframes)
		}
		b.Process(nframes)
	}
	for j := range o.sinks {
		o.sinks[j].mix(nframes)
	}
}

func (o *ProcessOrder) silence(nframes uint32) {
	for _, p := range o.outputs {
		p.silence(nframes)
	}
}

// ResetInputs empties the event buffers of the patch's input ports. The
// engine calls it on the root patch before writing driver input.
func (o *ProcessOrder) ResetInputs() {
	for _, p := range o.sources {
		if p.typ == evbuf.KindEvent {
			p.events.Reset()
		}
	}
}

// Generation is bumped when the order is reclaimed
func (o *ProcessOrder) Generation() uint32 { return o.gen.Load() }

// Reclaim drops the order's references. Runs off the audio thread.
func (o *ProcessOrder) Reclaim() {
	if !o.reclaimed.CompareAndSwap(false, true) {
		return
	}
	o.gen.Add(1)
	o.blocks = nil
	o.inputs = nil
	o.sinks = nil
}

func (t *mixTarget) mix(nframes uint32) {
	d := t.dst
	switch d.typ {
	case evbuf.KindAudio:
		buf := d.Audio(nframes)
		if len(t.srcs) == 0 {
			v := d.Value()
			for i := range buf {
				buf[i] = v
			}
			return
		}
		copy(buf, t.srcs[0].Audio(nframes))
		for _, s := range t.srcs[1:] {
			for i, v := range s.Audio(nframes) {
				buf[i] += v
			}
		}
	case evbuf.KindControl:
		if len(t.srcs) == 0 {
			return
		}
		var sum float32
		for _, s := range t.srcs {
			sum += s.Value()
		}
		d.SetValue(sum)
	case evbuf.KindEvent:
		if t.joined {
			return
		}
		d.events.Reset()
		for _, s := range t.srcs {
			d.mergeFrom(s.events)
		}
	}
}
