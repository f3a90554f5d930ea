package graph

import (
	"github.com/patchgraph/ingen/internal/evbuf"
	"github.com/patchgraph/ingen/internal/plugins"
)

// Node is an instantiated plugin inside a patch. It owns its ports.
type Node struct {
	object
	lifecycle

	parent    *Patch
	desc      *plugins.Descriptor
	inst      plugins.Instance
	io        plugins.IO
	ports     []*Port
	polyphony int
}

// NewNode wraps inst as a node named symbol below parent and activates it.
// The node is not reachable from the audio thread until its parent's
// process order is swapped.
func NewNode(parent *Patch, symbol string, desc *plugins.Descriptor, inst plugins.Instance, polyphony int) (*Node, error) {
	n := &Node{
		object:    object{path: parent.Path().Child(symbol)},
		parent:    parent,
		desc:      desc,
		inst:      inst,
		io:        plugins.NewIO(len(desc.Ports)),
		polyphony: polyphony,
	}
	n.ports = make([]*Port, len(desc.Ports))
	for i, pd := range desc.Ports {
		p, err := newPort(n, i, pd, parent.cfg)
		if err != nil {
			for _, made := range n.ports[:i] {
				made.release()
			}
			return nil, err
		}
		n.ports[i] = p
		n.io.Audio[i] = p.audio
		n.io.Events[i] = p.events
		n.io.Control[i] = p.Value()
	}
	inst.Activate()
	return n, nil
}

func (n *Node) Kind() ObjectKind                { return ObjectNode }
func (n *Node) Parent() *Patch                  { return n.parent }
func (n *Node) Ports() []*Port                  { return n.ports }
func (n *Node) Descriptor() *plugins.Descriptor { return n.desc }
func (n *Node) Instance() plugins.Instance      { return n.inst }
func (n *Node) Polyphony() int                  { return n.polyphony }

// Retired reports whether the node or an enclosing patch was retired
func (n *Node) Retired() bool {
	return n.retired.Load() || n.parent.Retired()
}

// Port returns the port named symbol
func (n *Node) Port(symbol string) (*Port, bool) {
	i := n.desc.PortIndex(symbol)
	if i < 0 {
		return nil, false
	}
	return n.ports[i], true
}

// Process runs the plugin for one block. Control inputs are latched into
// the instance before Run and control outputs published after it.
func (n *Node) Process(nframes uint32) {
	for i, p := range n.ports {
		switch {
		case p.typ == evbuf.KindControl && p.dir == plugins.Input:
			n.io.Control[i] = p.Value()
		case p.typ == evbuf.KindEvent && p.dir == plugins.Output:
			p.events.Reset()
		}
	}

	n.inst.Run(&n.io, nframes)

	for i, p := range n.ports {
		if p.typ == evbuf.KindControl && p.dir == plugins.Output {
			p.SetValue(n.io.Control[i])
		}
	}
}

// Reclaim deactivates the plugin and releases the port buffers. It runs
// once, off the audio thread, after the node was unlinked.
func (n *Node) Reclaim() {
	if !n.beginReclaim() {
		return
	}
	n.inst.Deactivate()
	n.inst.Cleanup()
	for _, p := range n.ports {
		p.release()
	}
	n.io = plugins.IO{}
}
