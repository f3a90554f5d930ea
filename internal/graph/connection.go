package graph

import (
	"github.com/patchgraph/ingen/internal/evbuf"
	"github.com/patchgraph/ingen/internal/plugins"
)

// Connection routes a source port into a destination port inside a patch
type Connection struct {
	src *Port
	dst *Port
}

func (c *Connection) Src() *Port { return c.src }
func (c *Connection) Dst() *Port { return c.dst }

func (c *Connection) String() string {
	return c.src.Path().String() + " -> " + c.dst.Path().String()
}

// sourcePatch returns the patch in which port can feed a connection: the
// parent of a block output, or the patch itself for a patch input.
func sourcePatch(port *Port) *Patch {
	if port.dir == plugins.Output {
		return port.block.Parent()
	}
	if patch, ok := port.block.(*Patch); ok {
		return patch
	}
	return nil
}

// sinkPatch returns the patch in which port can receive a connection: the
// parent of a block input, or the patch itself for a patch output.
func sinkPatch(port *Port) *Patch {
	if port.dir == plugins.Input {
		return port.block.Parent()
	}
	if patch, ok := port.block.(*Patch); ok {
		return patch
	}
	return nil
}

// connectionPatch validates src -> dst and returns the patch that owns
// the connection.
func connectionPatch(src, dst *Port) (*Patch, error) {
	if src == dst {
		return nil, errConnection(src.Path(), dst.Path(), ErrInvalidConnection)
	}
	if src.typ != dst.typ {
		return nil, errConnection(src.Path(), dst.Path(), ErrTypeMismatch)
	}
	sp, dp := sourcePatch(src), sinkPatch(dst)
	if sp == nil || dp == nil || sp != dp {
		return nil, errConnection(src.Path(), dst.Path(), ErrInvalidConnection)
	}
	return sp, nil
}

// joinable reports whether dst can alias src's event storage instead of
// copying it. Node outputs own their storage outright, so aliasing them
// never chains.
func joinable(src, dst *Port) bool {
	if !evbuf.CanJoin(src.typ, dst.typ) {
		return false
	}
	_, isNode := src.block.(*Node)
	return isNode && src.dir == plugins.Output
}
