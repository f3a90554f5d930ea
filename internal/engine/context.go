package engine

import (
	"github.com/patchgraph/ingen/internal/graph"
)

// ProcessContext is handed to Apply on the audio thread. It is reused
// across blocks and must not be retained.
type ProcessContext struct {
	engine *Engine
	block  FrameRange
	offset uint32
}

// Block returns the frame range being processed
func (c *ProcessContext) Block() FrameRange { return c.block }

// Offset returns the frame offset of the event being applied
func (c *ProcessContext) Offset() uint32 { return c.offset }

// Engine returns the engine running the block
func (c *ProcessContext) Engine() *Engine { return c.engine }

// Retire unlinks b from the audio graph and hands it to the maid
func (c *ProcessContext) Retire(b graph.Block) {
	if r, ok := b.(interface{ Retire() }); ok {
		r.Retire()
	}
	if r, ok := b.(Reclaimable); ok {
		c.engine.maid.Push(r)
	}
}

// commit installs the event's staged process orders. Nothing is installed
// when a target patch was retired since Prepare.
func (c *ProcessContext) commit(ev *Event) bool {
	for _, sw := range ev.swaps {
		if sw.Patch != nil && sw.Patch.Retired() {
			ev.Fail(OutcomeNotFound, "parent patch no longer exists")
			return false
		}
	}
	for _, sw := range ev.swaps {
		if old := sw.Commit(); old != nil {
			c.engine.maid.Push(old)
		}
	}
	ev.committed = true
	return true
}
