package engine

import (
	"fmt"
	"strconv"

	"github.com/patchgraph/ingen/internal/errors"
	"github.com/patchgraph/ingen/internal/graph"
)

// payloadAs returns ev's payload as T, failing the event when it has
// another type
func payloadAs[T any](ev *Event) (T, bool) {
	p, ok := ev.Payload.(T)
	if !ok {
		var zero T
		if ev.Payload == nil {
			return zero, true
		}
		ev.Fail(OutcomeInvalid, fmt.Sprintf("%s: unexpected payload %T", ev.KindName(), ev.Payload))
		return zero, false
	}
	return p, true
}

func addSwap(ev *Event, sw graph.Swap) {
	if sw.Patch != nil {
		ev.swaps = append(ev.swaps, sw)
	}
}

// applyCommit is the Apply of every kind whose only audio-side effect is
// installing staged process orders
func applyCommit(ctx *ProcessContext, ev *Event) {
	ctx.commit(ev)
}

// broadcastOK sends n when ev succeeded
func broadcastOK(e *Engine, ev *Event, n Notification) {
	if ev.OK() {
		e.broadcaster.Send(n)
	}
}

var createPatchHandler = Handler{
	Name: "create_patch",
	Prepare: func(e *Engine, ev *Event) {
		p, ok := payloadAs[CreatePatchPayload](ev)
		if !ok {
			return
		}
		poly := p.Polyphony
		if poly <= 0 {
			poly = e.settings.Polyphony
		}
		patch, sw, err := e.store.CreatePatch(ev.Path, poly)
		if err != nil {
			ev.FailErr(err)
			return
		}
		ev.created = patch
		addSwap(ev, sw)
	},
	Apply: func(ctx *ProcessContext, ev *Event) {
		if !ctx.commit(ev) {
			return
		}
		if patch, ok := ev.created.(*graph.Patch); ok && patch.IsRoot() {
			ctx.engine.root.Store(patch)
		}
	},
	Finalize: func(e *Engine, ev *Event) {
		patch, _ := ev.created.(*graph.Patch)
		if patch == nil {
			return
		}
		broadcastOK(e, ev, Notification{
			Type:       NotifyCreated,
			Path:       ev.Path.String(),
			ObjectKind: graph.ObjectPatch.String(),
			Value:      valuePtr(float32(patch.Polyphony())),
		})
	},
}

var createPortHandler = Handler{
	Name: "create_port",
	Prepare: func(e *Engine, ev *Event) {
		p, ok := payloadAs[CreatePortPayload](ev)
		if !ok {
			return
		}
		port, swaps, err := e.store.CreatePort(ev.Path, p.Direction, p.Type, p.Default)
		if err != nil {
			ev.FailErr(err)
			return
		}
		ev.created = port
		for _, sw := range swaps {
			addSwap(ev, sw)
		}
	},
	Apply: applyCommit,
	Finalize: func(e *Engine, ev *Event) {
		port, _ := ev.created.(*graph.Port)
		if port == nil {
			return
		}
		broadcastOK(e, ev, Notification{
			Type:       NotifyCreated,
			Path:       ev.Path.String(),
			ObjectKind: graph.ObjectPort.String(),
			Text:       port.Direction().String() + " " + port.Type().String(),
		})
	},
}

func enablePatchHandler(enable bool) Handler {
	name, notify := "enable_patch", NotifyEnabled
	if !enable {
		name, notify = "disable_patch", NotifyDisabled
	}
	return Handler{
		Name: name,
		Prepare: func(e *Engine, ev *Event) {
			patch, err := e.store.FindPatch(ev.Path)
			if err != nil {
				ev.FailErr(err)
				return
			}
			ev.target = patch
		},
		Apply: func(_ *ProcessContext, ev *Event) {
			patch := ev.target.(*graph.Patch)
			if patch.Retired() {
				ev.Fail(OutcomeNotFound, "patch no longer exists")
				return
			}
			patch.SetEnabled(enable)
		},
		Finalize: func(e *Engine, ev *Event) {
			broadcastOK(e, ev, Notification{Type: notify, Path: ev.Path.String()})
		},
	}
}

var clearPatchHandler = Handler{
	Name: "clear_patch",
	Prepare: func(e *Engine, ev *Event) {
		blocks, sw, err := e.store.Clear(ev.Path)
		if err != nil {
			ev.FailErr(err)
			return
		}
		ev.retire = blocks
		addSwap(ev, sw)
	},
	Apply: func(ctx *ProcessContext, ev *Event) {
		if !ctx.commit(ev) {
			return
		}
		for _, b := range ev.retire {
			ctx.Retire(b)
		}
	},
	Finalize: func(e *Engine, ev *Event) {
		broadcastOK(e, ev, Notification{Type: NotifyCleared, Path: ev.Path.String()})
	},
}

var createNodeHandler = Handler{
	Name: "create_node",
	Prepare: func(e *Engine, ev *Event) {
		p, ok := payloadAs[CreateNodePayload](ev)
		if !ok {
			return
		}
		desc, found := e.catalog.Plugin(p.PluginURI)
		if !found {
			ev.FailErr(errors.Newf("plugin %s not found", p.PluginURI).
				Component(component).
				Category(errors.CategoryNotFound).
				Context("plugin", p.PluginURI).
				Build())
			return
		}
		if !graph.IsValidPath(ev.Path.String()) || ev.Path.IsRoot() {
			ev.Fail(OutcomeInvalid, fmt.Sprintf("invalid path %q", ev.Path))
			return
		}
		if p.Unique {
			parent, base := ev.Path.Parent(), ev.Path.Base()
			if n := e.store.ChildNameOffset(parent, base); n > 0 {
				ev.Path = parent.Child(base + "_" + strconv.Itoa(n))
			}
		}
		if _, err := e.store.FindPatch(ev.Path.Parent()); err != nil {
			ev.FailErr(err)
			return
		}
		if _, taken := e.store.Find(ev.Path); taken {
			ev.Fail(OutcomeExists, ev.Path.String()+" already exists")
			return
		}

		poly := p.Polyphony
		if poly <= 0 {
			poly = e.settings.Polyphony
		}
		inst, err := e.catalog.Instantiate(desc, ev.Path.Base(), poly, e.SampleRate(), e.settings.BlockSize)
		if err != nil {
			ev.FailErr(err)
			return
		}
		node, sw, err := e.store.CreateNode(ev.Path, desc, inst, poly)
		if err != nil {
			ev.FailErr(err)
			return
		}
		ev.created = node
		addSwap(ev, sw)
	},
	Apply: applyCommit,
	Finalize: func(e *Engine, ev *Event) {
		node, _ := ev.created.(*graph.Node)
		if node == nil {
			return
		}
		if !ev.committed {
			// Never reached the audio graph
			node.Reclaim()
			return
		}
		broadcastOK(e, ev, Notification{
			Type:       NotifyCreated,
			Path:       ev.Path.String(),
			ObjectKind: graph.ObjectNode.String(),
			Plugin:     node.Descriptor().URI,
		})
	},
}

var destroyHandler = Handler{
	Name: "destroy",
	Prepare: func(e *Engine, ev *Event) {
		block, sw, err := e.store.Destroy(ev.Path)
		if err != nil {
			ev.FailErr(err)
			return
		}
		ev.retire = []graph.Block{block}
		addSwap(ev, sw)
	},
	Apply: func(ctx *ProcessContext, ev *Event) {
		if !ctx.commit(ev) {
			return
		}
		for _, b := range ev.retire {
			ctx.Retire(b)
		}
	},
	Finalize: func(e *Engine, ev *Event) {
		broadcastOK(e, ev, Notification{Type: NotifyDeleted, Path: ev.Path.String()})
	},
}

func connectPrepare(connect bool) func(e *Engine, ev *Event) {
	return func(e *Engine, ev *Event) {
		p, ok := payloadAs[ConnectPayload](ev)
		if !ok {
			return
		}
		var (
			sw  graph.Swap
			err error
		)
		if connect {
			_, sw, err = e.store.Connect(ev.Path, p.Dst)
		} else {
			sw, err = e.store.Disconnect(ev.Path, p.Dst)
		}
		if err != nil {
			ev.FailErr(err)
			return
		}
		addSwap(ev, sw)
	}
}

var connectHandler = Handler{
	Name:    "connect",
	Prepare: connectPrepare(true),
	Apply:   applyCommit,
	Finalize: func(e *Engine, ev *Event) {
		p, _ := ev.Payload.(ConnectPayload)
		broadcastOK(e, ev, Notification{Type: NotifyConnected, Path: ev.Path.String(), Dst: p.Dst.String()})
	},
}

var disconnectHandler = Handler{
	Name:    "disconnect",
	Prepare: connectPrepare(false),
	Apply:   applyCommit,
	Finalize: func(e *Engine, ev *Event) {
		p, _ := ev.Payload.(ConnectPayload)
		broadcastOK(e, ev, Notification{Type: NotifyDisconnected, Path: ev.Path.String(), Dst: p.Dst.String()})
	},
}
