package engine

import (
	"fmt"
	"math"
	"slices"

	"github.com/patchgraph/ingen/internal/evbuf"
	"github.com/patchgraph/ingen/internal/graph"
	"github.com/patchgraph/ingen/internal/plugins"
)

// bindPortValue resolves the target port and clamps the value into its
// range. Shared by the queued and stamped variants.
func bindPortValue(e *Engine, ev *Event) {
	p, ok := payloadAs[PortValuePayload](ev)
	if !ok {
		return
	}
	port, err := e.store.FindPort(ev.Path)
	if err != nil {
		ev.FailErr(err)
		return
	}
	if port.Type() == evbuf.KindEvent {
		ev.Fail(OutcomeInvalid, fmt.Sprintf("%s is an event port", ev.Path))
		return
	}
	v := float64(p.Value)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		ev.Fail(OutcomeInvalid, fmt.Sprintf("invalid value %v", p.Value))
		return
	}
	if lo, hi := port.Range(); lo < hi {
		p.Value = min(max(p.Value, lo), hi)
	}
	ev.target = port
	ev.result = p.Value
}

func applyPortValue(_ *ProcessContext, ev *Event) {
	port := ev.target.(*graph.Port)
	if port.Retired() {
		ev.Fail(OutcomeNotFound, "port no longer exists")
		return
	}
	port.SetValue(ev.result.(float32))
}

func finalizePortValue(e *Engine, ev *Event) {
	if v, ok := ev.result.(float32); ok {
		broadcastOK(e, ev, Notification{Type: NotifyPortValue, Path: ev.Path.String(), Value: valuePtr(v)})
	}
}

var setPortValueHandler = Handler{
	Name:     "set_port_value",
	Prepare:  bindPortValue,
	Apply:    applyPortValue,
	Finalize: finalizePortValue,
}

var setPortValueStampedHandler = Handler{
	Name:     "set_port_value_stamped",
	Stamped:  true,
	Resolve:  bindPortValue,
	Apply:    applyPortValue,
	Finalize: finalizePortValue,
}

var setMetadataHandler = Handler{
	Name: "set_metadata",
	Prepare: func(e *Engine, ev *Event) {
		p, ok := payloadAs[MetadataPayload](ev)
		if !ok {
			return
		}
		if p.Key == "" {
			ev.Fail(OutcomeInvalid, "metadata key is empty")
			return
		}
		if err := e.store.SetMetadata(ev.Path, p.Key, p.Value); err != nil {
			ev.FailErr(err)
		}
	},
	Finalize: func(e *Engine, ev *Event) {
		p, _ := ev.Payload.(MetadataPayload)
		broadcastOK(e, ev, Notification{Type: NotifyMetadata, Path: ev.Path.String(), Key: p.Key, Text: p.Value})
	},
}

// The monitored-port list is rebuilt on the prepare worker and published
// to the audio thread by pointer in Apply.
var monitorHandler = Handler{
	Name: "enable_port_monitoring",
	Prepare: func(e *Engine, ev *Event) {
		p, ok := payloadAs[MonitorPayload](ev)
		if !ok {
			return
		}
		port, err := e.store.FindPort(ev.Path)
		if err != nil {
			ev.FailErr(err)
			return
		}
		if port.Type() == evbuf.KindEvent {
			ev.Fail(OutcomeInvalid, fmt.Sprintf("%s is an event port", ev.Path))
			return
		}
		list := slices.DeleteFunc(slices.Clone(e.monitorPlan), func(x *graph.Port) bool {
			return x == port || x.Retired()
		})
		if p.Enable {
			list = append(list, port)
		}
		e.monitorPlan = list
		ev.target = port
		ev.result = &list
	},
	Apply: func(ctx *ProcessContext, ev *Event) {
		p, _ := ev.Payload.(MonitorPayload)
		ev.target.(*graph.Port).SetMonitored(p.Enable)
		ctx.engine.monitored.Store(ev.result.(*[]*graph.Port))
	},
	Finalize: func(e *Engine, ev *Event) {
		p, _ := ev.Payload.(MonitorPayload)
		n := Notification{Type: NotifyMonitor, Path: ev.Path.String(), Value: valuePtr(0)}
		if p.Enable {
			n.Value = valuePtr(1)
		}
		broadcastOK(e, ev, n)
	},
}

func noteHandler(name string) Handler {
	return Handler{
		Name:    name,
		Stamped: true,
		Resolve: func(e *Engine, ev *Event) {
			p, ok := payloadAs[NotePayload](ev)
			if !ok {
				return
			}
			if p.Note > 127 || p.Velocity > 127 {
				ev.Fail(OutcomeInvalid, fmt.Sprintf("note %d velocity %d out of range", p.Note, p.Velocity))
				return
			}
			node, err := e.store.FindNode(ev.Path)
			if err != nil {
				ev.FailErr(err)
				return
			}
			if _, ok := node.Instance().(plugins.NoteReceiver); !ok {
				ev.Fail(OutcomeInvalid, fmt.Sprintf("%s does not accept notes", ev.Path))
				return
			}
			ev.target = node
		},
		Apply: func(ctx *ProcessContext, ev *Event) {
			node := ev.target.(*graph.Node)
			if node.Retired() {
				ev.Fail(OutcomeNotFound, "node no longer exists")
				return
			}
			nr := node.Instance().(plugins.NoteReceiver)
			p, _ := ev.Payload.(NotePayload)
			switch ev.Kind {
			case KindNoteOn:
				nr.NoteOn(p.Note, p.Velocity, ctx.offset)
			case KindNoteOff:
				nr.NoteOff(p.Note, ctx.offset)
			default:
				nr.AllNotesOff(ctx.offset)
			}
		},
	}
}
