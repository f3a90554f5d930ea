package engine

import (
	"github.com/patchgraph/ingen/internal/errors"
	"github.com/patchgraph/ingen/internal/graph"
)

// Request kinds change nothing; Finalize sends their result to the
// requesting client only.

var requestPluginHandler = Handler{
	Name: "request_plugin",
	Prepare: func(e *Engine, ev *Event) {
		p, ok := payloadAs[PluginPayload](ev)
		if !ok {
			return
		}
		desc, found := e.catalog.Plugin(p.URI)
		if !found {
			ev.FailErr(errors.Newf("plugin %s not found", p.URI).
				Component(component).
				Category(errors.CategoryNotFound).
				Context("plugin", p.URI).
				Build())
			return
		}
		ev.result = desc
	},
	Finalize: func(_ *Engine, ev *Event) {
		if ev.OK() {
			ev.responder.notify(Notification{Type: NotifyPlugin, Data: ev.result})
		}
	},
}

var requestPluginsHandler = Handler{
	Name: "request_plugins",
	Prepare: func(e *Engine, ev *Event) {
		ev.result = e.catalog.Plugins()
	},
	Finalize: func(_ *Engine, ev *Event) {
		if ev.OK() {
			ev.responder.notify(Notification{Type: NotifyPlugins, Data: ev.result})
		}
	},
}

var requestObjectHandler = Handler{
	Name: "request_object",
	Prepare: func(e *Engine, ev *Event) {
		if _, ok := payloadAs[ObjectPayload](ev); !ok {
			return
		}
		if _, found := e.store.Find(ev.Path); !found {
			ev.Fail(OutcomeNotFound, ev.Path.String()+" not found")
		}
	},
	Finalize: func(e *Engine, ev *Event) {
		if !ev.OK() {
			return
		}
		// Described after apply so the reply reflects every earlier request
		info, err := e.store.Describe(ev.Path)
		if err != nil {
			ev.FailErr(err)
			return
		}
		ev.result = info
		ev.responder.notify(Notification{Type: NotifyObject, Path: ev.Path.String(), Data: info})

		if p, _ := ev.Payload.(ObjectPayload); !p.Recursive {
			return
		}
		// Ports are part of their owner's description
		e.store.Walk(ev.Path, func(obj graph.Object) bool {
			if obj.Path() == ev.Path || obj.Kind() == graph.ObjectPort {
				return true
			}
			child, err := e.store.Describe(obj.Path())
			if err != nil {
				return true
			}
			ev.responder.notify(Notification{Type: NotifyObject, Path: child.Path, Data: child})
			return true
		})
	},
}

var pingHandler = Handler{
	Name: "ping",
}
