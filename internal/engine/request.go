package engine

import (
	"fmt"

	"github.com/patchgraph/ingen/internal/errors"
	"github.com/patchgraph/ingen/internal/evbuf"
	"github.com/patchgraph/ingen/internal/graph"
	"github.com/patchgraph/ingen/internal/plugins"
)

// Request is the wire form of an event used by the HTTP transport and by
// render scripts. Only the fields of the named kind are read.
type Request struct {
	ID   int32  `json:"request_id" yaml:"id"`
	Kind string `json:"kind" yaml:"kind"`
	Path string `json:"path" yaml:"path"`

	// Time is an absolute frame time for the event; nil stamps it at intake
	Time *uint64 `json:"time,omitempty" yaml:"time,omitempty"`

	Dst       string   `json:"dst,omitempty" yaml:"dst,omitempty"`
	Plugin    string   `json:"plugin,omitempty" yaml:"plugin,omitempty"`
	Polyphony int      `json:"polyphony,omitempty" yaml:"polyphony,omitempty"`
	Unique    bool     `json:"unique,omitempty" yaml:"unique,omitempty"`
	Direction string   `json:"direction,omitempty" yaml:"direction,omitempty"`
	Type      string   `json:"type,omitempty" yaml:"type,omitempty"`
	Value     *float32 `json:"value,omitempty" yaml:"value,omitempty"`
	Key       string   `json:"key,omitempty" yaml:"key,omitempty"`
	Text      string   `json:"text,omitempty" yaml:"text,omitempty"`
	Enable    *bool    `json:"enable,omitempty" yaml:"enable,omitempty"`
	Recursive bool     `json:"recursive,omitempty" yaml:"recursive,omitempty"`
	Note      uint8    `json:"note,omitempty" yaml:"note,omitempty"`
	Velocity  uint8    `json:"velocity,omitempty" yaml:"velocity,omitempty"`
}

// ToEvent converts r into an event answered through resp, resolving the
// kind name in reg. A nil reg knows only the built-in kinds.
func (r Request) ToEvent(reg *Registry, resp Responder) (*Event, error) {
	var (
		kind Kind
		ok   bool
	)
	if reg != nil {
		kind, ok = reg.Parse(r.Kind)
	} else {
		kind, ok = ParseKind(r.Kind)
	}
	if !ok {
		return nil, requestError(r, fmt.Sprintf("unknown kind %q", r.Kind))
	}

	path := graph.Root
	if r.Path != "" {
		p, err := graph.ParsePath(r.Path)
		if err != nil {
			return nil, requestError(r, fmt.Sprintf("invalid path %q", r.Path))
		}
		path = p
	} else if needsPath(kind) {
		return nil, requestError(r, "path is required")
	}

	payload, err := r.payload(kind)
	if err != nil {
		return nil, err
	}
	ev := NewEvent(kind, path, payload, resp)
	if r.Time != nil {
		ev.At(*r.Time)
	}
	return ev, nil
}

func needsPath(k Kind) bool {
	switch k {
	case KindPing, KindRequestPlugins, KindRequestPlugin:
		return false
	default:
		return true
	}
}

func (r Request) payload(kind Kind) (any, error) {
	switch kind {
	case KindCreatePatch:
		return CreatePatchPayload{Polyphony: r.Polyphony}, nil
	case KindCreatePort:
		dir, err := parseDirection(r.Direction)
		if err != nil {
			return nil, requestError(r, err.Error())
		}
		typ, err := parseBufferKind(r.Type)
		if err != nil {
			return nil, requestError(r, err.Error())
		}
		var def float32
		if r.Value != nil {
			def = *r.Value
		}
		return CreatePortPayload{Direction: dir, Type: typ, Default: def}, nil
	case KindCreateNode:
		if r.Plugin == "" {
			return nil, requestError(r, "plugin is required")
		}
		return CreateNodePayload{PluginURI: r.Plugin, Polyphony: r.Polyphony, Unique: r.Unique}, nil
	case KindConnect, KindDisconnect:
		dst, err := graph.ParsePath(r.Dst)
		if err != nil {
			return nil, requestError(r, fmt.Sprintf("invalid destination %q", r.Dst))
		}
		return ConnectPayload{Dst: dst}, nil
	case KindSetPortValue, KindSetPortValueStamped:
		if r.Value == nil {
			return nil, requestError(r, "value is required")
		}
		return PortValuePayload{Value: *r.Value}, nil
	case KindSetMetadata:
		return MetadataPayload{Key: r.Key, Value: r.Text}, nil
	case KindEnablePortMonitoring:
		enable := true
		if r.Enable != nil {
			enable = *r.Enable
		}
		return MonitorPayload{Enable: enable}, nil
	case KindRequestObject:
		return ObjectPayload{Recursive: r.Recursive}, nil
	case KindRequestPlugin:
		if r.Plugin == "" {
			return nil, requestError(r, "plugin is required")
		}
		return PluginPayload{URI: r.Plugin}, nil
	case KindNoteOn, KindNoteOff, KindAllNotesOff:
		return NotePayload{Note: r.Note, Velocity: r.Velocity}, nil
	default:
		return nil, nil
	}
}

func parseDirection(s string) (plugins.Direction, error) {
	switch s {
	case "input", "":
		return plugins.Input, nil
	case "output":
		return plugins.Output, nil
	default:
		return 0, fmt.Errorf("invalid direction %q", s)
	}
}

func parseBufferKind(s string) (evbuf.Kind, error) {
	for _, k := range []evbuf.Kind{evbuf.KindAudio, evbuf.KindControl, evbuf.KindEvent} {
		if k.String() == s {
			return k, nil
		}
	}
	if s == "" {
		return evbuf.KindControl, nil
	}
	return 0, fmt.Errorf("invalid port type %q", s)
}

func requestError(r Request, msg string) error {
	return errors.Newf("%s", msg).
		Component(component).
		Category(errors.CategoryValidation).
		Context("kind", r.Kind).
		Context("path", r.Path).
		Context("request_id", r.ID).
		Build()
}
