package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/patchgraph/ingen/internal/errors"
)

// Kind identifies an event type in a Registry
type Kind uint16

// Built-in kinds. Kinds from KindUser up are free for Register.
const (
	KindCreatePatch Kind = iota + 1
	KindCreatePort
	KindEnablePatch
	KindDisablePatch
	KindClearPatch
	KindCreateNode
	KindDestroy
	KindConnect
	KindDisconnect
	KindSetPortValue
	KindSetMetadata
	KindEnablePortMonitoring
	KindRequestPlugin
	KindRequestPlugins
	KindRequestObject
	KindPing

	// Stamped kinds
	KindNoteOn
	KindNoteOff
	KindAllNotesOff
	KindSetPortValueStamped

	KindUser Kind = 1024
)

// builtinNames is filled once at init and read-only afterwards
var builtinNames = map[Kind]string{}

// String returns the built-in name of k. Kinds registered on a Registry
// are named by Registry.Name.
func (k Kind) String() string {
	if name, ok := builtinNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint16(k))
}

// ParseKind returns the built-in kind named name
func ParseKind(name string) (Kind, bool) {
	for k, n := range builtinNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// Handler holds the per-phase functions of one kind.
//
// Prepare runs on the prepare worker: it resolves paths, validates and
// stages changes, never touching what the audio thread reads. Resolve is
// the stamped counterpart run on the stamped intake worker. Apply runs on
// the audio thread and must not block or allocate. Finalize runs on the
// post-processor; the reply is sent after it returns.
type Handler struct {
	Name     string
	Stamped  bool
	Prepare  func(e *Engine, ev *Event)
	Resolve  func(e *Engine, ev *Event)
	Apply    func(ctx *ProcessContext, ev *Event)
	Finalize func(e *Engine, ev *Event)
}

// Registry maps kinds to handlers and names. Each engine's registry is
// independent. Register before the engine is activated; lookups happen at
// submission.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind]*Handler
	kinds    map[string]Kind
}

// NewRegistry returns a registry holding the built-in kinds
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[Kind]*Handler),
		kinds:    make(map[string]Kind),
	}
	for kind, h := range builtinHandlers() {
		if err := r.Register(kind, h); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a handler for kind
func (r *Registry) Register(kind Kind, h Handler) error {
	if h.Name == "" {
		return errors.ValidationError(fmt.Sprintf("handler for kind %d has no name", uint16(kind)))
	}
	if h.Stamped && h.Prepare != nil {
		return errors.ValidationError(fmt.Sprintf("stamped kind %s cannot have a prepare phase", h.Name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[kind]; exists {
		return errors.Newf("kind %s already registered", h.Name).
			Component(component).
			Category(errors.CategoryConflict).
			Context("kind", h.Name).
			Build()
	}
	if other, taken := r.kinds[h.Name]; taken {
		return errors.Newf("kind name %s already used by kind %d", h.Name, uint16(other)).
			Component(component).
			Category(errors.CategoryConflict).
			Context("kind", h.Name).
			Build()
	}
	r.handlers[kind] = &h
	r.kinds[h.Name] = kind
	return nil
}

// Parse returns the kind registered under name
func (r *Registry) Parse(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[name]
	return k, ok
}

// Name returns the name kind is registered under in r
func (r *Registry) Name(kind Kind) string {
	if h, ok := r.Lookup(kind); ok {
		return h.Name
	}
	return kind.String()
}

// Lookup returns the handler for kind
func (r *Registry) Lookup(kind Kind) (*Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns the registered kind names, sorted
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for _, h := range r.handlers {
		names = append(names, h.Name)
	}
	sort.Strings(names)
	return names
}

func builtinHandlers() map[Kind]Handler {
	return map[Kind]Handler{
		KindCreatePatch:          createPatchHandler,
		KindCreatePort:           createPortHandler,
		KindEnablePatch:          enablePatchHandler(true),
		KindDisablePatch:         enablePatchHandler(false),
		KindClearPatch:           clearPatchHandler,
		KindCreateNode:           createNodeHandler,
		KindDestroy:              destroyHandler,
		KindConnect:              connectHandler,
		KindDisconnect:           disconnectHandler,
		KindSetPortValue:         setPortValueHandler,
		KindSetMetadata:          setMetadataHandler,
		KindEnablePortMonitoring: monitorHandler,
		KindRequestPlugin:        requestPluginHandler,
		KindRequestPlugins:       requestPluginsHandler,
		KindRequestObject:        requestObjectHandler,
		KindPing:                 pingHandler,
		KindNoteOn:               noteHandler("note_on"),
		KindNoteOff:              noteHandler("note_off"),
		KindAllNotesOff:          noteHandler("all_notes_off"),
		KindSetPortValueStamped:  setPortValueStampedHandler,
	}
}

func init() {
	for kind, h := range builtinHandlers() {
		builtinNames[kind] = h.Name
	}
}
