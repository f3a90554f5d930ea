package engine

import (
	"fmt"
	"time"

	"github.com/patchgraph/ingen/internal/errors"
	"github.com/patchgraph/ingen/internal/evbuf"
	"github.com/patchgraph/ingen/internal/graph"
	"github.com/patchgraph/ingen/internal/plugins"
)

// SampleTime counts frames since the engine started
type SampleTime = uint64

// FrameRange is the half-open block [Start, End)
type FrameRange struct {
	Start SampleTime
	End   SampleTime
}

// Frames returns the block length
func (r FrameRange) Frames() uint32 { return uint32(r.End - r.Start) }

// Phase is the lifecycle position of an event
type Phase uint8

const (
	PhaseCreated Phase = iota
	PhasePrepared
	PhaseApplied
	PhaseFinalized
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhasePrepared:
		return "prepared"
	case PhaseApplied:
		return "applied"
	case PhaseFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Outcome classifies how an event ended
type Outcome uint8

const (
	OutcomeOK Outcome = iota
	OutcomeNotFound
	OutcomeInvalid
	OutcomeExists
	OutcomeFailed
	OutcomeInactive
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeExists:
		return "exists"
	case OutcomeFailed:
		return "failed"
	case OutcomeInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// outcomeFor maps a graph or plugin error to an outcome
func outcomeFor(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.IsNotFound(err), errors.Is(err, graph.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, graph.ErrExists), errors.IsCategory(err, errors.CategoryConflict):
		return OutcomeExists
	case errors.IsCategory(err, errors.CategoryValidation), errors.IsCategory(err, errors.CategoryGraph):
		return OutcomeInvalid
	default:
		return OutcomeFailed
	}
}

// Payloads carried by the built-in kinds

// CreatePatchPayload is the payload of KindCreatePatch
type CreatePatchPayload struct {
	Polyphony int // 0 uses the engine default
}

// CreatePortPayload is the payload of KindCreatePort
type CreatePortPayload struct {
	Direction plugins.Direction
	Type      evbuf.Kind
	Default   float32
}

// CreateNodePayload is the payload of KindCreateNode
type CreateNodePayload struct {
	PluginURI string
	Polyphony int
	// Unique picks a free symbol (name_2, name_3, ...) when the path is taken
	Unique bool
}

// ConnectPayload is the payload of KindConnect and KindDisconnect; the
// event path is the source port.
type ConnectPayload struct {
	Dst graph.Path
}

// PortValuePayload is the payload of KindSetPortValue and KindSetPortValueStamped
type PortValuePayload struct {
	Value float32
}

// MetadataPayload is the payload of KindSetMetadata
type MetadataPayload struct {
	Key   string
	Value string
}

// MonitorPayload is the payload of KindEnablePortMonitoring
type MonitorPayload struct {
	Enable bool
}

// PluginPayload is the payload of KindRequestPlugin
type PluginPayload struct {
	URI string
}

// ObjectPayload is the payload of KindRequestObject. Recursive also
// describes every patch and node below the path.
type ObjectPayload struct {
	Recursive bool
}

// NotePayload is the payload of the stamped note kinds
type NotePayload struct {
	Note     uint8
	Velocity uint8
}

// Event is one control request moving through the engine.
//
// An event is owned by exactly one goroutine at a time: the submitter,
// the prepare worker, the audio thread, then the post-processor. Ownership
// moves through the queues, so no field is guarded.
type Event struct {
	Kind    Kind
	Path    graph.Path
	Payload any

	// Time is the frame the event takes effect at. Untimed events are
	// stamped with the engine frame time at intake.
	Time  SampleTime
	timed bool
	seq   uint64 // arrival order on the audio thread

	responder Responder
	handler   *Handler
	stamped   bool
	submitted time.Time

	phase   Phase
	outcome Outcome
	message string
	skipped bool
	late    bool
	offset  uint32

	// Prepared state handed from Prepare to Apply and Finalize
	target    graph.Object
	swaps     []graph.Swap
	retire    []graph.Block
	created   graph.Object
	committed bool
	result    any
}

// NewEvent returns an untimed event
func NewEvent(kind Kind, path graph.Path, payload any, r Responder) *Event {
	return &Event{Kind: kind, Path: path, Payload: payload, responder: r}
}

// At sets an explicit timestamp
func (ev *Event) At(t SampleTime) *Event {
	ev.Time = t
	ev.timed = true
	return ev
}

// Timed reports whether the timestamp was set by the submitter
func (ev *Event) Timed() bool { return ev.timed }

// Phase returns the lifecycle position
func (ev *Event) Phase() Phase { return ev.phase }

// Outcome returns the outcome captured so far
func (ev *Event) Outcome() Outcome { return ev.outcome }

// Message returns the error message of a failed event
func (ev *Event) Message() string { return ev.message }

// Responder returns the responder replied to at finalize
func (ev *Event) Responder() Responder { return ev.responder }

// Offset returns the frame offset the event was applied at
func (ev *Event) Offset() uint32 { return ev.offset }

// Late reports whether the event was applied after its timestamp
func (ev *Event) Late() bool { return ev.late }

// Skipped reports whether the event reached finalize without being applied
func (ev *Event) Skipped() bool { return ev.skipped }

// Result returns data a request produced for its client
func (ev *Event) Result() any { return ev.result }

// Fail records a failed outcome. The first failure wins.
func (ev *Event) Fail(o Outcome, msg string) {
	if ev.outcome != OutcomeOK {
		return
	}
	ev.outcome = o
	ev.message = msg
}

// FailErr records err with the outcome derived from it
func (ev *Event) FailErr(err error) {
	ev.Fail(outcomeFor(err), err.Error())
}

// OK reports whether no failure has been recorded
func (ev *Event) OK() bool { return ev.outcome == OutcomeOK }

func (ev *Event) String() string {
	return fmt.Sprintf("%s %s @%d", ev.Kind, ev.Path, ev.Time)
}

func (ev *Event) mustBe(want Phase, next Phase) {
	if ev.phase != want {
		panic(fmt.Sprintf("engine: event %s cannot enter %s from %s", ev, next, ev.phase))
	}
}

// prepare runs the Prepare phase on the prepare worker
func (ev *Event) prepare(e *Engine) {
	if ev.stamped {
		panic(fmt.Sprintf("engine: stamped event %s has no prepare phase", ev))
	}
	ev.mustBe(PhaseCreated, PhasePrepared)
	if ev.handler.Prepare != nil {
		ev.handler.Prepare(e, ev)
	}
	ev.phase = PhasePrepared
}

// resolve binds a stamped event's target on the stamped intake worker.
// The phase does not change.
func (ev *Event) resolve(e *Engine) {
	ev.mustBe(PhaseCreated, PhaseCreated)
	if ev.handler.Resolve != nil {
		ev.handler.Resolve(e, ev)
	}
}

// apply runs the Apply phase on the audio thread. Failed events pass
// through without calling the handler.
func (ev *Event) apply(ctx *ProcessContext) {
	want := PhasePrepared
	if ev.stamped {
		want = PhaseCreated
	}
	ev.mustBe(want, PhaseApplied)
	if ev.outcome == OutcomeOK && ev.handler.Apply != nil {
		ev.handler.Apply(ctx, ev)
	}
	ev.phase = PhaseApplied
}

// skip moves an event to Applied without applying it
func (ev *Event) skip(o Outcome, msg string) {
	if ev.phase != PhaseCreated && ev.phase != PhasePrepared {
		panic(fmt.Sprintf("engine: event %s cannot be skipped from %s", ev, ev.phase))
	}
	ev.Fail(o, msg)
	ev.skipped = true
	ev.phase = PhaseApplied
}

// finalize runs the Finalize phase on the post-processor and replies
func (ev *Event) finalize(e *Engine) {
	ev.mustBe(PhaseApplied, PhaseFinalized)
	if ev.handler.Finalize != nil {
		ev.handler.Finalize(e, ev)
	}
	if ev.outcome == OutcomeOK {
		ev.responder.RespondOK()
	} else {
		ev.responder.RespondError(ev.message)
	}
	ev.phase = PhaseFinalized
}

// KindName returns the name of ev's kind in the registry it was submitted
// through
func (ev *Event) KindName() string {
	if ev.handler != nil {
		return ev.handler.Name
	}
	return ev.Kind.String()
}

// record builds the journal view of a finalized event
func (ev *Event) record() Record {
	return Record{
		RequestID: ev.responder.RequestID(),
		Client:    clientName(ev.responder.Client()),
		Kind:      ev.KindName(),
		Path:      ev.Path.String(),
		OK:        ev.outcome == OutcomeOK,
		Outcome:   ev.outcome.String(),
		Message:   ev.message,
		Time:      ev.Time,
		Submitted: ev.submitted,
		Finalized: time.Now(),
	}
}
