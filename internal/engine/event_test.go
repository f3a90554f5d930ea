package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchgraph/ingen/internal/errors"
	"github.com/patchgraph/ingen/internal/graph"
)

// trace records the phases a test handler passed through
type trace struct {
	phases []string
}

func tracingHandler(tr *trace, stamped bool) Handler {
	h := Handler{
		Name:    "trace",
		Stamped: stamped,
		Apply: func(_ *ProcessContext, _ *Event) {
			tr.phases = append(tr.phases, "apply")
		},
		Finalize: func(_ *Engine, _ *Event) {
			tr.phases = append(tr.phases, "finalize")
		},
	}
	if stamped {
		h.Resolve = func(_ *Engine, _ *Event) { tr.phases = append(tr.phases, "resolve") }
	} else {
		h.Prepare = func(_ *Engine, _ *Event) { tr.phases = append(tr.phases, "prepare") }
	}
	return h
}

func bind(ev *Event, h *Handler) *Event {
	ev.handler = h
	ev.stamped = h.Stamped
	return ev
}

func TestEventLifecycleOrder(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	tr := &trace{}
	h := tracingHandler(tr, false)
	c := newTestClient("lifecycle")
	ev := bind(NewEvent(KindUser, graph.Root, nil, NewResponder(c, 7)), &h)

	assert.Equal(t, PhaseCreated, ev.Phase())
	ev.prepare(e)
	assert.Equal(t, PhasePrepared, ev.Phase())
	ev.apply(&e.pctx)
	assert.Equal(t, PhaseApplied, ev.Phase())
	ev.finalize(e)
	assert.Equal(t, PhaseFinalized, ev.Phase())

	assert.Equal(t, []string{"prepare", "apply", "finalize"}, tr.phases)
	r := c.wait(t)
	assert.Equal(t, int32(7), r.id)
	assert.True(t, r.ok)
}

func TestStampedEventSkipsPrepare(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	tr := &trace{}
	h := tracingHandler(tr, true)
	ev := bind(NewEvent(KindUser, graph.Root, nil, Responder{}), &h)

	assert.Panics(t, func() { ev.prepare(e) })

	ev.resolve(e)
	assert.Equal(t, PhaseCreated, ev.Phase())
	ev.apply(&e.pctx)
	ev.finalize(e)
	assert.Equal(t, []string{"resolve", "apply", "finalize"}, tr.phases)
}

func TestPhaseViolationsPanic(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	h := tracingHandler(&trace{}, false)

	t.Run("apply before prepare", func(t *testing.T) {
		ev := bind(NewEvent(KindUser, graph.Root, nil, Responder{}), &h)
		assert.Panics(t, func() { ev.apply(&e.pctx) })
	})
	t.Run("finalize before apply", func(t *testing.T) {
		ev := bind(NewEvent(KindUser, graph.Root, nil, Responder{}), &h)
		ev.prepare(e)
		assert.Panics(t, func() { ev.finalize(e) })
	})
	t.Run("apply twice", func(t *testing.T) {
		ev := bind(NewEvent(KindUser, graph.Root, nil, Responder{}), &h)
		ev.prepare(e)
		ev.apply(&e.pctx)
		assert.Panics(t, func() { ev.apply(&e.pctx) })
	})
	t.Run("skip after apply", func(t *testing.T) {
		ev := bind(NewEvent(KindUser, graph.Root, nil, Responder{}), &h)
		ev.prepare(e)
		ev.apply(&e.pctx)
		assert.Panics(t, func() { ev.skip(OutcomeInactive, "x") })
	})
}

func TestFailedPrepareSkipsApply(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	applied := false
	h := Handler{
		Name: "failing",
		Prepare: func(_ *Engine, ev *Event) {
			ev.Fail(OutcomeInvalid, "bad request")
		},
		Apply: func(*ProcessContext, *Event) { applied = true },
	}
	c := newTestClient("fail")
	ev := bind(NewEvent(KindUser, graph.Root, nil, NewResponder(c, 3)), &h)
	ev.prepare(e)
	ev.apply(&e.pctx)
	ev.finalize(e)

	assert.False(t, applied)
	assert.Equal(t, OutcomeInvalid, ev.Outcome())
	r := c.wait(t)
	assert.False(t, r.ok)
	assert.Equal(t, "bad request", r.msg)
}

func TestFailKeepsFirstOutcome(t *testing.T) {
	t.Parallel()

	ev := NewEvent(KindPing, graph.Root, nil, Responder{})
	ev.Fail(OutcomeNotFound, "first")
	ev.Fail(OutcomeInvalid, "second")
	assert.Equal(t, OutcomeNotFound, ev.Outcome())
	assert.Equal(t, "first", ev.Message())
}

func TestSkipMarksInactive(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	h := tracingHandler(&trace{}, false)
	c := newTestClient("skip")
	ev := bind(NewEvent(KindUser, graph.Root, nil, NewResponder(c, 1)), &h)
	ev.skip(OutcomeInactive, "engine deactivated")
	ev.finalize(e)

	assert.True(t, ev.Skipped())
	r := c.wait(t)
	assert.False(t, r.ok)
	assert.Equal(t, "engine deactivated", r.msg)
}

func TestOutcomeFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, OutcomeOK},
		{"graph not found", graph.ErrNotFound, OutcomeNotFound},
		{"graph exists", graph.ErrExists, OutcomeExists},
		{"validation", errors.ValidationError("bad"), OutcomeInvalid},
		{"other", errors.NewStd("boom"), OutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, outcomeFor(tt.err))
		})
	}
}

func TestRecordCarriesClient(t *testing.T) {
	t.Parallel()

	c := newTestClient("journal-client")
	ev := NewEvent(KindPing, graph.Root, nil, NewResponder(c, 42)).At(128)
	ev.Fail(OutcomeNotFound, "gone")
	rec := ev.record()

	require.Equal(t, int32(42), rec.RequestID)
	assert.Equal(t, "journal-client", rec.Client)
	assert.Equal(t, "ping", rec.Kind)
	assert.False(t, rec.OK)
	assert.Equal(t, "not_found", rec.Outcome)
	assert.Equal(t, uint64(128), rec.Time)
}
