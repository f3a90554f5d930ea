package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patchgraph/ingen/internal/errors"
	"github.com/patchgraph/ingen/internal/logger"
	"github.com/patchgraph/ingen/internal/rtqueue"
)

// EventSource carries events from submitters to the audio thread.
//
// Queued events go through one prepare worker in FIFO order and reach the
// audio thread prepared. Stamped events go through one intake worker that
// only binds their target. Each path ends in an SPSC ring. The audio thread
// moves ring entries into time-ordered pending heaps it alone owns, so a
// future-timed event never holds back the events behind it.
type EventSource struct {
	engine *Engine

	intake    chan *Event
	stampedIn chan *Event
	prepared  *rtqueue.Ring[*Event]
	stamped   *rtqueue.Ring[*Event]
	poll      time.Duration

	// Time-ordered pending sets, audio thread only
	queuedDue  *rtqueue.Heap[*Event]
	stampedDue *rtqueue.Heap[*Event]
	seq        uint64

	pendingLen atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Events a worker held when it was stopped, handed to drain
	heldPrepared *Event
	heldStamped  *Event

	late     atomic.Uint64
	deferred atomic.Uint64
	inflight atomic.Int64 // submitted but not yet in a ring

	log logger.Logger
}

func newEventSource(e *Engine, capacity int, poll time.Duration) *EventSource {
	return &EventSource{
		engine:     e,
		intake:     make(chan *Event, capacity),
		stampedIn:  make(chan *Event, capacity),
		prepared:   rtqueue.New[*Event](capacity),
		stamped:    rtqueue.New[*Event](capacity),
		queuedDue:  rtqueue.NewHeap[*Event](capacity, dueBefore),
		stampedDue: rtqueue.NewHeap[*Event](capacity, dueBefore),
		poll:       poll,
		log:        e.log.Module("source"),
	}
}

// Submit queues ev for intake, blocking while the intake is full
func (s *EventSource) Submit(ctx context.Context, ev *Event) error {
	ch := s.intake
	if ev.stamped {
		ch = s.stampedIn
	}
	s.inflight.Add(1)
	select {
	case ch <- ev:
		return nil
	case <-ctx.Done():
		s.inflight.Add(-1)
		return errors.New(ctx.Err()).
			Component(component).
			Category(errors.CategoryTimeout).
			Context("kind", ev.KindName()).
			Build()
	}
}

// Start runs the prepare and stamped intake workers
func (s *EventSource) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(2)
	go s.prepareLoop(ctx)
	go s.stampLoop(ctx)
}

// Stop ends both workers and waits for them
func (s *EventSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
}

func (s *EventSource) prepareLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.intake:
			s.stamp(ev)
			ev.prepare(s.engine)
			if !s.pushWait(ctx, s.prepared, ev) {
				s.heldPrepared = ev
				return
			}
			s.inflight.Add(-1)
		}
	}
}

func (s *EventSource) stampLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.stampedIn:
			s.stamp(ev)
			ev.resolve(s.engine)
			if !s.pushWait(ctx, s.stamped, ev) {
				s.heldStamped = ev
				return
			}
			s.inflight.Add(-1)
		}
	}
}

func (s *EventSource) stamp(ev *Event) {
	if !ev.timed {
		ev.Time = s.engine.FrameTime()
	}
}

// pushWait retries a full ring until it accepts ev or ctx is done
func (s *EventSource) pushWait(ctx context.Context, ring *rtqueue.Ring[*Event], ev *Event) bool {
	if ring.Push(ev) {
		return true
	}
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if ring.Push(ev) {
				return true
			}
		}
	}
}

// dueBefore orders pending events by timestamp, then by arrival
func dueBefore(a, b *Event) bool {
	if a.Time != b.Time {
		return a.Time < b.Time
	}
	return a.seq < b.seq
}

// admit moves ring entries into due until the ring is empty or due is
// full. Audio thread only.
func (s *EventSource) admit(ring *rtqueue.Ring[*Event], due *rtqueue.Heap[*Event]) {
	for !due.Full() {
		ev, ok := ring.Pop()
		if !ok {
			return
		}
		s.seq++
		ev.seq = s.seq
		due.Push(ev)
		s.pendingLen.Add(1)
	}
}

// PopEarliestQueuedBefore pops the earliest prepared event if its time is
// before end. Audio thread only.
func (s *EventSource) PopEarliestQueuedBefore(end SampleTime) (*Event, bool) {
	s.admit(s.prepared, s.queuedDue)
	return s.popBefore(s.queuedDue, end)
}

// PopEarliestStampedBefore pops the earliest stamped event if its time is
// before end. Audio thread only.
func (s *EventSource) PopEarliestStampedBefore(end SampleTime) (*Event, bool) {
	s.admit(s.stamped, s.stampedDue)
	return s.popBefore(s.stampedDue, end)
}

func (s *EventSource) popBefore(due *rtqueue.Heap[*Event], end SampleTime) (*Event, bool) {
	ev, ok := due.Peek()
	if !ok || ev.Time >= end {
		return nil, false
	}
	due.Pop()
	s.pendingLen.Add(-1)
	return ev, true
}

// Process applies every event due in ctx's block in timestamp order, ties
// going to stamped events, and hands them to the post-processor. Events
// at or after the block end stay pending without holding back earlier
// ones. Audio thread only.
func (s *EventSource) Process(ctx *ProcessContext) {
	end := ctx.block.End
	post := s.engine.post
	s.admit(s.prepared, s.queuedDue)
	s.admit(s.stamped, s.stampedDue)
	for {
		if post.Full() {
			// Finalize backlog; the rest waits for the next block
			s.deferred.Add(1)
			return
		}
		q, qok := s.queuedDue.Peek()
		st, sok := s.stampedDue.Peek()
		qdue := qok && q.Time < end
		sdue := sok && st.Time < end

		var ev *Event
		switch {
		case sdue && (!qdue || st.Time <= q.Time):
			ev, _ = s.PopEarliestStampedBefore(end)
		case qdue:
			ev, _ = s.PopEarliestQueuedBefore(end)
		default:
			if qok || sok {
				s.deferred.Add(1)
			}
			return
		}
		s.applyEvent(ctx, ev)
		post.Push(ev)
	}
}

// applyEvent applies ev at its offset in ctx's block. Late events apply
// at offset 0.
func (s *EventSource) applyEvent(ctx *ProcessContext, ev *Event) {
	if ev.Time < ctx.block.Start {
		ctx.offset = 0
		if ev.timed {
			ev.late = true
			s.late.Add(1)
		}
	} else {
		ctx.offset = uint32(ev.Time - ctx.block.Start)
	}
	ev.offset = ctx.offset
	ev.apply(ctx)
}

// drain empties the source after the audio thread and the workers have
// stopped, taking over the pending heaps. Prepared events are applied,
// because their staged changes are already in the control view;
// everything else is skipped as inactive.
func (s *EventSource) drain(ctx *ProcessContext) (applied, skipped int) {
	post := s.engine.post
	apply := func(ev *Event) {
		if ev.Time < ctx.block.Start {
			s.applyEvent(ctx, ev)
		} else {
			ctx.offset, ev.offset = 0, 0
			ev.apply(ctx)
		}
		post.pushWait(ev)
		applied++
	}
	skip := func(ev *Event) {
		ev.skip(OutcomeInactive, "engine deactivated")
		post.pushWait(ev)
		skipped++
	}

	for {
		ev, ok := s.queuedDue.Pop()
		if !ok {
			break
		}
		s.pendingLen.Add(-1)
		apply(ev)
	}
	for {
		ev, ok := s.prepared.Pop()
		if !ok {
			break
		}
		apply(ev)
	}
	if ev := s.heldPrepared; ev != nil {
		s.heldPrepared = nil
		s.inflight.Add(-1)
		apply(ev)
	}
	for {
		ev, ok := s.stampedDue.Pop()
		if !ok {
			break
		}
		s.pendingLen.Add(-1)
		skip(ev)
	}
	for {
		ev, ok := s.stamped.Pop()
		if !ok {
			break
		}
		skip(ev)
	}
	if ev := s.heldStamped; ev != nil {
		s.heldStamped = nil
		s.inflight.Add(-1)
		skip(ev)
	}
	for {
		select {
		case ev := <-s.intake:
			s.inflight.Add(-1)
			skip(ev)
			continue
		case ev := <-s.stampedIn:
			s.inflight.Add(-1)
			skip(ev)
			continue
		default:
		}
		break
	}
	return applied, skipped
}

// Settle waits until every submitted event has been prepared or resolved
// and handed to the audio thread
func (s *EventSource) Settle(ctx context.Context) error {
	if s.inflight.Load() <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return errors.New(ctx.Err()).
				Component(component).
				Category(errors.CategoryTimeout).
				Context("inflight", s.inflight.Load()).
				Build()
		case <-ticker.C:
			if s.inflight.Load() <= 0 {
				return nil
			}
		}
	}
}

// Pending returns queued events not yet applied
func (s *EventSource) Pending() int {
	return len(s.intake) + len(s.stampedIn) + s.prepared.Len() + s.stamped.Len() +
		int(s.pendingLen.Load())
}
