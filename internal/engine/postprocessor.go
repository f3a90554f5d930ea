package engine

import (
	"context"
	"sync"
	"time"

	"github.com/patchgraph/ingen/internal/graph"
	"github.com/patchgraph/ingen/internal/logger"
	"github.com/patchgraph/ingen/internal/rtqueue"
)

// PortSnapshot is a monitored port value captured on the audio thread
type PortSnapshot struct {
	Port  *graph.Port
	Value float32
}

// PostProcessor finalizes applied events off the audio thread, in the
// order the audio thread pushed them, and broadcasts monitored port
// values.
type PostProcessor struct {
	engine    *Engine
	events    *rtqueue.Ring[*Event]
	snapshots *rtqueue.Ring[PortSnapshot]
	wake      chan struct{}
	interval  time.Duration

	mu      sync.Mutex // serializes consumers of both rings
	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	log logger.Logger
}

func newPostProcessor(e *Engine, capacity int, interval time.Duration) *PostProcessor {
	return &PostProcessor{
		engine:    e,
		events:    rtqueue.New[*Event](capacity),
		snapshots: rtqueue.New[PortSnapshot](capacity),
		wake:      make(chan struct{}, 1),
		interval:  interval,
		log:       e.log.Module("post"),
	}
}

// Push hands an applied event over. Audio thread only; never blocks.
func (p *PostProcessor) Push(ev *Event) bool {
	return p.events.Push(ev)
}

// PushSnapshot hands a monitored value over. Audio thread only; a full
// queue drops the snapshot.
func (p *PostProcessor) PushSnapshot(s PortSnapshot) bool {
	return p.snapshots.Push(s)
}

// Full reports whether Push would fail
func (p *PostProcessor) Full() bool { return p.events.Full() }

// Pending returns the number of events waiting to be finalized
func (p *PostProcessor) Pending() int { return p.events.Len() }

// Signal wakes the post-processor without blocking
func (p *PostProcessor) Signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// pushWait pushes from a non real-time goroutine, finalizing inline while
// the queue is full
func (p *PostProcessor) pushWait(ev *Event) {
	for !p.events.Push(ev) {
		p.Flush()
	}
}

// Start runs the finalize loop until Stop. Starting a running
// post-processor has no effect.
func (p *PostProcessor) Start() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	go p.loop(ctx, p.done)
}

func (p *PostProcessor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-ticker.C:
		}
		p.Flush()
	}
}

// Stop ends the loop and finalizes what is left
func (p *PostProcessor) Stop() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if !p.running {
		return
	}
	p.cancel()
	<-p.done
	p.running = false
	p.Flush()
}

// Flush finalizes every queued event and broadcasts queued snapshots.
// It returns the number of events finalized.
func (p *PostProcessor) Flush() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.engine
	snaps := 0
	for {
		s, ok := p.snapshots.Pop()
		if !ok {
			break
		}
		if s.Port.Retired() || !s.Port.Monitored() {
			continue
		}
		e.broadcaster.Send(Notification{
			Type:  NotifyPortValue,
			Path:  s.Port.Path().String(),
			Value: valuePtr(s.Value),
		})
		snaps++
	}
	e.metrics.AddMonitorSnapshots(snaps)

	n := 0
	for {
		ev, ok := p.events.Pop()
		if !ok {
			break
		}
		p.finalize(ev)
		n++
	}
	if n > 0 {
		e.metrics.SetQueueDepth(p.events.Len())
	}
	return n
}

func (p *PostProcessor) finalize(ev *Event) {
	e := p.engine
	ev.finalize(e)
	if !ev.OK() {
		p.log.Debug("event failed",
			logger.String("kind", ev.KindName()),
			logger.String("path", ev.Path.String()),
			logger.String("outcome", ev.outcome.String()),
			logger.String("message", ev.message))
	}
	e.metrics.RecordFinalized(ev.KindName(), ev.outcome.String(), time.Since(ev.submitted).Seconds())
	e.broadcaster.PublishRecord(ev.record())
}
