// Package engine implements the real-time event engine: control requests
// are prepared off the audio thread, applied at sample-accurate offsets
// inside the audio callback, then finalized and answered by a
// post-processor. Retired graph objects are destroyed by the maid.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/patchgraph/ingen/internal/conf"
	"github.com/patchgraph/ingen/internal/driver"
	"github.com/patchgraph/ingen/internal/errors"
	"github.com/patchgraph/ingen/internal/evbuf"
	"github.com/patchgraph/ingen/internal/graph"
	"github.com/patchgraph/ingen/internal/logger"
	"github.com/patchgraph/ingen/internal/observability/metrics"
	"github.com/patchgraph/ingen/internal/plugins"
)

const (
	// MIDIInputSymbol is the root patch event input fed from the MIDI ring
	MIDIInputSymbol = "midi_in"

	reportInterval = time.Second
	sourcePoll     = time.Millisecond
	monitorEvery   = 4 // blocks between monitor snapshots
)

// State is the activation state of an engine
type State int32

const (
	StateInactive State = iota
	StateActivating
	StateActive
	StateDeactivating
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateDeactivating:
		return "deactivating"
	default:
		return "unknown"
	}
}

// Options configure New
type Options struct {
	Settings conf.EngineSettings
	Channels int // audio outputs of the root patch, default 2

	// Driver builds the audio driver; nil uses a dummy clock driver
	Driver   driver.Factory
	Catalog  *plugins.Catalog
	Registry *Registry
	Metrics  *metrics.EngineMetrics
	Logger   logger.Logger
}

// Engine owns the graph, the event pipeline and the audio driver
type Engine struct {
	settings conf.EngineSettings
	channels int

	store       *graph.Store
	catalog     *plugins.Catalog
	registry    *Registry
	broadcaster *Broadcaster
	maid        *Maid
	source      *EventSource
	post        *PostProcessor
	metrics     *metrics.EngineMetrics
	log         logger.Logger

	driver driver.AudioDriver
	midi   *driver.MIDIInput

	mu         sync.Mutex // serializes Activate and Deactivate
	state      atomic.Int32
	processing atomic.Bool

	// Audio thread state
	root      atomic.Pointer[graph.Patch]
	frame     atomic.Uint64
	pctx      ProcessContext
	blocks    uint64
	midiBuf   *evbuf.Buffer
	midiFeed  func(ts uint64, msg []byte)
	monitored atomic.Pointer[[]*graph.Port]

	// Owned by the prepare worker
	monitorPlan []*graph.Port

	xruns     atomic.Uint64
	overflows atomic.Uint64
}

// New builds an inactive engine
func New(opts Options) (*Engine, error) {
	settings := withDefaults(opts.Settings)
	if err := validateSettings(settings); err != nil {
		return nil, err
	}
	channels := opts.Channels
	if channels <= 0 {
		channels = 2
	}
	log := opts.Logger
	if log == nil {
		log = defaultLogger()
	}

	e := &Engine{
		settings: settings,
		channels: channels,
		catalog:  opts.Catalog,
		registry: opts.Registry,
		metrics:  opts.Metrics,
		log:      log,
	}
	if e.catalog == nil {
		e.catalog = plugins.NewCatalog(log.Module("plugins"))
	}
	if e.registry == nil {
		e.registry = NewRegistry()
	}

	e.store = graph.NewStore(graph.BufferConfig{
		BlockSize:     settings.BlockSize,
		EventCapacity: settings.EventBufferSize,
	}, rootPorts(channels))
	e.broadcaster = NewBroadcaster(log)
	e.maid = NewMaid(settings.MaidCapacity, log)
	e.source = newEventSource(e, settings.QueueSize, sourcePoll)
	e.post = newPostProcessor(e, settings.QueueSize, settings.PostProcessInterval)
	e.midi = driver.NewMIDIInput(settings.MIDIBufferSize, e.FrameTime)
	e.midiFeed = e.appendMIDI
	e.pctx.engine = e

	factory := opts.Driver
	if factory == nil {
		factory = driver.DummyFactory(settings.SampleRate, settings.BlockSize, channels)
	}
	drv, err := factory(e.Process)
	if err != nil {
		return nil, errors.New(err).
			Component(component).
			Category(errors.CategoryAudioDriver).
			Context("operation", "create_driver").
			Build()
	}
	e.driver = drv
	return e, nil
}

func rootPorts(channels int) []plugins.PortDescriptor {
	ports := []plugins.PortDescriptor{{
		Symbol:    MIDIInputSymbol,
		Name:      "MIDI In",
		Direction: plugins.Input,
		Type:      evbuf.KindEvent,
	}}
	for i := 1; i <= channels; i++ {
		ports = append(ports, plugins.PortDescriptor{
			Symbol:    "out_" + strconv.Itoa(i),
			Name:      "Out " + strconv.Itoa(i),
			Direction: plugins.Output,
			Type:      evbuf.KindAudio,
		})
	}
	return ports
}

func withDefaults(s conf.EngineSettings) conf.EngineSettings {
	if s.SampleRate == 0 {
		s.SampleRate = 48000
	}
	if s.BlockSize == 0 {
		s.BlockSize = 256
	}
	if s.EventBufferSize == 0 {
		s.EventBufferSize = 4096
	}
	if s.QueueSize == 0 {
		s.QueueSize = 1024
	}
	if s.MaidCapacity == 0 {
		s.MaidCapacity = 4096
	}
	if s.MaidInterval == 0 {
		s.MaidInterval = 125 * time.Millisecond
	}
	if s.PostProcessInterval == 0 {
		s.PostProcessInterval = 10 * time.Millisecond
	}
	if s.Polyphony == 0 {
		s.Polyphony = 1
	}
	if s.MIDIBufferSize == 0 {
		s.MIDIBufferSize = 8192
	}
	return s
}

func validateSettings(s conf.EngineSettings) error {
	var msg string
	switch {
	case s.EventBufferSize <= evbuf.HeaderSize:
		msg = fmt.Sprintf("event buffer size %d must exceed %d bytes", s.EventBufferSize, evbuf.HeaderSize)
	case s.QueueSize < 2:
		msg = fmt.Sprintf("queue size %d is too small", s.QueueSize)
	case s.MaidCapacity < 1:
		msg = fmt.Sprintf("maid capacity %d is too small", s.MaidCapacity)
	case s.Polyphony < 1:
		msg = fmt.Sprintf("polyphony %d must be positive", s.Polyphony)
	default:
		return nil
	}
	return errors.Newf("%s", msg).
		Component(component).
		Category(errors.CategoryConfiguration).
		Build()
}

// Activate creates the root patch on first use, starts the pipeline and
// the audio driver, and returns once the audio thread has processed a
// block. Activating an active engine has no effect. A driver failure
// leaves the engine inactive.
func (e *Engine) Activate(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State() == StateActive {
		return nil
	}

	e.post.Start()
	e.source.Start()
	e.midi.Start()
	e.processing.Store(true)
	e.state.Store(int32(StateActivating))

	if err := e.driver.Activate(); err != nil {
		_ = e.deactivate()
		return errors.New(err).
			Component(component).
			Category(errors.CategoryAudioDriver).
			Context("operation", "activate").
			Build()
	}

	if e.store.Root() == nil {
		for _, kind := range []Kind{KindCreatePatch, KindEnablePatch} {
			if err := e.submit(ctx, NewEvent(kind, graph.Root, nil, Responder{})); err != nil {
				_ = e.deactivate()
				return err
			}
		}
	}
	if err := e.sync(ctx); err != nil {
		_ = e.deactivate()
		return err
	}
	if e.root.Load() == nil {
		_ = e.deactivate()
		return errors.New(ErrNoRoot).
			Component(component).
			Category(errors.CategoryState).
			Build()
	}

	e.state.Store(int32(StateActive))
	e.metrics.SetActive(true)
	e.log.Info("engine activated",
		logger.Int("sample_rate", int(e.SampleRate())),
		logger.Int("block_size", int(e.driver.BlockSize())),
		logger.Int("channels", e.channels))
	return nil
}

// Deactivate stops the audio driver and the pipeline. Prepared events are
// applied, everything else still queued is answered as inactive, and every
// event is finalized before it returns. Deactivating an inactive engine
// has no effect.
func (e *Engine) Deactivate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State() == StateInactive {
		return nil
	}
	return e.deactivate()
}

func (e *Engine) deactivate() error {
	e.state.Store(int32(StateDeactivating))
	e.processing.Store(false)

	var driverErr error
	if err := e.driver.Deactivate(); err != nil {
		driverErr = errors.New(err).
			Component(component).
			Category(errors.CategoryAudioDriver).
			Context("operation", "deactivate").
			Build()
		e.log.Warn("driver deactivation failed", logger.Error(err))
	}

	e.midi.Stop()
	e.source.Stop()
	now := e.frame.Load()
	e.pctx.block = FrameRange{Start: now, End: now}
	applied, skipped := e.source.drain(&e.pctx)
	e.post.Stop()
	reclaimed := e.maid.Cleanup()

	e.state.Store(int32(StateInactive))
	e.metrics.SetActive(false)
	e.log.Info("engine deactivated",
		logger.Int("applied", applied),
		logger.Int("skipped", skipped),
		logger.Int("reclaimed", reclaimed))
	return driverErr
}

// Submit queues ev for processing. It blocks while the intake queue is
// full until ctx is done. The reply goes to the event's responder unless
// Submit returns an error.
func (e *Engine) Submit(ctx context.Context, ev *Event) error {
	if ev == nil {
		return errors.ValidationError("nil event")
	}
	if e.State() != StateActive {
		return errInactive()
	}
	return e.submit(ctx, ev)
}

func (e *Engine) submit(ctx context.Context, ev *Event) error {
	h, ok := e.registry.Lookup(ev.Kind)
	if !ok {
		return errUnknownKind(ev.Kind)
	}
	if ev.handler != nil || ev.phase != PhaseCreated {
		return errors.Newf("event %s was already submitted", ev.Kind).
			Component(component).
			Category(errors.CategoryEvent).
			Build()
	}
	ev.handler = h
	ev.stamped = h.Stamped
	ev.submitted = time.Now()
	e.metrics.RecordSubmitted(h.Name)
	return e.source.Submit(ctx, ev)
}

// Sync returns once every event submitted before it has been finalized
func (e *Engine) Sync(ctx context.Context) error {
	if e.State() != StateActive {
		return errInactive()
	}
	return e.sync(ctx)
}

func (e *Engine) sync(ctx context.Context) error {
	done := make(chan struct{})
	var once sync.Once
	client := NewDirectClient("sync", func(int32, bool, string) {
		once.Do(func() { close(done) })
	}, nil)
	if err := e.submit(ctx, NewEvent(KindPing, graph.Root, nil, NewResponder(client, 0))); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Component(component).
			Category(errors.CategoryTimeout).
			Context("operation", "sync").
			Build()
	}
}

// Settle returns once every submitted event has reached the audio thread's
// queues. Unlike Sync it needs no audio cycles.
func (e *Engine) Settle(ctx context.Context) error {
	return e.source.Settle(ctx)
}

// Process is the audio callback body. It applies the events due in this
// block, runs the root patch and copies its audio outputs to out.
func (e *Engine) Process(nframes uint32, out [][]float32) {
	start := time.Now()
	st := e.State()
	if st != StateActivating && st != StateActive {
		silence(out, 0, nframes)
		return
	}
	n := min(nframes, e.settings.BlockSize)

	now := e.frame.Load()
	block := FrameRange{Start: now, End: now + uint64(n)}
	e.pctx.block = block
	e.pctx.offset = 0

	root := e.root.Load()
	e.feedMIDI(root, block)
	e.source.Process(&e.pctx)
	if root != nil && e.processing.Load() {
		root.Process(n)
	}
	e.writeOutput(root, n, out)
	silence(out, n, nframes)
	e.monitor(n)

	e.frame.Store(block.End)
	e.post.Signal()

	elapsed := time.Since(start)
	e.metrics.ObserveCycle(elapsed.Seconds())
	if elapsed > time.Duration(n)*time.Second/time.Duration(e.SampleRate()) {
		e.xruns.Add(1)
	}
}

// feedMIDI resets the root inputs and writes the MIDI due in block to the
// root event input at non-decreasing offsets
func (e *Engine) feedMIDI(root *graph.Patch, block FrameRange) {
	e.midiBuf = nil
	if root != nil {
		o := root.Order()
		o.ResetInputs()
		if p, ok := o.Input(MIDIInputSymbol); ok {
			e.midiBuf = p.Events()
		}
	}
	e.midi.Drain(block.End, e.midiFeed)
}

func (e *Engine) appendMIDI(ts uint64, msg []byte) {
	buf := e.midiBuf
	if buf == nil {
		return
	}
	var off uint64
	if ts > e.pctx.block.Start {
		off = ts - e.pctx.block.Start
	}
	if buf.Count() > 0 {
		off = max(off, buf.Latest())
	}
	if !buf.Append(off, msg) {
		e.overflows.Add(1)
	}
}

func (e *Engine) writeOutput(root *graph.Patch, n uint32, out [][]float32) {
	if root == nil {
		silence(out, 0, n)
		return
	}
	outputs := root.Order().Outputs()
	for c := range out {
		dst := out[c][:n]
		if c < len(outputs) && outputs[c].Type() == evbuf.KindAudio {
			copy(dst, outputs[c].Audio(n))
		} else {
			clear(dst)
		}
	}
}

func silence(out [][]float32, from, to uint32) {
	for c := range out {
		if int(to) <= len(out[c]) && from < to {
			clear(out[c][from:to])
		}
	}
}

// monitor snapshots the monitored ports every few blocks
func (e *Engine) monitor(n uint32) {
	e.blocks++
	if e.blocks%monitorEvery != 0 {
		return
	}
	list := e.monitored.Load()
	if list == nil {
		return
	}
	for _, p := range *list {
		if p.Retired() || !p.Monitored() {
			continue
		}
		e.post.PushSnapshot(PortSnapshot{Port: p, Value: p.Peak(n)})
	}
}

// Run reclaims retired objects and reports counters to metrics until ctx
// is done
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.maid.Run(gctx, e.settings.MaidInterval)
	})
	g.Go(func() error {
		e.reportLoop(gctx)
		return nil
	})
	return g.Wait()
}

type counterSnapshot struct {
	late, deferred, xruns, overflows, midiDropped, leaked, reclaimed uint64
}

func (e *Engine) counters() counterSnapshot {
	return counterSnapshot{
		late:        e.source.late.Load(),
		deferred:    e.source.deferred.Load(),
		xruns:       e.xruns.Load(),
		overflows:   e.overflows.Load(),
		midiDropped: e.midi.Dropped(),
		leaked:      e.maid.Leaked(),
		reclaimed:   e.maid.Reclaimed(),
	}
}

func (e *Engine) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()
	var last counterSnapshot
	report := func() {
		cur := e.counters()
		e.metrics.AddLate(cur.late - last.late)
		e.metrics.AddDeferred(cur.deferred - last.deferred)
		e.metrics.AddXruns(cur.xruns - last.xruns)
		e.metrics.AddOverflows(cur.overflows - last.overflows + cur.midiDropped - last.midiDropped)
		e.metrics.AddLeaked(cur.leaked - last.leaked)
		e.metrics.AddReclaimed(cur.reclaimed - last.reclaimed)
		e.metrics.SetQueueDepth(e.post.Pending())
		if cur.leaked > last.leaked {
			e.log.Warn("maid queue overflowed", logger.Uint64("leaked", cur.leaked-last.leaked))
		}
		last = cur
	}
	for {
		select {
		case <-ctx.Done():
			report()
			return
		case <-ticker.C:
			report()
		}
	}
}

// Stats is a point-in-time view of the engine counters
type Stats struct {
	State         string           `json:"state"`
	FrameTime     uint64           `json:"frame_time"`
	SampleRate    uint32           `json:"sample_rate"`
	BlockSize     uint32           `json:"block_size"`
	Objects       int              `json:"objects"`
	Late          uint64           `json:"late_events"`
	Deferred      uint64           `json:"deferred_blocks"`
	Xruns         uint64           `json:"xruns"`
	Overflows     uint64           `json:"event_overflows"`
	MIDIDropped   uint64           `json:"midi_dropped"`
	QueuePending  int              `json:"queue_pending"`
	PostPending   int              `json:"post_pending"`
	MaidPending   int              `json:"maid_pending"`
	MaidLeaked    uint64           `json:"maid_leaked"`
	MaidReclaimed uint64           `json:"maid_reclaimed"`
	Broadcast     BroadcasterStats `json:"broadcast"`
}

// Stats returns the current counters
func (e *Engine) Stats() Stats {
	c := e.counters()
	return Stats{
		State:         e.State().String(),
		FrameTime:     e.FrameTime(),
		SampleRate:    e.SampleRate(),
		BlockSize:     e.settings.BlockSize,
		Objects:       e.store.Len(),
		Late:          c.late,
		Deferred:      c.deferred,
		Xruns:         c.xruns,
		Overflows:     c.overflows,
		MIDIDropped:   c.midiDropped,
		QueuePending:  e.source.Pending(),
		PostPending:   e.post.Pending(),
		MaidPending:   e.maid.Pending(),
		MaidLeaked:    c.leaked,
		MaidReclaimed: c.reclaimed,
		Broadcast:     e.broadcaster.Stats(),
	}
}

// State returns the activation state
func (e *Engine) State() State { return State(e.state.Load()) }

// FrameTime returns the start frame of the next block
func (e *Engine) FrameTime() SampleTime { return e.frame.Load() }

// SampleRate returns the rate the driver actually runs at, which can
// differ from the configured one once a device is open
func (e *Engine) SampleRate() uint32 {
	if rate := e.driver.SampleRate(); rate > 0 {
		return rate
	}
	return e.settings.SampleRate
}

func (e *Engine) Store() *graph.Store          { return e.store }
func (e *Engine) Catalog() *plugins.Catalog    { return e.catalog }
func (e *Engine) Registry() *Registry          { return e.registry }
func (e *Engine) Broadcaster() *Broadcaster    { return e.broadcaster }
func (e *Engine) Maid() *Maid                  { return e.maid }
func (e *Engine) MIDI() *driver.MIDIInput      { return e.midi }
func (e *Engine) Driver() driver.AudioDriver   { return e.driver }
func (e *Engine) Settings() conf.EngineSettings { return e.settings }
