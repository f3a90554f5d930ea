package driver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Dummy is a headless driver that calls the process function from a
// ticker at the block rate and discards the output. Cycle runs blocks
// synchronously, with or without the ticker.
type Dummy struct {
	process    ProcessFunc
	sampleRate uint32
	blockSize  uint32
	interval   time.Duration

	cycleMu sync.Mutex // one process call at a time
	out     [][]float32
	frames  atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDummy returns a dummy driver ticking once per block duration
func NewDummy(process ProcessFunc, sampleRate, blockSize uint32, channels int) (*Dummy, error) {
	if err := validate(sampleRate, blockSize, channels); err != nil {
		return nil, err
	}
	return &Dummy{
		process:    process,
		sampleRate: sampleRate,
		blockSize:  blockSize,
		interval:   time.Duration(float64(blockSize) / float64(sampleRate) * float64(time.Second)),
		out:        allocOutput(channels, blockSize),
	}, nil
}

// DummyFactory returns a Factory building dummy drivers
func DummyFactory(sampleRate, blockSize uint32, channels int) Factory {
	return func(process ProcessFunc) (AudioDriver, error) {
		return NewDummy(process, sampleRate, blockSize, channels)
	}
}

// SetInterval changes the tick interval. Takes effect on the next Activate.
func (d *Dummy) SetInterval(interval time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interval = interval
}

// Activate starts the ticker. Activating a running driver has no effect.
func (d *Dummy) Activate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.run(ctx, d.interval, d.done)
	return nil
}

func (d *Dummy) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Cycle(1)
		}
	}
}

// Deactivate stops the ticker and waits for the running block
func (d *Dummy) Deactivate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel == nil {
		return nil
	}
	d.cancel()
	<-d.done
	d.cancel = nil
	return nil
}

// Running reports whether the ticker is active
func (d *Dummy) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel != nil
}

// Cycle runs n blocks on the calling goroutine
func (d *Dummy) Cycle(n int) {
	d.cycleMu.Lock()
	defer d.cycleMu.Unlock()
	for range n {
		d.process(d.blockSize, d.out)
		d.frames.Add(uint64(d.blockSize))
	}
}

// Output returns the buffers of the last block. Only meaningful between
// Cycle calls while the ticker is stopped.
func (d *Dummy) Output() [][]float32 { return d.out }

func (d *Dummy) FrameTime() uint64  { return d.frames.Load() }
func (d *Dummy) SampleRate() uint32 { return d.sampleRate }
func (d *Dummy) BlockSize() uint32  { return d.blockSize }
