// Package malgo provides a sound card playback driver built on miniaudio
package malgo

import (
	"encoding/binary"
	"math"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/patchgraph/ingen/internal/driver"
	"github.com/patchgraph/ingen/internal/errors"
	"github.com/patchgraph/ingen/internal/logger"
)

const component = "driver-malgo"

// Config selects the playback device and format
type Config struct {
	DeviceName string // substring of the device name, empty for the default device
	SampleRate uint32
	BlockSize  uint32
	Channels   int
}

// Playback drives the engine from a malgo playback device. The device
// period is requested at the block size; callbacks of another length are
// split into blocks.
type Playback struct {
	config  Config
	process driver.ProcessFunc
	log     logger.Logger

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	out        [][]float32
	frames     atomic.Uint64
	actualRate atomic.Uint32
}

// NewPlayback returns an inactive playback driver
func NewPlayback(config Config, process driver.ProcessFunc, log logger.Logger) *Playback {
	if config.Channels <= 0 {
		config.Channels = 2
	}
	if config.BlockSize == 0 {
		config.BlockSize = 256
	}
	if config.SampleRate == 0 {
		config.SampleRate = 48000
	}
	if log == nil {
		log = logger.Global().Module(component)
	}
	out := make([][]float32, config.Channels)
	for i := range out {
		out[i] = make([]float32, config.BlockSize)
	}
	p := &Playback{config: config, process: process, log: log, out: out}
	p.actualRate.Store(config.SampleRate)
	return p
}

// Factory returns a driver.Factory building playback drivers
func Factory(config Config, log logger.Logger) driver.Factory {
	return func(process driver.ProcessFunc) (driver.AudioDriver, error) {
		return NewPlayback(config, process, log), nil
	}
}

// Activate opens and starts the device
func (p *Playback) Activate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device != nil {
		return nil
	}

	mctx, err := malgo.InitContext([]malgo.Backend{backend()}, malgo.ContextConfig{}, func(message string) {
		p.log.Debug("miniaudio", logger.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return driverError(err, "init_context")
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(p.config.Channels)
	cfg.SampleRate = p.config.SampleRate
	cfg.PeriodSizeInFrames = p.config.BlockSize
	cfg.Alsa.NoMMap = 1

	if p.config.DeviceName != "" {
		id, err := findDevice(mctx, p.config.DeviceName)
		if err != nil {
			_ = mctx.Uninit()
			mctx.Free()
			return err
		}
		cfg.Playback.DeviceID = id.Pointer()
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: p.onData,
		Stop: p.onStop,
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return driverError(err, "init_device")
	}
	// The device may not honour the requested rate
	p.actualRate.Store(device.SampleRate())
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return driverError(err, "start_device")
	}

	p.ctx = mctx
	p.device = device
	p.log.Info("playback device started",
		logger.Int("channels", p.config.Channels),
		logger.Int("sample_rate", int(p.actualRate.Load())),
		logger.Int("block_size", int(p.config.BlockSize)))
	return nil
}

// Deactivate stops and releases the device
func (p *Playback) Deactivate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return nil
	}
	var firstErr error
	if err := p.device.Stop(); err != nil {
		firstErr = driverError(err, "stop_device")
	}
	p.device.Uninit()
	p.device = nil
	if err := p.ctx.Uninit(); err != nil && firstErr == nil {
		firstErr = driverError(err, "uninit_context")
	}
	p.ctx.Free()
	p.ctx = nil
	return firstErr
}

// onData renders framecount frames into the interleaved f32 output
func (p *Playback) onData(output, _ []byte, framecount uint32) {
	channels := len(p.out)
	done := uint32(0)
	for done < framecount {
		n := min(framecount-done, p.config.BlockSize)
		p.process(n, p.out)
		base := int(done) * channels * 4
		for i := range int(n) {
			for c := range channels {
				off := base + (i*channels+c)*4
				if off+4 > len(output) {
					break
				}
				binary.LittleEndian.PutUint32(output[off:], math.Float32bits(p.out[c][i]))
			}
		}
		done += n
		p.frames.Add(uint64(n))
	}
}

func (p *Playback) onStop() {
	p.log.Warn("playback device stopped")
}

func (p *Playback) FrameTime() uint64  { return p.frames.Load() }
func (p *Playback) SampleRate() uint32 { return p.actualRate.Load() }
func (p *Playback) BlockSize() uint32  { return p.config.BlockSize }

func findDevice(mctx *malgo.AllocatedContext, name string) (*malgo.DeviceID, error) {
	infos, err := mctx.Devices(malgo.Playback)
	if err != nil {
		return nil, driverError(err, "list_devices")
	}
	want := strings.ToLower(name)
	for i := range infos {
		if strings.Contains(strings.ToLower(infos[i].Name()), want) {
			return &infos[i].ID, nil
		}
	}
	return nil, errors.Newf("playback device %q not found", name).
		Component(component).
		Category(errors.CategoryAudioDriver).
		Context("device", name).
		Context("available", len(infos)).
		Build()
}

// backend returns the miniaudio backend for the current platform
func backend() malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa
	case "windows":
		return malgo.BackendWasapi
	case "darwin":
		return malgo.BackendCoreaudio
	default:
		return malgo.BackendNull
	}
}

func driverError(err error, op string) error {
	return errors.New(err).
		Component(component).
		Category(errors.CategoryAudioDriver).
		Context("backend", runtime.GOOS).
		Context("operation", op).
		Build()
}
