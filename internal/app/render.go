package app

import (
	"context"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/patchgraph/ingen/internal/conf"
	"github.com/patchgraph/ingen/internal/driver"
	"github.com/patchgraph/ingen/internal/driver/wavrender"
	"github.com/patchgraph/ingen/internal/engine"
	"github.com/patchgraph/ingen/internal/errors"
	"github.com/patchgraph/ingen/internal/logger"
)

// Script is a list of requests applied before rendering. Request times are
// frame offsets from the start of the render; requests without a time
// apply at the first block.
type Script struct {
	Requests []engine.Request `yaml:"requests"`
}

// LoadScript reads a YAML script
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component(component).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return ParseScript(data)
}

// ParseScript decodes a YAML script
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.New(err).
			Component(component).
			Category(errors.CategoryValidation).
			Context("operation", "parse_script").
			Build()
	}
	return &s, nil
}

// RenderResult summarizes an offline render
type RenderResult struct {
	Path     string
	Frames   uint64
	Peak     float32
	Requests int
	Failed   []string // messages of failed requests
}

// scriptClient collects replies to script requests
type scriptClient struct {
	mu     sync.Mutex
	failed []string
}

func (c *scriptClient) ClientID() string { return "render-script" }

func (c *scriptClient) Response(id int32, ok bool, msg string) {
	if ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = append(c.failed, msg)
}

func (c *scriptClient) Notify(engine.Notification) {}

func (c *scriptClient) failures() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.failed...)
}

// Render applies script to a fresh engine and writes render.Seconds of
// output to render.Path as WAV
func Render(ctx context.Context, settings *conf.Settings, script *Script) (*RenderResult, error) {
	var renderer *wavrender.Renderer
	factory := func(process driver.ProcessFunc) (driver.AudioDriver, error) {
		r, err := wavrender.New(settings.Render.Path, process,
			settings.Engine.SampleRate, settings.Engine.BlockSize, settings.Driver.Channels)
		renderer = r
		return r, err
	}

	e, err := NewEngine(settings, factory, nil)
	if err != nil {
		return nil, err
	}
	actx, cancel := context.WithTimeout(ctx, activateWait)
	err = e.Activate(actx)
	cancel()
	if err != nil {
		return nil, err
	}
	active := true
	defer func() {
		if active {
			_ = e.Deactivate()
		}
	}()

	if err := renderer.Pause(); err != nil {
		return nil, err
	}
	base := e.FrameTime()

	client := &scriptClient{}
	result := &RenderResult{Path: settings.Render.Path}
	if script != nil {
		// Stamped requests resolve their target on their own worker; settle
		// first so they see objects created earlier in the script
		unsettled := false
		for i, req := range script.Requests {
			if req.ID == 0 {
				req.ID = int32(i + 1) //nolint:gosec // script length is small
			}
			if req.Time != nil {
				t := base + *req.Time
				req.Time = &t
			}
			ev, err := req.ToEvent(e.Registry(), engine.NewResponder(client, req.ID))
			if err != nil {
				return nil, err
			}
			if h, ok := e.Registry().Lookup(ev.Kind); ok && h.Stamped && unsettled {
				if err := e.Settle(ctx); err != nil {
					return nil, err
				}
				unsettled = false
			} else if ok && !h.Stamped {
				unsettled = true
			}
			if err := e.Submit(ctx, ev); err != nil {
				return nil, err
			}
			result.Requests++
		}
	}
	if err := e.Settle(ctx); err != nil {
		return nil, err
	}

	frames := uint64(settings.Render.Seconds * float64(e.SampleRate()))
	stats, err := renderer.Render(ctx, frames)
	if err != nil {
		return nil, err
	}

	active = false
	if err := e.Deactivate(); err != nil {
		return nil, err
	}
	result.Frames = stats.Frames
	result.Peak = stats.Peak
	result.Failed = client.failures()

	getLogger().Info("render complete",
		logger.String("path", result.Path),
		logger.Uint64("frames", result.Frames),
		logger.Float32("peak", result.Peak),
		logger.Int("requests", result.Requests),
		logger.Int("failed", len(result.Failed)))
	return result, nil
}
