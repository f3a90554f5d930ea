// Package wavrender renders engine output to a WAV file faster than real
// time.
package wavrender

import (
	"context"
	"math"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/patchgraph/ingen/internal/driver"
	"github.com/patchgraph/ingen/internal/errors"
)

const (
	component = "driver-wav"
	bitDepth  = 16
	pcmFormat = 1
)

// Stats summarizes a finished render
type Stats struct {
	Frames uint64
	Peak   float32
}

// Renderer is a driver whose clock is a ticker while idle, so events can
// be prepared and applied, and the caller's loop while rendering.
type Renderer struct {
	*driver.Dummy

	path       string
	channels   int
	sampleRate uint32
	blockSize  uint32
}

// New returns a renderer writing to path
func New(path string, process driver.ProcessFunc, sampleRate, blockSize uint32, channels int) (*Renderer, error) {
	d, err := driver.NewDummy(process, sampleRate, blockSize, channels)
	if err != nil {
		return nil, err
	}
	return &Renderer{
		Dummy:      d,
		path:       path,
		channels:   channels,
		sampleRate: sampleRate,
		blockSize:  blockSize,
	}, nil
}

// Pause stops the idle clock. Events submitted afterwards wait for Render.
func (r *Renderer) Pause() error {
	return r.Dummy.Deactivate()
}

// Render stops the idle clock and writes frames of output as 16-bit PCM.
// The file is complete and closed when Render returns without error.
func (r *Renderer) Render(ctx context.Context, frames uint64) (Stats, error) {
	if err := r.Dummy.Deactivate(); err != nil {
		return Stats{}, err
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Stats{}, fileError(err, r.path, "mkdir")
		}
	}
	f, err := os.Create(r.path)
	if err != nil {
		return Stats{}, fileError(err, r.path, "create")
	}
	defer f.Close()

	enc := wav.NewEncoder(f, int(r.sampleRate), bitDepth, r.channels, pcmFormat)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: r.channels, SampleRate: int(r.sampleRate)},
		Data:           make([]int, int(r.blockSize)*r.channels),
		SourceBitDepth: bitDepth,
	}

	var stats Stats
	for stats.Frames < frames {
		if err := ctx.Err(); err != nil {
			_ = enc.Close()
			return stats, errors.New(err).
				Component(component).
				Category(errors.CategoryTimeout).
				Context("rendered_frames", stats.Frames).
				Build()
		}
		n := int(min(uint64(r.blockSize), frames-stats.Frames))
		r.Cycle(1)
		out := r.Output()
		buf.Data = buf.Data[:n*r.channels]
		for i := range n {
			for c := range r.channels {
				v := out[c][i]
				stats.Peak = max(stats.Peak, float32(math.Abs(float64(v))))
				buf.Data[i*r.channels+c] = toPCM16(v)
			}
		}
		if err := enc.Write(buf); err != nil {
			_ = enc.Close()
			return stats, fileError(err, r.path, "write")
		}
		stats.Frames += uint64(n)
	}
	if err := enc.Close(); err != nil {
		return stats, fileError(err, r.path, "close")
	}
	return stats, nil
}

// Path returns the output file path
func (r *Renderer) Path() string { return r.path }

func toPCM16(v float32) int {
	v = min(max(v, -1), 1)
	return int(math.Round(float64(v) * math.MaxInt16))
}

func fileError(err error, path, op string) error {
	return errors.New(err).
		Component(component).
		Category(errors.CategoryFileIO).
		Context("path", path).
		Context("operation", op).
		Build()
}
