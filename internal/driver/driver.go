// Package driver connects the engine to an audio clock: a sound card, a
// headless ticker or an offline renderer. It also provides the MIDI input
// ring the audio callback drains each block.
package driver

import (
	"github.com/patchgraph/ingen/internal/errors"
)

const component = "driver"

// ProcessFunc is the engine's audio callback. out holds one buffer per
// output channel, each at least nframes long. It is called from a single
// goroutine at a time and must not block.
type ProcessFunc func(nframes uint32, out [][]float32)

// AudioDriver drives ProcessFunc from an audio clock
type AudioDriver interface {
	// Activate starts calling the process function
	Activate() error
	// Deactivate stops the clock. No callback runs after it returns.
	Deactivate() error
	// FrameTime returns the frames processed since creation
	FrameTime() uint64
	SampleRate() uint32
	BlockSize() uint32
}

// Factory builds a driver around the engine's process function
type Factory func(process ProcessFunc) (AudioDriver, error)

// allocOutput allocates the per-channel output buffers handed to process
func allocOutput(channels int, blockSize uint32) [][]float32 {
	out := make([][]float32, channels)
	for i := range out {
		out[i] = make([]float32, blockSize)
	}
	return out
}

func validate(sampleRate, blockSize uint32, channels int) error {
	if sampleRate == 0 || blockSize == 0 || channels <= 0 {
		return errors.Newf("invalid driver format: %d Hz, %d frames, %d channels", sampleRate, blockSize, channels).
			Component(component).
			Category(errors.CategoryValidation).
			Context("sample_rate", sampleRate).
			Context("block_size", blockSize).
			Context("channels", channels).
			Build()
	}
	return nil
}
