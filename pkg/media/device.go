// Package media abstracts the audio devices a live session runs against:
// a block-oriented capture device and a clock-bearing output device.
// Real implementations (microphone, speaker) live in this package too; the
// session core only ever sees the interfaces, which keeps it testable with
// fakes.
package media

import (
	"context"
	"time"
)

// CaptureDevice delivers fixed-size blocks of float samples from an input
// device. The Blocks channel closes when the device is closed; Close is safe
// to call more than once.
type CaptureDevice interface {
	Blocks() <-chan []float32
	SampleRate() int
	BlockSize() int
	Close() error
}

// OutputDevice plays sample buffers at scheduled positions on its own clock.
//
// Now is the device's current playback position; it advances in real time
// from the moment the device opens. PlayAt schedules a buffer to begin at the
// given position, padding with silence if the position is beyond audio already
// queued. Callers are responsible for never scheduling overlapping windows.
type OutputDevice interface {
	Now() time.Duration
	PlayAt(start time.Duration, samples []float32) error
	SampleRate() int
	Close() error
}

// Provider opens the capture and output devices for one session. Opening may
// block on user or OS permission prompts, so both calls take a context.
type Provider interface {
	OpenCapture(ctx context.Context) (CaptureDevice, error)
	OpenOutput(ctx context.Context) (OutputDevice, error)
}
