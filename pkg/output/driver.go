package output

import (
	"errors"

	"github.com/drgolem/pcmjitter/pkg/pcmchunk"
)

// RenderFunc fills out with frames*channels interleaved samples.
// It is called from the driver's real-time context and must not block.
// jitterbuffer.Session.Render satisfies it.
type RenderFunc func(out []int16, frames, channels int)

// Driver is an output device that periodically pulls frames through a
// RenderFunc. Open prepares the device for one format; Start and Pause
// control the pull; Stop halts it; Close releases the device.
type Driver interface {
	Open(f pcmchunk.Format, render RenderFunc) error
	Start() error
	Pause() error
	Stop() error
	Close() error
	// LatencyMs returns the device-side output latency.
	LatencyMs() int
}

// HealthChecker is implemented by drivers that can report an asynchronous
// device failure after Start.
type HealthChecker interface {
	Err() error
}

var (
	ErrNotOpen      = errors.New("output: driver not open")
	ErrAlreadyOpen  = errors.New("output: driver already open")
	ErrFormatLocked = errors.New("output: device already initialized with a different format")
)
