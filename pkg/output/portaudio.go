package output

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/drgolem/go-portaudio/portaudio"

	"github.com/drgolem/pcmjitter/pkg/pcmchunk"
)

// PortAudio is a callback-mode PortAudio output driver.
//
// portaudio.Initialize must have been called before Open and
// portaudio.Terminate after Close.
//
// Thread Safety Model:
//   - Open, Start, Pause, Stop and Close are called from a control goroutine
//   - The callback runs on PortAudio's audio thread and only touches the
//     scratch buffer allocated in Open and atomic counters
type PortAudio struct {
	deviceIndex     int
	framesPerBuffer int

	stream  *portaudio.PaStream
	format  pcmchunk.Format
	render  RenderFunc
	scratch []int16

	callbacks   atomic.Uint64
	statusFlags atomic.Uint64 // callbacks reporting under/overflow
	frames      atomic.Uint64
}

// NewPortAudio returns a driver for the given device index and callback size.
func NewPortAudio(deviceIndex, framesPerBuffer int) *PortAudio {
	return &PortAudio{
		deviceIndex:     deviceIndex,
		framesPerBuffer: framesPerBuffer,
	}
}

// Open opens a 16-bit output stream with the driver callback.
func (p *PortAudio) Open(f pcmchunk.Format, render RenderFunc) error {
	if p.stream != nil {
		return ErrAlreadyOpen
	}
	if err := f.Validate(); err != nil {
		return err
	}

	p.format = f
	p.render = render
	p.scratch = make([]int16, p.framesPerBuffer*f.Channels)
	p.callbacks.Store(0)
	p.statusFlags.Store(0)
	p.frames.Store(0)

	stream := &portaudio.PaStream{
		OutputParameters: &portaudio.PaStreamParameters{
			DeviceIndex:  p.deviceIndex,
			ChannelCount: f.Channels,
			SampleFormat: portaudio.SampleFmtInt16,
		},
		SampleRate: float64(f.SampleRate),
	}

	if err := stream.OpenCallback(p.framesPerBuffer, p.callback); err != nil {
		return fmt.Errorf("failed to open stream with callback: %w", err)
	}
	p.stream = stream

	slog.Debug("PortAudio stream opened",
		"device", p.deviceIndex,
		"format", f.String(),
		"frames_per_buffer", p.framesPerBuffer)

	return nil
}

func (p *PortAudio) Start() error {
	if p.stream == nil {
		return ErrNotOpen
	}
	if err := p.stream.StartStream(); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}
	return nil
}

// Pause stops the device pull; the stream stays open.
func (p *PortAudio) Pause() error {
	return p.Stop()
}

func (p *PortAudio) Stop() error {
	if p.stream == nil {
		return ErrNotOpen
	}
	if err := p.stream.StopStream(); err != nil {
		return fmt.Errorf("failed to stop stream: %w", err)
	}
	return nil
}

// Close closes the stream. Calling Close on a closed driver is a no-op.
func (p *PortAudio) Close() error {
	if p.stream == nil {
		return nil
	}
	err := p.stream.CloseCallback()
	p.stream = nil
	if err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	return nil
}

// LatencyMs returns the duration of one callback buffer.
func (p *PortAudio) LatencyMs() int {
	if p.format.SampleRate <= 0 {
		return 0
	}
	return p.framesPerBuffer * 1000 / p.format.SampleRate
}

// Callbacks returns the number of callbacks served and how many of them
// carried non-zero status flags.
func (p *PortAudio) Callbacks() (total, flagged uint64) {
	return p.callbacks.Load(), p.statusFlags.Load()
}

// callback is called by PortAudio to fill the output buffer.
//
// IMPORTANT: This runs in a separate audio thread managed by PortAudio's C library,
// NOT in a Go goroutine. It must not allocate or block.
func (p *PortAudio) callback(
	input, output []byte,
	frameCount uint,
	timeInfo *portaudio.StreamCallbackTimeInfo,
	statusFlags portaudio.StreamCallbackFlags,
) portaudio.StreamCallbackResult {
	p.callbacks.Add(1)
	if statusFlags != 0 {
		p.statusFlags.Add(1)
	}

	n := fillOutput(output, p.scratch, int(frameCount), p.format.Channels, p.render)
	p.frames.Add(uint64(n))

	return portaudio.Continue
}

// fillOutput renders up to frames frames through scratch into output as
// little-endian bytes and clears whatever is left of output. It returns the
// number of frames rendered.
func fillOutput(output []byte, scratch []int16, frames, channels int, render RenderFunc) int {
	if channels <= 0 {
		clear(output)
		return 0
	}
	frames = min(frames, len(scratch)/channels, len(output)/(2*channels))
	samples := scratch[:frames*channels]

	render(samples, frames, channels)
	n := pcmchunk.PutSamples(output, samples)
	clear(output[n:])

	return frames
}
