package output

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/drgolem/pcmjitter/pkg/pcmchunk"
)

// oto allows one context per process; it is created on first use and
// shared by every Oto driver with the same format.
var (
	otoMu     sync.Mutex
	otoCtx    *oto.Context
	otoFormat pcmchunk.Format
)

func otoContext(f pcmchunk.Format, bufferSize time.Duration) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	if otoCtx != nil {
		if otoFormat != f {
			return nil, fmt.Errorf("%w: have %s, want %s", ErrFormatLocked, otoFormat, f)
		}
		return otoCtx, nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   bufferSize,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	otoCtx = ctx
	otoFormat = f
	return ctx, nil
}

// Oto is a pull-mode output driver. The oto player reads from the driver,
// and each Read renders fresh frames.
type Oto struct {
	bufferSize time.Duration

	mu      sync.Mutex
	player  *oto.Player
	format  pcmchunk.Format
	render  RenderFunc
	scratch []int16
}

// NewOto returns a driver whose device buffer holds roughly bufferSize of audio.
func NewOto(bufferSize time.Duration) *Oto {
	return &Oto{bufferSize: bufferSize}
}

func (o *Oto) Open(f pcmchunk.Format, render RenderFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.player != nil {
		return ErrAlreadyOpen
	}
	if err := f.Validate(); err != nil {
		return err
	}

	ctx, err := otoContext(f, o.bufferSize)
	if err != nil {
		return err
	}

	o.format = f
	o.render = render
	o.scratch = make([]int16, f.FramesIn(o.bufferSize+10*time.Millisecond)*f.Channels)
	o.player = ctx.NewPlayer(&otoReader{o: o})

	slog.Debug("Oto output opened", "format", f.String(), "buffer", o.bufferSize)
	return nil
}

func (o *Oto) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player == nil {
		return ErrNotOpen
	}
	o.player.Play()
	return nil
}

func (o *Oto) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player == nil {
		return ErrNotOpen
	}
	o.player.Pause()
	return nil
}

func (o *Oto) Stop() error {
	return o.Pause()
}

// Close closes the player. The shared oto context stays alive for reuse.
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player == nil {
		return nil
	}
	err := o.player.Close()
	o.player = nil
	if err != nil {
		return fmt.Errorf("failed to close oto player: %w", err)
	}
	return nil
}

// LatencyMs returns the audio queued inside the oto player.
func (o *Oto) LatencyMs() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player == nil || o.format.SampleRate <= 0 {
		return 0
	}
	frames := o.player.BufferedSize() / o.format.FrameBytes()
	return frames * 1000 / o.format.SampleRate
}

// Err reports a playback error raised by oto.
func (o *Oto) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player == nil {
		return nil
	}
	return o.player.Err()
}

// otoReader adapts the render function to the io.Reader oto pulls from.
// oto calls Read from its own goroutine only.
type otoReader struct {
	o *Oto
}

func (r *otoReader) Read(p []byte) (int, error) {
	o := r.o
	frameBytes := o.format.FrameBytes()
	frames := len(p) / frameBytes
	if frames == 0 {
		return 0, nil
	}
	if need := frames * o.format.Channels; need > len(o.scratch) {
		o.scratch = make([]int16, need)
	}

	n := fillOutput(p[:frames*frameBytes], o.scratch, frames, o.format.Channels, o.render)
	return n * frameBytes, nil
}
