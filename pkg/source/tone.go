package source

import (
	"io"
	"math"

	"github.com/drgolem/pcmjitter/pkg/pcmchunk"
)

// Tone generates a sine wave, identical on every channel.
// Implements types.ChunkSource interface.
type Tone struct {
	format    pcmchunk.Format
	frequency float64
	amplitude float64
	remaining int // frames left; negative means unlimited
	phase     float64
}

// NewTone returns a generator of the given frequency and amplitude in [0, 1]
// lasting frames frames, or forever if frames is negative.
func NewTone(f pcmchunk.Format, frequency, amplitude float64, frames int) *Tone {
	return &Tone{
		format:    f,
		frequency: frequency,
		amplitude: min(max(amplitude, 0), 1),
		remaining: frames,
	}
}

func (t *Tone) Format() (sampleRate, channels int) {
	return t.format.SampleRate, t.format.Channels
}

func (t *Tone) ReadChunk(buf []byte) (int, error) {
	if t.remaining == 0 {
		return 0, io.EOF
	}

	frames := len(buf) / t.format.FrameBytes()
	if t.remaining > 0 {
		frames = min(frames, t.remaining)
		t.remaining -= frames
	}

	step := 2 * math.Pi * t.frequency / float64(t.format.SampleRate)
	samples := make([]int16, 0, frames*t.format.Channels)
	for range frames {
		v := int16(math.Sin(t.phase) * t.amplitude * math.MaxInt16)
		for range t.format.Channels {
			samples = append(samples, v)
		}
		t.phase = math.Mod(t.phase+step, 2*math.Pi)
	}

	return pcmchunk.PutSamples(buf, samples), nil
}

func (t *Tone) Close() error {
	return nil
}
