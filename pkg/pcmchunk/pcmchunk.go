package pcmchunk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const bytesPerSample = 2

// ErrInvalidLength is returned when a byte buffer does not hold a whole
// number of 16-bit frames for the configured channel count.
var ErrInvalidLength = errors.New("pcmchunk: length is not a multiple of the frame size")

// ErrInvalidFormat is returned for a non-positive sample rate or channel count.
var ErrInvalidFormat = errors.New("pcmchunk: invalid format")

// Format describes interleaved signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int // Sample rate in Hz
	Channels   int // Interleaved channel count
}

// Validate reports whether the format can describe a playable stream.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.SampleRate > 384000 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, f.SampleRate)
	}
	if f.Channels <= 0 || f.Channels > 8 {
		return fmt.Errorf("%w: channel count %d", ErrInvalidFormat, f.Channels)
	}
	return nil
}

// FrameBytes returns the size in bytes of one frame.
func (f Format) FrameBytes() int {
	return bytesPerSample * f.Channels
}

// FramesIn returns the number of whole frames that fit in d.
func (f Format) FramesIn(d time.Duration) int {
	return int(time.Duration(f.SampleRate) * d / time.Second)
}

// BytesIn returns the number of bytes of whole frames that fit in d.
func (f Format) BytesIn(d time.Duration) int {
	return f.FramesIn(d) * f.FrameBytes()
}

// Duration returns the playback duration of the given number of frames.
func (f Format) Duration(frames int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

func (f Format) String() string {
	return fmt.Sprintf("s16le %dHz %dch", f.SampleRate, f.Channels)
}

// Chunk is a unit of interleaved PCM samples. Chunks built by FromBytes
// satisfy Frames*channels == len(Samples); the fields are exported so
// callers holding pre-decoded samples can build chunks directly.
type Chunk struct {
	Samples []int16
	Frames  int
}

// FromBytes decodes little-endian 16-bit PCM into a new Chunk.
// The input is copied, so callers may reuse data after FromBytes returns.
//
// Returns ErrInvalidLength if len(data) is not a multiple of 2*channels.
func FromBytes(data []byte, channels int) (Chunk, error) {
	if channels <= 0 {
		return Chunk{}, fmt.Errorf("%w: channel count %d", ErrInvalidFormat, channels)
	}
	frameBytes := bytesPerSample * channels
	if len(data)%frameBytes != 0 {
		return Chunk{}, fmt.Errorf("%w: %d bytes, frame size %d", ErrInvalidLength, len(data), frameBytes)
	}

	samples := make([]int16, len(data)/bytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*bytesPerSample:]))
	}

	return Chunk{
		Samples: samples,
		Frames:  len(samples) / channels,
	}, nil
}

// Consistent reports whether the recorded frame count matches the sample count.
func (c Chunk) Consistent(channels int) bool {
	return c.Frames >= 0 && c.Frames*channels == len(c.Samples)
}

// DurationMs returns the chunk duration in whole milliseconds.
func (c Chunk) DurationMs(sampleRate int) int {
	if sampleRate <= 0 {
		return 0
	}
	return c.Frames * 1000 / sampleRate
}

// AppendBytes appends the little-endian encoding of the samples to dst.
func (c Chunk) AppendBytes(dst []byte) []byte {
	for _, s := range c.Samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

// PutSamples encodes samples as little-endian 16-bit PCM into dst and returns
// the number of bytes written. dst must hold at least 2*len(samples) bytes.
func PutSamples(dst []byte, samples []int16) int {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*bytesPerSample:], uint16(s))
	}
	return len(samples) * bytesPerSample
}
