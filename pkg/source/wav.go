package source

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/youpy/go-wav"
)

// ErrUnsupportedFormat is returned for WAV files that are not 16-bit PCM with
// one or two channels.
var ErrUnsupportedFormat = errors.New("source: unsupported WAV format")

// WAV reads 16-bit PCM chunks from a WAV file.
// Implements types.ChunkSource interface.
type WAV struct {
	file     *os.File
	reader   *wav.Reader
	rate     int
	channels int
}

// OpenWAV opens a WAV file for chunked reading. Only 16-bit PCM with one or
// two channels is accepted; no sample format conversion is done.
func OpenWAV(fileName string) (*WAV, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}

	reader := wav.NewReader(file)
	format, err := reader.Format()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read WAV format: %w", err)
	}

	// Validate format
	if format.AudioFormat != wav.AudioFormatPCM || format.BitsPerSample != 16 {
		file.Close()
		return nil, fmt.Errorf("%w: format %d, %d bits (only 16-bit PCM supported)",
			ErrUnsupportedFormat, format.AudioFormat, format.BitsPerSample)
	}
	if format.NumChannels < 1 || format.NumChannels > 2 {
		file.Close()
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, format.NumChannels)
	}

	return &WAV{
		file:     file,
		reader:   reader,
		rate:     int(format.SampleRate),
		channels: int(format.NumChannels),
	}, nil
}

// Close closes the WAV file
func (w *WAV) Close() error {
	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}

// Format returns the sample rate and channel count.
func (w *WAV) Format() (sampleRate, channels int) {
	return w.rate, w.channels
}

// ReadChunk reads up to len(buf)/(2*channels) frames into buf as
// little-endian 16-bit PCM.
//
// Returns:
//   - number of bytes written (always whole frames)
//   - io.EOF once no frame is left
func (w *WAV) ReadChunk(buf []byte) (int, error) {
	if w.reader == nil {
		return 0, fmt.Errorf("WAV source not initialized")
	}

	frameBytes := 2 * w.channels
	frames := len(buf) / frameBytes
	if frames == 0 {
		return 0, nil
	}

	samples, err := w.reader.ReadSamples(uint32(frames))
	if len(samples) == 0 {
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}

	// go-wav returns one Sample per frame with a value per channel
	offset := 0
	for _, s := range samples {
		for ch := 0; ch < w.channels; ch++ {
			v := uint16(int16(s.Values[ch]))
			buf[offset] = byte(v)
			buf[offset+1] = byte(v >> 8)
			offset += 2
		}
	}

	if err == io.EOF {
		err = nil
	}
	return offset, err
}
