package output

import (
	"fmt"
	"os"
	"sync"

	wav "github.com/youpy/go-wav"

	"github.com/drgolem/pcmjitter/pkg/pcmchunk"
)

// WAVSink is an offline driver with no device clock. The caller pulls one
// buffer at a time with Tick, which makes playback deterministic for
// simulation and tests. Rendered audio is written to a 16-bit WAV file on
// Close.
type WAVSink struct {
	path            string
	framesPerBuffer int

	mu      sync.Mutex
	format  pcmchunk.Format
	render  RenderFunc
	scratch []int16
	data    []byte
	open    bool
	running bool
}

// NewWAVSink returns a sink writing to path. An empty path discards the audio.
func NewWAVSink(path string, framesPerBuffer int) *WAVSink {
	return &WAVSink{
		path:            path,
		framesPerBuffer: framesPerBuffer,
	}
}

func (w *WAVSink) Open(f pcmchunk.Format, render RenderFunc) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.open {
		return ErrAlreadyOpen
	}
	if err := f.Validate(); err != nil {
		return err
	}

	w.format = f
	w.render = render
	w.scratch = make([]int16, w.framesPerBuffer*f.Channels)
	w.data = w.data[:0]
	w.open = true
	return nil
}

func (w *WAVSink) Start() error {
	return w.setRunning(true)
}

func (w *WAVSink) Pause() error {
	return w.setRunning(false)
}

func (w *WAVSink) Stop() error {
	return w.setRunning(false)
}

func (w *WAVSink) setRunning(running bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open {
		return ErrNotOpen
	}
	w.running = running
	return nil
}

// Tick performs one device callback and returns the rendered samples, which
// are valid until the next Tick. It returns nil while the sink is not running.
func (w *WAVSink) Tick() []int16 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.open || !w.running {
		return nil
	}

	w.render(w.scratch, w.framesPerBuffer, w.format.Channels)
	if w.path != "" {
		w.data = pcmchunk.Chunk{Samples: w.scratch}.AppendBytes(w.data)
	}
	return w.scratch
}

// Frames returns the number of frames captured so far.
func (w *WAVSink) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.format.Channels == 0 {
		return 0
	}
	return len(w.data) / w.format.FrameBytes()
}

// Close writes the captured audio to the WAV file.
func (w *WAVSink) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.open {
		return nil
	}
	w.open = false
	w.running = false

	if w.path == "" {
		return nil
	}
	return writeWAVFile(w.path, w.data, w.format)
}

// LatencyMs returns the duration of one tick.
func (w *WAVSink) LatencyMs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.format.SampleRate <= 0 {
		return 0
	}
	return w.framesPerBuffer * 1000 / w.format.SampleRate
}

// writeWAVFile writes 16-bit PCM data to a WAV file
func writeWAVFile(fileName string, audioData []byte, f pcmchunk.Format) error {
	fOut, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer fOut.Close()

	numFrames := uint32(len(audioData) / f.FrameBytes())
	wavWriter := wav.NewWriter(fOut, numFrames, uint16(f.Channels), uint32(f.SampleRate), 16)

	if _, err := wavWriter.Write(audioData); err != nil {
		return fmt.Errorf("failed to write WAV data: %w", err)
	}

	return nil
}
