package ingest

import (
	"errors"
	"fmt"

	"github.com/drgolem/ringbuffer"

	"github.com/drgolem/pcmjitter/pkg/types"
)

// Framer cuts a byte stream into fixed-size chunks and submits each one to a
// sink. Stream transports have no message boundaries, so a read may end in the
// middle of a frame; the remainder waits in the ring until the next write.
type Framer struct {
	sink       types.ChunkSink
	counters   *Counters
	chunkBytes int
	frameBytes int
	rb         *ringbuffer.RingBuffer
	chunk      []byte
	lastErr    error
}

// NewFramer returns a Framer submitting chunks of chunkBytes bytes, a whole
// number of frameBytes-sized frames. counters may be nil.
func NewFramer(sink types.ChunkSink, chunkBytes, frameBytes int, counters *Counters) (*Framer, error) {
	if frameBytes <= 0 || frameBytes%2 != 0 {
		return nil, fmt.Errorf("framer: frame size %d must be a positive even number of bytes", frameBytes)
	}
	if chunkBytes <= 0 || chunkBytes%frameBytes != 0 {
		return nil, fmt.Errorf("framer: chunk size %d must be a positive multiple of the %d byte frame", chunkBytes, frameBytes)
	}
	if counters == nil {
		counters = &Counters{}
	}
	return &Framer{
		sink:       sink,
		counters:   counters,
		chunkBytes: chunkBytes,
		frameBytes: frameBytes,
		rb:         ringbuffer.New(uint64(chunkBytes) * 4),
		chunk:      make([]byte, chunkBytes),
	}, nil
}

// Write buffers p and submits every complete chunk. A sink rejection is
// counted and remembered but does not stop the stream.
func (f *Framer) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		space := int(f.rb.AvailableWrite())
		n := min(space, len(p)-written)
		if n > 0 {
			if _, err := f.rb.Write(p[written : written+n]); err != nil {
				return written, err
			}
			written += n
		}
		f.drain(false)
	}
	return written, nil
}

// Flush submits the buffered whole frames as a final short chunk. A
// trailing partial frame is discarded.
func (f *Framer) Flush() {
	f.drain(true)
	f.rb.Reset()
}

// Buffered returns the number of bytes waiting for a complete chunk.
func (f *Framer) Buffered() int {
	return int(f.rb.AvailableRead())
}

// Err returns the last error reported by the sink, if any.
func (f *Framer) Err() error {
	return f.lastErr
}

func (f *Framer) drain(partial bool) {
	for {
		avail := int(f.rb.AvailableRead())
		n := f.chunkBytes
		if avail < n {
			n = avail - avail%f.frameBytes
			if !partial || n == 0 {
				return
			}
		}

		read, err := f.rb.Read(f.chunk[:n])
		if err != nil {
			if errors.Is(err, ringbuffer.ErrInsufficientData) {
				return
			}
			f.lastErr = err
			return
		}

		f.counters.received.Add(1)
		if err := f.counters.submit(f.sink, f.chunk[:read]); err != nil {
			f.lastErr = err
		}
	}
}
