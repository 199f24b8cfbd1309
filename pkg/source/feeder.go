package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/drgolem/pcmjitter/pkg/pcmchunk"
	"github.com/drgolem/pcmjitter/pkg/types"
)

// Feeder reads chunks from a source and submits them to a sink on the
// schedule of a Pacer, imitating a bursty network producer.
type Feeder struct {
	src        types.ChunkSource
	sink       types.ChunkSink
	pacer      *Pacer
	chunkBytes int

	sent     atomic.Int64
	rejected atomic.Int64
}

// NewFeeder returns a feeder delivering chunks of chunkDuration.
func NewFeeder(src types.ChunkSource, sink types.ChunkSink, chunkDuration time.Duration, profile Profile) (*Feeder, error) {
	rate, channels := src.Format()
	f := pcmchunk.Format{SampleRate: rate, Channels: channels}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	chunkBytes := f.BytesIn(chunkDuration)
	if chunkBytes == 0 {
		return nil, fmt.Errorf("chunk duration %v is shorter than one frame", chunkDuration)
	}

	return &Feeder{
		src:        src,
		sink:       sink,
		pacer:      NewPacer(chunkDuration, profile),
		chunkBytes: chunkBytes,
	}, nil
}

// Run delivers chunks until the source is exhausted or ctx is done.
// It returns nil at end of source and ctx.Err() on cancellation.
// Chunks refused by the sink are counted and skipped.
func (f *Feeder) Run(ctx context.Context) error {
	buf := make([]byte, f.chunkBytes)
	next := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		n, err := f.src.ReadChunk(buf)
		if n > 0 {
			next = next.Add(f.pacer.Next())
			timer.Reset(time.Until(next))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}

			if serr := f.sink.SubmitChunk(buf[:n]); serr != nil {
				f.rejected.Add(1)
				slog.Debug("Chunk rejected", "error", serr)
			} else {
				f.sent.Add(1)
			}
		}

		if errors.Is(err, io.EOF) {
			slog.Debug("Feeder finished", "sent", f.sent.Load(), "rejected", f.rejected.Load())
			return nil
		}
		if err != nil {
			return fmt.Errorf("read chunk: %w", err)
		}
	}
}

// Stats returns the number of chunks accepted and refused by the sink.
func (f *Feeder) Stats() (sent, rejected int64) {
	return f.sent.Load(), f.rejected.Load()
}

// ChunkBytes returns the byte size of one chunk.
func (f *Feeder) ChunkBytes() int {
	return f.chunkBytes
}
