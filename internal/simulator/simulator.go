// Package simulator replays a chunk source against a jitter buffer on a
// virtual clock. Arrivals follow a source.Pacer and the consumer is a WAV
// sink ticked at the device period, so a run is deterministic for a given
// seed and finishes as fast as the CPU allows.
package simulator

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/drgolem/pcmjitter/pkg/jitterbuffer"
	"github.com/drgolem/pcmjitter/pkg/output"
	"github.com/drgolem/pcmjitter/pkg/pcmchunk"
	"github.com/drgolem/pcmjitter/pkg/source"
	"github.com/drgolem/pcmjitter/pkg/types"
)

// Config describes one simulation run.
type Config struct {
	Jitter          jitterbuffer.Config
	FramesPerBuffer int
	Chunk           time.Duration
	Profile         source.Profile
	Volume          float32
	OutPath         string        // Rendered audio; empty discards it
	MaxDuration     time.Duration // Virtual time limit; zero means unlimited
}

// DefaultConfig returns a steady 20ms producer feeding 10ms device callbacks
// at 48kHz.
func DefaultConfig() Config {
	return Config{
		Jitter:          jitterbuffer.DefaultConfig(),
		FramesPerBuffer: 480,
		Chunk:           20 * time.Millisecond,
		Volume:          1.0,
	}
}

// Result summarizes a run.
type Result struct {
	Stats          jitterbuffer.Stats
	Events         map[jitterbuffer.EventKind]int
	ChunksSent     int64
	ChunksRejected int64
	Callbacks      int64
	FramesRendered int
	VirtualTime    time.Duration
	Stranded       int // Chunks still queued when the run ended
}

// Run plays src through a fresh session. onEvent, if not nil, receives every
// session event in order.
func Run(src types.ChunkSource, cfg Config, onEvent func(jitterbuffer.Event)) (Result, error) {
	rate, channels := src.Format()
	format := pcmchunk.Format{SampleRate: rate, Channels: channels}
	if err := format.Validate(); err != nil {
		return Result{}, err
	}
	if cfg.FramesPerBuffer <= 0 {
		return Result{}, errors.New("frames per buffer must be positive")
	}
	chunkBytes := format.BytesIn(cfg.Chunk)
	if chunkBytes == 0 {
		return Result{}, fmt.Errorf("chunk duration %v is shorter than one frame", cfg.Chunk)
	}

	start := time.Unix(0, 0)
	now := start

	sink := output.NewWAVSink(cfg.OutPath, cfg.FramesPerBuffer)
	session := jitterbuffer.NewSession(cfg.Jitter,
		jitterbuffer.WithClock(func() time.Time { return now }),
		jitterbuffer.WithLatencySource(sink.LatencyMs))

	if err := session.Create(rate, channels); err != nil {
		return Result{}, err
	}
	session.SetVolume(cfg.Volume)
	if err := sink.Open(format, session.Render); err != nil {
		return Result{}, err
	}
	if err := session.Start(); err != nil {
		return Result{}, err
	}
	if err := sink.Start(); err != nil {
		return Result{}, err
	}

	res := Result{Events: make(map[jitterbuffer.EventKind]int)}
	drainEvents := func() {
		for {
			select {
			case ev := <-session.Events():
				res.Events[ev.Kind]++
				if onEvent != nil {
					onEvent(ev)
				}
			default:
				return
			}
		}
	}

	pacer := source.NewPacer(cfg.Chunk, cfg.Profile)
	period := format.Duration(cfg.FramesPerBuffer)
	callbacksPerChunk := (format.FramesIn(cfg.Chunk) + cfg.FramesPerBuffer - 1) / cfg.FramesPerBuffer

	buf := make([]byte, chunkBytes)
	nextArrival := now.Add(pacer.Next())
	nextCallback := now.Add(period)

	sourceDone := false
	endBudget := 0 // callbacks left once the source is exhausted

	for {
		if cfg.MaxDuration > 0 && now.Sub(start) >= cfg.MaxDuration {
			break
		}

		if !sourceDone && !nextArrival.After(nextCallback) {
			now = nextArrival
			n, err := src.ReadChunk(buf)
			if n > 0 {
				res.ChunksSent++
				if session.SubmitChunk(buf[:n]) != nil {
					res.ChunksRejected++
				}
			}
			if err != nil && !errors.Is(err, io.EOF) {
				sink.Close()
				return res, fmt.Errorf("read chunk: %w", err)
			}
			if n == 0 || errors.Is(err, io.EOF) {
				sourceDone = true
				// Enough to play out the queue, or to give up waiting on a
				// queue that never reaches the prebuffer target.
				queued := session.BufferedChunkCount()
				endBudget = cfg.Jitter.StallCallbacks + (queued+1)*callbacksPerChunk + 1
			}
			nextArrival = now.Add(pacer.Next())
		} else {
			if sourceDone {
				if endBudget == 0 || (session.BufferedChunkCount() == 0 && endBudget <= cfg.Jitter.StallCallbacks) {
					break
				}
				endBudget--
			}
			now = nextCallback
			sink.Tick()
			res.Callbacks++
			nextCallback = now.Add(period)
		}

		drainEvents()
	}

	drainEvents()
	res.Stats = session.Stats()
	res.FramesRendered = int(res.Callbacks) * cfg.FramesPerBuffer
	res.VirtualTime = now.Sub(start)
	res.Stranded = session.BufferedChunkCount()

	session.Stop()
	if err := sink.Close(); err != nil {
		return res, fmt.Errorf("write output: %w", err)
	}
	return res, nil
}
