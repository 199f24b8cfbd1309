package types

import (
	"time"

	"github.com/drgolem/ringbuffer"
)

// ChunkSource is the common interface for producers of raw PCM chunks
// (files, generators, network receivers with a pull API).
// Every chunk is interleaved signed 16-bit little-endian PCM.
type ChunkSource interface {
	// Format returns the stream format: sample rate (Hz) and channel count.
	Format() (sampleRate, channels int)

	// ReadChunk fills buf with up to len(buf) bytes of whole frames.
	// Returns: number of bytes written, io.EOF when the source is exhausted.
	// Note: len(buf) must be a multiple of 2*channels.
	ReadChunk(buf []byte) (int, error)

	// Close releases resources held by the source
	Close() error
}

// ChunkSink accepts raw PCM chunks from a producer.
// jitterbuffer.Session implements it; a nil error means the chunk was accepted.
type ChunkSink interface {
	SubmitChunk(data []byte) error
}

// PlaybackStatus holds unified jitter buffer playback information.
// This struct provides real-time metrics for monitoring a receiver.
type PlaybackStatus struct {
	SessionID        string        // Jitter buffer session identifier
	Source           string        // Name of the producer (file name, remote address)
	State            string        // "filling" or "playing"
	SampleRate       int           // Stream sample rate in Hz (e.g., 44100, 48000)
	Channels         int           // Number of audio channels (1=mono, 2=stereo)
	FramesPerBuffer  int           // Output driver frames per callback
	QueuedChunks     int           // Chunks waiting in the jitter buffer
	BufferedMs       int           // Estimated buffered audio in milliseconds
	EstimatedChunkMs int           // Smoothed chunk duration estimate
	LatencyMs        int           // Output latency reported by the driver
	Underruns        int           // Render calls that ran out of data
	Rebuffers        int64         // Forced returns to prebuffering
	ChunksReceived   int64         // Chunks accepted since the session started
	ChunksRejected   int64         // Payloads refused (bad length, not playing)
	ElapsedTime      time.Duration // Wall-clock time since playback started
}

// PlaybackMonitor is an interface for types that can report playback status.
// Implementing this interface allows consistent status monitoring across
// different player implementations.
type PlaybackMonitor interface {
	GetPlaybackStatus() PlaybackStatus
}

// Re-export common ringbuffer errors from github.com/drgolem/ringbuffer
// so transports do not need to import it directly.
var (
	// ErrInsufficientSpace indicates the ringbuffer doesn't have enough space for the write operation
	ErrInsufficientSpace = ringbuffer.ErrInsufficientSpace

	// ErrInsufficientData indicates the ringbuffer doesn't have enough data for the read operation
	ErrInsufficientData = ringbuffer.ErrInsufficientData
)
