package jitterbuffer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/drgolem/pcmjitter/pkg/chunkqueue"
	"github.com/drgolem/pcmjitter/pkg/pcmchunk"
)

// Session is an adaptive playback jitter buffer for one PCM stream.
//
// A producer goroutine calls SubmitChunk with little-endian 16-bit PCM at
// irregular intervals; the output driver's real-time goroutine calls Render
// at a fixed period. Render never blocks on the producer and never allocates:
// when no data is available it writes silence.
//
// Thread safety:
//   - SubmitChunk must only be called by one producer goroutine
//   - Render must only be called by one consumer (output driver) goroutine
//   - Control and query methods may be called from any goroutine
//
// The queue and play cursor share a single mutex. Counters, flags, the
// volume and the estimates are atomics and may be read without it.
type Session struct {
	id      string
	cfg     Config
	now     func() time.Time
	latency func() int

	mu        sync.Mutex
	queue     *chunkqueue.Queue
	cursor    Cursor
	prebuffer *PrebufferController
	underruns *UnderrunPolicy
	drift     *DriftMeter
	interval  *IntervalTracker
	estimator *ChunkDurationEstimator
	volume    *Volume

	sampleRate atomic.Int32
	channels   atomic.Int32
	configured atomic.Bool
	started    atomic.Bool
	paused     atomic.Bool

	queued         atomic.Int32
	totalCallbacks atomic.Int64
	chunksAdded    atomic.Int64
	chunksConsumed atomic.Int64
	chunksEvicted  atomic.Int64
	corruptChunks  atomic.Int64
	rebuffers      atomic.Int64
	stalls         atomic.Int64
	droppedEvents  atomic.Int64

	events chan Event
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces time.Now for arrival and drift timing.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithLatencySource sets the function LatencyMs passes through, normally the
// output driver's LatencyMs.
func WithLatencySource(latency func() int) Option {
	return func(s *Session) {
		s.latency = latency
	}
}

// NewSession returns an unconfigured session. Invalid tuning values in cfg
// are replaced by DefaultConfig.
func NewSession(cfg Config, opts ...Option) *Session {
	if cfg.Validate() != nil {
		cfg = DefaultConfig()
	}

	s := &Session{
		id:        uuid.New().String(),
		cfg:       cfg,
		now:       time.Now,
		latency:   func() int { return 0 },
		queue:     chunkqueue.New(cfg.MaxQueueSize),
		prebuffer: NewPrebufferController(cfg.TargetPrebufferMs, cfg.StallCallbacks),
		underruns: NewUnderrunPolicy(cfg),
		drift:     NewDriftMeter(cfg.DriftMinElapsed),
		interval:  NewIntervalTracker(cfg.SeedIntervalMs),
		estimator: NewChunkDurationEstimator(cfg.SeedChunkMs),
		volume:    NewVolume(1.0),
		events:    make(chan Event, cfg.EventBuffer),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ID returns the unique session identifier.
func (s *Session) ID() string {
	return s.id
}

// Config returns the tuning in use.
func (s *Session) Config() Config {
	return s.cfg
}

// Events returns the notification channel. It is never closed; readers
// should select on their own cancellation.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Create configures the session for a fixed stream format and resets all
// queue, cursor and counter state. The session is left stopped.
func (s *Session) Create(sampleRate, channels int) error {
	f := pcmchunk.Format{SampleRate: sampleRate, Channels: channels}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.started.Store(false)
	s.paused.Store(false)
	s.sampleRate.Store(int32(sampleRate))
	s.channels.Store(int32(channels))
	s.resetLocked()
	s.configured.Store(true)

	return nil
}

// Format returns the configured stream format.
func (s *Session) Format() pcmchunk.Format {
	return pcmchunk.Format{
		SampleRate: int(s.sampleRate.Load()),
		Channels:   int(s.channels.Load()),
	}
}

// Start begins a playback run in the Filling state. Every call, including
// one on a running or paused session, re-enters prebuffering; queued chunks
// are kept and count towards the target.
func (s *Session) Start() error {
	if !s.configured.Load() {
		return ErrNotConfigured
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.prebuffer.Reset()
	s.paused.Store(false)
	s.started.Store(true)

	return nil
}

// Pause makes Render emit silence without consuming data. Submitted chunks
// are still accepted.
func (s *Session) Pause() error {
	if !s.configured.Load() {
		return ErrNotConfigured
	}
	if !s.started.Load() {
		return ErrNotPlaying
	}
	s.paused.Store(true)
	return nil
}

// Stop ends the playback run, discards every queued chunk and the cursor,
// and resets counters and estimates so that a following Start behaves like
// a freshly created session. The volume is kept.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.started.Store(false)
	s.paused.Store(false)
	s.resetLocked()
}

// ClearQueue discards every queued chunk and the cursor without changing
// the play state or counters.
func (s *Session) ClearQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue.Reset()
	s.cursor.Reset()
	s.queued.Store(0)
}

func (s *Session) resetLocked() {
	s.queue.Reset()
	s.cursor.Reset()
	s.prebuffer.Reset()
	s.underruns.Reset()
	s.drift.Reset()
	s.interval.Reset()
	s.estimator.Reset()

	s.queued.Store(0)
	s.totalCallbacks.Store(0)
	s.chunksAdded.Store(0)
	s.chunksConsumed.Store(0)
	s.chunksEvicted.Store(0)
	s.corruptChunks.Store(0)
	s.rebuffers.Store(0)
	s.stalls.Store(0)
	s.droppedEvents.Store(0)
}

// SubmitChunk decodes one little-endian 16-bit PCM payload and appends it
// to the queue, evicting the oldest chunk when the queue is full.
// The payload is copied.
//
// Returns:
//   - ErrNotConfigured before Create
//   - ErrNotPlaying before Start or after Stop
//   - ErrInvalidChunkLength if len(data) is not a multiple of 2*channels;
//     no state is changed
func (s *Session) SubmitChunk(data []byte) error {
	if !s.configured.Load() {
		return ErrNotConfigured
	}
	if !s.started.Load() {
		return ErrNotPlaying
	}

	c, err := pcmchunk.FromBytes(data, int(s.channels.Load()))
	if err != nil {
		return fmt.Errorf("submit chunk: %w", err)
	}

	now := s.now()

	s.mu.Lock()
	// Stop may have run between the check above and the lock.
	if !s.started.Load() {
		s.mu.Unlock()
		return ErrNotPlaying
	}
	// The first chunk of a run does not move the estimate.
	if s.chunksAdded.Load() > 0 {
		s.estimator.Observe(c.Frames, int(s.sampleRate.Load()))
	}
	s.interval.Observe(now)
	evicted := s.queue.Push(c)
	queued := s.queue.Len()
	s.queued.Store(int32(queued))
	s.chunksAdded.Add(1)
	s.mu.Unlock()

	if evicted {
		s.chunksEvicted.Add(1)
		s.emit(Event{
			Kind:         EventChunkEvicted,
			QueuedChunks: queued,
			BufferedMs:   queued * s.estimator.EstimateMs(),
			Underruns:    s.underruns.Count(),
		})
	}

	return nil
}

// SetVolume clamps v into [0, 1] and applies it from the next Render call.
func (s *Session) SetVolume(v float32) {
	s.volume.Set(v)
}

// Volume returns the current gain.
func (s *Session) Volume() float32 {
	return s.volume.Get()
}

// BufferedChunkCount returns the number of queued chunks.
func (s *Session) BufferedChunkCount() int {
	return int(s.queued.Load())
}

// BufferedMs returns the buffered-time estimate.
func (s *Session) BufferedMs() int {
	return s.BufferedChunkCount() * s.estimator.EstimateMs()
}

// UnderrunCount returns the number of render calls that ran out of data.
func (s *Session) UnderrunCount() int {
	return s.underruns.Count()
}

// LatencyMs returns the output latency reported by the latency source.
func (s *Session) LatencyMs() int {
	return s.latency()
}

// State returns the current prebuffering state.
func (s *Session) State() State {
	return s.prebuffer.State()
}

// Started reports whether a playback run is active (paused or not).
func (s *Session) Started() bool {
	return s.started.Load()
}

// Paused reports whether the run is paused.
func (s *Session) Paused() bool {
	return s.paused.Load()
}

// Stats is a point-in-time snapshot of session diagnostics.
type Stats struct {
	State              State
	Started            bool
	Paused             bool
	QueuedChunks       int
	QueueCapacity      int
	BufferedMs         int
	EstimatedChunkMs   int
	SmoothedIntervalMs float64
	Volume             float32
	LatencyMs          int
	TotalCallbacks     int64
	FillingCallbacks   int64
	Underruns          int
	Rebuffers          int64
	Stalls             int64
	ChunksAdded        int64
	ChunksConsumed     int64
	ChunksEvicted      int64
	CorruptChunks      int64
	DroppedEvents      int64
}

// Stats returns a snapshot without taking the queue lock.
func (s *Session) Stats() Stats {
	queued := s.BufferedChunkCount()
	est := s.estimator.EstimateMs()
	return Stats{
		State:              s.prebuffer.State(),
		Started:            s.started.Load(),
		Paused:             s.paused.Load(),
		QueuedChunks:       queued,
		QueueCapacity:      s.cfg.MaxQueueSize,
		BufferedMs:         queued * est,
		EstimatedChunkMs:   est,
		SmoothedIntervalMs: s.interval.SmoothedMs(),
		Volume:             s.volume.Get(),
		LatencyMs:          s.latency(),
		TotalCallbacks:     s.totalCallbacks.Load(),
		FillingCallbacks:   s.prebuffer.FillingCallbacks(),
		Underruns:          s.underruns.Count(),
		Rebuffers:          s.rebuffers.Load(),
		Stalls:             s.stalls.Load(),
		ChunksAdded:        s.chunksAdded.Load(),
		ChunksConsumed:     s.chunksConsumed.Load(),
		ChunksEvicted:      s.chunksEvicted.Load(),
		CorruptChunks:      s.corruptChunks.Load(),
		DroppedEvents:      s.droppedEvents.Load(),
	}
}
