package player

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drgolem/pcmjitter/pkg/ingest"
	"github.com/drgolem/pcmjitter/pkg/jitterbuffer"
	"github.com/drgolem/pcmjitter/pkg/output"
	"github.com/drgolem/pcmjitter/pkg/pcmchunk"
	"github.com/drgolem/pcmjitter/pkg/types"
)

// DriverFactory builds a fresh, unopened output driver. It is called once at
// Open and again whenever the device has to be re-created.
type DriverFactory func() output.Driver

// Options tune the supervision loops of a Player.
type Options struct {
	FramesPerBuffer  int              // Reported in PlaybackStatus
	Source           string           // Producer name reported in PlaybackStatus
	Counters         *ingest.Counters // Optional transport counters
	HealthInterval   time.Duration    // Device error polling period
	WatchdogInterval time.Duration    // No-data check period and threshold
}

// DefaultOptions returns the supervision periods used by the CLI.
func DefaultOptions() Options {
	return Options{
		FramesPerBuffer:  512,
		HealthInterval:   500 * time.Millisecond,
		WatchdogInterval: 5 * time.Second,
	}
}

// ErrNotOpen is returned by control methods called before Open.
var ErrNotOpen = errors.New("player: not open")

// Player connects a jitter buffer Session to an output Driver.
//
// The driver pulls audio through Session.Render from its own real-time
// context. The Player owns everything around that path:
//   - logging the Session's events from a background goroutine
//   - re-creating the driver when it reports an asynchronous failure
//   - warning when a producer that was sending goes quiet
type Player struct {
	session   *jitterbuffer.Session
	newDriver DriverFactory
	opts      Options

	mu      sync.Mutex
	driver  output.Driver
	format  pcmchunk.Format
	opened  bool
	started time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup

	recreations atomic.Int64

	// Watchdog state, touched only by the supervision goroutine and tests.
	lastAdded int64
	lastData  time.Time
}

// New creates a Player with its own Session built from cfg.
func New(cfg jitterbuffer.Config, newDriver DriverFactory, opts Options) *Player {
	defaults := DefaultOptions()
	if opts.FramesPerBuffer <= 0 {
		opts.FramesPerBuffer = defaults.FramesPerBuffer
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = defaults.HealthInterval
	}
	if opts.WatchdogInterval <= 0 {
		opts.WatchdogInterval = defaults.WatchdogInterval
	}
	if opts.Counters == nil {
		opts.Counters = &ingest.Counters{}
	}

	p := &Player{
		newDriver: newDriver,
		opts:      opts,
	}
	p.session = jitterbuffer.NewSession(cfg, jitterbuffer.WithLatencySource(p.driverLatency))
	return p
}

// Session returns the jitter buffer. Producers submit chunks to it directly.
func (p *Player) Session() *jitterbuffer.Session {
	return p.session
}

// Driver returns the current output driver, or nil before Open.
func (p *Player) Driver() output.Driver {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.driver
}

// Counters returns the transport counters shared with ingest servers.
func (p *Player) Counters() *ingest.Counters {
	return p.opts.Counters
}

// Recreations returns how many times the driver was re-created after a failure.
func (p *Player) Recreations() int64 {
	return p.recreations.Load()
}

func (p *Player) driverLatency() int {
	p.mu.Lock()
	d := p.driver
	p.mu.Unlock()
	if d == nil {
		return 0
	}
	return d.LatencyMs()
}

// Open configures the session for f, opens the output device and starts the
// supervision goroutines. Playback does not begin until Start.
func (p *Player) Open(f pcmchunk.Format) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.opened {
		return output.ErrAlreadyOpen
	}

	if err := p.session.Create(f.SampleRate, f.Channels); err != nil {
		return err
	}

	driver := p.newDriver()
	if err := driver.Open(f, p.session.Render); err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}

	p.driver = driver
	p.format = f
	p.opened = true
	p.stopChan = make(chan struct{})
	p.lastAdded = 0
	p.lastData = time.Time{}

	p.wg.Add(2)
	go p.logEvents()
	go p.supervise()

	slog.Info("Player opened",
		"session_id", p.session.ID(),
		"format", f.String(),
		"frames_per_buffer", p.opts.FramesPerBuffer)
	return nil
}

// Start begins (or resumes) playback. The session re-enters prebuffering.
func (p *Player) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.opened {
		return ErrNotOpen
	}
	if err := p.session.Start(); err != nil {
		return err
	}
	if p.started.IsZero() {
		p.started = time.Now()
	}
	if err := p.driver.Start(); err != nil {
		return fmt.Errorf("failed to start output: %w", err)
	}
	return nil
}

// Pause halts the output and keeps the queued audio.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.opened {
		return ErrNotOpen
	}
	if err := p.session.Pause(); err != nil {
		return err
	}
	if err := p.driver.Pause(); err != nil {
		return fmt.Errorf("failed to pause output: %w", err)
	}
	return nil
}

// Stop halts the output and resets the session. It is safe to call more than once.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.opened {
		return nil
	}
	p.session.Stop()
	p.started = time.Time{}
	if err := p.driver.Stop(); err != nil {
		return fmt.Errorf("failed to stop output: %w", err)
	}
	return nil
}

// Close stops playback, releases the device and ends the supervision goroutines.
func (p *Player) Close() error {
	p.mu.Lock()
	if !p.opened {
		p.mu.Unlock()
		return nil
	}
	p.opened = false
	p.session.Stop()
	close(p.stopChan)
	driver := p.driver
	p.mu.Unlock()

	p.wg.Wait()

	if err := driver.Stop(); err != nil {
		slog.Warn("Failed to stop output", "error", err)
	}
	if err := driver.Close(); err != nil {
		return fmt.Errorf("failed to close output: %w", err)
	}
	return nil
}

// supervise polls the driver's health and the producer watchdog.
func (p *Player) supervise() {
	defer p.wg.Done()

	health := time.NewTicker(p.opts.HealthInterval)
	defer health.Stop()
	watchdog := time.NewTicker(p.opts.WatchdogInterval)
	defer watchdog.Stop()

	for {
		select {
		case <-health.C:
			p.checkHealth()
		case now := <-watchdog.C:
			p.checkWatchdog(now)
		case <-p.stopChan:
			return
		}
	}
}

// checkHealth re-creates the driver when it reported an error while the
// session is playing. The session's queue and counters are left alone.
// It reports whether a re-creation happened.
func (p *Player) checkHealth() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.opened || !p.session.Started() || p.session.Paused() {
		return false
	}
	hc, ok := p.driver.(output.HealthChecker)
	if !ok {
		return false
	}
	derr := hc.Err()
	if derr == nil {
		return false
	}

	slog.Warn("Output device failed, re-creating stream", "error", derr)

	if err := p.driver.Close(); err != nil {
		slog.Debug("Failed to close failed output", "error", err)
	}

	driver := p.newDriver()
	if err := driver.Open(p.format, p.session.Render); err != nil {
		slog.Error("Failed to re-open output", "error", err)
		return false
	}
	if err := driver.Start(); err != nil {
		slog.Error("Failed to restart output", "error", err)
		driver.Close()
		return false
	}

	p.driver = driver
	p.recreations.Add(1)
	slog.Info("Output stream re-created", "recreations", p.recreations.Load())
	return true
}

// checkWatchdog logs an error when chunks were arriving before and none has
// arrived for a whole watchdog interval. It reports whether the producer is
// considered stalled.
func (p *Player) checkWatchdog(now time.Time) bool {
	added := p.session.Stats().ChunksAdded
	if added != p.lastAdded || p.lastData.IsZero() {
		if added != p.lastAdded {
			p.lastData = now
		}
		p.lastAdded = added
		return false
	}
	if added == 0 {
		return false
	}

	silent := now.Sub(p.lastData)
	if silent < p.opts.WatchdogInterval {
		return false
	}

	st := p.session.Stats()
	slog.Error("No audio received",
		"silent_for", silent.Round(time.Millisecond).String(),
		"chunks_received", st.ChunksAdded,
		"queued_chunks", st.QueuedChunks,
		"underruns", st.Underruns,
		"rebuffers", st.Rebuffers)
	return true
}

// GetPlaybackStatus implements types.PlaybackMonitor.
func (p *Player) GetPlaybackStatus() types.PlaybackStatus {
	p.mu.Lock()
	started := p.started
	f := p.format
	p.mu.Unlock()

	st := p.session.Stats()
	in := p.opts.Counters.Snapshot()

	var elapsed time.Duration
	if !started.IsZero() {
		elapsed = time.Since(started)
	}

	return types.PlaybackStatus{
		SessionID:        p.session.ID(),
		Source:           p.opts.Source,
		State:            st.State.String(),
		SampleRate:       f.SampleRate,
		Channels:         f.Channels,
		FramesPerBuffer:  p.opts.FramesPerBuffer,
		QueuedChunks:     st.QueuedChunks,
		BufferedMs:       st.BufferedMs,
		EstimatedChunkMs: st.EstimatedChunkMs,
		LatencyMs:        st.LatencyMs,
		Underruns:        st.Underruns,
		Rebuffers:        st.Rebuffers,
		ChunksReceived:   st.ChunksAdded,
		ChunksRejected:   in.Rejected + in.Malformed,
		ElapsedTime:      elapsed,
	}
}
