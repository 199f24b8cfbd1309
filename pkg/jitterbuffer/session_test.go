package jitterbuffer

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"
)

const (
	testRate     = 48000
	testChannels = 2
	chunk20ms    = 960 // frames
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSession(t *testing.T, cfg Config) (*Session, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := NewSession(cfg, WithClock(clock.Now))
	if err := s.Create(testRate, testChannels); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return s, clock
}

// pcm encodes frames of interleaved samples where every sample of frame i
// is base+i.
func pcm(frames, channels int, base int16) []byte {
	b := make([]byte, frames*channels*2)
	for f := range frames {
		for ch := range channels {
			off := (f*channels + ch) * 2
			binary.LittleEndian.PutUint16(b[off:], uint16(base+int16(f)))
		}
	}
	return b
}

func drainEvents(s *Session) []Event {
	var evs []Event
	for {
		select {
		case ev := <-s.Events():
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func countKind(evs []Event, kind EventKind) int {
	n := 0
	for _, ev := range evs {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestSubmitRejections(t *testing.T) {
	s := NewSession(DefaultConfig())

	if err := s.SubmitChunk(pcm(10, 2, 0)); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("before Create: got %v, want ErrNotConfigured", err)
	}
	if err := s.Start(); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Start before Create: got %v, want ErrNotConfigured", err)
	}
	if err := s.Create(0, 2); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("Create(0, 2): got %v, want ErrInvalidFormat", err)
	}
	if err := s.Create(testRate, testChannels); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.SubmitChunk(pcm(10, 2, 0)); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("before Start: got %v, want ErrNotPlaying", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for _, n := range []int{1, 2, 3, 5, 3842} {
		if err := s.SubmitChunk(make([]byte, n)); !errors.Is(err, ErrInvalidChunkLength) {
			t.Errorf("%d bytes: got %v, want ErrInvalidChunkLength", n, err)
		}
	}
	if s.BufferedChunkCount() != 0 || s.Stats().ChunksAdded != 0 {
		t.Error("rejected submissions must not change state")
	}

	if err := s.SubmitChunk(pcm(chunk20ms, 2, 0)); err != nil {
		t.Errorf("valid chunk rejected: %v", err)
	}
	if s.BufferedChunkCount() != 1 {
		t.Errorf("BufferedChunkCount: got %d, want 1", s.BufferedChunkCount())
	}

	if err := s.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if err := s.SubmitChunk(pcm(chunk20ms, 2, 0)); err != nil {
		t.Errorf("paused session should accept chunks: %v", err)
	}

	s.Stop()
	if err := s.SubmitChunk(pcm(chunk20ms, 2, 0)); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("after Stop: got %v, want ErrNotPlaying", err)
	}
}

func TestPrebufferThresholdFiftyChunks(t *testing.T) {
	s, _ := newTestSession(t, DefaultConfig())
	out := make([]int16, 256*testChannels)

	for i := 1; i <= 50; i++ {
		if err := s.SubmitChunk(pcm(chunk20ms, testChannels, 1)); err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		s.Render(out, 256, testChannels)

		for j, v := range out {
			if v != 0 {
				t.Fatalf("chunk %d: Filling render produced sample %d at %d", i, v, j)
			}
		}

		if i < 50 && s.State() != StateFilling {
			t.Fatalf("left Filling with only %d chunks queued", i)
		}
	}

	if s.State() != StatePlaying {
		t.Fatalf("state after 50 chunks: got %v, want playing", s.State())
	}
	if s.BufferedChunkCount() != 50 {
		t.Errorf("no chunk should be consumed while Filling, queued %d", s.BufferedChunkCount())
	}

	evs := drainEvents(s)
	if countKind(evs, EventPrebufferComplete) != 1 {
		t.Errorf("prebuffer complete events: got %d, want 1", countKind(evs, EventPrebufferComplete))
	}

	s.Render(out, 256, testChannels)
	if out[0] != 1 {
		t.Errorf("first playing sample: got %d, want 1", out[0])
	}
}

func TestStalledProducerRebufferEveryTenUnderruns(t *testing.T) {
	s, _ := newTestSession(t, DefaultConfig())
	out := make([]int16, 192*testChannels)

	for i := 1; i <= 1000; i++ {
		s.Render(out, 192, testChannels)
		if s.State() != StateFilling {
			t.Fatalf("left Filling after %d empty callbacks", i)
		}
	}
	s.Render(out, 192, testChannels)
	if s.State() != StatePlaying {
		t.Fatalf("state after 1001 empty callbacks: got %v, want playing", s.State())
	}
	if s.Stats().Stalls != 1 {
		t.Errorf("stalls: got %d, want 1", s.Stats().Stalls)
	}
	if countKind(drainEvents(s), EventProducerStalled) != 1 {
		t.Error("expected one producer stalled event")
	}

	lastRebufferAt := 0
	rebuffers := 0
	for range 5000 {
		before := s.State()
		s.Render(out, 192, testChannels)
		after := s.State()

		if before == StatePlaying && after == StateFilling {
			n := s.UnderrunCount()
			if n%10 != 0 {
				t.Fatalf("rebuffer at underrun %d, not a multiple of 10", n)
			}
			if n-lastRebufferAt != 10 {
				t.Fatalf("rebuffer after %d underruns, want 10", n-lastRebufferAt)
			}
			lastRebufferAt = n
			rebuffers++
		}
	}

	if rebuffers == 0 {
		t.Fatal("expected at least one rebuffer")
	}
	if s.UnderrunCount() != lastRebufferAt && s.State() == StateFilling {
		t.Errorf("underruns counted while Filling: %d after last rebuffer at %d",
			s.UnderrunCount(), lastRebufferAt)
	}
	if got := s.Stats().Rebuffers; got != int64(rebuffers) {
		t.Errorf("Rebuffers stat: got %d, want %d", got, rebuffers)
	}
}

func TestRenderVolume(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetPrebufferMs = 1

	input := []int16{1000, -1000, 32767, -32768, 7, -7}
	data := make([]byte, len(input)*2)
	for i, v := range input {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	frames := len(input) / testChannels

	tests := []struct {
		gain  float32
		check func(got, in int16) bool
	}{
		{1.0, func(got, in int16) bool { return got == in }},
		{0.0, func(got, in int16) bool { return got == 0 }},
		{0.5, func(got, in int16) bool {
			d := float64(got) - float64(in)*0.5
			return d > -1 && d < 1
		}},
	}

	for _, tt := range tests {
		s, _ := newTestSession(t, cfg)
		s.SetVolume(tt.gain)
		if err := s.SubmitChunk(data); err != nil {
			t.Fatalf("SubmitChunk: %v", err)
		}
		out := make([]int16, len(input))
		s.Render(out, frames, testChannels) // Filling -> Playing
		s.Render(out, frames, testChannels)

		for i := range input {
			if !tt.check(out[i], input[i]) {
				t.Errorf("gain %.1f sample %d: got %d from %d", tt.gain, i, out[i], input[i])
			}
		}
	}
}

func TestRenderDrainAcrossChunks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetPrebufferMs = 1
	s, _ := newTestSession(t, cfg)

	if err := s.SubmitChunk(pcm(10, testChannels, 100)); err != nil {
		t.Fatal(err)
	}
	if err := s.SubmitChunk(pcm(20, testChannels, 200)); err != nil {
		t.Fatal(err)
	}

	out := make([]int16, 25*testChannels)
	s.Render(out, 25, testChannels) // Filling -> Playing
	if s.State() != StatePlaying {
		t.Fatalf("state: got %v, want playing", s.State())
	}

	s.Render(out, 25, testChannels)

	for f := range 25 {
		want := int16(100 + f)
		if f >= 10 {
			want = int16(200 + f - 10)
		}
		for ch := range testChannels {
			if got := out[f*testChannels+ch]; got != want {
				t.Fatalf("frame %d ch %d: got %d, want %d", f, ch, got, want)
			}
		}
	}

	if s.cursor.Index() != 15 || s.cursor.Remaining() != 5 {
		t.Errorf("cursor: index %d remaining %d, want 15 and 5", s.cursor.Index(), s.cursor.Remaining())
	}
	if s.BufferedChunkCount() != 0 {
		t.Errorf("queued: got %d, want 0", s.BufferedChunkCount())
	}
	if s.Stats().ChunksConsumed != 2 {
		t.Errorf("consumed: got %d, want 2", s.Stats().ChunksConsumed)
	}
	if s.UnderrunCount() != 0 {
		t.Errorf("underruns: got %d, want 0", s.UnderrunCount())
	}

	// The remaining 5 frames, then silence and one underrun.
	s.Render(out, 25, testChannels)
	if out[0] != 215 || out[4*testChannels] != 219 {
		t.Errorf("tail frames: got %d..%d, want 215..219", out[0], out[4*testChannels])
	}
	for i := 5 * testChannels; i < len(out); i++ {
		if out[i] != 0 {
			t.Fatalf("sample %d after underrun: got %d, want 0", i, out[i])
		}
	}
	if s.UnderrunCount() != 1 {
		t.Errorf("underruns: got %d, want 1", s.UnderrunCount())
	}
}

func TestRenderDiscardsCorruptChunk(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetPrebufferMs = 1
	s, _ := newTestSession(t, cfg)

	if err := s.SubmitChunk(pcm(4, testChannels, 0)); err != nil {
		t.Fatal(err)
	}
	out := make([]int16, 8*testChannels)
	s.Render(out, 8, testChannels) // Filling -> Playing

	// A chunk claiming more frames than it carries, queued in front of a good one.
	s.mu.Lock()
	s.queue.Reset()
	s.queue.Push(chunkWithFrames([]int16{9, 9, 9, 9}, 50))
	s.mu.Unlock()
	if err := s.SubmitChunk(pcm(3, testChannels, 40)); err != nil {
		t.Fatal(err)
	}

	for i := range out {
		out[i] = -1
	}
	s.Render(out, 8, testChannels)

	for f := range 3 {
		if got := out[f*testChannels]; got != int16(40+f) {
			t.Errorf("frame %d: got %d, want %d", f, got, 40+f)
		}
	}
	for i := 3 * testChannels; i < len(out); i++ {
		if out[i] != 0 {
			t.Fatalf("sample %d: got %d, want silence", i, out[i])
		}
	}

	st := s.Stats()
	if st.CorruptChunks != 1 {
		t.Errorf("corrupt chunks: got %d, want 1", st.CorruptChunks)
	}
	evs := drainEvents(s)
	if countKind(evs, EventCorruptChunk) != 1 {
		t.Errorf("corrupt chunk events: got %d, want 1", countKind(evs, EventCorruptChunk))
	}
}

func TestQueueOverflowEvictsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxQueueSize = 5
	cfg.TargetPrebufferMs = 100
	s, _ := newTestSession(t, cfg)

	for i := range 8 {
		if err := s.SubmitChunk(pcm(1, testChannels, int16(i*10))); err != nil {
			t.Fatal(err)
		}
		if s.BufferedChunkCount() > cfg.MaxQueueSize {
			t.Fatalf("queue grew to %d", s.BufferedChunkCount())
		}
	}
	if got := s.Stats().ChunksEvicted; got != 3 {
		t.Errorf("evicted: got %d, want 3", got)
	}
	if got := countKind(drainEvents(s), EventChunkEvicted); got != 3 {
		t.Errorf("evicted events: got %d, want 3", got)
	}

	out := make([]int16, testChannels)
	s.Render(out, 1, testChannels) // Filling -> Playing
	for _, want := range []int16{30, 40, 50, 60, 70} {
		s.Render(out, 1, testChannels)
		if out[0] != want {
			t.Errorf("playback order: got %d, want %d", out[0], want)
		}
	}
}

func TestStopStartMatchesFreshSession(t *testing.T) {
	cfg := DefaultConfig()

	fresh, _ := newTestSession(t, cfg)
	used, clock := newTestSession(t, cfg)

	out := make([]int16, 480*testChannels)
	// Stall into Playing, underrun into a rebuffer, then queue some data.
	for range 1020 {
		used.Render(out, 480, testChannels)
	}
	for range 60 {
		clock.Advance(13 * time.Millisecond)
		if err := used.SubmitChunk(pcm(480, testChannels, 5)); err != nil {
			t.Fatal(err)
		}
		used.Render(out, 480, testChannels)
	}
	if used.UnderrunCount() == 0 || used.Stats().TotalCallbacks == 0 {
		t.Fatal("setup should have produced underruns")
	}

	used.Stop()
	if used.BufferedChunkCount() != 0 {
		t.Errorf("Stop should clear the queue, %d left", used.BufferedChunkCount())
	}
	if err := used.Start(); err != nil {
		t.Fatal(err)
	}

	if got, want := used.Stats(), fresh.Stats(); got != want {
		t.Errorf("stats after Stop+Start:\n got %+v\nwant %+v", got, want)
	}
	if !used.cursor.Exhausted() {
		t.Error("cursor should be empty after Stop")
	}

	// Both sessions must reach Playing on the same callback.
	for i := 1; i <= 60; i++ {
		for _, s := range []*Session{fresh, used} {
			if err := s.SubmitChunk(pcm(chunk20ms, testChannels, 0)); err != nil {
				t.Fatal(err)
			}
			s.Render(out, 480, testChannels)
		}
		if fresh.State() != used.State() {
			t.Fatalf("callback %d: fresh %v, restarted %v", i, fresh.State(), used.State())
		}
	}
}

func TestRenderWhileStoppedOrPaused(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetPrebufferMs = 1
	s, _ := newTestSession(t, cfg)

	if err := s.SubmitChunk(pcm(10, testChannels, 1)); err != nil {
		t.Fatal(err)
	}
	if err := s.Pause(); err != nil {
		t.Fatal(err)
	}

	out := make([]int16, 10*testChannels)
	for i := range out {
		out[i] = 77
	}
	s.Render(out, 10, testChannels)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("paused render sample %d: got %d", i, v)
		}
	}
	if s.Stats().TotalCallbacks != 0 || s.BufferedChunkCount() != 1 {
		t.Error("paused render must not touch counters or the queue")
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	s.Render(out, 10, testChannels)
	s.Render(out, 10, testChannels)
	if out[0] != 1 {
		t.Errorf("after resume: got %d, want 1", out[0])
	}

	// A short buffer reduces the frame count instead of overrunning.
	short := make([]int16, 3)
	s.Render(short, 10, testChannels)
}

func TestClearQueueKeepsState(t *testing.T) {
	s, _ := newTestSession(t, DefaultConfig())
	for range 5 {
		if err := s.SubmitChunk(pcm(chunk20ms, testChannels, 0)); err != nil {
			t.Fatal(err)
		}
	}
	s.ClearQueue()
	if s.BufferedChunkCount() != 0 {
		t.Errorf("queued after ClearQueue: got %d", s.BufferedChunkCount())
	}
	if !s.Started() || s.Stats().ChunksAdded != 5 {
		t.Error("ClearQueue must not change play state or counters")
	}
}

func TestSubmitRacingStopIsRejected(t *testing.T) {
	var s *Session
	stopInClock := true
	now := time.Unix(1_700_000_000, 0)
	s = NewSession(DefaultConfig(), WithClock(func() time.Time {
		// Stop lands after SubmitChunk checked the play state.
		if stopInClock {
			stopInClock = false
			s.Stop()
		}
		return now
	}))
	if err := s.Create(testRate, testChannels); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := s.SubmitChunk(pcm(chunk20ms, testChannels, 1)); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("submit during Stop: got %v, want ErrNotPlaying", err)
	}
	if s.Started() {
		t.Error("session should be stopped")
	}
	if s.BufferedChunkCount() != 0 {
		t.Errorf("queued after Stop: got %d, want 0", s.BufferedChunkCount())
	}
	if got := s.Stats().ChunksAdded; got != 0 {
		t.Errorf("chunks added after Stop: got %d, want 0", got)
	}
}

func TestStartWhilePlayingRebuffers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetPrebufferMs = 40
	s, _ := newTestSession(t, cfg)
	out := make([]int16, 256*testChannels)

	for range 3 {
		if err := s.SubmitChunk(pcm(chunk20ms, testChannels, 1)); err != nil {
			t.Fatal(err)
		}
	}
	s.Render(out, 256, testChannels)
	if s.State() != StatePlaying {
		t.Fatalf("state after reaching target: got %v, want playing", s.State())
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateFilling {
		t.Errorf("state after second Start: got %v, want filling", s.State())
	}
	if s.BufferedChunkCount() != 3 {
		t.Errorf("Start must keep queued chunks, queued %d", s.BufferedChunkCount())
	}

	s.Render(out, 256, testChannels)
	if s.State() != StatePlaying {
		t.Errorf("state after refill check: got %v, want playing", s.State())
	}
}

func TestDriftEventWhilePlaying(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetPrebufferMs = 20
	s, clock := newTestSession(t, cfg)

	out := make([]int16, chunk20ms*testChannels)
	for range 150 {
		if err := s.SubmitChunk(pcm(chunk20ms, testChannels, 0)); err != nil {
			t.Fatal(err)
		}
		s.Render(out, chunk20ms, testChannels)
		clock.Advance(20 * time.Millisecond)
	}

	var drift []Event
	for _, ev := range drainEvents(s) {
		if ev.Kind == EventDrift {
			drift = append(drift, ev)
		}
	}
	if len(drift) != 1 {
		t.Fatalf("drift events: got %d, want 1", len(drift))
	}
	r := drift[0].Drift
	if r.ExpectedRate != testRate {
		t.Errorf("expected rate: got %.0f", r.ExpectedRate)
	}
	if r.DriftPercent < -2 || r.DriftPercent > 2 {
		t.Errorf("drift: got %.2f%%, want about 0", r.DriftPercent)
	}
}

func TestConcurrentSubmitAndRender(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetPrebufferMs = 100
	s := NewSession(cfg)
	if err := s.Create(testRate, testChannels); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		data := pcm(480, testChannels, 3)
		for range 2000 {
			_ = s.SubmitChunk(data)
		}
	}()
	go func() {
		defer wg.Done()
		out := make([]int16, 256*testChannels)
		for range 4000 {
			s.Render(out, 256, testChannels)
			s.SetVolume(0.7)
			_ = s.Stats()
		}
	}()
	wg.Wait()

	st := s.Stats()
	if st.QueuedChunks > cfg.MaxQueueSize {
		t.Errorf("queue exceeded capacity: %d", st.QueuedChunks)
	}
	if st.ChunksAdded != 2000 {
		t.Errorf("added: got %d, want 2000", st.ChunksAdded)
	}
}
