package simulator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/youpy/go-wav"

	"github.com/drgolem/pcmjitter/pkg/jitterbuffer"
	"github.com/drgolem/pcmjitter/pkg/pcmchunk"
	"github.com/drgolem/pcmjitter/pkg/source"
)

var stereo48k = pcmchunk.Format{SampleRate: 48000, Channels: 2}

func tone(seconds int) *source.Tone {
	return source.NewTone(stereo48k, 440, 0.5, seconds*stereo48k.SampleRate)
}

func mustOpen(t *testing.T, path string) *os.File {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestRunSteadyProducer(t *testing.T) {
	out := filepath.Join(t.TempDir(), "steady.wav")
	cfg := DefaultConfig()
	cfg.OutPath = out

	res, err := Run(tone(3), cfg, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.ChunksSent != 150 {
		t.Errorf("ChunksSent: got %d, want 150", res.ChunksSent)
	}
	if res.ChunksRejected != 0 || res.Stats.ChunksEvicted != 0 || res.Stats.CorruptChunks != 0 {
		t.Errorf("losses: rejected=%d evicted=%d corrupt=%d, want none",
			res.ChunksRejected, res.Stats.ChunksEvicted, res.Stats.CorruptChunks)
	}
	if got := res.Events[jitterbuffer.EventPrebufferComplete]; got != 1 {
		t.Errorf("prebuffer completions: got %d, want 1", got)
	}
	if res.Stats.Rebuffers != 0 {
		t.Errorf("Rebuffers: got %d, want 0", res.Stats.Rebuffers)
	}
	if res.Stranded != 0 {
		t.Errorf("Stranded: got %d, want 0", res.Stranded)
	}
	// 1s of prebuffering silence plus 3s of tone.
	if want := 4 * stereo48k.SampleRate; res.FramesRendered < want {
		t.Errorf("FramesRendered: got %d, want at least %d", res.FramesRendered, want)
	}

	f, err := wav.NewReader(mustOpen(t, out)).Format()
	if err != nil {
		t.Fatalf("output format: %v", err)
	}
	if f.SampleRate != 48000 || f.NumChannels != 2 {
		t.Errorf("output format: got %d/%d, want 48000/2", f.SampleRate, f.NumChannels)
	}
}

func TestRunSlowProducerRebuffers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profile = source.Profile{StallProbability: 1, StallDuration: 30 * time.Millisecond, Seed: 3}

	res, err := Run(tone(2), cfg, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Stats.Underruns == 0 {
		t.Error("Underruns: got 0, want some")
	}
	if res.Stats.Rebuffers == 0 {
		t.Error("Rebuffers: got 0, want some")
	}
	if got := res.Events[jitterbuffer.EventRebuffer]; int64(got) != res.Stats.Rebuffers {
		t.Errorf("rebuffer events: got %d, want %d", got, res.Stats.Rebuffers)
	}
}

func TestRunBurstOverflowsQueue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Jitter.MaxQueueSize = 10
	cfg.Jitter.TargetPrebufferMs = 100
	cfg.Profile = source.Profile{BurstProbability: 1, BurstLength: 100, Seed: 1}

	res, err := Run(tone(3), cfg, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Stats.ChunksEvicted < 90 {
		t.Errorf("ChunksEvicted: got %d, want at least 90", res.Stats.ChunksEvicted)
	}
	if got := res.Events[jitterbuffer.EventChunkEvicted]; int64(got) != res.Stats.ChunksEvicted {
		t.Errorf("eviction events: got %d, want %d", got, res.Stats.ChunksEvicted)
	}
}

func TestRunStrandedBelowTarget(t *testing.T) {
	cfg := DefaultConfig()
	var events []jitterbuffer.Event
	res, err := Run(source.NewTone(stereo48k, 440, 0.5, stereo48k.SampleRate/2), cfg, func(ev jitterbuffer.Event) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Half a second never reaches the 1s target and the queue is never
	// empty, so the session stays in Filling.
	if res.Stranded != 25 {
		t.Errorf("Stranded: got %d, want 25", res.Stranded)
	}
	if res.Stats.State != jitterbuffer.StateFilling {
		t.Errorf("State: got %v, want %v", res.Stats.State, jitterbuffer.StateFilling)
	}
	if res.Events[jitterbuffer.EventPrebufferProgress] == 0 || len(events) == 0 {
		t.Error("expected prebuffer progress events")
	}
}

func TestRunMaxDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDuration = 500 * time.Millisecond

	res, err := Run(source.NewTone(stereo48k, 440, 0.5, -1), cfg, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.VirtualTime < cfg.MaxDuration || res.VirtualTime > cfg.MaxDuration+20*time.Millisecond {
		t.Errorf("VirtualTime: got %v, want about %v", res.VirtualTime, cfg.MaxDuration)
	}
}
