package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/drgolem/pcmjitter/internal/config"
	"github.com/drgolem/pcmjitter/internal/player"
	"github.com/drgolem/pcmjitter/pkg/jitterbuffer"
	"github.com/drgolem/pcmjitter/pkg/pcmchunk"
	"github.com/drgolem/pcmjitter/pkg/source"
	"github.com/drgolem/pcmjitter/pkg/types"
)

// drainPoll is how often play checks whether the buffer has emptied.
const drainPoll = 50 * time.Millisecond

var playCmd = &cobra.Command{
	Use:   "play [file.wav]",
	Short: "Play a WAV file or test tone through the jitter buffer",
	Long: `Feed a 16-bit PCM WAV file (or a generated tone) into the jitter buffer in
small chunks, with optional network-like arrival jitter, and play it.

Examples:
  # Play a WAV file in 20ms chunks
  pcmjitter play music.wav

  # Imitate a congested network: +/-15ms jitter, bursts of 8 chunks, 1s stalls
  pcmjitter play music.wav --jitter 15ms --burst-prob 0.02 --burst-len 8 \
      --stall-prob 0.002 --stall 1s

  # 10 seconds of a 440Hz tone through oto
  pcmjitter play --tone 440 --seconds 10 --driver oto

Profile Flags:
  --jitter      uniform +/- deviation of each delivery
  --burst-prob  chance a delivery starts a burst of --burst-len chunks
  --stall-prob  chance a delivery is preceded by a --stall pause
  --seed        seed for a reproducible delivery pattern`,
	Args: cobra.MaximumNArgs(1),
	Run:  runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	addOutputFlags(playCmd)
	addProfileFlags(playCmd)
	f := playCmd.Flags()
	f.Float32("volume", 1.0, "Playback volume (0.0 - 1.0)")
	f.Int("prebuffer-ms", 1000, "Audio buffered before playback starts")
	f.Float64("tone", 0, "Play a sine tone of this frequency instead of a file")
	f.Float64("seconds", 5, "Tone length in seconds")
	f.Int("rate", 48000, "Tone sample rate in Hz")
	f.Int("channels", 2, "Tone channel count")
}

// addProfileFlags registers the chunk delivery flags shared by play, send
// and simulate.
func addProfileFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Duration("chunk", 20*time.Millisecond, "Chunk duration")
	f.Duration("jitter", 0, "Uniform +/- arrival jitter")
	f.Float64("burst-prob", 0, "Probability that a delivery starts a burst")
	f.Int("burst-len", 5, "Chunks per burst")
	f.Float64("stall-prob", 0, "Probability that a delivery is preceded by a stall")
	f.Duration("stall", time.Second, "Stall duration")
	f.Uint64("seed", 1, "Random seed for the delivery pattern")
}

func profileFromFlags(cmd *cobra.Command) (time.Duration, source.Profile) {
	f := cmd.Flags()
	chunk, _ := f.GetDuration("chunk")
	var p source.Profile
	p.Jitter, _ = f.GetDuration("jitter")
	p.BurstProbability, _ = f.GetFloat64("burst-prob")
	p.BurstLength, _ = f.GetInt("burst-len")
	p.StallProbability, _ = f.GetFloat64("stall-prob")
	p.StallDuration, _ = f.GetDuration("stall")
	p.Seed, _ = f.GetUint64("seed")
	return chunk, p
}

// openSource opens the WAV file named in args, or a tone when --tone is set.
func openSource(cmd *cobra.Command, args []string) (types.ChunkSource, string, error) {
	f := cmd.Flags()
	if freq, _ := f.GetFloat64("tone"); freq > 0 {
		seconds, _ := f.GetFloat64("seconds")
		rate, _ := f.GetInt("rate")
		channels, _ := f.GetInt("channels")
		format := pcmchunk.Format{SampleRate: rate, Channels: channels}
		if err := format.Validate(); err != nil {
			return nil, "", err
		}
		frames := int(seconds * float64(rate))
		return source.NewTone(format, freq, 0.5, frames), "tone", nil
	}

	if len(args) == 0 {
		return nil, "", errors.New("a WAV file or --tone is required")
	}
	src, err := source.OpenWAV(args[0])
	if err != nil {
		return nil, "", err
	}
	return src, filepath.Base(args[0]), nil
}

func runPlay(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)
	applyOutputFlags(cmd, &cfg)
	if cmd.Flags().Changed("prebuffer-ms") {
		cfg.Session.TargetPrebufferMs, _ = cmd.Flags().GetInt("prebuffer-ms")
	}

	src, name, err := openSource(cmd, args)
	if err != nil {
		slog.Error("Failed to open source", "error", err)
		os.Exit(1)
	}
	defer src.Close()

	rate, channels := src.Format()
	format := pcmchunk.Format{SampleRate: rate, Channels: channels}
	cfg.Session.SampleRate, cfg.Session.Channels = rate, channels
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	release, err := initOutput(cfg.Output)
	if err != nil {
		slog.Error("Failed to initialize output", "error", err)
		os.Exit(1)
	}
	defer release()

	chunk, profile := profileFromFlags(cmd)

	p := player.New(cfg.Jitter(), driverFactory(cfg.Output, format), player.Options{
		FramesPerBuffer: cfg.Output.FramesPerBuffer,
		Source:          name,
	})
	p.Session().SetVolume(cfg.Session.Volume)

	feeder, err := source.NewFeeder(src, p.Session(), chunk, profile)
	if err != nil {
		slog.Error("Failed to create feeder", "error", err)
		os.Exit(1)
	}

	if err := p.Open(format); err != nil {
		slog.Error("Failed to open player", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := p.Close(); err != nil {
			slog.Error("Failed to close player", "error", err)
		}
	}()

	slog.Info("Starting playback",
		"source", name,
		"format", format.String(),
		"driver", cfg.Output.Driver,
		"chunk", chunk.String(),
		"chunk_bytes", feeder.ChunkBytes(),
		"jitter", profile.Jitter.String())

	if err := p.Start(); err != nil {
		slog.Error("Failed to start playback", "error", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Output.Driver == config.DriverWAV {
		go runWAVClock(ctx, p, format, cfg.Output.FramesPerBuffer)
	}

	statusDone := make(chan struct{})
	go monitorPlayback(p, statusDone)
	defer close(statusDone)

	if err := feeder.Run(ctx); err != nil {
		slog.Info("Signal received, stopping playback")
		return
	}

	if !waitDrained(ctx, p) {
		slog.Info("Signal received, stopping playback")
		return
	}

	sent, rejected := feeder.Stats()
	st := p.Session().Stats()
	slog.Info("Playback completed successfully",
		"chunks_sent", sent,
		"chunks_rejected", rejected,
		"underruns", st.Underruns,
		"rebuffers", st.Rebuffers,
		"evicted", st.ChunksEvicted)
}

// waitDrained blocks until every queued chunk has been played and the
// device had time to output it. It returns false if ctx ended first.
func waitDrained(ctx context.Context, p *player.Player) bool {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()

	for p.Session().BufferedChunkCount() > 0 {
		if p.Session().State() == jitterbuffer.StateFilling {
			// The tail never reached the prebuffer target and will not play.
			slog.Warn("Source ended below prebuffer target",
				"queued_chunks", p.Session().BufferedChunkCount(),
				"buffered_ms", p.Session().BufferedMs())
			return true
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false
		}
	}

	tail := time.Duration(p.Session().LatencyMs())*time.Millisecond + drainPoll
	select {
	case <-time.After(tail):
		return true
	case <-ctx.Done():
		return false
	}
}
