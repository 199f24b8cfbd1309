package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/drgolem/pcmjitter/internal/player"
	"github.com/drgolem/pcmjitter/internal/simulator"
	"github.com/drgolem/pcmjitter/pkg/jitterbuffer"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate [file.wav]",
	Short: "Replay audio against a virtual bursty network",
	Long: `Replay a 16-bit PCM WAV file (or a tone) through the jitter buffer on a
virtual clock. Chunks arrive according to the delivery profile flags while a
simulated device pulls --frames per callback. No audio device is used and the
run completes faster than real time; the same seed gives the same result.

The audio the listener would have heard, including prebuffering silence and
underrun gaps, is written to --out.

Examples:
  # How does a 500ms prebuffer cope with 40ms of jitter?
  pcmjitter simulate speech.wav --prebuffer-ms 500 --jitter 40ms

  # Bursts of 25 chunks into a 20-chunk queue
  pcmjitter simulate music.wav --queue 20 --burst-prob 0.1 --burst-len 25

  # A producer that stalls for 1.5s now and then
  pcmjitter simulate --tone 440 --seconds 60 --stall-prob 0.01 --stall 1500ms`,
	Args: cobra.MaximumNArgs(1),
	Run:  runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	addProfileFlags(simulateCmd)
	f := simulateCmd.Flags()
	f.String("out", "out_simulated.wav", "Output WAV file path (empty discards)")
	f.IntP("frames", "f", 480, "Simulated device frames per callback")
	f.Int("prebuffer-ms", 1000, "Audio buffered before playback starts")
	f.Int("min-buffer-ms", 700, "Buffer level below which repeated underruns rebuffer")
	f.Int("queue", 500, "Maximum queued chunks before the oldest is dropped")
	f.Int("stall-callbacks", 1000, "Filling callbacks with an empty queue before playing silence")
	f.Float32("volume", 1.0, "Playback volume (0.0 - 1.0)")
	f.Duration("max", 0, "Virtual time limit (0 = until the source is played out)")
	f.Float64("tone", 0, "Use a sine tone of this frequency instead of a file")
	f.Float64("seconds", 5, "Tone length in seconds")
	f.Int("rate", 48000, "Tone sample rate in Hz")
	f.Int("channels", 2, "Tone channel count")
}

func runSimulate(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)

	src, name, err := openSource(cmd, args)
	if err != nil {
		slog.Error("Failed to open source", "error", err)
		os.Exit(1)
	}
	defer src.Close()

	f := cmd.Flags()
	sc := simulator.DefaultConfig()
	sc.Jitter = cfg.Jitter()
	sc.Volume = cfg.Session.Volume
	sc.Chunk, sc.Profile = profileFromFlags(cmd)
	sc.FramesPerBuffer, _ = f.GetInt("frames")
	sc.OutPath, _ = f.GetString("out")
	sc.MaxDuration, _ = f.GetDuration("max")

	if f.Changed("prebuffer-ms") {
		sc.Jitter.TargetPrebufferMs, _ = f.GetInt("prebuffer-ms")
	}
	if f.Changed("min-buffer-ms") {
		sc.Jitter.MinBufferMs, _ = f.GetInt("min-buffer-ms")
	}
	if f.Changed("queue") {
		sc.Jitter.MaxQueueSize, _ = f.GetInt("queue")
	}
	if f.Changed("stall-callbacks") {
		sc.Jitter.StallCallbacks, _ = f.GetInt("stall-callbacks")
	}
	if f.Changed("volume") {
		sc.Volume, _ = f.GetFloat32("volume")
	}
	if err := sc.Jitter.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	rate, channels := src.Format()
	slog.Info("Simulating",
		"source", name,
		"format", fmt.Sprintf("%dHz:16bit:%dch", rate, channels),
		"chunk", sc.Chunk.String(),
		"frames_per_buffer", sc.FramesPerBuffer,
		"prebuffer_ms", sc.Jitter.TargetPrebufferMs,
		"max_queue_size", sc.Jitter.MaxQueueSize,
		"jitter", sc.Profile.Jitter.String(),
		"burst_prob", sc.Profile.BurstProbability,
		"stall_prob", sc.Profile.StallProbability,
		"seed", sc.Profile.Seed)

	startTime := time.Now()
	res, err := simulator.Run(src, sc, player.LogEvent)
	if err != nil {
		slog.Error("Simulation failed", "error", err)
		os.Exit(1)
	}

	printSimulation(res, rate)

	slog.Info("Simulation completed",
		"virtual_time", formatElapsed(res.VirtualTime),
		"wall_time", time.Since(startTime).Round(time.Millisecond).String())
	if sc.OutPath != "" {
		slog.Info("Output written", "path", filepath.Clean(sc.OutPath))
	}
}

func printSimulation(res simulator.Result, rate int) {
	st := res.Stats
	fmt.Printf("\nSimulation summary\n")
	fmt.Printf("  chunks sent:        %d\n", res.ChunksSent)
	fmt.Printf("  chunks rejected:    %d\n", res.ChunksRejected)
	fmt.Printf("  chunks played:      %d\n", st.ChunksConsumed)
	fmt.Printf("  chunks evicted:     %d\n", st.ChunksEvicted)
	fmt.Printf("  chunks stranded:    %d\n", res.Stranded)
	fmt.Printf("  corrupt chunks:     %d\n", st.CorruptChunks)
	fmt.Printf("  callbacks:          %d\n", res.Callbacks)
	fmt.Printf("  underruns:          %d\n", st.Underruns)
	fmt.Printf("  rebuffers:          %d\n", st.Rebuffers)
	fmt.Printf("  producer stalls:    %d\n", st.Stalls)
	fmt.Printf("  chunk estimate:     %dms\n", st.EstimatedChunkMs)
	fmt.Printf("  arrival interval:   %.1fms\n", st.SmoothedIntervalMs)
	fmt.Printf("  rendered:           %.3fs\n", float64(res.FramesRendered)/float64(rate))
	fmt.Printf("  final state:        %s\n", st.State)
	for kind := jitterbuffer.EventPrebufferComplete; kind <= jitterbuffer.EventDrift; kind++ {
		if n := res.Events[kind]; n > 0 {
			fmt.Printf("  %-19s %d\n", kind.String()+":", n)
		}
	}
	fmt.Println()
}
