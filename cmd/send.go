package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/drgolem/pcmjitter/pkg/discovery"
	"github.com/drgolem/pcmjitter/pkg/ingest"
	"github.com/drgolem/pcmjitter/pkg/pcmchunk"
	"github.com/drgolem/pcmjitter/pkg/source"
	"github.com/drgolem/pcmjitter/pkg/types"
)

var sendCmd = &cobra.Command{
	Use:   "send [file.wav]",
	Short: "Stream a WAV file or test tone to a receiver",
	Long: `Stream 16-bit PCM audio to a pcmjitter receiver in chunks, paced in real
time with an optional jitter profile.

Without --to the local network is searched over mDNS and the first receiver
whose format matches the source is used.

Examples:
  # Send to a known receiver over WebSocket
  pcmjitter send music.wav --to ws://192.168.1.20:8927/audio

  # Send to a raw TCP receiver
  pcmjitter send music.wav --to tcp://192.168.1.20:8928

  # Discover a receiver and send a tone with bursty delivery
  pcmjitter send --tone 440 --seconds 30 --burst-prob 0.05 --burst-len 10`,
	Args: cobra.MaximumNArgs(1),
	Run:  runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	addProfileFlags(sendCmd)
	f := sendCmd.Flags()
	f.String("to", "", "Receiver URL: ws://host:port/path or tcp://host:port")
	f.Duration("browse", 3*time.Second, "mDNS search time when --to is not given")
	f.Float64("tone", 0, "Send a sine tone of this frequency instead of a file")
	f.Float64("seconds", 5, "Tone length in seconds")
	f.Int("rate", 48000, "Tone sample rate in Hz")
	f.Int("channels", 2, "Tone channel count")
}

// remoteSink is a ChunkSink backed by a network connection.
type remoteSink interface {
	types.ChunkSink
	io.Closer
}

func dialReceiver(ctx context.Context, target string) (remoteSink, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid receiver URL %q: %w", target, err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return ingest.DialWebSocket(ctx, target)
	case "tcp":
		return ingest.DialTCP(ctx, u.Host)
	default:
		return nil, fmt.Errorf("unsupported receiver scheme %q", u.Scheme)
	}
}

// findReceiver browses mDNS for a receiver accepting format.
func findReceiver(ctx context.Context, timeout time.Duration, format pcmchunk.Format) (string, error) {
	slog.Info("Searching for receivers", "service", discovery.ServiceType, "timeout", timeout.String())

	receivers, err := discovery.Browse(ctx, timeout)
	if err != nil {
		return "", err
	}
	for _, r := range receivers {
		if r.Format == format {
			return r.URL(), nil
		}
		slog.Debug("Skipping receiver with different format", "name", r.Name, "format", r.Format.String())
	}
	return "", fmt.Errorf("%w for %s", discovery.ErrNoReceivers, format)
}

func runSend(cmd *cobra.Command, args []string) {
	loadConfig(cmd)

	src, name, err := openSource(cmd, args)
	if err != nil {
		slog.Error("Failed to open source", "error", err)
		os.Exit(1)
	}
	defer src.Close()

	rate, channels := src.Format()
	format := pcmchunk.Format{SampleRate: rate, Channels: channels}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	target, _ := cmd.Flags().GetString("to")
	if target == "" {
		browse, _ := cmd.Flags().GetDuration("browse")
		target, err = findReceiver(ctx, browse, format)
		if err != nil {
			slog.Error("No receiver found", "error", err)
			os.Exit(1)
		}
	}

	sink, err := dialReceiver(ctx, target)
	if err != nil {
		slog.Error("Failed to connect to receiver", "error", err)
		os.Exit(1)
	}
	defer sink.Close()

	chunk, profile := profileFromFlags(cmd)
	feeder, err := source.NewFeeder(src, sink, chunk, profile)
	if err != nil {
		slog.Error("Failed to create feeder", "error", err)
		os.Exit(1)
	}

	slog.Info("Streaming",
		"source", name,
		"format", format.String(),
		"to", target,
		"chunk", chunk.String(),
		"chunk_bytes", feeder.ChunkBytes())

	start := time.Now()
	runErr := feeder.Run(ctx)
	sent, rejected := feeder.Stats()

	if runErr != nil {
		slog.Info("Signal received, stopping", "chunks_sent", sent)
		return
	}
	slog.Info("Stream completed",
		"chunks_sent", sent,
		"chunks_failed", rejected,
		"elapsed", formatElapsed(time.Since(start)))
}
