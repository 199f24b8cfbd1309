package cmd

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/drgolem/pcmjitter/internal/config"
	"github.com/drgolem/pcmjitter/internal/player"
	"github.com/drgolem/pcmjitter/pkg/discovery"
	"github.com/drgolem/pcmjitter/pkg/ingest"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Receive PCM audio from the network and play it",
	Long: `Receive 16-bit PCM audio from a network producer, smooth out arrival
jitter and play it on the selected output.

Transports:
  WebSocket  binary messages are raw s16le chunks; text messages may be base64,
             a JSON byte array or a JSON object with a data/audio/buffer field
  TCP        a raw s16le byte stream, cut into chunks of --tcp-chunk-ms
  RTP/UDP    L16 (dynamic payload types), PCMU (0) or PCMA (8)

Only one producer may stream at a time. The receiver advertises itself over
mDNS as _pcmjitter._tcp unless --no-mdns is given.

Examples:
  # Listen for 48kHz stereo on the default WebSocket port
  pcmjitter listen

  # 16kHz mono voice over RTP, played through oto
  pcmjitter listen --rate 16000 --channels 1 --rtp :5004 --driver oto

  # Record what arrives to a WAV file instead of playing it
  pcmjitter listen --driver wav --out received.wav`,
	Args: cobra.NoArgs,
	Run:  runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)

	f := listenCmd.Flags()
	f.Int("rate", 48000, "Stream sample rate in Hz")
	f.Int("channels", 2, "Stream channel count")
	f.Float32("volume", 1.0, "Playback volume (0.0 - 1.0)")
	f.Int("prebuffer-ms", 1000, "Audio buffered before playback starts")
	f.Int("queue", 500, "Maximum queued chunks before the oldest is dropped")
	addOutputFlags(listenCmd)
	f.String("ws", ":8927", "WebSocket listen address (empty disables)")
	f.String("ws-path", ingest.DefaultWebSocketPath, "WebSocket endpoint path")
	f.String("tcp", "", "Raw TCP listen address (empty disables)")
	f.Int("tcp-chunk-ms", 20, "Chunk duration for the raw TCP transport")
	f.String("rtp", "", "RTP/UDP listen address (empty disables)")
	f.Bool("no-mdns", false, "Do not advertise the receiver over mDNS")
	f.String("name", "", "mDNS instance name (default pcmjitter-<session>)")
}

// addOutputFlags registers the output flags shared by listen and play.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String("driver", config.DriverPortAudio, "Output driver: portaudio, oto or wav")
	cmd.Flags().IntP("device", "d", 1, "Audio output device index (portaudio)")
	cmd.Flags().IntP("frames", "f", 512, "Audio frames per buffer")
	cmd.Flags().String("out", "received.wav", "Output WAV file path (wav driver)")
}

// applyOutputFlags overrides cfg with the output flags the user set.
func applyOutputFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("driver") {
		cfg.Output.Driver, _ = f.GetString("driver")
	}
	if f.Changed("device") {
		cfg.Output.Device, _ = f.GetInt("device")
	}
	if f.Changed("frames") {
		cfg.Output.FramesPerBuffer, _ = f.GetInt("frames")
	}
	if f.Changed("out") {
		cfg.Output.WAVPath, _ = f.GetString("out")
	}
	if f.Changed("volume") {
		cfg.Session.Volume, _ = f.GetFloat32("volume")
	}
}

// applyListenFlags overrides cfg with the listen flags the user set.
func applyListenFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	applyOutputFlags(cmd, cfg)

	if f.Changed("rate") {
		cfg.Session.SampleRate, _ = f.GetInt("rate")
	}
	if f.Changed("channels") {
		cfg.Session.Channels, _ = f.GetInt("channels")
	}
	if f.Changed("prebuffer-ms") {
		cfg.Session.TargetPrebufferMs, _ = f.GetInt("prebuffer-ms")
	}
	if f.Changed("queue") {
		cfg.Session.MaxQueueSize, _ = f.GetInt("queue")
	}
	if f.Changed("ws") {
		cfg.Ingest.WebSocket.Addr, _ = f.GetString("ws")
		cfg.Ingest.WebSocket.Enabled = cfg.Ingest.WebSocket.Addr != ""
	}
	if f.Changed("ws-path") {
		cfg.Ingest.WebSocket.Path, _ = f.GetString("ws-path")
	}
	if f.Changed("tcp") {
		cfg.Ingest.TCP.Addr, _ = f.GetString("tcp")
		cfg.Ingest.TCP.Enabled = cfg.Ingest.TCP.Addr != ""
	}
	if f.Changed("tcp-chunk-ms") {
		cfg.Ingest.TCP.ChunkMs, _ = f.GetInt("tcp-chunk-ms")
	}
	if f.Changed("rtp") {
		cfg.Ingest.RTP.Addr, _ = f.GetString("rtp")
		cfg.Ingest.RTP.Enabled = cfg.Ingest.RTP.Addr != ""
	}
	if noMDNS, _ := f.GetBool("no-mdns"); noMDNS {
		cfg.Discovery.Enabled = false
	}
	if f.Changed("name") {
		cfg.Discovery.Name, _ = f.GetString("name")
	}
}

func runListen(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)
	applyListenFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	format := cfg.Format()

	release, err := initOutput(cfg.Output)
	if err != nil {
		slog.Error("Failed to initialize output", "error", err)
		slog.Error("Hint: Make sure PortAudio is installed on your system")
		os.Exit(1)
	}
	defer release()

	slog.Info("Audio configuration",
		"format", format.String(),
		"driver", cfg.Output.Driver,
		"device_index", cfg.Output.Device,
		"frames_per_buffer", cfg.Output.FramesPerBuffer,
		"prebuffer_ms", cfg.Session.TargetPrebufferMs,
		"max_queue_size", cfg.Session.MaxQueueSize)

	counters := &ingest.Counters{}
	p := player.New(cfg.Jitter(), driverFactory(cfg.Output, format), player.Options{
		FramesPerBuffer: cfg.Output.FramesPerBuffer,
		Source:          "network",
		Counters:        counters,
	})
	p.Session().SetVolume(cfg.Session.Volume)

	if err := p.Open(format); err != nil {
		slog.Error("Failed to open player", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := p.Close(); err != nil {
			slog.Error("Failed to close player", "error", err)
		}
	}()

	if err := p.Start(); err != nil {
		slog.Error("Failed to start playback", "error", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	sink := p.Session()

	var advertise discovery.Info
	if cfg.Ingest.WebSocket.Enabled {
		srv := ingest.NewWebSocketServer(cfg.Ingest.WebSocket.Addr, cfg.Ingest.WebSocket.Path, sink, counters)
		if err := srv.Listen(); err != nil {
			slog.Error("Failed to start WebSocket ingest", "error", err)
			return
		}
		advertise = discovery.Info{Port: portOf(srv.Addr()), Transport: "websocket", Path: srv.Path()}
		g.Go(func() error { return srv.Serve(gctx) })
	}
	if cfg.Ingest.TCP.Enabled {
		srv := ingest.NewTCPServer(cfg.Ingest.TCP.Addr, cfg.TCPChunkBytes(), format.FrameBytes(), sink, counters)
		if err := srv.Listen(); err != nil {
			slog.Error("Failed to start TCP ingest", "error", err)
			return
		}
		if advertise.Port == 0 {
			advertise = discovery.Info{Port: portOf(srv.Addr()), Transport: "tcp"}
		}
		g.Go(func() error { return srv.Serve(gctx) })
	}
	if cfg.Ingest.RTP.Enabled {
		rcv := ingest.NewRTPReceiver(cfg.Ingest.RTP.Addr, sink, counters)
		if err := rcv.Listen(); err != nil {
			slog.Error("Failed to start RTP ingest", "error", err)
			return
		}
		g.Go(func() error { return rcv.Serve(gctx) })
	}

	if cfg.Discovery.Enabled && advertise.Port != 0 {
		advertise.Name = cfg.Discovery.Name
		if advertise.Name == "" {
			advertise.Name = "pcmjitter-" + p.Session().ID()[:8]
		}
		advertise.Format = format

		adv, err := discovery.Advertise(advertise)
		if err != nil {
			slog.Warn("mDNS advertisement failed", "error", err)
		} else {
			defer adv.Shutdown()
		}
	}

	if cfg.Output.Driver == config.DriverWAV {
		g.Go(func() error {
			runWAVClock(gctx, p, format, cfg.Output.FramesPerBuffer)
			return nil
		})
	}

	statusDone := make(chan struct{})
	go monitorPlayback(p, statusDone)

	if err := g.Wait(); err != nil {
		slog.Error("Ingest failed", "error", err)
	}
	close(statusDone)

	st := p.Session().Stats()
	in := counters.Snapshot()
	slog.Info("Receiver stopped",
		"chunks_received", st.ChunksAdded,
		"chunks_rejected", in.Rejected,
		"malformed", in.Malformed,
		"dropped_packets", in.Dropped,
		"underruns", st.Underruns,
		"rebuffers", st.Rebuffers,
		"evicted", st.ChunksEvicted,
		"corrupt", st.CorruptChunks)
}

func portOf(addr net.Addr) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}
