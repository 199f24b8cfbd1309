package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/drgolem/pcmjitter/internal/config"
)

var (
	configPath string
	verbose    bool
	logFormat  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pcmjitter",
	Short: "Adaptive jitter buffer for network PCM audio",
	Long: `pcmjitter - A playback jitter buffer for 16-bit PCM audio delivered over
an unreliable network in small irregular chunks.

Features:
  - Time-based prebuffering before playback starts
  - Underrun escalation back to prebuffering when the producer falls behind
  - Bounded queue that drops the oldest audio on overflow
  - WebSocket, raw TCP and RTP/UDP ingest with mDNS advertisement
  - PortAudio, oto and WAV file outputs

Commands:
  - listen:   Receive audio from the network and play it
  - play:     Play a WAV file or test tone through the jitter buffer
  - send:     Stream a WAV file to a receiver
  - simulate: Replay a WAV file against a virtual bursty network`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (debug logging)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config (or the defaults), applies the global logging
// flags and installs the default logger.
func loadConfig(cmd *cobra.Command) config.Config {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			setupLogging(cfg.Log)
			slog.Error("Failed to load configuration", "path", configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if verbose {
		cfg.Log.Level = "debug"
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = logFormat
	}

	setupLogging(cfg.Log)
	return cfg
}

func setupLogging(lc config.LogConfig) {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(lc.Level)); err != nil {
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
