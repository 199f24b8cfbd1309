// Package config loads the receiver configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/drgolem/pcmjitter/pkg/ingest"
	"github.com/drgolem/pcmjitter/pkg/jitterbuffer"
	"github.com/drgolem/pcmjitter/pkg/pcmchunk"
)

// Output driver names.
const (
	DriverPortAudio = "portaudio"
	DriverOto       = "oto"
	DriverWAV       = "wav"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the full receiver configuration.
type Config struct {
	Session   SessionConfig   `yaml:"session"`
	Output    OutputConfig    `yaml:"output"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Log       LogConfig       `yaml:"log"`
}

// SessionConfig describes the stream format and jitter buffer tuning.
type SessionConfig struct {
	SampleRate        int     `yaml:"sample_rate"`
	Channels          int     `yaml:"channels"`
	Volume            float32 `yaml:"volume"`
	MaxQueueSize      int     `yaml:"max_queue_size"`
	TargetPrebufferMs int     `yaml:"target_prebuffer_ms"`
	MinBufferMs       int     `yaml:"min_buffer_ms"`
	StallCallbacks    int     `yaml:"stall_callbacks"`
	EventBuffer       int     `yaml:"event_buffer"`
}

type OutputConfig struct {
	Driver          string `yaml:"driver"`
	Device          int    `yaml:"device"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
	WAVPath         string `yaml:"wav_path"`
}

type IngestConfig struct {
	WebSocket WebSocketConfig `yaml:"websocket"`
	TCP       TCPConfig       `yaml:"tcp"`
	RTP       RTPConfig       `yaml:"rtp"`
}

type WebSocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

type TCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	ChunkMs int    `yaml:"chunk_ms"`
}

type RTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type DiscoveryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug or info
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used when no file is given.
func Default() Config {
	jb := jitterbuffer.DefaultConfig()
	return Config{
		Session: SessionConfig{
			SampleRate:        48000,
			Channels:          2,
			Volume:            1.0,
			MaxQueueSize:      jb.MaxQueueSize,
			TargetPrebufferMs: jb.TargetPrebufferMs,
			MinBufferMs:       jb.MinBufferMs,
			StallCallbacks:    jb.StallCallbacks,
			EventBuffer:       jb.EventBuffer,
		},
		Output: OutputConfig{
			Driver:          DriverPortAudio,
			Device:          1,
			FramesPerBuffer: 512,
			WAVPath:         "received.wav",
		},
		Ingest: IngestConfig{
			WebSocket: WebSocketConfig{Enabled: true, Addr: ":8927", Path: ingest.DefaultWebSocketPath},
			TCP:       TCPConfig{Addr: ":8928", ChunkMs: 20},
			RTP:       RTPConfig{Addr: ":5004"},
		},
		Discovery: DiscoveryConfig{Enabled: true},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path and overlays it on Default. Keys missing from the file keep
// their defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if err := c.Format().Validate(); err != nil {
		return fmt.Errorf("%w: session: %w", ErrInvalid, err)
	}
	if err := c.Jitter().Validate(); err != nil {
		return fmt.Errorf("%w: session: %w", ErrInvalid, err)
	}
	if c.Session.Volume < 0 || c.Session.Volume > 1 {
		return fmt.Errorf("%w: session volume %.2f outside [0, 1]", ErrInvalid, c.Session.Volume)
	}

	switch c.Output.Driver {
	case DriverPortAudio, DriverOto:
	case DriverWAV:
		if c.Output.WAVPath == "" {
			return fmt.Errorf("%w: output wav_path is required for the wav driver", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown output driver %q", ErrInvalid, c.Output.Driver)
	}
	if c.Output.FramesPerBuffer <= 0 {
		return fmt.Errorf("%w: output frames_per_buffer must be positive", ErrInvalid)
	}

	in := c.Ingest
	if !in.WebSocket.Enabled && !in.TCP.Enabled && !in.RTP.Enabled {
		return fmt.Errorf("%w: no ingest transport enabled", ErrInvalid)
	}
	if in.TCP.Enabled && in.TCP.ChunkMs <= 0 {
		return fmt.Errorf("%w: tcp chunk_ms must be positive", ErrInvalid)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalid, c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

// Format returns the stream format.
func (c Config) Format() pcmchunk.Format {
	return pcmchunk.Format{SampleRate: c.Session.SampleRate, Channels: c.Session.Channels}
}

// Jitter returns the jitter buffer tuning, starting from its defaults.
func (c Config) Jitter() jitterbuffer.Config {
	jb := jitterbuffer.DefaultConfig()
	jb.MaxQueueSize = c.Session.MaxQueueSize
	jb.TargetPrebufferMs = c.Session.TargetPrebufferMs
	jb.MinBufferMs = c.Session.MinBufferMs
	jb.StallCallbacks = c.Session.StallCallbacks
	jb.EventBuffer = c.Session.EventBuffer
	return jb
}

// TCPChunkBytes is the framing size for the raw TCP transport.
func (c Config) TCPChunkBytes() int {
	return c.Format().BytesIn(time.Duration(c.Ingest.TCP.ChunkMs) * time.Millisecond)
}
