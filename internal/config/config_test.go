package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pcmjitter.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate(): %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
session:
  sample_rate: 16000
  channels: 1
  target_prebuffer_ms: 400
output:
  driver: wav
  wav_path: /tmp/out.wav
ingest:
  tcp:
    enabled: true
    chunk_ms: 10
log:
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Session.SampleRate != 16000 || cfg.Session.Channels != 1 {
		t.Errorf("format: got %d/%d, want 16000/1", cfg.Session.SampleRate, cfg.Session.Channels)
	}
	if cfg.Session.MaxQueueSize != 500 {
		t.Errorf("MaxQueueSize: got %d, want default 500", cfg.Session.MaxQueueSize)
	}
	if got := cfg.Jitter().TargetPrebufferMs; got != 400 {
		t.Errorf("TargetPrebufferMs: got %d, want 400", got)
	}
	if got := cfg.Jitter().MinBufferMs; got != 700 {
		t.Errorf("MinBufferMs: got %d, want 700", got)
	}
	if !cfg.Ingest.WebSocket.Enabled {
		t.Error("websocket ingest should stay enabled by default")
	}
	if got, want := cfg.TCPChunkBytes(), 320; got != want {
		t.Errorf("TCPChunkBytes: got %d, want %d", got, want)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("log: got %s/%s, want info/json", cfg.Log.Level, cfg.Log.Format)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad rate", "session:\n  sample_rate: 0\n"},
		{"bad channels", "session:\n  channels: 9\n"},
		{"loud volume", "session:\n  volume: 1.5\n"},
		{"zero queue", "session:\n  max_queue_size: 0\n"},
		{"unknown driver", "output:\n  driver: alsa\n"},
		{"wav without path", "output:\n  driver: wav\n  wav_path: \"\"\n"},
		{"no transports", "ingest:\n  websocket:\n    enabled: false\n"},
		{"zero tcp chunk", "ingest:\n  tcp:\n    enabled: true\n    chunk_ms: 0\n"},
		{"unknown log level", "log:\n  level: trace\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Load: got %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoadMalformed(t *testing.T) {
	if _, err := Load(writeConfig(t, "session: [")); err == nil || errors.Is(err, ErrInvalid) {
		t.Errorf("Load: got %v, want a parse error", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load missing: got %v, want os.ErrNotExist", err)
	}
}
