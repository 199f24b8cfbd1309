package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/drgolem/go-portaudio/portaudio"

	"github.com/drgolem/pcmjitter/internal/config"
	"github.com/drgolem/pcmjitter/internal/player"
	"github.com/drgolem/pcmjitter/pkg/output"
	"github.com/drgolem/pcmjitter/pkg/pcmchunk"
)

// initOutput prepares the audio backend for the configured driver and
// returns a function that releases it.
func initOutput(oc config.OutputConfig) (func(), error) {
	if oc.Driver != config.DriverPortAudio {
		return func() {}, nil
	}

	slog.Info("Initializing PortAudio")
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	slog.Info("PortAudio initialized", "version", portaudio.GetVersion())

	return func() { portaudio.Terminate() }, nil
}

// driverFactory returns a constructor for the configured output driver.
func driverFactory(oc config.OutputConfig, f pcmchunk.Format) player.DriverFactory {
	switch oc.Driver {
	case config.DriverOto:
		bufferSize := f.Duration(oc.FramesPerBuffer)
		return func() output.Driver { return output.NewOto(bufferSize) }
	case config.DriverWAV:
		return func() output.Driver { return output.NewWAVSink(oc.WAVPath, oc.FramesPerBuffer) }
	default:
		return func() output.Driver { return output.NewPortAudio(oc.Device, oc.FramesPerBuffer) }
	}
}

// runWAVClock drives a WAV sink in real time until ctx is done. Device
// drivers have their own clock; the WAV sink only renders when ticked.
func runWAVClock(ctx context.Context, p *player.Player, f pcmchunk.Format, framesPerBuffer int) {
	ticker := time.NewTicker(f.Duration(framesPerBuffer))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if sink, ok := p.Driver().(*output.WAVSink); ok {
				sink.Tick()
			}
		case <-ctx.Done():
			return
		}
	}
}
