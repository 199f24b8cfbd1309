package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/drgolem/pcmjitter/pkg/types"
)

// monitorPlayback logs playback status every 2 seconds for any PlaybackMonitor
func monitorPlayback(monitor types.PlaybackMonitor, done chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			status := monitor.GetPlaybackStatus()

			slog.Info("Playback status",
				"source", status.Source,
				"format", fmt.Sprintf("%dHz:16bit:%dch:%dframes",
					status.SampleRate, status.Channels, status.FramesPerBuffer),
				"state", status.State,
				"queued_chunks", status.QueuedChunks,
				"buffered_ms", status.BufferedMs,
				"chunk_ms", status.EstimatedChunkMs,
				"latency_ms", status.LatencyMs,
				"underruns", status.Underruns,
				"rebuffers", status.Rebuffers,
				"received", status.ChunksReceived,
				"rejected", status.ChunksRejected,
				"elapsed", formatElapsed(status.ElapsedTime))
		case <-done:
			return
		}
	}
}

// formatElapsed formats d as hh:mm:ss.msec
func formatElapsed(d time.Duration) string {
	totalMilliseconds := d.Milliseconds()
	hours := totalMilliseconds / 3600000
	minutes := (totalMilliseconds % 3600000) / 60000
	seconds := (totalMilliseconds % 60000) / 1000
	milliseconds := totalMilliseconds % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, milliseconds)
}
