package player

import (
	"log/slog"

	"github.com/drgolem/pcmjitter/pkg/jitterbuffer"
)

// logEvents drains the session's event channel until the player closes.
func (p *Player) logEvents() {
	defer p.wg.Done()

	events := p.session.Events()
	for {
		select {
		case ev := <-events:
			LogEvent(ev)
		case <-p.stopChan:
			return
		}
	}
}

// LogEvent writes one session event to the default logger.
func LogEvent(ev jitterbuffer.Event) {
	switch ev.Kind {
	case jitterbuffer.EventPrebufferComplete:
		slog.Info("Prebuffer complete, playing",
			"queued_chunks", ev.QueuedChunks,
			"buffered_ms", ev.BufferedMs,
			"target_ms", ev.TargetMs,
			"filling_callbacks", ev.FillingCallbacks)

	case jitterbuffer.EventPrebufferProgress:
		slog.Debug("Prebuffering",
			"queued_chunks", ev.QueuedChunks,
			"buffered_ms", ev.BufferedMs,
			"target_ms", ev.TargetMs,
			"filling_callbacks", ev.FillingCallbacks)

	case jitterbuffer.EventProducerStalled:
		slog.Error("Producer stalled, playing silence",
			"filling_callbacks", ev.FillingCallbacks,
			"target_ms", ev.TargetMs)

	case jitterbuffer.EventRebuffer:
		slog.Warn("Rebuffering",
			"reason", ev.Action.String(),
			"underruns", ev.Underruns,
			"queued_chunks", ev.QueuedChunks,
			"buffered_ms", ev.BufferedMs)

	case jitterbuffer.EventUnderrun:
		slog.Warn("Buffer underruns",
			"underruns", ev.Underruns,
			"queued_chunks", ev.QueuedChunks,
			"buffered_ms", ev.BufferedMs)

	case jitterbuffer.EventCorruptChunk:
		slog.Error("Discarded corrupt chunk",
			"chunk_frames", ev.ChunkFrames,
			"chunk_samples", ev.ChunkSamples,
			"cursor_frame", ev.CursorFrame)

	case jitterbuffer.EventChunkEvicted:
		slog.Warn("Queue full, dropped oldest chunk",
			"queued_chunks", ev.QueuedChunks)

	case jitterbuffer.EventDrift:
		slog.Info("Output rate",
			"actual_rate", ev.Drift.ActualRate,
			"expected_rate", ev.Drift.ExpectedRate,
			"drift_percent", ev.Drift.DriftPercent,
			"interval_ms", ev.IntervalMs,
			"queued_chunks", ev.QueuedChunks,
			"underruns", ev.Underruns)
	}
}
