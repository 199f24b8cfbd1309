package jitterbuffer

import "sync/atomic"

// Observations outside (minPlausibleChunkMs, maxPlausibleChunkMs) are ignored.
const (
	minPlausibleChunkMs = 5
	maxPlausibleChunkMs = 50
)

// ChunkDurationEstimator keeps a slow moving average of the duration of
// submitted chunks. It converts a queue length into buffered milliseconds.
//
// Thread safety:
//   - Observe is called by the producer
//   - EstimateMs may be called from any goroutine
type ChunkDurationEstimator struct {
	seed     int32
	estimate atomic.Int32
}

// NewChunkDurationEstimator returns an estimator seeded with seedMs.
func NewChunkDurationEstimator(seedMs int) *ChunkDurationEstimator {
	e := &ChunkDurationEstimator{seed: int32(seedMs)}
	e.estimate.Store(e.seed)
	return e
}

// Observe folds the duration of a chunk of the given size into the estimate.
// It reports whether the observation was accepted.
//
// The update is estimate = (estimate*9 + rawMs) / 10 in integer arithmetic,
// where rawMs = frames*1000/sampleRate.
func (e *ChunkDurationEstimator) Observe(frames, sampleRate int) bool {
	if sampleRate <= 0 {
		return false
	}
	rawMs := frames * 1000 / sampleRate
	if rawMs <= minPlausibleChunkMs || rawMs >= maxPlausibleChunkMs {
		return false
	}
	current := e.estimate.Load()
	e.estimate.Store((current*9 + int32(rawMs)) / 10)
	return true
}

// EstimateMs returns the current per-chunk duration estimate.
func (e *ChunkDurationEstimator) EstimateMs() int {
	return int(e.estimate.Load())
}

// Reset restores the seed value.
func (e *ChunkDurationEstimator) Reset() {
	e.estimate.Store(e.seed)
}
