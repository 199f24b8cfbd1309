package jitterbuffer

import (
	"math"
	"sync/atomic"
	"time"
)

const maxPlausibleInterval = time.Second

// IntervalTracker smooths the time between consecutive chunk arrivals.
// It is diagnostic only and never gates playback.
type IntervalTracker struct {
	seed     float64
	last     time.Time
	smoothed atomic.Uint64 // float64 bits, milliseconds
}

func NewIntervalTracker(seedMs float64) *IntervalTracker {
	t := &IntervalTracker{seed: seedMs}
	t.smoothed.Store(math.Float64bits(seedMs))
	return t
}

// Observe records an arrival at now. Gaps of zero or of a second and more
// update the reference time without touching the average.
func (t *IntervalTracker) Observe(now time.Time) {
	if !t.last.IsZero() {
		interval := now.Sub(t.last)
		if interval > 0 && interval < maxPlausibleInterval {
			ms := float64(interval) / float64(time.Millisecond)
			current := math.Float64frombits(t.smoothed.Load())
			t.smoothed.Store(math.Float64bits(current*0.9 + ms*0.1))
		}
	}
	t.last = now
}

// SmoothedMs returns the smoothed arrival interval in milliseconds.
func (t *IntervalTracker) SmoothedMs() float64 {
	return math.Float64frombits(t.smoothed.Load())
}

func (t *IntervalTracker) Reset() {
	t.last = time.Time{}
	t.smoothed.Store(math.Float64bits(t.seed))
}
