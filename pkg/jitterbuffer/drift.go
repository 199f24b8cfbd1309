package jitterbuffer

import "time"

// DriftReport compares the rate at which frames were rendered with the
// nominal sample rate. It is observational only.
type DriftReport struct {
	Elapsed      time.Duration
	Frames       int64
	ActualRate   float64
	ExpectedRate float64
	DriftPercent float64
}

// DriftMeter counts frames rendered since playback last (re)started.
// It is owned by the render path.
type DriftMeter struct {
	minElapsed time.Duration
	start      time.Time
	frames     int64
}

func NewDriftMeter(minElapsed time.Duration) *DriftMeter {
	return &DriftMeter{minElapsed: minElapsed}
}

// Begin resets the baseline to now.
func (d *DriftMeter) Begin(now time.Time) {
	d.start = now
	d.frames = 0
}

// Add counts frames handed to the output.
func (d *DriftMeter) Add(frames int) {
	d.frames += int64(frames)
}

// Frames returns the frames counted since Begin.
func (d *DriftMeter) Frames() int64 {
	return d.frames
}

// Measure returns a report once more than the minimum elapsed time has passed
// since Begin.
func (d *DriftMeter) Measure(now time.Time, sampleRate int) (DriftReport, bool) {
	if d.start.IsZero() || sampleRate <= 0 {
		return DriftReport{}, false
	}
	elapsed := now.Sub(d.start)
	if elapsed <= d.minElapsed || elapsed <= 0 {
		return DriftReport{}, false
	}

	elapsedMs := float64(elapsed) / float64(time.Millisecond)
	actual := float64(d.frames) * 1000 / elapsedMs
	expected := float64(sampleRate)

	return DriftReport{
		Elapsed:      elapsed,
		Frames:       d.frames,
		ActualRate:   actual,
		ExpectedRate: expected,
		DriftPercent: (actual - expected) / expected * 100,
	}, true
}

// Reset clears the baseline; Measure reports nothing until the next Begin.
func (d *DriftMeter) Reset() {
	d.start = time.Time{}
	d.frames = 0
}
