package jitterbuffer

import (
	"fmt"
	"time"
)

// Config holds the tuning constants of a Session.
type Config struct {
	MaxQueueSize        int           // Chunks held before the oldest is evicted
	TargetPrebufferMs   int           // Buffered time required to leave Filling
	MinBufferMs         int           // Below this, repeated underruns force a rebuffer
	StallCallbacks      int           // Filling callbacks with an empty queue before giving up
	SeedChunkMs         int           // Chunk duration assumed before any observation
	SeedIntervalMs      float64       // Arrival interval assumed before any observation
	EmptyRebufferEvery  int           // Rebuffer on every Nth underrun with an empty queue
	LowRebufferEvery    int           // Rebuffer on every Nth underrun with a low buffer
	UnderrunReportEvery int           // Report every Nth underrun that did not rebuffer
	FillingReportEvery  int           // Report prebuffer progress every N callbacks
	DriftReportEvery    int           // Measure drift every N callbacks while playing
	DriftMinElapsed     time.Duration // Minimum playing time before drift is reported
	EventBuffer         int           // Capacity of the event channel
}

// DefaultConfig returns the tuning used for 10-20ms network chunks.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:        500,
		TargetPrebufferMs:   1000,
		MinBufferMs:         700,
		StallCallbacks:      1000,
		SeedChunkMs:         20,
		SeedIntervalMs:      20,
		EmptyRebufferEvery:  10,
		LowRebufferEvery:    50,
		UnderrunReportEvery: 100,
		FillingReportEvery:  50,
		DriftReportEvery:    100,
		DriftMinElapsed:     time.Second,
		EventBuffer:         64,
	}
}

// Validate checks that every threshold is usable.
func (c Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"max queue size", c.MaxQueueSize},
		{"target prebuffer ms", c.TargetPrebufferMs},
		{"stall callbacks", c.StallCallbacks},
		{"seed chunk ms", c.SeedChunkMs},
		{"empty rebuffer interval", c.EmptyRebufferEvery},
		{"low rebuffer interval", c.LowRebufferEvery},
		{"underrun report interval", c.UnderrunReportEvery},
		{"filling report interval", c.FillingReportEvery},
		{"drift report interval", c.DriftReportEvery},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, p.name, p.value)
		}
	}
	if c.MinBufferMs < 0 {
		return fmt.Errorf("%w: min buffer ms must not be negative, got %d", ErrInvalidConfig, c.MinBufferMs)
	}
	if c.SeedIntervalMs <= 0 {
		return fmt.Errorf("%w: seed interval must be positive, got %.1f", ErrInvalidConfig, c.SeedIntervalMs)
	}
	if c.EventBuffer < 0 {
		return fmt.Errorf("%w: event buffer must not be negative, got %d", ErrInvalidConfig, c.EventBuffer)
	}
	return nil
}
