package jitterbuffer

import "sync/atomic"

// UnderrunAction is the policy's response to one underrun.
type UnderrunAction int

const (
	// UnderrunCounted only increments the counter.
	UnderrunCounted UnderrunAction = iota
	// UnderrunReported asks for a periodic summary to be reported.
	UnderrunReported
	// UnderrunRebufferEmpty re-enters Filling because the queue is empty.
	UnderrunRebufferEmpty
	// UnderrunRebufferLow re-enters Filling because the buffer is critically low.
	UnderrunRebufferLow
)

func (a UnderrunAction) String() string {
	switch a {
	case UnderrunCounted:
		return "counted"
	case UnderrunReported:
		return "reported"
	case UnderrunRebufferEmpty:
		return "queue_empty"
	case UnderrunRebufferLow:
		return "buffer_low"
	default:
		return "unknown"
	}
}

// Rebuffer reports whether the action forces the session back to Filling.
func (a UnderrunAction) Rebuffer() bool {
	return a == UnderrunRebufferEmpty || a == UnderrunRebufferLow
}

// UnderrunPolicy escalates repeated starvation into a rebuffer. Only every
// Nth underrun can change state.
type UnderrunPolicy struct {
	emptyEvery  int64
	lowEvery    int64
	reportEvery int64
	minBufferMs int

	count atomic.Int64
}

func NewUnderrunPolicy(cfg Config) *UnderrunPolicy {
	return &UnderrunPolicy{
		emptyEvery:  int64(cfg.EmptyRebufferEvery),
		lowEvery:    int64(cfg.LowRebufferEvery),
		reportEvery: int64(cfg.UnderrunReportEvery),
		minBufferMs: cfg.MinBufferMs,
	}
}

// OnUnderrun records one render call that ran out of data and returns the
// response. queued and bufferedMs describe the queue after the failed pop.
func (u *UnderrunPolicy) OnUnderrun(queued, bufferedMs int) UnderrunAction {
	n := u.count.Add(1)

	switch {
	case queued == 0 && n%u.emptyEvery == 0:
		return UnderrunRebufferEmpty
	case bufferedMs < u.minBufferMs && n%u.lowEvery == 0:
		return UnderrunRebufferLow
	case n%u.reportEvery == 0:
		return UnderrunReported
	default:
		return UnderrunCounted
	}
}

// Count returns the number of underruns since the last Reset.
func (u *UnderrunPolicy) Count() int {
	return int(u.count.Load())
}

func (u *UnderrunPolicy) Reset() {
	u.count.Store(0)
}
