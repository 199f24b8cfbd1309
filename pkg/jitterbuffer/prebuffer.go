package jitterbuffer

import "sync/atomic"

// State is the playback mode of a session.
type State int32

const (
	// StateFilling emits silence while the queue accumulates.
	StateFilling State = iota
	// StatePlaying drains queued audio.
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateFilling:
		return "filling"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Transition is the outcome of one PrebufferController.Evaluate call.
type Transition int

const (
	// TransitionNone keeps the controller in Filling.
	TransitionNone Transition = iota
	// TransitionReady means the buffered time reached the target.
	TransitionReady
	// TransitionStalled means the producer delivered nothing for too long
	// and playback continues without a buffer.
	TransitionStalled
)

// PrebufferController decides between emitting silence and draining audio.
// The Filling to Playing transition is time based: queued chunks are
// converted to milliseconds through the chunk duration estimate.
//
// Evaluate and Rebuffer must be called with the session lock held.
// State and FillingCallbacks may be read from any goroutine.
type PrebufferController struct {
	targetMs       int
	stallCallbacks int

	state            atomic.Int32
	fillingCallbacks atomic.Int64
}

func NewPrebufferController(targetMs, stallCallbacks int) *PrebufferController {
	return &PrebufferController{
		targetMs:       targetMs,
		stallCallbacks: stallCallbacks,
	}
}

// Evaluate counts one callback spent in Filling and decides whether to
// switch to Playing. It returns the transition taken and the number of
// Filling callbacks counted before any transition reset the counter.
//
// Calling Evaluate while Playing is a no-op returning TransitionNone.
func (p *PrebufferController) Evaluate(queued, estimatedChunkMs int) (Transition, int64) {
	if p.State() != StateFilling {
		return TransitionNone, 0
	}

	callbacks := p.fillingCallbacks.Add(1)

	if callbacks > int64(p.stallCallbacks) && queued == 0 {
		p.enterPlaying()
		return TransitionStalled, callbacks
	}

	if queued*estimatedChunkMs >= p.targetMs {
		p.enterPlaying()
		return TransitionReady, callbacks
	}

	return TransitionNone, callbacks
}

// Rebuffer switches back to Filling and restarts the stall count.
func (p *PrebufferController) Rebuffer() {
	p.fillingCallbacks.Store(0)
	p.state.Store(int32(StateFilling))
}

// Reset is equivalent to Rebuffer; it names the transition made on start and stop.
func (p *PrebufferController) Reset() {
	p.Rebuffer()
}

func (p *PrebufferController) State() State {
	return State(p.state.Load())
}

func (p *PrebufferController) Filling() bool {
	return p.State() == StateFilling
}

func (p *PrebufferController) FillingCallbacks() int64 {
	return p.fillingCallbacks.Load()
}

// TargetMs returns the buffered time required to start playing.
func (p *PrebufferController) TargetMs() int {
	return p.targetMs
}

func (p *PrebufferController) enterPlaying() {
	p.fillingCallbacks.Store(0)
	p.state.Store(int32(StatePlaying))
}
