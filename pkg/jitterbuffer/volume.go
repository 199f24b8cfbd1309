package jitterbuffer

import (
	"math"
	"sync/atomic"
)

// Gain regimes: at or above unityGain samples are copied unchanged, at or
// below muteGain they are replaced by silence.
const (
	unityGain = 0.99
	muteGain  = 0.01
)

// Volume is a gain in [0, 1] shared between a control goroutine and the
// render path. Writes are last-writer-wins.
type Volume struct {
	bits atomic.Uint32
}

// NewVolume returns a Volume holding the clamped value of v.
func NewVolume(v float32) *Volume {
	vol := &Volume{}
	vol.Set(v)
	return vol
}

// Set clamps v into [0, 1] and stores it. NaN is stored as 0.
// It returns the stored value.
func (v *Volume) Set(x float32) float32 {
	switch {
	case x != x: // NaN
		x = 0
	case x < 0:
		x = 0
	case x > 1:
		x = 1
	}
	v.bits.Store(math.Float32bits(x))
	return x
}

// Get returns the current gain.
func (v *Volume) Get() float32 {
	return math.Float32frombits(v.bits.Load())
}

// applyGain writes src scaled by gain into dst. len(dst) must be at least len(src).
func applyGain(dst, src []int16, gain float32) {
	dst = dst[:len(src)]
	switch {
	case gain >= unityGain:
		copy(dst, src)
	case gain <= muteGain:
		clear(dst)
	default:
		for i, s := range src {
			dst[i] = int16(float32(s) * gain)
		}
	}
}
