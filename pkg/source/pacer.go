package source

import (
	"math/rand/v2"
	"time"
)

// Profile describes how irregularly a network delivers chunks.
type Profile struct {
	Jitter           time.Duration // Uniform +/- deviation of every delivery
	BurstProbability float64       // Chance that a delivery starts a burst
	BurstLength      int           // Chunks delivered back to back in a burst
	StallProbability float64       // Chance that a delivery is preceded by a stall
	StallDuration    time.Duration // Extra delay of a stall
	Seed             uint64        // Seed of the pseudo random sequence
}

// Steady is a profile with no irregularity.
var Steady = Profile{}

// Pacer produces the delay before each chunk delivery. Without bursts and
// stalls the mean delay equals the chunk interval.
type Pacer struct {
	interval  time.Duration
	profile   Profile
	rng       *rand.Rand
	burstLeft int
}

func NewPacer(interval time.Duration, profile Profile) *Pacer {
	return &Pacer{
		interval: interval,
		profile:  profile,
		rng:      rand.New(rand.NewPCG(profile.Seed, profile.Seed^0x9e3779b97f4a7c15)),
	}
}

// Next returns the delay before the next delivery.
func (p *Pacer) Next() time.Duration {
	if p.burstLeft > 0 {
		p.burstLeft--
		return 0
	}

	delay := p.interval
	if p.profile.BurstLength > 1 && p.rng.Float64() < p.profile.BurstProbability {
		// Hold the chunks of the whole burst back, then release them at once.
		delay = p.interval * time.Duration(p.profile.BurstLength)
		p.burstLeft = p.profile.BurstLength - 1
	}

	if j := p.profile.Jitter; j > 0 {
		delay += time.Duration(p.rng.Int64N(int64(2*j)+1)) - j
	}
	if p.profile.StallDuration > 0 && p.rng.Float64() < p.profile.StallProbability {
		delay += p.profile.StallDuration
	}

	return max(delay, 0)
}
