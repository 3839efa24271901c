package disturbance

import (
	"errors"
	"math/rand"
)

var ErrInvalidPulse = errors.New("disturbance: pulse duration must be positive")

// Injector produces an additive offset for the process reading: Gaussian
// measurement noise plus an optional constant pulse lasting a fixed number
// of samples.
type Injector struct {
	rng       *rand.Rand
	seed      int64
	magnitude float64
	remaining int
}

func New(seed int64) *Injector {
	return &Injector{rng: rand.New(rand.NewSource(seed)), seed: seed}
}

// Trigger arms a pulse for the next steps samples, replacing any pulse in progress.
func (in *Injector) Trigger(magnitude float64, steps int) error {
	if steps <= 0 {
		return ErrInvalidPulse
	}
	in.magnitude = magnitude
	in.remaining = steps
	return nil
}

func (in *Injector) Active() bool { return in.remaining > 0 }

func (in *Injector) Remaining() int { return in.remaining }

// Sample returns the offset for one step and consumes one pulse sample.
func (in *Injector) Sample(noiseStd float64) float64 {
	var offset float64
	if noiseStd > 0 {
		offset = in.rng.NormFloat64() * noiseStd
	}
	if in.remaining > 0 {
		offset += in.magnitude
		in.remaining--
	}
	return offset
}

// Reset cancels any pulse and rewinds the noise source to its seed.
func (in *Injector) Reset() {
	in.rng = rand.New(rand.NewSource(in.seed))
	in.magnitude = 0
	in.remaining = 0
}
