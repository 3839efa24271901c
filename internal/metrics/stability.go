package metrics

import (
	"errors"
	"fmt"
	"math"
)

// DefaultMargin is how many measurement spans beyond the range a reading may
// wander before the run counts as diverged.
const DefaultMargin = 2.0

var ErrDiverged = errors.New("metrics: process value diverged")

// DivergenceError reports a reading outside the sane band around the measurement range.
type DivergenceError struct {
	Value float64
	Lower float64
	Upper float64
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("process value %.4g outside [%.4g, %.4g]", e.Value, e.Lower, e.Upper)
}

func (e *DivergenceError) Unwrap() error { return ErrDiverged }

// StabilityGuard halts runs whose process value leaves the measurement range
// by more than Margin spans.
type StabilityGuard struct {
	Margin float64
}

func NewStabilityGuard(margin float64) StabilityGuard {
	if margin <= 0 {
		margin = DefaultMargin
	}
	return StabilityGuard{Margin: margin}
}

// Bounds widens the measurement range by Margin spans on each side.
func (g StabilityGuard) Bounds(rangeMin, rangeMax float64) (lower, upper float64) {
	lo, hi := math.Min(rangeMin, rangeMax), math.Max(rangeMin, rangeMax)
	span := hi - lo
	return lo - g.Margin*span, hi + g.Margin*span
}

// Check returns a *DivergenceError when pv has left the bounds. NaN and
// infinite readings always count as diverged.
func (g StabilityGuard) Check(pv, rangeMin, rangeMax float64) error {
	lower, upper := g.Bounds(rangeMin, rangeMax)
	if math.IsNaN(pv) || pv < lower || pv > upper {
		return &DivergenceError{Value: pv, Lower: lower, Upper: upper}
	}
	return nil
}

// CheckStability runs the default guard.
func CheckStability(pv, rangeMin, rangeMax float64) error {
	return NewStabilityGuard(DefaultMargin).Check(pv, rangeMin, rangeMax)
}
