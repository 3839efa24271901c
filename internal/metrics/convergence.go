package metrics

import "math"

const (
	// Window is the number of trailing samples the convergence check looks at.
	Window = 20

	bandFraction   = 0.05
	stableFraction = 0.01
	stableFloor    = 0.5
)

// Converged reports whether the last Window samples either all sit within
// ±5% of their setpoint or vary by less than max(1% of the window's first
// setpoint, 0.5). It is false while fewer than Window samples exist.
func Converged(values, setpoints []float64) bool {
	n := len(values)
	if n < Window || len(setpoints) < n {
		return false
	}
	ys := values[n-Window:]
	sps := setpoints[n-Window:]

	withinBand := true
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, y := range ys {
		if math.Abs(y-sps[i]) > bandFraction*math.Abs(sps[i]) {
			withinBand = false
		}
		lo = math.Min(lo, y)
		hi = math.Max(hi, y)
	}
	stable := hi-lo < math.Max(stableFraction*math.Abs(sps[0]), stableFloor)
	return withinBand || stable
}
