package metrics

import "math"

// MinSamples is the history length Compute needs before reporting.
const MinSamples = 10

// Performance describes a step response relative to the initial setpoint.
// RiseTime and SettlingTime are NaN when the response never gets there.
type Performance struct {
	Valid            bool    `json:"valid"`
	Overshoot        float64 `json:"overshoot"`
	OvershootPct     float64 `json:"overshoot_pct"`
	RiseTime         float64 `json:"rise_time"`
	SettlingTime     float64 `json:"settling_time"`
	SteadyStateError float64 `json:"steady_state_error"`
	ControlEffort    float64 `json:"control_effort"`
	IAE              float64 `json:"iae"`
}

// Compute derives the step-response figures once more than MinSamples
// samples exist. The reference is setpoints[0]; oscillating or negative
// setpoint responses give whatever the formulas produce.
func Compute(times, values, setpoints, outputs []float64) Performance {
	n := len(values)
	if n <= MinSamples || len(times) < n || len(setpoints) < 1 {
		return Performance{RiseTime: math.NaN(), SettlingTime: math.NaN()}
	}
	sp0 := setpoints[0]

	maxY := math.Inf(-1)
	for _, y := range values {
		maxY = math.Max(maxY, y)
	}

	p := Performance{
		Valid:            true,
		Overshoot:        maxY - sp0,
		RiseTime:         math.NaN(),
		SettlingTime:     math.NaN(),
		SteadyStateError: values[n-1] - sp0,
		ControlEffort:    ControlEffort(outputs),
		IAE:              IntegralAbsError(times, values, setpoints),
	}
	if sp0 != 0 {
		p.OvershootPct = 100 * p.Overshoot / sp0
	}

	for i, y := range values {
		if y >= 0.9*sp0 {
			p.RiseTime = times[i]
			break
		}
	}

	band := bandFraction * math.Abs(sp0)
	last := -1
	for i := n - 1; i >= 0; i-- {
		if math.Abs(values[i]-sp0) > band {
			last = i
			break
		}
	}
	if last+1 < n {
		p.SettlingTime = times[last+1]
	}
	return p
}
