package metrics

import "math"

// ControlEffort is the mean absolute actuator signal.
func ControlEffort(outputs []float64) float64 {
	if len(outputs) == 0 {
		return 0
	}
	sum := 0.0
	for _, u := range outputs {
		sum += math.Abs(u)
	}
	return sum / float64(len(outputs))
}

// IntegralAbsError integrates |sp - y| over time with the rectangle rule.
func IntegralAbsError(times, values, setpoints []float64) float64 {
	n := len(values)
	if len(times) < n || len(setpoints) < n {
		return 0
	}
	sum := 0.0
	for i := 1; i < n; i++ {
		sum += math.Abs(setpoints[i]-values[i]) * (times[i] - times[i-1])
	}
	return sum
}
