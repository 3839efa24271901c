package control

import "math"

// Manual passes an operator-set output straight to the actuator.
type Manual struct {
	Value float64
}

func NewManual(value float64) *Manual {
	return &Manual{Value: value}
}

func (m *Manual) Variant() Variant { return VariantManual }

// SetOutput updates the operator value.
func (m *Manual) SetOutput(v float64) { m.Value = v }

// Step returns the operator value limited to 0..100 percent.
func (m *Manual) Step(operator float64) float64 {
	return clamp(operator, 0, 100)
}

func (m *Manual) Compute(in Input) Output {
	return Output{
		Value:      m.Step(m.Value),
		Integral:   math.NaN(),
		Derivative: math.NaN(),
	}
}
