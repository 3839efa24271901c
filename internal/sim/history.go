package sim

import "math"

// Entry is one history row. Integral and Derivative are NaN when the
// active controller has no such quantity.
type Entry struct {
	Time       float64
	Value      float64
	Setpoint   float64
	Output     float64
	Error      float64
	Integral   float64
	Derivative float64
}

// History holds the run as parallel sequences of equal length.
type History struct {
	Times       []float64
	Values      []float64
	Setpoints   []float64
	Outputs     []float64
	Errors      []float64
	Integrals   []float64
	Derivatives []float64
}

func newHistory(capacity int) History {
	return History{
		Times:       make([]float64, 0, capacity),
		Values:      make([]float64, 0, capacity),
		Setpoints:   make([]float64, 0, capacity),
		Outputs:     make([]float64, 0, capacity),
		Errors:      make([]float64, 0, capacity),
		Integrals:   make([]float64, 0, capacity),
		Derivatives: make([]float64, 0, capacity),
	}
}

// seedEntry is the t=0 row written on reset.
func seedEntry(value, setpoint float64) Entry {
	return Entry{
		Value:      value,
		Setpoint:   setpoint,
		Integral:   math.NaN(),
		Derivative: math.NaN(),
	}
}

func (h History) Len() int { return len(h.Times) }

func (h History) At(i int) Entry {
	return Entry{
		Time:       h.Times[i],
		Value:      h.Values[i],
		Setpoint:   h.Setpoints[i],
		Output:     h.Outputs[i],
		Error:      h.Errors[i],
		Integral:   h.Integrals[i],
		Derivative: h.Derivatives[i],
	}
}

func (h History) Last() (Entry, bool) {
	if h.Len() == 0 {
		return Entry{}, false
	}
	return h.At(h.Len() - 1), true
}

func (h History) Clone() History {
	return History{
		Times:       append([]float64(nil), h.Times...),
		Values:      append([]float64(nil), h.Values...),
		Setpoints:   append([]float64(nil), h.Setpoints...),
		Outputs:     append([]float64(nil), h.Outputs...),
		Errors:      append([]float64(nil), h.Errors...),
		Integrals:   append([]float64(nil), h.Integrals...),
		Derivatives: append([]float64(nil), h.Derivatives...),
	}
}

func (h *History) append(e Entry) {
	h.Times = append(h.Times, e.Time)
	h.Values = append(h.Values, e.Value)
	h.Setpoints = append(h.Setpoints, e.Setpoint)
	h.Outputs = append(h.Outputs, e.Output)
	h.Errors = append(h.Errors, e.Error)
	h.Integrals = append(h.Integrals, e.Integral)
	h.Derivatives = append(h.Derivatives, e.Derivative)
}

// rewriteFirst replaces the seed row; valid only while it is the sole row.
func (h *History) rewriteFirst(e Entry) {
	if h.Len() != 1 {
		return
	}
	h.Times[0] = e.Time
	h.Values[0] = e.Value
	h.Setpoints[0] = e.Setpoint
	h.Outputs[0] = e.Output
	h.Errors[0] = e.Error
	h.Integrals[0] = e.Integral
	h.Derivatives[0] = e.Derivative
}
