package control

import (
	"fmt"
	"math"
)

// InfiniteTi stands in for a zero or disabled integral time.
const InfiniteTi = 1e12

type PID struct {
	Kp float64
	Ti float64
	Td float64
	Dt float64

	integral float64
	prevPV   float64
}

func NewPID(kp, ti, td, dt, initialPV float64) *PID {
	return &PID{
		Kp:     kp,
		Ti:     EffectiveTi(ti),
		Td:     td,
		Dt:     dt,
		prevPV: initialPV,
	}
}

// EffectiveTi maps a zero integral time to one that disables integral action.
func EffectiveTi(ti float64) float64 {
	if ti == 0 {
		return InfiniteTi
	}
	return ti
}

func (p *PID) Variant() Variant { return VariantPID }

func (p *PID) Integral() float64 { return p.integral }

// Step evaluates the control law once. The integral is committed according
// to the anti-windup rule; the previous process value is always updated.
func (p *PID) Step(setpoint, pv, umin, umax float64, antiWindup bool) (u, e, integral, derivative float64) {
	dt := p.Dt
	if dt <= 0 {
		dt = 1
	}
	ti := EffectiveTi(p.Ti)

	e = setpoint - pv
	candidate := p.integral + e*dt
	derivative = (pv - p.prevPV) / dt
	unclamped := p.Kp * (e + candidate/ti - p.Td*derivative)
	u = clamp(unclamped, umin, umax)

	switch {
	case !antiWindup, u > umin && u < umax:
		p.integral = candidate
	case u == umin && e > 0, u == umax && e < 0:
		// saturated, but the error pulls the output back into range
		p.integral = candidate
	}
	p.prevPV = pv
	return u, e, p.integral, derivative
}

func (p *PID) Compute(in Input) Output {
	u, e, integral, derivative := p.Step(in.Setpoint, in.ProcessValue, in.OutputMin, in.OutputMax, in.AntiWindup)
	terms := Terms{
		P: p.Kp * e,
		I: p.Kp / EffectiveTi(p.Ti) * integral,
		D: -p.Kp * p.Td * derivative,
	}
	terms.Unclamped = terms.P + terms.I + terms.D
	terms.Saturated = u == in.OutputMin || u == in.OutputMax
	return Output{Value: u, Error: e, Integral: integral, Derivative: derivative, Terms: terms}
}

// GetParams returns tunable parameters for live adjustment
func (p *PID) GetParams() map[string]float64 {
	return map[string]float64{
		"Kp": p.Kp,
		"Ti": p.Ti,
		"Td": p.Td,
	}
}

// SetParam adjusts a PID parameter
func (p *PID) SetParam(name string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("control: %s must be finite", name)
	}
	switch name {
	case "Kp":
		p.Kp = value
	case "Ti":
		p.Ti = EffectiveTi(value)
	case "Td":
		p.Td = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownParam, name)
	}
	return nil
}
