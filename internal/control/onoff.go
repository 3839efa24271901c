package control

import (
	"fmt"
	"math"
)

type Hysteresis string

const (
	HysteresisUpper Hysteresis = "upper"
	HysteresisLower Hysteresis = "lower"
	HysteresisBoth  Hysteresis = "both"
)

func ParseHysteresis(s string) (Hysteresis, error) {
	switch h := Hysteresis(s); h {
	case HysteresisUpper, HysteresisLower, HysteresisBoth:
		return h, nil
	}
	return "", fmt.Errorf("control: unknown hysteresis type %q", s)
}

// OnOff latches between OutputMax (on) and OutputMin (off). Inside the
// hysteresis band the previous state holds.
type OnOff struct {
	Mode Hysteresis
	High float64
	Low  float64

	on bool
}

func NewOnOff(mode Hysteresis, high, low float64) *OnOff {
	return &OnOff{Mode: mode, High: high, Low: low}
}

func (o *OnOff) Variant() Variant { return VariantOnOff }

func (o *OnOff) On() bool { return o.on }

func (o *OnOff) Step(setpoint, pv, umin, umax float64) float64 {
	switch o.Mode {
	case HysteresisUpper:
		if pv < setpoint {
			o.on = true
		} else if pv > setpoint+o.High {
			o.on = false
		}
	case HysteresisLower:
		if pv > setpoint {
			o.on = false
		} else if pv < setpoint-o.Low {
			o.on = true
		}
	default:
		if pv < setpoint-o.Low {
			o.on = true
		} else if pv > setpoint+o.High {
			o.on = false
		}
	}

	u := umin
	if o.on {
		u = umax
	}
	return clamp(u, umin, umax)
}

func (o *OnOff) Compute(in Input) Output {
	return Output{
		Value:      o.Step(in.Setpoint, in.ProcessValue, in.OutputMin, in.OutputMax),
		Error:      in.Setpoint - in.ProcessValue,
		Integral:   math.NaN(),
		Derivative: math.NaN(),
	}
}
