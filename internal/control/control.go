package control

import (
	"errors"
	"fmt"
	"math"
)

type Variant string

const (
	VariantPID    Variant = "pid"
	VariantOnOff  Variant = "onoff"
	VariantManual Variant = "manual"
)

var (
	ErrUnknownVariant = errors.New("control: unknown controller variant")
	ErrUnknownParam   = errors.New("control: unknown parameter")
)

// Input is what the loop hands a controller each step.
type Input struct {
	Setpoint     float64
	ProcessValue float64
	OutputMin    float64
	OutputMax    float64
	AntiWindup   bool
}

// Terms breaks a PID output into its contributions.
type Terms struct {
	P         float64
	I         float64
	D         float64
	Unclamped float64
	Saturated bool
}

// Output of one controller evaluation. Integral and Derivative are NaN when
// the variant has no such quantity.
type Output struct {
	Value      float64
	Error      float64
	Integral   float64
	Derivative float64
	Terms      Terms
}

type Controller interface {
	Variant() Variant
	Compute(in Input) Output
}

// Configurable controllers accept live gain changes by name.
type Configurable interface {
	GetParams() map[string]float64
	SetParam(name string, value float64) error
}

// Settings carries everything needed to build any variant.
type Settings struct {
	Kp        float64
	Ti        float64
	Td        float64
	Dt        float64
	InitialPV float64

	Hysteresis     Hysteresis
	HysteresisHigh float64
	HysteresisLow  float64

	ManualOutput float64
}

func New(v Variant, s Settings) (Controller, error) {
	switch v {
	case VariantPID:
		return NewPID(s.Kp, s.Ti, s.Td, s.Dt, s.InitialPV), nil
	case VariantOnOff:
		return NewOnOff(s.Hysteresis, s.HysteresisHigh, s.HysteresisLow), nil
	case VariantManual:
		return NewManual(s.ManualOutput), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, v)
	}
}

func Variants() []Variant {
	return []Variant{VariantPID, VariantOnOff, VariantManual}
}

func ParseVariant(s string) (Variant, error) {
	for _, v := range Variants() {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVariant, s)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
