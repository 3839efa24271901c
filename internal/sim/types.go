package sim

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/san-kum/loopsim/internal/control"
	"github.com/san-kum/loopsim/internal/process"
)

type State int

const (
	Idle State = iota
	Running
	Paused
	AutoPaused
	Faulted
	Completed
)

var stateNames = [...]string{
	Idle:       "idle",
	Running:    "running",
	Paused:     "paused",
	AutoPaused: "auto_paused",
	Faulted:    "faulted",
	Completed:  "completed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

type ControllerConfig struct {
	Variant control.Variant

	Kp                float64
	Ti                float64
	Td                float64
	IntegralEnabled   bool
	DerivativeEnabled bool
	AntiWindup        bool

	Hysteresis     control.Hysteresis
	HysteresisHigh float64
	HysteresisLow  float64

	ManualOutput float64
}

// EffectiveTi is the integral time handed to the PID law.
func (c ControllerConfig) EffectiveTi() float64 {
	if !c.IntegralEnabled {
		return control.InfiniteTi
	}
	return control.EffectiveTi(c.Ti)
}

// EffectiveTd is the derivative time handed to the PID law.
func (c ControllerConfig) EffectiveTd() float64 {
	if !c.DerivativeEnabled {
		return 0
	}
	return c.Td
}

type DisturbanceConfig struct {
	NoiseStd float64
}

// Config is everything an engine needs. DeadTime and Dt only take effect
// on Reset; the rest applies from the next step.
type Config struct {
	Process     process.Params
	Controller  ControllerConfig
	Disturbance DisturbanceConfig

	Setpoint  float64
	OutputMin float64
	OutputMax float64

	Dt       float64
	MaxSteps int

	// DivergenceMargin widens the stability bounds by this many range
	// spans on each side. Zero selects metrics.DefaultMargin.
	DivergenceMargin float64
}

func DefaultConfig() Config {
	return Config{
		Process: process.Params{
			K:            2,
			T:            15,
			DeadTime:     3,
			Outflow:      0,
			Baseline:     0,
			RangeMin:     0,
			RangeMax:     100,
			UnitlessGain: false,
		},
		Controller: ControllerConfig{
			Variant:           control.VariantPID,
			Kp:                2,
			Ti:                10,
			Td:                1,
			IntegralEnabled:   true,
			DerivativeEnabled: true,
			AntiWindup:        true,
			Hysteresis:        control.HysteresisBoth,
			HysteresisHigh:    2,
			HysteresisLow:     2,
		},
		Setpoint:  50,
		OutputMin: 0,
		OutputMax: 100,
		Dt:        1,
		MaxSteps:  600,
	}
}

// Validate reports the first unusable field as a *ConfigError.
func (c Config) Validate() error {
	finite := map[string]float64{
		"process.k":             c.Process.K,
		"process.t":             c.Process.T,
		"process.dead_time":     c.Process.DeadTime,
		"process.outflow":       c.Process.Outflow,
		"process.baseline":      c.Process.Baseline,
		"process.range_min":     c.Process.RangeMin,
		"process.range_max":     c.Process.RangeMax,
		"controller.kp":         c.Controller.Kp,
		"controller.ti":         c.Controller.Ti,
		"controller.td":         c.Controller.Td,
		"controller.manual":     c.Controller.ManualOutput,
		"setpoint":              c.Setpoint,
		"output.min":            c.OutputMin,
		"output.max":            c.OutputMax,
		"dt":                    c.Dt,
		"disturbance.noise_std": c.Disturbance.NoiseStd,
		"divergence_margin":     c.DivergenceMargin,
	}
	for _, name := range slices.Sorted(maps.Keys(finite)) {
		if v := finite[name]; math.IsNaN(v) || math.IsInf(v, 0) {
			return &ConfigError{Field: name, Reason: "must be finite"}
		}
	}

	switch {
	case c.Dt <= 0:
		return &ConfigError{Field: "dt", Reason: fmt.Sprintf("must be positive, got %g", c.Dt)}
	case c.MaxSteps <= 0:
		return &ConfigError{Field: "max_steps", Reason: fmt.Sprintf("must be positive, got %d", c.MaxSteps)}
	case c.Process.T <= 0:
		return &ConfigError{Field: "process.t", Reason: fmt.Sprintf("time constant must be positive, got %g", c.Process.T)}
	case c.Process.DeadTime < 0:
		return &ConfigError{Field: "process.dead_time", Reason: "must not be negative"}
	case c.Process.RangeMin == c.Process.RangeMax:
		return &ConfigError{Field: "process.range", Reason: "min and max must differ"}
	case c.OutputMin >= c.OutputMax:
		return &ConfigError{Field: "output", Reason: fmt.Sprintf("min %g must be below max %g", c.OutputMin, c.OutputMax)}
	case c.Disturbance.NoiseStd < 0:
		return &ConfigError{Field: "disturbance.noise_std", Reason: "must not be negative"}
	case c.DivergenceMargin < 0:
		return &ConfigError{Field: "divergence_margin", Reason: "must not be negative"}
	}

	ctl := c.Controller
	if _, err := control.ParseVariant(string(ctl.Variant)); err != nil {
		return &ConfigError{Field: "controller.variant", Reason: err.Error()}
	}
	switch ctl.Variant {
	case control.VariantPID:
		if ctl.Ti < 0 || ctl.Td < 0 {
			return &ConfigError{Field: "controller", Reason: "ti and td must not be negative"}
		}
	case control.VariantOnOff:
		if _, err := control.ParseHysteresis(string(ctl.Hysteresis)); err != nil {
			return &ConfigError{Field: "controller.hysteresis", Reason: err.Error()}
		}
		if ctl.HysteresisHigh < 0 || ctl.HysteresisLow < 0 {
			return &ConfigError{Field: "controller.hysteresis", Reason: "band widths must not be negative"}
		}
	}
	return nil
}

// Clock is the engine's notion of time.
type Clock struct {
	Step     int
	Dt       float64
	MaxSteps int
}

func (c Clock) Time() float64 { return float64(c.Step) * c.Dt }

// StepResult is returned by every Step call. Advanced is false when the
// call stopped at a guard and nothing was appended.
type StepResult struct {
	Entry       Entry
	State       State
	Advanced    bool
	Fault       error
	Terms       control.Terms
	Disturbance float64
}
