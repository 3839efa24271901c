package sim

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is wrapped by every ConfigError.
	ErrConfig = errors.New("sim: invalid configuration")

	// ErrFaulted is returned by operations that need a Reset first.
	ErrFaulted = errors.New("sim: engine faulted, reset required")

	// ErrInvalidTransition is returned when a command does not apply to the
	// current state.
	ErrInvalidTransition = errors.New("sim: invalid state transition")
)

// ConfigError names the offending configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("sim: invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// FaultError records where the run stopped. Wrapped is typically a
// *metrics.DivergenceError.
type FaultError struct {
	Step    int
	Time    float64
	Value   float64
	Wrapped error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("sim: fault at step %d (t=%.4g): %v", e.Step, e.Time, e.Wrapped)
}

func (e *FaultError) Unwrap() error { return e.Wrapped }
