package sim

import (
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/san-kum/loopsim/internal/control"
	"github.com/san-kum/loopsim/internal/disturbance"
	"github.com/san-kum/loopsim/internal/metrics"
	"github.com/san-kum/loopsim/internal/process"
	"github.com/san-kum/loopsim/internal/telemetry"
)

type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = l.With().Str("component", "sim").Logger()
	}
}

func WithCollector(c telemetry.Collector) Option {
	return func(e *Engine) {
		if c != nil {
			e.collector = c
		}
	}
}

// WithSeed fixes the noise source. Reset rewinds it to this seed.
func WithSeed(seed int64) Option {
	return func(e *Engine) { e.seed = seed }
}

type Engine struct {
	mu sync.Mutex

	cfg    Config // latest configuration
	active Config // configuration at the last reset

	proc  *process.Model
	ctrl  control.Controller
	dist  *disturbance.Injector
	guard metrics.StabilityGuard

	hist  History
	clock Clock
	state State
	fault error
	perf  metrics.Performance

	// convergence is only evaluated on history recorded after this index
	convergeFrom int

	logger    zerolog.Logger
	collector telemetry.Collector
	seed      int64
}

func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:       cfg,
		logger:    zerolog.Nop(),
		collector: telemetry.Noop(),
		seed:      1,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.dist = disturbance.New(e.seed)
	if err := e.rebuild(); err != nil {
		return nil, err
	}
	e.collector.SetState(e.state.String())
	return e, nil
}

func newController(cfg Config, dt, initialPV float64) (control.Controller, error) {
	c := cfg.Controller
	return control.New(c.Variant, control.Settings{
		Kp:             c.Kp,
		Ti:             c.EffectiveTi(),
		Td:             c.EffectiveTd(),
		Dt:             dt,
		InitialPV:      initialPV,
		Hysteresis:     c.Hysteresis,
		HysteresisHigh: c.HysteresisHigh,
		HysteresisLow:  c.HysteresisLow,
		ManualOutput:   c.ManualOutput,
	})
}

func (e *Engine) rebuild() error {
	cfg := e.cfg
	ctrl, err := newController(cfg, cfg.Dt, cfg.Process.Baseline)
	if err != nil {
		return &ConfigError{Field: "controller.variant", Reason: err.Error()}
	}

	e.active = cfg
	e.ctrl = ctrl
	e.proc = process.New(cfg.Process, cfg.Dt)
	e.dist.Reset()
	e.guard = metrics.NewStabilityGuard(cfg.DivergenceMargin)
	e.clock = Clock{Dt: cfg.Dt, MaxSteps: cfg.MaxSteps}
	e.hist = newHistory(cfg.MaxSteps + 1)
	e.hist.append(seedEntry(e.proc.Value(), cfg.Setpoint))
	e.perf = metrics.Compute(e.hist.Times, e.hist.Values, e.hist.Setpoints, e.hist.Outputs)
	e.fault = nil
	e.convergeFrom = 0
	return nil
}

// Configure validates cfg and stages it. Gains, setpoint, bounds, noise
// and process parameters apply from the next step. A new dead time or Dt
// waits for Reset. Changing the baseline before the first step also moves
// the current process value and the first history row.
func (e *Engine) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.cfg
	e.cfg = cfg
	e.guard = metrics.NewStabilityGuard(cfg.DivergenceMargin)
	e.clock.MaxSteps = cfg.MaxSteps
	e.proc.SetParams(cfg.Process)

	fresh := e.clock.Step == 0
	if fresh && cfg.Process.Baseline != prev.Process.Baseline {
		e.proc.SetValue(cfg.Process.Baseline)
		first := e.hist.At(0)
		first.Value = cfg.Process.Baseline
		e.hist.rewriteFirst(first)
		e.logger.Debug().Float64("baseline", cfg.Process.Baseline).Msg("baseline redefined before first step")
	}

	if fresh || e.ctrl.Variant() != cfg.Controller.Variant {
		ctrl, err := newController(cfg, e.active.Dt, e.proc.Value())
		if err != nil {
			return &ConfigError{Field: "controller.variant", Reason: err.Error()}
		}
		if e.ctrl.Variant() != ctrl.Variant() {
			e.logger.Info().
				Str("from", string(e.ctrl.Variant())).
				Str("to", string(ctrl.Variant())).
				Int("step", e.clock.Step).
				Msg("controller switched")
		}
		e.ctrl = ctrl
		return nil
	}

	c := cfg.Controller
	switch ctrl := e.ctrl.(type) {
	case control.Configurable:
		gains := []struct {
			name, field string
			value       float64
		}{
			{"Kp", "controller.kp", c.Kp},
			{"Ti", "controller.ti", c.EffectiveTi()},
			{"Td", "controller.td", c.EffectiveTd()},
		}
		for _, g := range gains {
			if err := ctrl.SetParam(g.name, g.value); err != nil {
				return &ConfigError{Field: g.field, Reason: err.Error()}
			}
		}
	case *control.OnOff:
		ctrl.Mode = c.Hysteresis
		ctrl.High = c.HysteresisHigh
		ctrl.Low = c.HysteresisLow
	case *control.Manual:
		ctrl.SetOutput(c.ManualOutput)
	}
	return nil
}

// Reset rebuilds the process, controller and history from the latest
// configuration and returns to Idle. It also clears a fault.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.rebuild(); err != nil {
		return err
	}
	e.logger.Info().
		Int("delay_len", e.proc.DelayLen()).
		Float64("dt", e.active.Dt).
		Msg("engine reset")
	e.transition(Idle)
	return nil
}

func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Idle, Paused:
		e.transition(Running)
		return nil
	case Running:
		return nil
	case Faulted:
		return ErrFaulted
	}
	return e.invalid("start")
}

func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Running:
		e.transition(Paused)
	case Faulted:
		return ErrFaulted
	}
	return nil
}

// Resume continues a paused run. After an automatic pause the convergence
// detector needs a fresh window before it can pause again.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case AutoPaused:
		e.convergeFrom = e.hist.Len()
		e.transition(Running)
		return nil
	case Paused:
		e.transition(Running)
		return nil
	case Running:
		return nil
	case Faulted:
		return ErrFaulted
	}
	return e.invalid("resume")
}

func (e *Engine) invalid(cmd string) error {
	return &transitionError{cmd: cmd, state: e.state}
}

type transitionError struct {
	cmd   string
	state State
}

func (e *transitionError) Error() string {
	return "sim: cannot " + e.cmd + " while " + e.state.String()
}

func (e *transitionError) Unwrap() error { return ErrInvalidTransition }

// TriggerPulse adds magnitude to the process value for the next steps samples.
func (e *Engine) TriggerPulse(magnitude float64, steps int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Faulted {
		return ErrFaulted
	}
	if err := e.dist.Trigger(magnitude, steps); err != nil {
		return err
	}
	e.logger.Info().Float64("magnitude", magnitude).Int("steps", steps).Msg("pulse armed")
	return nil
}

// Step advances the loop by one Dt. A free-running step (single=false) only
// proceeds while Running and may auto-pause on convergence; a single step
// proceeds from any state except Faulted and Completed and leaves the
// engine Paused.
func (e *Engine) Step(single bool) (StepResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Faulted {
		return StepResult{State: Faulted, Fault: e.fault}, ErrFaulted
	}
	if !single && e.state != Running {
		return StepResult{State: e.state}, nil
	}

	if e.clock.Step >= e.clock.MaxSteps {
		e.transition(Completed)
		return StepResult{State: e.state}, nil
	}

	cfg := e.cfg
	pv := e.proc.Value()
	if err := e.guard.Check(pv, cfg.Process.RangeMin, cfg.Process.RangeMax); err != nil {
		fault := &FaultError{Step: e.clock.Step, Time: e.clock.Time(), Value: pv, Wrapped: err}
		e.fault = fault
		e.collector.IncFault("diverged")
		e.logger.Error().Err(err).Int("step", e.clock.Step).Float64("value", pv).Msg("process diverged")
		e.transition(Faulted)
		return StepResult{State: Faulted, Fault: fault}, fault
	}

	if !single && metrics.Converged(e.hist.Values[e.convergeFrom:], e.hist.Setpoints[e.convergeFrom:]) {
		e.collector.IncAutoPause()
		e.logger.Info().Int("step", e.clock.Step).Float64("value", pv).Msg("process converged")
		e.transition(AutoPaused)
		return StepResult{State: e.state}, nil
	}

	offset := e.dist.Sample(cfg.Disturbance.NoiseStd)
	out := e.ctrl.Compute(control.Input{
		Setpoint:     cfg.Setpoint,
		ProcessValue: pv,
		OutputMin:    cfg.OutputMin,
		OutputMax:    cfg.OutputMax,
		AntiWindup:   cfg.Controller.AntiWindup,
	})
	y := e.proc.Step(out.Value, e.active.Dt) + offset
	e.proc.SetValue(y)
	e.clock.Step++

	entry := Entry{
		Time:       e.clock.Time(),
		Value:      y,
		Setpoint:   cfg.Setpoint,
		Output:     out.Value,
		Error:      out.Error,
		Integral:   out.Integral,
		Derivative: out.Derivative,
	}
	if e.ctrl.Variant() == control.VariantPID {
		if !cfg.Controller.IntegralEnabled {
			entry.Integral = math.NaN()
		}
		if !cfg.Controller.DerivativeEnabled {
			entry.Derivative = math.NaN()
		}
	}
	e.hist.append(entry)
	e.perf = metrics.Compute(e.hist.Times, e.hist.Values, e.hist.Setpoints, e.hist.Outputs)
	e.collector.ObserveStep(string(e.ctrl.Variant()), y, out.Value, cfg.Setpoint)

	if single && (e.state == Idle || e.state == Running) {
		e.transition(Paused)
	}

	e.logger.Debug().
		Int("step", e.clock.Step).
		Float64("pv", y).
		Float64("output", out.Value).
		Float64("offset", offset).
		Msg("step")

	return StepResult{
		Entry:       entry,
		State:       e.state,
		Advanced:    true,
		Terms:       out.Terms,
		Disturbance: offset,
	}, nil
}

func (e *Engine) transition(to State) {
	if e.state == to {
		return
	}
	e.logger.Info().
		Stringer("from", e.state).
		Stringer("to", to).
		Int("step", e.clock.Step).
		Msg("state transition")
	e.state = to
	e.collector.SetState(to.String())
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Fault returns the error that faulted the engine, or nil.
func (e *Engine) Fault() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fault
}

// ControllerParams returns the gains the active controller is using, or
// nil when it has none to tune.
func (e *Engine) ControllerParams() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.ctrl.(control.Configurable); ok {
		return c.GetParams()
	}
	return nil
}

func (e *Engine) Clock() Clock {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock
}

// Config returns the latest configuration, including changes still
// waiting for Reset.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// PendingReset reports whether a dead time or Dt change is staged.
func (e *Engine) PendingReset() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Dt != e.active.Dt || e.cfg.Process.DeadTime != e.active.Process.DeadTime
}

// History returns a copy of the run so far.
func (e *Engine) History() History {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hist.Clone()
}

func (e *Engine) Metrics() metrics.Performance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.perf
}

func (e *Engine) ProcessValue() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.proc.Value()
}

// DelayLen is the number of samples in the active transport delay.
func (e *Engine) DelayLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.proc.DelayLen()
}

func (e *Engine) Variant() control.Variant {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctrl.Variant()
}

// PulseRemaining is the number of samples left in the armed pulse.
func (e *Engine) PulseRemaining() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dist.Remaining()
}
