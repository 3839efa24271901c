package automation

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/loopsim/internal/config"
	"github.com/san-kum/loopsim/internal/control"
	"github.com/san-kum/loopsim/internal/metrics"
	"github.com/san-kum/loopsim/internal/sim"
)

// Scenario is a scripted run: a base configuration plus events applied at
// fixed step numbers.
type Scenario struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Preset      string  `yaml:"preset"`
	MaxSteps    int     `yaml:"max_steps"`
	Events      []Event `yaml:"events"`
}

// Event changes the loop just before step At runs. Unset fields are left
// alone.
type Event struct {
	At           int         `yaml:"at"`
	Setpoint     *float64    `yaml:"setpoint,omitempty"`
	Controller   string      `yaml:"controller,omitempty"`
	Kp           *float64    `yaml:"kp,omitempty"`
	Ti           *float64    `yaml:"ti,omitempty"`
	Td           *float64    `yaml:"td,omitempty"`
	ManualOutput *float64    `yaml:"manual_output,omitempty"`
	NoiseStd     *float64    `yaml:"noise_std,omitempty"`
	Pulse        *PulseEvent `yaml:"pulse,omitempty"`
}

type PulseEvent struct {
	Magnitude float64 `yaml:"magnitude"`
	Steps     int     `yaml:"steps"`
}

// AppliedEvent records when an event actually took effect.
type AppliedEvent struct {
	Step  int
	Event Event
}

type Report struct {
	Name    string
	Steps   int
	State   sim.State
	Applied []AppliedEvent
	Skipped int
	Metrics metrics.Performance
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	sort.SliceStable(sc.Events, func(i, j int) bool { return sc.Events[i].At < sc.Events[j].At })
	return &sc, nil
}

func (s *Scenario) Validate() error {
	if s.Preset != "" && config.GetPreset(s.Preset) == nil {
		return fmt.Errorf("scenario %q: unknown preset %q", s.Name, s.Preset)
	}
	if s.MaxSteps < 0 {
		return fmt.Errorf("scenario %q: max_steps must not be negative", s.Name)
	}
	for i, ev := range s.Events {
		if ev.At < 0 {
			return fmt.Errorf("scenario %q: event %d: negative step", s.Name, i+1)
		}
		if ev.Controller != "" {
			if _, err := control.ParseVariant(ev.Controller); err != nil {
				return fmt.Errorf("scenario %q: event %d: %w", s.Name, i+1, err)
			}
		}
		if ev.Pulse != nil && ev.Pulse.Steps <= 0 {
			return fmt.Errorf("scenario %q: event %d: pulse steps must be positive", s.Name, i+1)
		}
	}
	return nil
}

// BaseConfig resolves the starting configuration: the named preset if any,
// otherwise fallback.
func (s *Scenario) BaseConfig(fallback *config.Config) *config.Config {
	cfg := fallback
	if s.Preset != "" {
		cfg = config.GetPreset(s.Preset)
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg = cfg.Clone()
	if s.MaxSteps > 0 {
		cfg.MaxSteps = s.MaxSteps
	}
	return cfg
}

func (ev Event) apply(e *sim.Engine) error {
	cfg := e.Config()
	if ev.Setpoint != nil {
		cfg.Setpoint = *ev.Setpoint
	}
	if ev.Controller != "" {
		cfg.Controller.Variant = control.Variant(ev.Controller)
	}
	if ev.Kp != nil {
		cfg.Controller.Kp = *ev.Kp
	}
	if ev.Ti != nil {
		cfg.Controller.Ti = *ev.Ti
	}
	if ev.Td != nil {
		cfg.Controller.Td = *ev.Td
	}
	if ev.ManualOutput != nil {
		cfg.Controller.ManualOutput = *ev.ManualOutput
	}
	if ev.NoiseStd != nil {
		cfg.Disturbance.NoiseStd = *ev.NoiseStd
	}
	if err := e.Configure(cfg); err != nil {
		return err
	}
	if ev.Pulse != nil {
		return e.TriggerPulse(ev.Pulse.Magnitude, ev.Pulse.Steps)
	}
	return nil
}

// Run drives e through the scenario. An automatic pause is resumed while
// events are still pending.
func (s *Scenario) Run(ctx context.Context, e *sim.Engine, opts ...RunnerOption) (*Report, error) {
	report := &Report{Name: s.Name}
	next := 0

	before := func(clock sim.Clock) error {
		for next < len(s.Events) && s.Events[next].At <= clock.Step {
			ev := s.Events[next]
			if err := ev.apply(e); err != nil {
				return fmt.Errorf("scenario %q: event at step %d: %w", s.Name, ev.At, err)
			}
			report.Applied = append(report.Applied, AppliedEvent{Step: clock.Step, Event: ev})
			next++
		}
		return nil
	}
	pending := func(sim.State) bool { return next < len(s.Events) }

	opts = append(opts, BeforeStep(before), ResumeWhen(pending))
	err := NewRunner(e, opts...).Run(ctx)

	report.Steps = e.Clock().Step
	report.State = e.State()
	report.Skipped = len(s.Events) - next
	report.Metrics = e.Metrics()
	return report, err
}
