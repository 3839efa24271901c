package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rs/zerolog"

	"github.com/san-kum/loopsim/internal/control"
	"github.com/san-kum/loopsim/internal/process"
	"github.com/san-kum/loopsim/internal/sim"
)

const (
	DefaultDt         = 1.0
	DefaultMaxSteps   = 600
	DefaultSetpoint   = 50.0
	DefaultK          = 2.0
	DefaultT          = 15.0
	DefaultDeadTime   = 3.0
	DefaultKp         = 2.0
	DefaultTi         = 10.0
	DefaultTd         = 1.0
	DefaultTickMillis = 100
	DefaultWindow     = 30
)

type Config struct {
	Process          ProcessConfig     `yaml:"process"`
	Controller       ControllerConfig  `yaml:"controller"`
	Disturbance      DisturbanceConfig `yaml:"disturbance"`
	Setpoint         float64           `yaml:"setpoint"`
	Output           OutputConfig      `yaml:"output"`
	Dt               float64           `yaml:"dt"`
	MaxSteps         int               `yaml:"max_steps"`
	Seed             int64             `yaml:"seed"`
	DivergenceMargin float64           `yaml:"divergence_margin"`
	Logging          LoggingConfig     `yaml:"logging"`
	Storage          StorageConfig     `yaml:"storage"`
	Live             LiveConfig        `yaml:"live"`
}

type ProcessConfig struct {
	K            float64 `yaml:"k"`
	T            float64 `yaml:"t"`
	DeadTime     float64 `yaml:"dead_time"`
	Integrating  bool    `yaml:"integrating"`
	Outflow      float64 `yaml:"outflow"`
	Baseline     float64 `yaml:"baseline"`
	RangeMin     float64 `yaml:"range_min"`
	RangeMax     float64 `yaml:"range_max"`
	UnitlessGain bool    `yaml:"unitless_gain"`
}

type ControllerConfig struct {
	Type              string  `yaml:"type"`
	Kp                float64 `yaml:"kp"`
	Ti                float64 `yaml:"ti"`
	Td                float64 `yaml:"td"`
	IntegralEnabled   bool    `yaml:"integral_enabled"`
	DerivativeEnabled bool    `yaml:"derivative_enabled"`
	AntiWindup        bool    `yaml:"anti_windup"`
	Hysteresis        string  `yaml:"hysteresis"`
	HysteresisHigh    float64 `yaml:"hysteresis_high"`
	HysteresisLow     float64 `yaml:"hysteresis_low"`
	ManualOutput      float64 `yaml:"manual_output"`
}

type DisturbanceConfig struct {
	NoiseStd       float64 `yaml:"noise_std"`
	PulseMagnitude float64 `yaml:"pulse_magnitude"`
	PulseSteps     int     `yaml:"pulse_steps"`
}

type OutputConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StorageConfig struct {
	Dir      string `yaml:"dir"`
	TuningDB string `yaml:"tuning_db"`
}

type LiveConfig struct {
	TickMillis  int    `yaml:"tick_ms"`
	Window      int    `yaml:"window"`
	MetricsAddr string `yaml:"metrics_addr"`
}

func DefaultConfig() *Config {
	return &Config{
		Process: ProcessConfig{
			K:        DefaultK,
			T:        DefaultT,
			DeadTime: DefaultDeadTime,
			RangeMin: 0,
			RangeMax: 100,
		},
		Controller: ControllerConfig{
			Type:              string(control.VariantPID),
			Kp:                DefaultKp,
			Ti:                DefaultTi,
			Td:                DefaultTd,
			IntegralEnabled:   true,
			DerivativeEnabled: true,
			AntiWindup:        true,
			Hysteresis:        string(control.HysteresisBoth),
			HysteresisHigh:    2,
			HysteresisLow:     2,
		},
		Disturbance: DisturbanceConfig{
			PulseMagnitude: 10,
			PulseSteps:     3,
		},
		Setpoint: DefaultSetpoint,
		Output:   OutputConfig{Min: 0, Max: 100},
		Dt:       DefaultDt,
		MaxSteps: DefaultMaxSteps,
		Seed:     1,
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Storage:  StorageConfig{Dir: "runs", TuningDB: "tuning.db"},
		Live:     LiveConfig{TickMillis: DefaultTickMillis, Window: DefaultWindow},
	}
}

// Load reads a YAML file over the defaults, so omitted keys keep their
// default values.
func Load(path string) (*Config, error) {
	return LoadOver(path, DefaultConfig())
}

// LoadOver reads a YAML file over a copy of base, typically a preset.
func LoadOver(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := base.Clone()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Clone returns an independent copy.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

// Engine converts the file configuration into an engine configuration.
func (c *Config) Engine() (sim.Config, error) {
	variant, err := control.ParseVariant(c.Controller.Type)
	if err != nil {
		return sim.Config{}, &sim.ConfigError{Field: "controller.type", Reason: err.Error()}
	}
	hysteresis := control.Hysteresis(c.Controller.Hysteresis)
	if variant == control.VariantOnOff {
		if hysteresis, err = control.ParseHysteresis(c.Controller.Hysteresis); err != nil {
			return sim.Config{}, &sim.ConfigError{Field: "controller.hysteresis", Reason: err.Error()}
		}
	}

	return sim.Config{
		Process: process.Params{
			K:            c.Process.K,
			T:            c.Process.T,
			DeadTime:     c.Process.DeadTime,
			Integrating:  c.Process.Integrating,
			Outflow:      c.Process.Outflow,
			Baseline:     c.Process.Baseline,
			RangeMin:     c.Process.RangeMin,
			RangeMax:     c.Process.RangeMax,
			UnitlessGain: c.Process.UnitlessGain,
		},
		Controller: sim.ControllerConfig{
			Variant:           variant,
			Kp:                c.Controller.Kp,
			Ti:                c.Controller.Ti,
			Td:                c.Controller.Td,
			IntegralEnabled:   c.Controller.IntegralEnabled,
			DerivativeEnabled: c.Controller.DerivativeEnabled,
			AntiWindup:        c.Controller.AntiWindup,
			Hysteresis:        hysteresis,
			HysteresisHigh:    c.Controller.HysteresisHigh,
			HysteresisLow:     c.Controller.HysteresisLow,
			ManualOutput:      c.Controller.ManualOutput,
		},
		Disturbance:      sim.DisturbanceConfig{NoiseStd: c.Disturbance.NoiseStd},
		Setpoint:         c.Setpoint,
		OutputMin:        c.Output.Min,
		OutputMax:        c.Output.Max,
		Dt:               c.Dt,
		MaxSteps:         c.MaxSteps,
		DivergenceMargin: c.DivergenceMargin,
	}, nil
}

// Validate checks the engine settings plus the surrounding tool settings.
func (c *Config) Validate() error {
	ec, err := c.Engine()
	if err != nil {
		return err
	}
	if err := ec.Validate(); err != nil {
		return err
	}
	if c.Logging.Level != "" {
		if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
			return &sim.ConfigError{Field: "logging.level", Reason: err.Error()}
		}
	}
	if c.Disturbance.PulseSteps < 0 {
		return &sim.ConfigError{Field: "disturbance.pulse_steps", Reason: "must not be negative"}
	}
	if c.Live.TickMillis < 0 || c.Live.Window < 0 {
		return &sim.ConfigError{Field: "live", Reason: "tick and window must not be negative"}
	}
	return nil
}
