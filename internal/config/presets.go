package config

import "sort"

func preset(mutate func(c *Config)) *Config {
	c := DefaultConfig()
	mutate(c)
	return c
}

var Presets = map[string]*Config{
	"default": DefaultConfig(),
	"aggressive": preset(func(c *Config) {
		c.Controller.Kp = 4
		c.Controller.Ti = 5
	}),
	"sluggish": preset(func(c *Config) {
		c.Controller.Kp = 0.5
		c.Controller.Ti = 30
		c.Controller.Td = 0
		c.Controller.DerivativeEnabled = false
	}),
	"pi": preset(func(c *Config) {
		c.Controller.Td = 0
		c.Controller.DerivativeEnabled = false
	}),
	"long_deadtime": preset(func(c *Config) {
		c.Process.DeadTime = 10
		c.Controller.Kp = 0.8
		c.Controller.Ti = 20
	}),
	"integrating": preset(func(c *Config) {
		c.Process.Integrating = true
		c.Process.K = 0.5
		c.Process.Outflow = 10
		c.Controller.Kp = 1
		c.Controller.Ti = 40
		c.Controller.Td = 0
	}),
	"windup": preset(func(c *Config) {
		c.Controller.AntiWindup = false
		c.Controller.Ti = 3
	}),
	"onoff": preset(func(c *Config) {
		c.Controller.Type = "onoff"
		c.Controller.Hysteresis = "both"
		c.Controller.HysteresisHigh = 2
		c.Controller.HysteresisLow = 2
	}),
	"manual": preset(func(c *Config) {
		c.Controller.Type = "manual"
		c.Controller.ManualOutput = 25
	}),
	"noisy": preset(func(c *Config) {
		c.Disturbance.NoiseStd = 0.5
	}),
	"unitless": preset(func(c *Config) {
		c.Process.UnitlessGain = true
		c.Process.RangeMin = 100
		c.Process.RangeMax = 300
		c.Process.Baseline = 200
		c.Setpoint = 250
	}),
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(name string) *Config {
	cfg, ok := Presets[name]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
