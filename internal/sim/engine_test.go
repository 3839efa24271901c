package sim

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/loopsim/internal/control"
	"github.com/san-kum/loopsim/internal/metrics"
)

func manualConfig(output float64) Config {
	cfg := DefaultConfig()
	cfg.Controller.Variant = control.VariantManual
	cfg.Controller.ManualOutput = output
	return cfg
}

// settledConfig holds the process at the setpoint with no drive.
func settledConfig() Config {
	cfg := manualConfig(0)
	cfg.Process.Baseline = 50
	cfg.Setpoint = 50
	return cfg
}

// runawayConfig integrates a saturated output until it diverges.
func runawayConfig() Config {
	cfg := manualConfig(100)
	cfg.Process.Integrating = true
	cfg.Process.T = 1
	cfg.Process.DeadTime = 0
	return cfg
}

func newEngine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	return e
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero dt", func(c *Config) { c.Dt = 0 }, "dt"},
		{"no steps", func(c *Config) { c.MaxSteps = 0 }, "max_steps"},
		{"zero time constant", func(c *Config) { c.Process.T = 0 }, "process.t"},
		{"negative dead time", func(c *Config) { c.Process.DeadTime = -1 }, "process.dead_time"},
		{"degenerate range", func(c *Config) { c.Process.RangeMax = c.Process.RangeMin }, "process.range"},
		{"inverted output", func(c *Config) { c.OutputMin = 100; c.OutputMax = 0 }, "output"},
		{"nan gain", func(c *Config) { c.Controller.Kp = math.NaN() }, "controller.kp"},
		{"unknown variant", func(c *Config) { c.Controller.Variant = "lqr" }, "controller.variant"},
		{"negative noise", func(c *Config) { c.Disturbance.NoiseStd = -1 }, "disturbance.noise_std"},
		{"bad hysteresis", func(c *Config) {
			c.Controller.Variant = control.VariantOnOff
			c.Controller.Hysteresis = "sideways"
		}, "controller.hysteresis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfig))
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestNewSeedsHistory(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	assert.Equal(t, Idle, e.State())
	assert.Equal(t, 4, e.DelayLen())

	h := e.History()
	require.Equal(t, 1, h.Len())
	first := h.At(0)
	assert.Equal(t, 0.0, first.Time)
	assert.Equal(t, 0.0, first.Value)
	assert.Equal(t, 50.0, first.Setpoint)
	assert.True(t, math.IsNaN(first.Integral))
	assert.True(t, math.IsNaN(first.Derivative))
	assert.False(t, e.Metrics().Valid)
}

func TestDeadTimeDelaysResponse(t *testing.T) {
	e := newEngine(t, manualConfig(10))

	for i := 1; i <= 3; i++ {
		res, err := e.Step(true)
		require.NoError(t, err)
		assert.Equal(t, 0.0, res.Entry.Value, "step %d", i)
		assert.Equal(t, 10.0, res.Entry.Output)
	}
	res, err := e.Step(true)
	require.NoError(t, err)
	assert.InDelta(t, 2.0*10/15, res.Entry.Value, 1e-12)
	assert.Equal(t, 4.0, res.Entry.Time)
}

func TestSingleStepPausesAndNeverAutoPauses(t *testing.T) {
	e := newEngine(t, settledConfig())

	for i := 0; i < 40; i++ {
		res, err := e.Step(true)
		require.NoError(t, err)
		require.True(t, res.Advanced)
		require.Equal(t, Paused, res.State)
	}
	assert.Equal(t, 41, e.History().Len())
}

func TestFreeStepNeedsRunning(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	res, err := e.Step(false)
	require.NoError(t, err)
	assert.False(t, res.Advanced)
	assert.Equal(t, Idle, res.State)
	assert.Equal(t, 1, e.History().Len())
}

func TestConvergedHistoryAutoPauses(t *testing.T) {
	e := newEngine(t, settledConfig())
	for i := 0; i < metrics.Window-1; i++ {
		_, err := e.Step(true)
		require.NoError(t, err)
	}
	require.Equal(t, metrics.Window, e.History().Len())
	require.NoError(t, e.Start())

	res, err := e.Step(false)
	require.NoError(t, err)
	assert.False(t, res.Advanced)
	assert.Equal(t, AutoPaused, res.State)
	assert.Equal(t, metrics.Window, e.History().Len())

	// a manual step still advances and keeps the automatic pause
	res, err = e.Step(true)
	require.NoError(t, err)
	assert.True(t, res.Advanced)
	assert.Equal(t, AutoPaused, res.State)

	assert.ErrorIs(t, e.Start(), ErrInvalidTransition)
}

func TestResumeNeedsFreshWindow(t *testing.T) {
	e := newEngine(t, settledConfig())
	for i := 0; i < metrics.Window-1; i++ {
		_, err := e.Step(true)
		require.NoError(t, err)
	}
	require.NoError(t, e.Start())
	_, err := e.Step(false)
	require.NoError(t, err)
	require.Equal(t, AutoPaused, e.State())

	require.NoError(t, e.Resume())
	advanced := 0
	for e.State() == Running {
		res, err := e.Step(false)
		require.NoError(t, err)
		if res.Advanced {
			advanced++
		}
	}
	assert.Equal(t, AutoPaused, e.State())
	assert.Equal(t, metrics.Window, advanced)
}

func TestDivergenceFaults(t *testing.T) {
	e := newEngine(t, runawayConfig())
	require.NoError(t, e.Start())

	var values []float64
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		var res StepResult
		res, err = e.Step(false)
		if res.Advanced {
			values = append(values, res.Entry.Value)
		}
	}
	require.Error(t, err)
	assert.Equal(t, []float64{0, 200, 400}, values)
	assert.True(t, errors.Is(err, metrics.ErrDiverged))

	var fe *FaultError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 3, fe.Step)
	assert.Equal(t, 400.0, fe.Value)
	assert.Equal(t, Faulted, e.State())
	assert.Equal(t, err, e.Fault())

	res, err := e.Step(true)
	assert.ErrorIs(t, err, ErrFaulted)
	assert.False(t, res.Advanced)
	assert.ErrorIs(t, e.Start(), ErrFaulted)
	assert.ErrorIs(t, e.TriggerPulse(1, 1), ErrFaulted)
	assert.Equal(t, 4, e.History().Len())

	require.NoError(t, e.Reset())
	assert.Equal(t, Idle, e.State())
	assert.NoError(t, e.Fault())
	assert.Equal(t, 1, e.History().Len())
}

func TestRunCompletesAtMaxSteps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSteps = 5
	e := newEngine(t, cfg)

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, Completed, e.State())
	assert.Equal(t, 5, e.Clock().Step)
	assert.Equal(t, 6, e.History().Len())
	assert.Equal(t, 5.0, e.Clock().Time())

	res, err := e.Step(true)
	require.NoError(t, err)
	assert.False(t, res.Advanced)
	assert.ErrorIs(t, e.Start(), ErrInvalidTransition)
}

func TestRunHonoursContext(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Paused, e.State())
}

func TestEndToEndPID(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	for i := 0; i < 600; i++ {
		_, err := e.Step(true)
		require.NoError(t, err)
		require.Equal(t, 4, e.DelayLen())
	}

	h := e.History()
	assert.Equal(t, 601, h.Len())

	perf := e.Metrics()
	require.True(t, perf.Valid)
	assert.LessOrEqual(t, perf.OvershootPct, 50.0)
	assert.Greater(t, perf.Overshoot, 0.0)
	assert.LessOrEqual(t, math.Abs(perf.SteadyStateError), 2.5)
	assert.False(t, math.IsNaN(perf.RiseTime))
	assert.False(t, math.IsNaN(perf.SettlingTime))
}

func TestFreeRunConvergesBeforeMaxSteps(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, AutoPaused, e.State())
	assert.Less(t, e.Clock().Step, 600)
	last, ok := e.History().Last()
	require.True(t, ok)
	assert.InDelta(t, 50, last.Value, 2.5)
}

func TestConfigureLiveChanges(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	for i := 0; i < 5; i++ {
		_, err := e.Step(true)
		require.NoError(t, err)
	}

	cfg := e.Config()
	cfg.Setpoint = 30
	cfg.Process.DeadTime = 5
	require.NoError(t, e.Configure(cfg))

	res, err := e.Step(true)
	require.NoError(t, err)
	assert.Equal(t, 30.0, res.Entry.Setpoint)
	assert.Equal(t, 4, e.DelayLen())
	assert.True(t, e.PendingReset())

	require.NoError(t, e.Reset())
	assert.Equal(t, 6, e.DelayLen())
	assert.False(t, e.PendingReset())
	assert.Equal(t, 30.0, e.History().At(0).Setpoint)
}

func TestConfigureRetunesActiveController(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	_, err := e.Step(true)
	require.NoError(t, err)

	cfg := e.Config()
	cfg.Controller.Kp = 3
	cfg.Controller.Ti = 0
	cfg.Controller.Td = 0.5
	require.NoError(t, e.Configure(cfg))
	params := e.ControllerParams()
	assert.Equal(t, 3.0, params["Kp"])
	assert.Equal(t, control.InfiniteTi, params["Ti"], "zero Ti disables integral action")
	assert.Equal(t, 0.5, params["Td"])

	cfg.Controller.Ti = 10
	cfg.Controller.IntegralEnabled = false
	cfg.Controller.DerivativeEnabled = false
	require.NoError(t, e.Configure(cfg))
	params = e.ControllerParams()
	assert.Equal(t, control.InfiniteTi, params["Ti"])
	assert.Equal(t, 0.0, params["Td"])

	cfg.Controller.Variant = control.VariantOnOff
	require.NoError(t, e.Configure(cfg))
	assert.Nil(t, e.ControllerParams())
}

func TestConfigureRejectsWithoutChanges(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	bad := DefaultConfig()
	bad.Process.T = -1

	err := e.Configure(bad)
	assert.ErrorIs(t, err, ErrConfig)
	assert.Equal(t, 15.0, e.Config().Process.T)
}

func TestBaselineRewritesFirstEntryOnlyBeforeStepping(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	cfg := e.Config()
	cfg.Process.Baseline = 20
	require.NoError(t, e.Configure(cfg))
	assert.Equal(t, 20.0, e.History().At(0).Value)
	assert.Equal(t, 20.0, e.ProcessValue())

	_, err := e.Step(true)
	require.NoError(t, err)

	cfg.Process.Baseline = 40
	require.NoError(t, e.Configure(cfg))
	assert.Equal(t, 20.0, e.History().At(0).Value)
}

func TestDisabledActionsRecordNaN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Controller.IntegralEnabled = false
	cfg.Controller.DerivativeEnabled = false
	e := newEngine(t, cfg)

	res, err := e.Step(true)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(res.Entry.Integral))
	assert.True(t, math.IsNaN(res.Entry.Derivative))
	// 2 * 50 with no integral or derivative contribution
	assert.InDelta(t, 100, res.Entry.Output, 1e-6)
}

func TestControllerSwitchMidRun(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	for i := 0; i < 5; i++ {
		_, err := e.Step(true)
		require.NoError(t, err)
	}

	cfg := e.Config()
	cfg.Controller.Variant = control.VariantManual
	cfg.Controller.ManualOutput = 30
	require.NoError(t, e.Configure(cfg))
	assert.Equal(t, control.VariantManual, e.Variant())

	res, err := e.Step(true)
	require.NoError(t, err)
	assert.Equal(t, 30.0, res.Entry.Output)
	assert.Equal(t, 0.0, res.Entry.Error)
	assert.True(t, math.IsNaN(res.Entry.Integral))

	cfg.Controller.ManualOutput = 60
	require.NoError(t, e.Configure(cfg))
	res, err = e.Step(true)
	require.NoError(t, err)
	assert.Equal(t, 60.0, res.Entry.Output)
}

func TestPulseLastsExactlyItsSteps(t *testing.T) {
	e := newEngine(t, manualConfig(0))
	require.NoError(t, e.TriggerPulse(5, 3))
	assert.Error(t, e.TriggerPulse(5, 0))

	var offsets []float64
	for i := 0; i < 5; i++ {
		res, err := e.Step(true)
		require.NoError(t, err)
		offsets = append(offsets, res.Disturbance)
	}
	assert.Equal(t, []float64{5, 5, 5, 0, 0}, offsets)
	assert.Equal(t, 0, e.PulseRemaining())
	assert.Greater(t, e.ProcessValue(), 0.0)
}

func TestNoiseIsSeeded(t *testing.T) {
	cfg := settledConfig()
	cfg.Disturbance.NoiseStd = 1

	run := func(e *Engine) []float64 {
		for i := 0; i < 10; i++ {
			_, err := e.Step(true)
			require.NoError(t, err)
		}
		return e.History().Values
	}

	a := newEngine(t, cfg, WithSeed(7))
	b := newEngine(t, cfg, WithSeed(7))
	first := run(a)
	assert.Equal(t, first, run(b))

	require.NoError(t, a.Reset())
	assert.Equal(t, first, run(a))
}

type recordingCollector struct {
	steps  int
	faults int
	states []string
}

func (r *recordingCollector) ObserveStep(string, float64, float64, float64) { r.steps++ }
func (r *recordingCollector) IncFault(string)                               { r.faults++ }
func (r *recordingCollector) IncAutoPause()                                 {}
func (r *recordingCollector) SetState(s string)                             { r.states = append(r.states, s) }

func TestCollectorAndLogger(t *testing.T) {
	var buf bytes.Buffer
	rec := &recordingCollector{}
	e := newEngine(t, runawayConfig(), WithCollector(rec), WithLogger(zerolog.New(&buf)))

	err := e.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, 3, rec.steps)
	assert.Equal(t, 1, rec.faults)
	assert.Equal(t, []string{"idle", "running", "faulted"}, rec.states)
	assert.Contains(t, buf.String(), `"message":"process diverged"`)
	assert.Contains(t, buf.String(), `"component":"sim"`)
}

func TestSweep(t *testing.T) {
	var configs []Config
	for _, kp := range []float64{1, 2, 3} {
		cfg := DefaultConfig()
		cfg.Controller.Kp = kp
		configs = append(configs, cfg)
	}
	configs = append(configs, runawayConfig())

	results, err := Sweep(context.Background(), configs)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i, r := range results[:3] {
		assert.NoError(t, r.Err, "run %d", i)
		assert.Equal(t, float64(i+1), r.Config.Controller.Kp)
		assert.True(t, r.Metrics.Valid)
	}
	assert.ErrorIs(t, results[3].Err, metrics.ErrDiverged)
	assert.Equal(t, Faulted, results[3].State)

	_, err = Sweep(context.Background(), []Config{{}})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "auto_paused", AutoPaused.String())
	assert.Equal(t, "state(42)", State(42).String())
}
