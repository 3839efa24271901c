package metrics

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckStability(t *testing.T) {
	tests := []struct {
		name     string
		pv       float64
		diverged bool
	}{
		{"inside range", 50, false},
		{"above range within margin", 250, false},
		{"upper bound", 300, false},
		{"lower bound", -200, false},
		{"far above", 350, true},
		{"below margin", -200.5, true},
		{"nan", math.NaN(), true},
		{"inf", math.Inf(1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckStability(tt.pv, 0, 100)
			if !tt.diverged {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDiverged))
			var de *DivergenceError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, -200.0, de.Lower)
			assert.Equal(t, 300.0, de.Upper)
		})
	}
}

func TestStabilityGuardMargin(t *testing.T) {
	g := NewStabilityGuard(1)
	assert.NoError(t, g.Check(200, 0, 100))
	assert.Error(t, g.Check(250, 0, 100))

	assert.Equal(t, DefaultMargin, NewStabilityGuard(0).Margin)
	lo, hi := NewStabilityGuard(DefaultMargin).Bounds(0, 100)
	assert.Equal(t, -200.0, lo)
	assert.Equal(t, 300.0, hi)
	assert.NoError(t, CheckStability(210, 0, 100))
}

func TestStabilityBoundsReversedRange(t *testing.T) {
	lo, hi := NewStabilityGuard(1).Bounds(100, 0)
	assert.Equal(t, -100.0, lo)
	assert.Equal(t, 200.0, hi)
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestConvergedAtSetpoint(t *testing.T) {
	assert.True(t, Converged(repeat(50, Window), repeat(50, Window)))
	assert.False(t, Converged(repeat(50, Window-1), repeat(50, Window-1)))
}

func TestConvergedWithinBand(t *testing.T) {
	values := make([]float64, Window)
	for i := range values {
		// swings of ±2 stay inside ±5% of 50 but are not "stable"
		values[i] = 50 + 2*math.Pow(-1, float64(i))
	}
	assert.True(t, Converged(values, repeat(50, Window)))
}

func TestConvergedStableButOffset(t *testing.T) {
	values := repeat(30, Window)
	values[3] = 30.4
	assert.True(t, Converged(values, repeat(50, Window)))
}

func TestNotConvergedWhileMoving(t *testing.T) {
	values := make([]float64, Window+5)
	for i := range values {
		values[i] = float64(i)
	}
	assert.False(t, Converged(values, repeat(50, len(values))))
}

func TestConvergedUsesTrailingWindow(t *testing.T) {
	values := append([]float64{0, 10, 20, 30}, repeat(50, Window)...)
	assert.True(t, Converged(values, repeat(50, len(values))))
}

func TestComputeNeedsSamples(t *testing.T) {
	p := Compute(make([]float64, MinSamples), repeat(1, MinSamples), repeat(1, MinSamples), nil)
	assert.False(t, p.Valid)
	assert.True(t, math.IsNaN(p.RiseTime))
	assert.True(t, math.IsNaN(p.SettlingTime))
}

func TestComputeStepResponse(t *testing.T) {
	values := []float64{0, 10, 30, 46, 55, 52, 50.5, 49.8, 50.2, 50, 50, 50}
	times := make([]float64, len(values))
	for i := range times {
		times[i] = float64(i)
	}
	sps := repeat(50, len(values))
	outputs := repeat(-20, len(values))

	p := Compute(times, values, sps, outputs)
	require.True(t, p.Valid)
	assert.InDelta(t, 5, p.Overshoot, 1e-12)
	assert.InDelta(t, 10, p.OvershootPct, 1e-12)
	assert.Equal(t, 3.0, p.RiseTime)
	assert.Equal(t, 5.0, p.SettlingTime)
	assert.Equal(t, 0.0, p.SteadyStateError)
	assert.Equal(t, 20.0, p.ControlEffort)
	assert.Greater(t, p.IAE, 0.0)
}

func TestComputeUndefinedTimes(t *testing.T) {
	values := repeat(10, 15)
	values[14] = 30
	times := make([]float64, len(values))
	for i := range times {
		times[i] = float64(i)
	}
	p := Compute(times, values, repeat(50, len(values)), nil)
	require.True(t, p.Valid)
	assert.True(t, math.IsNaN(p.RiseTime))
	assert.True(t, math.IsNaN(p.SettlingTime))
	assert.Equal(t, -20.0, p.SteadyStateError)
	assert.Equal(t, 0.0, p.ControlEffort)
}

func TestComputeZeroSetpoint(t *testing.T) {
	values := repeat(0, 12)
	values[5] = 1
	times := make([]float64, len(values))
	p := Compute(times, values, repeat(0, len(values)), nil)
	assert.Equal(t, 1.0, p.Overshoot)
	assert.Equal(t, 0.0, p.OvershootPct)
}

func TestIntegralAbsError(t *testing.T) {
	times := []float64{0, 1, 2, 3}
	values := []float64{0, 5, 8, 10}
	sps := repeat(10, 4)
	assert.Equal(t, 5.0+2.0+0.0, IntegralAbsError(times, values, sps))
}
