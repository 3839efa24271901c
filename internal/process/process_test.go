package process

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultParams() Params {
	return Params{K: 2, T: 15, DeadTime: 3, Baseline: 0, RangeMin: 0, RangeMax: 100}
}

func TestDelayLength(t *testing.T) {
	tests := []struct {
		deadTime, dt float64
		want         int
	}{
		{3, 1, 4},
		{0, 1, 1},
		{2.5, 0.5, 6},
		{2.9, 1, 3},
		{-1, 1, 1},
		{3, 0, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DelayLength(tt.deadTime, tt.dt), "dead=%v dt=%v", tt.deadTime, tt.dt)
	}
}

func TestDelayLine(t *testing.T) {
	d := NewDelayLine(3)
	assert.Equal(t, 0.0, d.Push(1))
	assert.Equal(t, 0.0, d.Push(2))
	assert.Equal(t, 0.0, d.Push(3))
	assert.Equal(t, 1.0, d.Push(4))
	assert.Equal(t, []float64{2, 3, 4}, d.Values())
	assert.Equal(t, 3, d.Len())
}

func TestStepDeadTime(t *testing.T) {
	m := New(defaultParams(), 1)
	require.Equal(t, 4, m.DelayLen())

	// the input only reaches the dynamics after the full delay
	for i := 0; i < 4; i++ {
		m.Step(10, 1)
		assert.Equal(t, 0.0, m.Value(), "step %d", i)
	}
	m.Step(10, 1)
	assert.InDelta(t, 2.0*10/15, m.Value(), 1e-12)
	assert.Equal(t, 4, m.DelayLen())
	assert.Equal(t, 5.0, m.Elapsed())
}

func TestSelfRegulatingReturnsToBaseline(t *testing.T) {
	p := defaultParams()
	p.K = 0
	p.Baseline = 20
	m := New(p, 1)
	m.SetValue(80)

	prev := math.Abs(m.Value() - p.Baseline)
	for i := 0; i < 500; i++ {
		m.Step(0, 1)
		dist := math.Abs(m.Value() - p.Baseline)
		require.LessOrEqual(t, dist, prev, "step %d moved away from baseline", i)
		prev = dist
	}
	assert.InDelta(t, p.Baseline, m.Value(), 1e-6)
}

func TestSelfRegulatingWithGainConverges(t *testing.T) {
	m := New(defaultParams(), 1)
	for i := 0; i < 2000; i++ {
		m.Step(0, 1)
	}
	assert.InDelta(t, 0, m.Value(), 1e-9)
}

func TestIntegratingProcess(t *testing.T) {
	p := Params{K: 1, T: 10, Integrating: true, Outflow: 2, RangeMin: 0, RangeMax: 100}
	m := New(p, 1)
	m.Step(5, 1) // delayed input is still zero
	assert.InDelta(t, -0.2, m.Value(), 1e-12)
	m.Step(5, 1)
	assert.InDelta(t, -0.2+0.3, m.Value(), 1e-12)
}

func TestNonPositiveTimeConstantIsClamped(t *testing.T) {
	p := defaultParams()
	p.T = 0
	p.DeadTime = 0
	m := New(p, 1)
	m.Step(1, 1)
	v := m.Step(1, 1)
	assert.False(t, math.IsNaN(v))
	assert.False(t, math.IsInf(v, 0))
}

func TestUnitlessGain(t *testing.T) {
	p := Params{K: 1, T: 1, DeadTime: 0, Baseline: 200, RangeMin: 100, RangeMax: 300, UnitlessGain: true}
	m := New(p, 1)
	m.Step(50, 1)
	// first sample is the zero-filled delay slot: stays at baseline
	assert.InDelta(t, 200, m.Value(), 1e-9)
	m.Step(50, 1)
	// in percent space: 50 + (-(50-50) + 1*50) = 100% -> 300
	assert.InDelta(t, 300, m.Value(), 1e-9)
}

func TestPercentRoundTrip(t *testing.T) {
	ranges := [][2]float64{{0, 100}, {-40, 120}, {3.5, 3.75}, {100, 0}}
	xs := []float64{-12.5, 0, 3.6, 50, 99.99, 1e4}
	for _, r := range ranges {
		for _, x := range xs {
			got := FromPercent(ToPercent(x, r[0], r[1]), r[0], r[1])
			assert.InDelta(t, x, got, 1e-9*math.Max(1, math.Abs(x)), "range %v x %v", r, x)
		}
	}
}

func TestPercentDegenerateRange(t *testing.T) {
	assert.Equal(t, 0.0, ToPercent(42, 10, 10))
	assert.Equal(t, 10.0, FromPercent(55, 10, 10))
}

func TestSetParamsKeepsDelay(t *testing.T) {
	m := New(defaultParams(), 1)
	p := m.Params()
	p.DeadTime = 10
	p.K = 3
	m.SetParams(p)
	assert.Equal(t, 4, m.DelayLen())
	assert.Equal(t, 3.0, m.Params().K)
}
