package process

import "math"

// MinTimeConstant replaces non-positive time constants so the update never divides by zero.
const MinTimeConstant = 1e-9

type Params struct {
	K            float64
	T            float64
	DeadTime     float64
	Integrating  bool
	Outflow      float64
	Baseline     float64
	RangeMin     float64
	RangeMax     float64
	UnitlessGain bool
}

// Model is a first-order or integrating process with transport delay.
type Model struct {
	params  Params
	value   float64
	elapsed float64
	u       *DelayLine
	y       *DelayLine
}

// DelayLength quantizes a dead time to whole steps. The result is always at least 1.
func DelayLength(deadTime, dt float64) int {
	if dt <= 0 || deadTime <= 0 {
		return 1
	}
	return int(math.Floor(deadTime/dt+1e-9)) + 1
}

func New(params Params, dt float64) *Model {
	n := DelayLength(params.DeadTime, dt)
	return &Model{
		params: params,
		value:  params.Baseline,
		u:      NewDelayLine(n),
		y:      NewDelayLine(n),
	}
}

func (m *Model) Params() Params { return m.params }

// SetParams replaces the live parameters. The delay length chosen at
// construction is kept; a new dead time needs a new Model.
func (m *Model) SetParams(p Params) { m.params = p }

func (m *Model) Value() float64 { return m.value }

// SetValue overwrites the current reading, e.g. after an additive disturbance.
func (m *Model) SetValue(v float64) { m.value = v }

func (m *Model) Elapsed() float64 { return m.elapsed }

func (m *Model) DelayLen() int { return m.u.Len() }

func (m *Model) Step(u, dt float64) float64 {
	uDelayed := m.u.Push(u)

	p := m.params
	t := p.T
	if t <= 0 {
		t = MinTimeConstant
	}

	y, base := m.value, p.Baseline
	if p.UnitlessGain {
		y = ToPercent(y, p.RangeMin, p.RangeMax)
		base = ToPercent(base, p.RangeMin, p.RangeMax)
	}

	var dy float64
	if p.Integrating {
		dy = (p.K*uDelayed - p.Outflow) * dt / t
	} else {
		dy = (-(y - base) + p.K*uDelayed) * dt / t
	}
	y += dy

	if p.UnitlessGain {
		y = FromPercent(y, p.RangeMin, p.RangeMax)
	}

	m.value = y
	m.y.Push(y)
	m.elapsed += dt
	return y
}

// ToPercent maps x into percent of the measurement range. A degenerate
// range maps everything to 0%.
func ToPercent(x, min, max float64) float64 {
	span := max - min
	if span == 0 {
		return 0
	}
	return 100 * (x - min) / span
}

// FromPercent is the inverse of ToPercent. A degenerate range maps everything to min.
func FromPercent(pct, min, max float64) float64 {
	return min + pct*(max-min)/100
}
