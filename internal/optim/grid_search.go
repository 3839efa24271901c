package optim

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/loopsim/internal/metrics"
	"github.com/san-kum/loopsim/internal/sim"
)

// setters maps a searchable parameter name onto the engine configuration.
var setters = map[string]func(*sim.Config, float64){
	"kp":       func(c *sim.Config, v float64) { c.Controller.Kp = v },
	"ti":       func(c *sim.Config, v float64) { c.Controller.Ti = v },
	"td":       func(c *sim.Config, v float64) { c.Controller.Td = v },
	"setpoint": func(c *sim.Config, v float64) { c.Setpoint = v },
}

// Score ranks a finished run; lower is better.
type Score func(metrics.Performance) float64

// ByIAE scores runs by integral absolute error.
func ByIAE(p metrics.Performance) float64 { return p.IAE }

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
}

func NewGridSearch(params []string, ranges [][]float64) (*GridSearch, error) {
	if len(params) != len(ranges) {
		return nil, fmt.Errorf("optim: %d parameters but %d ranges", len(params), len(ranges))
	}
	for i, name := range params {
		if _, ok := setters[name]; !ok {
			return nil, fmt.Errorf("optim: unknown parameter %q", name)
		}
		if len(ranges[i]) == 0 {
			return nil, fmt.Errorf("optim: empty range for %q", name)
		}
	}
	return &GridSearch{paramNames: params, ranges: ranges}, nil
}

// Point is one grid cell.
type Point map[string]float64

// Points enumerates the grid with the last parameter varying fastest.
func (g *GridSearch) Points() []Point {
	var points []Point
	g.collect(0, Point{}, &points)
	return points
}

func (g *GridSearch) collect(depth int, current Point, out *[]Point) {
	if depth == len(g.paramNames) {
		p := make(Point, len(current))
		for k, v := range current {
			p[k] = v
		}
		*out = append(*out, p)
		return
	}
	name := g.paramNames[depth]
	for _, v := range g.ranges[depth] {
		current[name] = v
		g.collect(depth+1, current, out)
	}
	delete(current, name)
}

// Apply returns base with p's values set.
func (p Point) Apply(base sim.Config) sim.Config {
	cfg := base
	for name, v := range p {
		setters[name](&cfg, v)
	}
	return cfg
}

// Trial is a grid point with its sweep outcome.
type Trial struct {
	Point  Point
	Result sim.SweepResult
	Score  float64
}

// Result holds every trial in grid order and the index of the best one,
// or -1 when no run produced valid metrics.
type Result struct {
	Trials []Trial
	Best   int
}

// Search runs every grid point concurrently and ranks them with score.
// Diverged runs and runs too short for metrics score +Inf.
func (g *GridSearch) Search(ctx context.Context, base sim.Config, score Score, opts ...sim.Option) (*Result, error) {
	if score == nil {
		score = ByIAE
	}
	points := g.Points()
	configs := make([]sim.Config, len(points))
	for i, p := range points {
		configs[i] = p.Apply(base)
	}

	sweep, err := sim.Sweep(ctx, configs, opts...)
	if err != nil {
		return nil, err
	}

	res := &Result{Trials: make([]Trial, len(points)), Best: -1}
	best := math.Inf(1)
	for i, r := range sweep {
		s := math.Inf(1)
		if r.Err == nil && r.Metrics.Valid {
			if v := score(r.Metrics); !math.IsNaN(v) {
				s = v
			}
		}
		res.Trials[i] = Trial{Point: points[i], Result: r, Score: s}
		if s < best {
			best = s
			res.Best = i
		}
	}
	return res, nil
}
