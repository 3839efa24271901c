package automation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/san-kum/loopsim/internal/sim"
)

// Runner is the headless scheduler: it free-runs an engine, one step per
// tick, until the engine stops running or the context is cancelled.
type Runner struct {
	engine   *sim.Engine
	interval time.Duration
	logger   zerolog.Logger

	before func(sim.Clock) error
	after  func(sim.StepResult)
	resume func(sim.State) bool
}

type RunnerOption func(*Runner)

// WithInterval paces the run. Zero steps as fast as possible.
func WithInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.interval = d }
}

func WithLogger(l zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l.With().Str("component", "runner").Logger() }
}

// OnStep is called after every step that appended to the history.
func OnStep(fn func(sim.StepResult)) RunnerOption {
	return func(r *Runner) { r.after = fn }
}

// BeforeStep is called ahead of every step with the current clock.
func BeforeStep(fn func(sim.Clock) error) RunnerOption {
	return func(r *Runner) { r.before = fn }
}

// ResumeWhen decides whether a stopped engine should be resumed instead of
// ending the run. Only paused states can be resumed.
func ResumeWhen(fn func(sim.State) bool) RunnerOption {
	return func(r *Runner) { r.resume = fn }
}

func NewRunner(e *sim.Engine, opts ...RunnerOption) *Runner {
	r := &Runner{engine: e, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts the engine and drives it. It returns nil when the engine
// completes or pauses, the fault when it diverges, and ctx.Err() when
// cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.engine.Start(); err != nil {
		return err
	}

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return r.stop(ctx.Err())
			case <-tick:
			}
		} else {
			select {
			case <-ctx.Done():
				return r.stop(ctx.Err())
			default:
			}
		}

		if r.before != nil {
			if err := r.before(r.engine.Clock()); err != nil {
				return r.stop(err)
			}
		}

		res, err := r.engine.Step(false)
		if err != nil {
			r.logger.Error().Err(err).Msg("run stopped by fault")
			return err
		}
		if res.Advanced && r.after != nil {
			r.after(res)
		}
		if res.State == sim.Running {
			continue
		}

		if (res.State == sim.AutoPaused || res.State == sim.Paused) && r.resume != nil && r.resume(res.State) {
			if err := r.engine.Resume(); err != nil {
				return err
			}
			r.logger.Debug().Int("step", r.engine.Clock().Step).Msg("resumed")
			continue
		}
		r.logger.Info().
			Stringer("state", res.State).
			Int("steps", r.engine.Clock().Step).
			Msg("run finished")
		return nil
	}
}

func (r *Runner) stop(err error) error {
	_ = r.engine.Pause()
	return err
}
