package sim

import (
	"context"
	"errors"
	"sync"

	"github.com/san-kum/loopsim/internal/metrics"
)

// Run starts the engine and free-runs it until it leaves Running. It
// returns the fault error if the process diverged, or ctx.Err() when
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			_ = e.Pause()
			return ctx.Err()
		default:
		}

		res, err := e.Step(false)
		if err != nil {
			return err
		}
		if res.State != Running {
			return nil
		}
	}
}

// SweepResult summarizes one run of a sweep.
type SweepResult struct {
	Config  Config
	Metrics metrics.Performance
	State   State
	Steps   int
	Err     error
}

// Sweep runs one independent engine per configuration concurrently. A
// diverged run is reported in its SweepResult; an invalid configuration or
// a cancelled context fails the whole sweep.
func Sweep(ctx context.Context, configs []Config, opts ...Option) ([]SweepResult, error) {
	engines := make([]*Engine, len(configs))
	for i, cfg := range configs {
		e, err := New(cfg, opts...)
		if err != nil {
			return nil, err
		}
		engines[i] = e
	}

	results := make([]SweepResult, len(configs))
	var wg sync.WaitGroup
	for i, e := range engines {
		wg.Add(1)
		go func(idx int, e *Engine) {
			defer wg.Done()
			err := e.Run(ctx)
			results[idx] = SweepResult{
				Config:  configs[idx],
				Metrics: e.Metrics(),
				State:   e.State(),
				Steps:   e.Clock().Step,
				Err:     err,
			}
		}(i, e)
	}
	wg.Wait()

	for _, r := range results {
		if errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, context.DeadlineExceeded) {
			return results, r.Err
		}
	}
	return results, nil
}
