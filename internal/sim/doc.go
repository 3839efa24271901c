// Package sim runs a single-loop process control simulation.
//
// An Engine owns one process model, one controller, a disturbance injector
// and the run history. It advances in fixed increments of Dt and moves
// through a small state machine:
//
//	Idle -> Running <-> Paused
//	Running -> AutoPaused (process converged) -> Running (Resume)
//	Running -> Completed (MaxSteps reached)
//	any -> Faulted (process value left the stability bounds)
//	any -> Idle (Reset)
//
// A typical run:
//
//	e, err := sim.New(sim.DefaultConfig(), sim.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	e.Start()
//	for e.State() == sim.Running {
//		if _, err := e.Step(false); err != nil {
//			return err
//		}
//	}
//
// Steps are serialized; the engine may be driven from one goroutine while
// another reads History or Metrics.
package sim
