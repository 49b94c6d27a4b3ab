// Package runner generates sessions at a controlled rate and runs them.
//
// The runner package provides:
//   - A rate [Controller] holding a constant rate or a linear ramp
//   - A [Scheduler] whose single driver goroutine turns the rate into session arrivals
//   - Two arrival models: uniform spacing and a Poisson process
//   - A bound on sessions in flight; arrivals beyond it are dropped, not queued
//   - Synchronous one-off sessions via [Scheduler.RunSession]
//
// # Basic Usage
//
//	sched := runner.NewScheduler(store, registry, collector, dispatcher, nil, runner.Options{
//		MaxActiveSessions: 500,
//		ArrivalModel:      runner.ArrivalModelPoisson,
//	})
//	_ = sched.Controller().Ramp(0, 50, time.Minute)
//	sched.Start()
//	...
//	sched.Quit(10 * time.Second)
//
// # Sessions
//
// A session pins one scenario version, draws a row from each bound table,
// and runs every role's dialog concurrently on its own channel. The session
// outcome is the most severe dialog outcome:
// error > rejected > timed out > non-matching > matched.
//
// # Shutdown
//
// [Scheduler.Stop] only stops arrivals. [Scheduler.Quit] additionally waits
// for sessions in flight and, after its timeout, cancels them with
// [ErrForcedTermination]; they finish with an error outcome.
package runner
