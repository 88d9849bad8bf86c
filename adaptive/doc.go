// Package adaptive provides a self-tuning periodic scheduler.
//
// A [Scheduler] repeatedly runs a [Work] function and adjusts the wait
// between runs according to a [Policy]:
//
//   - Outcome-driven backoff: [OutcomeSuccess] resets the interval to the
//     policy minimum; [OutcomeEmpty] and [OutcomeFailure] add a fixed step,
//     capped at the maximum. Schedulers start at the maximum.
//   - Activity-driven cadence: [Scheduler.Notify] marks the user as active
//     and switches to the active interval immediately. When no activity has
//     been seen for longer than the idle timeout, the next cycle switches to
//     the idle interval.
//
// Work errors and panics never stop the scheduler; they are logged and count
// as failures. The only visible effect of sustained failure is a slower
// cadence until a success brings it back.
//
// Timing goes through a [github.com/benbjohnson/clock.Clock], so tests can
// drive the scheduler with a mock clock:
//
//	mock := clock.NewMock()
//	s, _ := adaptive.New(policy, work, adaptive.WithClock(mock))
//	s.Start(ctx)
//	mock.Add(policy.MaxInterval) // runs the first cycle
//
// Completed cycles are reported to hooks registered with [WithCycleHook] and,
// with [WithEventBus], published on an event bus.
package adaptive
