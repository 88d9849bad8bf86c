package adaptive

import (
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/jpalmerr/cadence/eventbus"
)

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithName sets the name used in logs, metrics and [Cycle.Name].
func WithName(name string) Option {
	return func(s *Scheduler) {
		s.name = name
	}
}

// WithClock replaces the wall clock. Tests pass a *clock.Mock to drive
// cycles deterministically.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the scheduler logger. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCycleHook registers a function called after every completed cycle,
// before the next cycle is scheduled. Hooks run in registration order; a
// panicking hook is recovered and logged.
//
// Hooks must not call [Scheduler.Wait] on their own scheduler.
func WithCycleHook(fn func(Cycle)) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.hooks = append(s.hooks, fn)
		}
	}
}

// WithEventBus publishes every completed [Cycle] on bus under event.
func WithEventBus(bus *eventbus.Bus, event string) Option {
	return func(s *Scheduler) {
		s.bus = bus
		s.cycleEvent = event
	}
}

// WithActivityEvent makes the scheduler treat every emission of event on bus
// as a user activity signal while it is running.
func WithActivityEvent(bus *eventbus.Bus, event string) Option {
	return func(s *Scheduler) {
		s.activityBus = bus
		s.activityEvent = event
	}
}

// WithRunImmediately runs the first cycle as soon as the scheduler starts
// instead of after the initial interval.
func WithRunImmediately() Option {
	return func(s *Scheduler) {
		s.immediate = true
	}
}
