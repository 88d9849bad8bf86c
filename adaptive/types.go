package adaptive

import (
	"context"
	"fmt"
	"time"
)

// Outcome classifies the result of one unit of work.
type Outcome int

const (
	// OutcomeSuccess means the work produced a non-empty, valid result.
	OutcomeSuccess Outcome = iota

	// OutcomeEmpty means the work succeeded but there was nothing new.
	OutcomeEmpty

	// OutcomeFailure means the work returned an error or panicked.
	OutcomeFailure
)

// String returns the lower-case name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeEmpty:
		return "empty"
	case OutcomeFailure:
		return "failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Work is the unit of work a [Scheduler] runs once per cycle.
//
// A non-nil error classifies the cycle as [OutcomeFailure] regardless of the
// returned Outcome.
type Work func(ctx context.Context) (Outcome, error)

// Mode is the activity classification of a scheduler.
type Mode int

const (
	ModeActive Mode = iota
	ModeIdle
)

func (m Mode) String() string {
	if m == ModeIdle {
		return "idle"
	}
	return "active"
}

// Lifecycle is the run state of a [Scheduler].
type Lifecycle int

const (
	LifecycleNew Lifecycle = iota
	LifecycleRunning
	LifecycleStopped
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleRunning:
		return "running"
	case LifecycleStopped:
		return "stopped"
	default:
		return "new"
	}
}

// Notifier receives user-activity signals.
//
// Anything that observes user interaction (an HTTP endpoint hit by the
// dashboard, a terminal key press) calls Notify; it carries no payload.
type Notifier interface {
	Notify()
}

// State is a snapshot of a scheduler's mutable state.
type State struct {
	// Interval is the wait before the next cycle. It always lies within the
	// policy bounds.
	Interval time.Duration

	// LastActivity is when the last user activity was signalled (or the
	// scheduler was started).
	LastActivity time.Time

	Mode      Mode
	Lifecycle Lifecycle

	// Cycles counts completed cycles since the last Start.
	Cycles uint64

	// InFlight is true while the work of a cycle is running.
	InFlight bool
}

// Cycle reports one completed cycle.
type Cycle struct {
	// Name is the scheduler name set with [WithName].
	Name string

	// Seq is the 1-based cycle number since Start.
	Seq uint64

	Outcome Outcome

	// Err is the work error, or a *PanicError if the work panicked.
	Err error

	// Interval is the wait chosen for the next cycle.
	Interval time.Duration

	Mode Mode

	StartedAt time.Time
	Duration  time.Duration
}

// PanicError is returned in [Cycle.Err] when the work function panicked.
// The full stack is logged under the same correlation ID.
type PanicError struct {
	CorrelationID string
	Value         any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("work panicked: %v (correlation_id: %s)", e.Value, e.CorrelationID)
}
