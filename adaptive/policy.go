package adaptive

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPolicy is wrapped by every error returned from [Policy.Validate].
var ErrInvalidPolicy = errors.New("invalid cadence policy")

// Policy is the immutable cadence configuration of a [Scheduler].
//
// Which fields are set selects the cadence behaviour:
//
//   - Outcome-driven backoff (MinInterval, MaxInterval, BackoffStep): a
//     successful cycle resets the interval to MinInterval, an empty or failed
//     cycle adds BackoffStep, capped at MaxInterval.
//   - Activity-driven cadence (ActiveInterval, IdleInterval, IdleTimeout):
//     the scheduler runs every ActiveInterval while user activity is being
//     signalled and drops to IdleInterval once no activity has been seen for
//     longer than IdleTimeout.
//
// Both groups may be combined. The interval then follows the backoff rule
// while active, is raised to at least IdleInterval while idle, and is reset to
// ActiveInterval by any activity signal. All values are clamped to
// [MinInterval, MaxInterval].
type Policy struct {
	MinInterval time.Duration
	MaxInterval time.Duration
	BackoffStep time.Duration

	ActiveInterval time.Duration
	IdleInterval   time.Duration
	IdleTimeout    time.Duration
}

// OutcomeDriven reports whether the backoff fields are configured.
func (p Policy) OutcomeDriven() bool {
	return p.MinInterval != 0 || p.MaxInterval != 0 || p.BackoffStep != 0
}

// ActivityDriven reports whether the activity fields are configured.
func (p Policy) ActivityDriven() bool {
	return p.ActiveInterval != 0 || p.IdleInterval != 0 || p.IdleTimeout != 0
}

// Validate checks that the configured groups are complete and consistent.
func (p Policy) Validate() error {
	if !p.OutcomeDriven() && !p.ActivityDriven() {
		return fmt.Errorf("%w: neither backoff nor activity cadence is configured", ErrInvalidPolicy)
	}

	if p.OutcomeDriven() {
		if p.MinInterval <= 0 {
			return fmt.Errorf("%w: min interval must be positive, got %s", ErrInvalidPolicy, p.MinInterval)
		}
		if p.MaxInterval < p.MinInterval {
			return fmt.Errorf("%w: max interval (%s) must not be below min interval (%s)",
				ErrInvalidPolicy, p.MaxInterval, p.MinInterval)
		}
		if p.BackoffStep <= 0 {
			return fmt.Errorf("%w: backoff step must be positive, got %s", ErrInvalidPolicy, p.BackoffStep)
		}
	}

	if p.ActivityDriven() {
		if p.ActiveInterval <= 0 || p.IdleInterval <= 0 || p.IdleTimeout <= 0 {
			return fmt.Errorf("%w: active interval, idle interval and idle timeout must all be positive",
				ErrInvalidPolicy)
		}
		if p.IdleInterval < p.ActiveInterval {
			return fmt.Errorf("%w: idle interval (%s) must not be below active interval (%s)",
				ErrInvalidPolicy, p.IdleInterval, p.ActiveInterval)
		}
	}

	return nil
}

// bounds returns the range every interval is kept within.
func (p Policy) bounds() (lo, hi time.Duration) {
	if p.OutcomeDriven() {
		return p.MinInterval, p.MaxInterval
	}
	return p.ActiveInterval, p.IdleInterval
}

func (p Policy) clamp(d time.Duration) time.Duration {
	lo, hi := p.bounds()
	return min(max(d, lo), hi)
}

// Initial returns the interval a freshly started scheduler waits for.
// Backoff schedulers start at the maximum and speed up on success.
func (p Policy) Initial() time.Duration {
	if p.OutcomeDriven() {
		return p.MaxInterval
	}
	return p.ActiveInterval
}

// AfterOutcome applies the backoff rule to the current interval.
// Schedulers without backoff configured return cur unchanged.
func (p Policy) AfterOutcome(cur time.Duration, o Outcome) time.Duration {
	if !p.OutcomeDriven() {
		return cur
	}
	if o == OutcomeSuccess {
		return p.MinInterval
	}
	// saturate before adding so a huge MaxInterval cannot overflow
	if cur >= p.MaxInterval-p.BackoffStep {
		return p.MaxInterval
	}
	return max(cur+p.BackoffStep, p.MinInterval)
}

// ForMode adjusts an interval for the current activity mode.
func (p Policy) ForMode(cur time.Duration, mode Mode) time.Duration {
	if !p.ActivityDriven() {
		return cur
	}

	if !p.OutcomeDriven() {
		if mode == ModeIdle {
			return p.IdleInterval
		}
		return p.ActiveInterval
	}

	if mode == ModeIdle {
		return p.clamp(max(cur, p.IdleInterval))
	}
	return p.clamp(cur)
}

// OnActivity returns the interval that applies right after a user activity
// signal. With backoff also configured, activity only ever speeds polling up:
// an interval already below ActiveInterval after a success is kept.
func (p Policy) OnActivity(cur time.Duration) time.Duration {
	if !p.ActivityDriven() {
		return cur
	}
	if !p.OutcomeDriven() {
		return p.ActiveInterval
	}
	return min(cur, p.clamp(p.ActiveInterval))
}

// idleSince reports whether the time elapsed since the last activity exceeds
// the idle timeout.
func (p Policy) idleSince(elapsed time.Duration) bool {
	return p.ActivityDriven() && elapsed > p.IdleTimeout
}
