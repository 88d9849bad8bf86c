package adaptive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/jpalmerr/cadence/eventbus"
)

// Scheduler runs a [Work] function periodically and tunes its own interval
// from the work outcomes and from user activity signals.
//
// Exactly one timer is pending while the scheduler is running and no cycle is
// in flight. The next cycle is only scheduled once the previous one has been
// evaluated and reported, so a scheduler never runs its work concurrently with
// itself.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	name   string
	policy Policy
	work   Work
	clock  clock.Clock
	logger *slog.Logger
	hooks  []func(Cycle)

	bus           *eventbus.Bus
	cycleEvent    string
	activityBus   *eventbus.Bus
	activityEvent string
	immediate     bool

	mu    sync.Mutex
	state State
	ctx   context.Context

	pending *clock.Timer
	token   uint64 // identifies the pending timer; stale timers are dropped
	gen     uint64 // bumped by Reset; cycles of older generations are discarded

	inFlight  bool
	rerun     bool
	cycleDone chan struct{}

	unwatch     func() bool
	unsubscribe func()
}

// New creates a [Scheduler] for work with the given policy.
//
// Returns an error wrapping [ErrInvalidPolicy] if the policy is invalid, or
// an error if work is nil. The scheduler does nothing until [Scheduler.Start].
func New(policy Policy, work Work, opts ...Option) (*Scheduler, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if work == nil {
		return nil, errors.New("work function is required")
	}

	s := &Scheduler{
		policy: policy,
		work:   work,
		clock:  clock.New(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.name != "" {
		s.logger = s.logger.With("scheduler", s.name)
	}

	s.state = State{Interval: policy.Initial(), Lifecycle: LifecycleNew}
	return s, nil
}

// Name returns the name set with [WithName].
func (s *Scheduler) Name() string {
	return s.name
}

// Policy returns the scheduler's policy.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// State returns a snapshot of the scheduler state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	st.InFlight = s.inFlight
	return st
}

// Start begins the cycle loop. The first cycle runs after the policy's
// initial interval, or immediately with [WithRunImmediately].
//
// ctx is passed to every work invocation; cancelling it stops the scheduler.
// If ctx is nil, context.Background() is used.
//
// Start is a no-op if the scheduler is already running or has been stopped.
// Use [Scheduler.Reset] to run a stopped scheduler again.
func (s *Scheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Lifecycle != LifecycleNew {
		return
	}

	s.ctx = ctx
	s.state = State{
		Interval:     s.policy.Initial(),
		LastActivity: s.clock.Now(),
		Mode:         ModeActive,
		Lifecycle:    LifecycleRunning,
	}

	delay := s.state.Interval
	if s.immediate {
		delay = 0
	}
	s.schedule(delay)

	if s.activityBus != nil {
		s.unsubscribe = s.activityBus.On(s.activityEvent, func(any) { s.Notify() })
	}
	s.unwatch = context.AfterFunc(ctx, s.Stop)

	s.logger.Info("scheduler started",
		"interval", s.state.Interval.String(),
		"backoff", s.policy.OutcomeDriven(),
		"activity", s.policy.ActivityDriven(),
	)
}

// Stop cancels the pending cycle and moves the scheduler to its terminal
// state. Activity signals and triggers received afterwards are ignored.
//
// A cycle already in flight is not interrupted, but once Stop returns no new
// work invocation will start. Use [Scheduler.Wait] to wait for an in-flight
// cycle. Stop is idempotent and safe to call before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state.Lifecycle {
	case LifecycleStopped:
		return
	case LifecycleNew:
		s.state.Lifecycle = LifecycleStopped
		return
	}

	s.state.Lifecycle = LifecycleStopped
	s.cancelPending()
	s.detach()

	s.logger.Info("scheduler stopped", "cycles", s.state.Cycles)
}

// Reset stops the scheduler if needed and reinitializes its state so that
// Start can be called again. A cycle still in flight from before the reset is
// allowed to finish but its outcome is discarded.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelPending()
	s.detach()
	s.gen++
	s.rerun = false
	s.ctx = nil
	s.state = State{Interval: s.policy.Initial(), Lifecycle: LifecycleNew}
}

// Wait blocks until the cycle currently in flight, if any, has completed and
// the next one has been scheduled. It returns ctx.Err() if ctx ends first.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.cycleDone
	s.mu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify signals user activity. The scheduler becomes active and, if that
// shortens the interval, the pending cycle is rescheduled at the new
// interval right away.
//
// Notify is ignored when the policy has no activity cadence configured or the
// scheduler is not running.
func (s *Scheduler) Notify() {
	if !s.policy.ActivityDriven() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Lifecycle != LifecycleRunning {
		return
	}

	s.state.LastActivity = s.clock.Now()
	if s.state.Mode == ModeIdle {
		s.logger.Debug("activity resumed")
	}
	s.state.Mode = ModeActive

	next := s.policy.OnActivity(s.state.Interval)
	if next == s.state.Interval {
		return
	}
	s.state.Interval = next

	// an in-flight cycle schedules with the latest interval when it finishes
	if !s.inFlight {
		s.schedule(next)
	}
}

// Trigger runs a cycle now. If a cycle is in flight, one extra cycle runs
// immediately after it completes; repeated triggers are coalesced.
func (s *Scheduler) Trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Lifecycle != LifecycleRunning {
		return
	}
	if s.inFlight {
		s.rerun = true
		return
	}
	s.schedule(0)
}

// schedule replaces the pending timer. s.mu must be held.
func (s *Scheduler) schedule(delay time.Duration) {
	if s.pending != nil {
		s.pending.Stop()
	}
	s.token++
	token, gen := s.token, s.gen
	s.pending = s.clock.AfterFunc(delay, func() { s.fire(gen, token) })
}

// cancelPending stops the pending timer. s.mu must be held.
func (s *Scheduler) cancelPending() {
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	// a timer that already fired and is waiting for the lock becomes stale
	s.token++
}

// detach drops the activity subscription and the context watch. s.mu must be held.
func (s *Scheduler) detach() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.unwatch != nil {
		s.unwatch()
		s.unwatch = nil
	}
}

// fire runs one cycle.
func (s *Scheduler) fire(gen, token uint64) {
	s.mu.Lock()
	if s.state.Lifecycle != LifecycleRunning || gen != s.gen || token != s.token {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	if s.inFlight {
		// a cycle from before a Reset is still running
		s.rerun = true
		s.mu.Unlock()
		return
	}
	s.inFlight = true
	s.cycleDone = make(chan struct{})
	ctx := s.ctx
	s.mu.Unlock()

	started := s.clock.Now()
	outcome, err := s.runWork(ctx)
	elapsed := s.clock.Since(started)

	if cycle, ok := s.evaluate(gen, outcome, err, started, elapsed); ok {
		s.report(cycle)
	}
	s.finish(gen)
}

// runWork invokes the work function and converts panics and errors into a
// failure outcome.
func (s *Scheduler) runWork(ctx context.Context) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error("work panicked",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			outcome = OutcomeFailure
			err = &PanicError{CorrelationID: correlationID, Value: r}
		}
	}()

	outcome, err = s.work(ctx)
	switch {
	case err != nil:
		outcome = OutcomeFailure
		s.logger.Warn("cycle failed", "error", err.Error())
	case outcome == OutcomeFailure:
		s.logger.Warn("cycle failed")
	case outcome == OutcomeEmpty:
		s.logger.Debug("cycle empty")
	case outcome != OutcomeSuccess:
		err = fmt.Errorf("work returned unknown outcome %d", int(outcome))
		outcome = OutcomeFailure
		s.logger.Warn("cycle failed", "error", err.Error())
	}
	return outcome, err
}

// evaluate applies the cadence rules for a finished cycle.
func (s *Scheduler) evaluate(gen uint64, outcome Outcome, err error, started time.Time, elapsed time.Duration) (Cycle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return Cycle{}, false
	}

	s.state.Cycles++
	next := s.policy.AfterOutcome(s.state.Interval, outcome)

	if s.state.Mode == ModeActive && s.policy.idleSince(s.clock.Since(s.state.LastActivity)) {
		s.state.Mode = ModeIdle
		s.logger.Debug("no recent activity, switching to idle cadence",
			"idle_timeout", s.policy.IdleTimeout.String(),
		)
	}
	next = s.policy.ForMode(next, s.state.Mode)

	if next != s.state.Interval {
		s.logger.Debug("interval changed",
			"from", s.state.Interval.String(),
			"to", next.String(),
			"outcome", outcome.String(),
		)
	}
	s.state.Interval = next

	return Cycle{
		Name:      s.name,
		Seq:       s.state.Cycles,
		Outcome:   outcome,
		Err:       err,
		Interval:  next,
		Mode:      s.state.Mode,
		StartedAt: started,
		Duration:  elapsed,
	}, true
}

// report delivers a cycle to the hooks and the event bus.
func (s *Scheduler) report(c Cycle) {
	for _, hook := range s.hooks {
		s.invokeHook(hook, c)
	}
	if s.bus != nil {
		s.bus.Emit(s.cycleEvent, c)
	}
}

// invokeHook calls a cycle hook with panic recovery.
func (s *Scheduler) invokeHook(hook func(Cycle), c Cycle) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cycle hook panicked",
				"correlation_id", uuid.NewString(),
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	hook(c)
}

// finish clears the in-flight marker and schedules the next cycle.
func (s *Scheduler) finish(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight = false
	// waiters are released only after the next timer is registered
	defer close(s.cycleDone)
	s.cycleDone = nil

	if s.state.Lifecycle != LifecycleRunning {
		s.rerun = false
		return
	}

	switch {
	case s.rerun:
		s.rerun = false
		s.schedule(0)
	case gen == s.gen:
		s.schedule(s.state.Interval)
	}
}
