package adaptive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/jpalmerr/cadence/eventbus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var backoffPolicy = Policy{MinInterval: 50 * ms, MaxInterval: 2000 * ms, BackoffStep: 100 * ms}

var activityPolicy = Policy{
	ActiveInterval: 1000 * ms,
	IdleInterval:   10000 * ms,
	IdleTimeout:    15000 * ms,
}

// harness drives a scheduler on a mock clock and collects its cycles.
type harness struct {
	t      *testing.T
	mock   *clock.Mock
	s      *Scheduler
	cycles chan Cycle
}

func newHarness(t *testing.T, policy Policy, work Work, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		t:      t,
		mock:   clock.NewMock(),
		cycles: make(chan Cycle, 64),
	}
	opts = append([]Option{
		WithClock(h.mock),
		WithLogger(testLogger()),
		WithCycleHook(func(c Cycle) { h.cycles <- c }),
	}, opts...)

	s, err := New(policy, work, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.s = s
	t.Cleanup(s.Stop)
	return h
}

// advance moves the mock clock forward by d and returns the cycle that ran.
func (h *harness) advance(d time.Duration) Cycle {
	h.t.Helper()

	h.mock.Add(d)
	return h.next()
}

// next waits for the next reported cycle and for it to be fully finished.
func (h *harness) next() Cycle {
	h.t.Helper()

	select {
	case c := <-h.cycles:
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.s.Wait(ctx); err != nil {
			h.t.Fatalf("Wait() error = %v", err)
		}
		return c
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for cycle")
		return Cycle{}
	}
}

// expectNoCycle moves the mock clock forward by d and asserts nothing ran.
func (h *harness) expectNoCycle(d time.Duration) {
	h.t.Helper()

	h.mock.Add(d)
	select {
	case c := <-h.cycles:
		h.t.Fatalf("unexpected cycle %d (interval %v)", c.Seq, c.Interval)
	case <-time.After(20 * time.Millisecond):
	}
}

// scripted returns work that yields the given outcomes in order, then
// OutcomeEmpty forever.
func scripted(calls *atomic.Int32, outcomes ...Outcome) Work {
	return func(ctx context.Context) (Outcome, error) {
		n := int(calls.Add(1))
		if n <= len(outcomes) {
			return outcomes[n-1], nil
		}
		return OutcomeEmpty, nil
	}
}

func TestNew_Validation(t *testing.T) {
	work := func(ctx context.Context) (Outcome, error) { return OutcomeSuccess, nil }

	if _, err := New(Policy{}, work); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("New() with empty policy error = %v, want ErrInvalidPolicy", err)
	}
	if _, err := New(backoffPolicy, nil); err == nil {
		t.Error("New() with nil work should fail")
	}

	s, err := New(backoffPolicy, work, WithName("api"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.Name() != "api" {
		t.Errorf("Name() = %q, want %q", s.Name(), "api")
	}
	st := s.State()
	if st.Lifecycle != LifecycleNew || st.Interval != 2000*ms {
		t.Errorf("initial state = %+v, want new lifecycle at 2s", st)
	}
}

func TestScheduler_BackoffTrace(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, backoffPolicy,
		scripted(&calls, OutcomeEmpty, OutcomeEmpty, OutcomeSuccess, OutcomeEmpty))
	h.s.Start(context.Background())

	// nothing runs before the initial interval elapses
	h.expectNoCycle(1999 * ms)

	steps := []struct {
		wait    time.Duration
		outcome Outcome
		want    time.Duration
	}{
		{1 * ms, OutcomeEmpty, 2000 * ms},
		{2000 * ms, OutcomeEmpty, 2000 * ms},
		{2000 * ms, OutcomeSuccess, 50 * ms},
		{50 * ms, OutcomeEmpty, 150 * ms},
	}

	for i, step := range steps {
		c := h.advance(step.wait)
		if c.Seq != uint64(i+1) {
			t.Errorf("cycle %d: Seq = %d", i, c.Seq)
		}
		if c.Outcome != step.outcome {
			t.Errorf("cycle %d: Outcome = %s, want %s", i, c.Outcome, step.outcome)
		}
		if c.Interval != step.want {
			t.Errorf("cycle %d: Interval = %v, want %v", i, c.Interval, step.want)
		}
	}

	if got := h.s.State().Interval; got != 150*ms {
		t.Errorf("State().Interval = %v, want 150ms", got)
	}
	if got := h.s.State().Cycles; got != 4 {
		t.Errorf("State().Cycles = %d, want 4", got)
	}
}

func TestScheduler_ActivityIdleAndResume(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, activityPolicy, scripted(&calls))
	h.s.Start(context.Background())

	// cycles at 1s..15s stay active: 15s since activity is not beyond the timeout
	for i := 1; i <= 15; i++ {
		c := h.advance(1000 * ms)
		if c.Mode != ModeActive || c.Interval != 1000*ms {
			t.Fatalf("cycle at %ds: mode=%s interval=%v, want active at 1s", i, c.Mode, c.Interval)
		}
	}

	c := h.advance(1000 * ms)
	if c.Mode != ModeIdle || c.Interval != 10000*ms {
		t.Fatalf("cycle at 16s: mode=%s interval=%v, want idle at 10s", c.Mode, c.Interval)
	}

	h.expectNoCycle(1000 * ms)

	h.s.Notify()
	st := h.s.State()
	if st.Mode != ModeActive || st.Interval != 1000*ms {
		t.Fatalf("after Notify: mode=%s interval=%v, want active at 1s", st.Mode, st.Interval)
	}
	if !st.LastActivity.Equal(h.mock.Now()) {
		t.Errorf("LastActivity = %v, want %v", st.LastActivity, h.mock.Now())
	}

	// rescheduled one active interval after the signal, not after the old idle wait
	c = h.advance(1000 * ms)
	if c.Mode != ModeActive || c.Interval != 1000*ms {
		t.Errorf("cycle after activity: mode=%s interval=%v, want active at 1s", c.Mode, c.Interval)
	}
}

func TestScheduler_ActivityEventFromBus(t *testing.T) {
	bus := eventbus.New(eventbus.WithLogger(testLogger()))
	policy := Policy{ActiveInterval: 1000 * ms, IdleInterval: 10000 * ms, IdleTimeout: 1500 * ms}

	var calls atomic.Int32
	h := newHarness(t, policy, scripted(&calls), WithActivityEvent(bus, "activity"))
	h.s.Start(context.Background())

	if got := bus.Count("activity"); got != 1 {
		t.Fatalf("activity subscribers = %d, want 1", got)
	}

	h.advance(1000 * ms)
	if c := h.advance(1000 * ms); c.Mode != ModeIdle {
		t.Fatalf("mode = %s, want idle", c.Mode)
	}

	bus.Emit("activity", nil)
	if st := h.s.State(); st.Mode != ModeActive || st.Interval != 1000*ms {
		t.Errorf("after activity event: mode=%s interval=%v, want active at 1s", st.Mode, st.Interval)
	}

	h.s.Stop()
	if got := bus.Count("activity"); got != 0 {
		t.Errorf("activity subscribers after Stop = %d, want 0", got)
	}
}

func TestScheduler_NotifyIgnored(t *testing.T) {
	t.Run("backoff only", func(t *testing.T) {
		var calls atomic.Int32
		h := newHarness(t, backoffPolicy, scripted(&calls))
		h.s.Start(context.Background())

		before := h.s.State()
		h.mock.Add(500 * ms)
		h.s.Notify()
		after := h.s.State()

		if after.Interval != before.Interval || !after.LastActivity.Equal(before.LastActivity) {
			t.Errorf("Notify changed state of a backoff-only scheduler: %+v -> %+v", before, after)
		}
	})

	t.Run("not running", func(t *testing.T) {
		var calls atomic.Int32
		h := newHarness(t, activityPolicy, scripted(&calls))

		h.s.Notify()
		if st := h.s.State(); !st.LastActivity.IsZero() {
			t.Errorf("LastActivity = %v, want zero before Start", st.LastActivity)
		}

		h.s.Start(context.Background())
		h.s.Stop()
		before := h.s.State()
		h.mock.Add(time.Second)
		h.s.Notify()
		if after := h.s.State(); !after.LastActivity.Equal(before.LastActivity) {
			t.Error("Notify updated a stopped scheduler")
		}
	})
}

func TestScheduler_Stop(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, backoffPolicy, scripted(&calls))
	h.s.Start(context.Background())

	h.advance(2000 * ms)
	h.s.Stop()
	h.s.Stop() // idempotent

	h.expectNoCycle(10 * time.Second)
	if got := calls.Load(); got != 1 {
		t.Errorf("work calls = %d, want 1", got)
	}
	if st := h.s.State(); st.Lifecycle != LifecycleStopped {
		t.Errorf("Lifecycle = %s, want stopped", st.Lifecycle)
	}

	// Start after Stop does nothing until Reset
	h.s.Start(context.Background())
	h.expectNoCycle(10 * time.Second)
}

func TestScheduler_StopBeforeStart(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, backoffPolicy, scripted(&calls))

	h.s.Stop()
	h.s.Start(context.Background())

	h.expectNoCycle(10 * time.Second)
	if st := h.s.State(); st.Lifecycle != LifecycleStopped {
		t.Errorf("Lifecycle = %s, want stopped", st.Lifecycle)
	}
}

func TestScheduler_StartIdempotent(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, backoffPolicy, scripted(&calls))

	h.s.Start(context.Background())
	h.s.Start(context.Background())

	h.advance(2000 * ms)
	h.expectNoCycle(1 * ms)
	if got := calls.Load(); got != 1 {
		t.Errorf("work calls = %d, want 1", got)
	}
}

func TestScheduler_ContextCancelStops(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, backoffPolicy, scripted(&calls))

	ctx, cancel := context.WithCancel(context.Background())
	h.s.Start(ctx)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for h.s.State().Lifecycle != LifecycleStopped {
		if time.Now().After(deadline) {
			t.Fatal("scheduler did not stop after context cancellation")
		}
		time.Sleep(time.Millisecond)
	}

	h.expectNoCycle(10 * time.Second)
	if got := calls.Load(); got != 0 {
		t.Errorf("work calls = %d, want 0", got)
	}
}

func TestScheduler_RunImmediately(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, backoffPolicy, scripted(&calls, OutcomeSuccess), WithRunImmediately())
	h.s.Start(context.Background())

	c := h.advance(0)
	if c.Seq != 1 || c.Interval != 50*ms {
		t.Errorf("first cycle: Seq=%d Interval=%v, want 1 at 50ms", c.Seq, c.Interval)
	}
}

func TestScheduler_ErrorsBecomeFailures(t *testing.T) {
	workErr := errors.New("upstream down")

	tests := []struct {
		name  string
		work  Work
		check func(t *testing.T, err error)
	}{
		{
			name: "error overrides outcome",
			work: func(ctx context.Context) (Outcome, error) { return OutcomeSuccess, workErr },
			check: func(t *testing.T, err error) {
				if !errors.Is(err, workErr) {
					t.Errorf("Err = %v, want %v", err, workErr)
				}
			},
		},
		{
			name: "panic",
			work: func(ctx context.Context) (Outcome, error) { panic("boom") },
			check: func(t *testing.T, err error) {
				var pe *PanicError
				if !errors.As(err, &pe) {
					t.Fatalf("Err = %v, want *PanicError", err)
				}
				if pe.Value != "boom" || pe.CorrelationID == "" {
					t.Errorf("PanicError = %+v", pe)
				}
			},
		},
		{
			name: "unknown outcome",
			work: func(ctx context.Context) (Outcome, error) { return Outcome(42), nil },
			check: func(t *testing.T, err error) {
				if err == nil {
					t.Error("Err = nil, want error for unknown outcome")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, backoffPolicy, tt.work)
			h.s.Start(context.Background())

			c := h.advance(2000 * ms)
			if c.Outcome != OutcomeFailure {
				t.Errorf("Outcome = %s, want failure", c.Outcome)
			}
			tt.check(t, c.Err)

			// the scheduler keeps going
			c = h.advance(2000 * ms)
			if c.Seq != 2 {
				t.Errorf("second cycle Seq = %d, want 2", c.Seq)
			}
		})
	}
}

func TestScheduler_HookPanicIsolated(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, backoffPolicy, scripted(&calls))

	// rebuild with a panicking hook ahead of the harness hook
	s, err := New(backoffPolicy, scripted(&calls),
		WithClock(h.mock),
		WithLogger(testLogger()),
		WithCycleHook(func(Cycle) { panic("hook failure") }),
		WithCycleHook(func(c Cycle) { h.cycles <- c }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.s = s
	t.Cleanup(s.Stop)
	s.Start(context.Background())

	h.advance(2000 * ms)
	h.advance(2000 * ms)
}

func TestScheduler_TriggerCoalescesWithoutOverlap(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	var running, maxRunning, calls atomic.Int32
	work := func(ctx context.Context) (Outcome, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		calls.Add(1)
		started <- struct{}{}
		<-release
		return OutcomeEmpty, nil
	}

	h := newHarness(t, backoffPolicy, work)
	h.s.Start(context.Background())

	h.s.Trigger()
	h.mock.Add(0)
	<-started

	if !h.s.State().InFlight {
		t.Error("InFlight = false while work is running")
	}

	h.s.Trigger()
	h.s.Trigger()
	h.s.Trigger()
	release <- struct{}{}
	h.next()

	// the coalesced trigger runs right after the first cycle
	h.mock.Add(0)
	<-started
	release <- struct{}{}
	h.next()

	h.expectNoCycle(0)

	if got := calls.Load(); got != 2 {
		t.Errorf("work calls = %d, want 2", got)
	}
	if got := maxRunning.Load(); got != 1 {
		t.Errorf("max concurrent work = %d, want 1", got)
	}
}

func TestScheduler_Reset(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, backoffPolicy, scripted(&calls, OutcomeSuccess))
	h.s.Start(context.Background())

	if c := h.advance(2000 * ms); c.Interval != 50*ms {
		t.Fatalf("Interval = %v, want 50ms", c.Interval)
	}

	h.s.Reset()
	st := h.s.State()
	if st.Lifecycle != LifecycleNew || st.Interval != 2000*ms || st.Cycles != 0 {
		t.Fatalf("state after Reset = %+v", st)
	}

	// the timer armed before the reset is gone
	h.expectNoCycle(50 * ms)

	h.s.Start(context.Background())
	c := h.advance(2000 * ms)
	if c.Seq != 1 {
		t.Errorf("first cycle after restart Seq = %d, want 1", c.Seq)
	}
}

func TestScheduler_PublishesCycles(t *testing.T) {
	bus := eventbus.New(eventbus.WithLogger(testLogger()))

	var mu sync.Mutex
	var got []Cycle
	eventbus.Listen(bus, "cycle", func(c Cycle) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	})

	var calls atomic.Int32
	h := newHarness(t, backoffPolicy, scripted(&calls, OutcomeSuccess),
		WithName("orders"),
		WithEventBus(bus, "cycle"),
	)
	h.s.Start(context.Background())
	h.advance(2000 * ms)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("published %d cycles, want 1", len(got))
	}
	if got[0].Name != "orders" || got[0].Outcome != OutcomeSuccess {
		t.Errorf("published cycle = %+v", got[0])
	}
}

func TestScheduler_RealClock(t *testing.T) {
	cycles := make(chan Cycle, 16)
	s, err := New(
		Policy{MinInterval: 5 * ms, MaxInterval: 20 * ms, BackoffStep: 5 * ms},
		func(ctx context.Context) (Outcome, error) { return OutcomeSuccess, nil },
		WithLogger(testLogger()),
		WithRunImmediately(),
		WithCycleHook(func(c Cycle) {
			select {
			case cycles <- c:
			default:
			}
		}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.Start(context.Background())
	defer s.Stop()

	for i := 0; i < 3; i++ {
		select {
		case c := <-cycles:
			if c.Interval != 5*ms {
				t.Errorf("cycle %d Interval = %v, want 5ms", i, c.Interval)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for cycle %d", i)
		}
	}
}
