package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/semaphore"

	"github.com/jpalmerr/cadence/adaptive"
	"github.com/jpalmerr/cadence/eventbus"
)

// Events published on the pool's bus.
const (
	// EventStatus carries a [StatusResult] after every probe.
	EventStatus = "status"

	// EventCycle carries the [adaptive.Cycle] of every probe.
	EventCycle = "cycle"

	// EventActivity is a user activity signal. Emitting it on the bus makes
	// every activity-driven scheduler of the pool switch to its active cadence.
	EventActivity = "activity"
)

const (
	defaultMaxConcurrency = 10
	defaultStopTimeout    = 5 * time.Second
)

var (
	// ErrUnknownEndpoint is returned by [Pool.Trigger] for names not in the pool.
	ErrUnknownEndpoint = errors.New("unknown endpoint")

	// ErrNotRunning is returned by [Pool.Trigger] before Start and after Stop,
	// when no probe would run.
	ErrNotRunning = errors.New("pool is not running")
)

// Pool polls a set of endpoints, each on its own adaptive scheduler.
//
// Every endpoint speeds up when its status changes and backs off while it
// stays the same or fails. Endpoints with an activity cadence also follow
// [EventActivity] signals on the bus. At most maxConcurrency probes are in
// flight at any time across the pool.
//
// Start and Stop are idempotent and safe for concurrent use.
type Pool struct {
	bus         *eventbus.Bus
	client      *Client
	clock       clock.Clock
	logger      *slog.Logger
	sem         *semaphore.Weighted
	stopTimeout time.Duration

	names      []string
	probes     map[string]*Probe
	schedulers map[string]*adaptive.Scheduler

	mu      sync.Mutex
	started bool
	stopped bool
}

// PoolOption configures a [Pool].
type PoolOption func(*poolConfig)

type poolConfig struct {
	clock          clock.Clock
	logger         *slog.Logger
	maxConcurrency int
	stopTimeout    time.Duration
}

// WithClock sets the clock used by the schedulers and for latency.
func WithClock(c clock.Clock) PoolOption {
	return func(cfg *poolConfig) {
		if c != nil {
			cfg.clock = c
		}
	}
}

// WithLogger sets the pool logger.
func WithLogger(logger *slog.Logger) PoolOption {
	return func(cfg *poolConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithMaxConcurrency bounds the number of probes in flight. Defaults to 10.
func WithMaxConcurrency(n int) PoolOption {
	return func(cfg *poolConfig) {
		if n > 0 {
			cfg.maxConcurrency = n
		}
	}
}

// WithStopTimeout bounds how long [Pool.Stop] waits for in-flight probes.
func WithStopTimeout(d time.Duration) PoolOption {
	return func(cfg *poolConfig) {
		if d > 0 {
			cfg.stopTimeout = d
		}
	}
}

// NewPool creates a [Pool] for endpoints. Endpoints without their own policy
// use policy. Results are published on bus; a nil bus creates a private one.
func NewPool(endpoints []EndpointInfo, policy adaptive.Policy, bus *eventbus.Bus, opts ...PoolOption) (*Pool, error) {
	cfg := poolConfig{
		clock:          clock.New(),
		logger:         slog.Default(),
		maxConcurrency: defaultMaxConcurrency,
		stopTimeout:    defaultStopTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if bus == nil {
		bus = eventbus.New(eventbus.WithLogger(cfg.logger))
	}

	p := &Pool{
		bus:         bus,
		client:      NewClient(cfg.clock),
		clock:       cfg.clock,
		logger:      cfg.logger,
		sem:         semaphore.NewWeighted(int64(cfg.maxConcurrency)),
		stopTimeout: cfg.stopTimeout,
		probes:      make(map[string]*Probe, len(endpoints)),
		schedulers:  make(map[string]*adaptive.Scheduler, len(endpoints)),
	}

	for _, ep := range endpoints {
		if _, dup := p.probes[ep.Name]; dup {
			return nil, fmt.Errorf("duplicate endpoint name %q", ep.Name)
		}

		epPolicy := policy
		if ep.Policy != nil {
			epPolicy = *ep.Policy
		}

		probe := NewProbe(ep, p.client, p.clock, p.logger)
		s, err := adaptive.New(epPolicy, p.limited(probe.Run),
			adaptive.WithName(ep.Name),
			adaptive.WithClock(p.clock),
			adaptive.WithLogger(p.logger),
			adaptive.WithRunImmediately(),
			adaptive.WithCycleHook(p.publishStatus(probe)),
			adaptive.WithEventBus(bus, EventCycle),
			adaptive.WithActivityEvent(bus, EventActivity),
		)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", ep.Name, err)
		}

		p.names = append(p.names, ep.Name)
		p.probes[ep.Name] = probe
		p.schedulers[ep.Name] = s
	}

	return p, nil
}

// limited wraps work so that it holds a concurrency slot while it runs.
func (p *Pool) limited(work adaptive.Work) adaptive.Work {
	return func(ctx context.Context) (adaptive.Outcome, error) {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return adaptive.OutcomeFailure, fmt.Errorf("waiting for probe slot: %w", err)
		}
		defer p.sem.Release(1)
		return work(ctx)
	}
}

// publishStatus returns the cycle hook that emits the probe's latest result
// together with the cadence decision.
func (p *Pool) publishStatus(probe *Probe) func(adaptive.Cycle) {
	return func(c adaptive.Cycle) {
		result, ok := probe.Last()
		if !ok {
			return
		}
		result.Outcome = c.Outcome
		result.Interval = c.Interval
		result.Mode = c.Mode
		p.bus.Emit(EventStatus, result)
	}
}

// Bus returns the bus results are published on.
func (p *Pool) Bus() *eventbus.Bus {
	return p.bus
}

// Start starts every scheduler. Each endpoint is probed immediately, then on
// its adaptive cadence until ctx is cancelled or [Pool.Stop] is called.
//
// Start is a no-op when the pool was already started or stopped.
func (p *Pool) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.stopped {
		return
	}
	p.started = true

	for _, name := range p.names {
		p.schedulers[name].Start(ctx)
	}
	p.logger.Info("polling started", "endpoints", len(p.names))
}

// Stop stops every scheduler and waits, up to the stop timeout, for probes
// in flight. Stop is idempotent and safe to call before Start.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	wasStarted := p.started
	p.mu.Unlock()

	for _, name := range p.names {
		p.schedulers[name].Stop()
	}

	if wasStarted {
		ctx, cancel := context.WithTimeout(context.Background(), p.stopTimeout)
		defer cancel()
		for _, name := range p.names {
			if err := p.schedulers[name].Wait(ctx); err != nil {
				p.logger.Warn("probe still in flight at shutdown", "endpoint", name, "error", err.Error())
			}
		}
	}

	p.client.Close()
}

// Trigger probes the named endpoint now.
func (p *Pool) Trigger(name string) error {
	s, ok := p.schedulers[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEndpoint, name)
	}

	p.mu.Lock()
	running := p.started && !p.stopped
	p.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	s.Trigger()
	return nil
}

// Notify signals user activity to every scheduler of the pool.
func (p *Pool) Notify() {
	p.bus.Emit(EventActivity, nil)
}

// States returns the scheduler state of every endpoint, keyed by name.
func (p *Pool) States() map[string]adaptive.State {
	states := make(map[string]adaptive.State, len(p.schedulers))
	for name, s := range p.schedulers {
		states[name] = s.State()
	}
	return states
}

// Results returns the latest result of every endpoint probed so far, sorted
// by name.
func (p *Pool) Results() []StatusResult {
	results := make([]StatusResult, 0, len(p.probes))
	for _, probe := range p.probes {
		if r, ok := probe.Last(); ok {
			results = append(results, r)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].EndpointName < results[j].EndpointName
	})
	return results
}
