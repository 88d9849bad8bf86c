package cadence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/cadence/adaptive"
	"github.com/jpalmerr/cadence/dashboard"
	"github.com/jpalmerr/cadence/eventbus"
	"github.com/jpalmerr/cadence/internal/metrics"
	"github.com/jpalmerr/cadence/internal/poller"
	"github.com/jpalmerr/cadence/internal/server"
	"github.com/jpalmerr/cadence/internal/store"
)

const (
	defaultPort           = 8080
	defaultMaxConcurrency = 10
)

// Events the board publishes on its bus. Payloads are internal types; use
// [WithStatusCallback] for a stable view of probe results.
const (
	EventStatus   = poller.EventStatus
	EventCycle    = poller.EventCycle
	EventActivity = poller.EventActivity
)

var (
	// ErrNotRunning is returned by [Board.Trigger] while the board is not started.
	ErrNotRunning = errors.New("board is not running")

	// ErrAlreadyRunning is returned by [Board.Start] while a previous Start
	// has not returned.
	ErrAlreadyRunning = errors.New("board is already running")
)

// Board probes endpoints on an adaptive cadence and serves a live dashboard.
//
// Each endpoint polls fast right after its status changes and backs off
// while it stays the same. With an activity cadence configured, endpoints
// also poll fast while someone interacts with the dashboard and slow down
// once nobody has for a while.
//
// The typical lifecycle is:
//
//	board, err := cadence.New(cadence.WithEndpoint(ep))
//	if err != nil {
//	    slog.Error("failed to create board", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	board.Start(ctx) // blocks until ctx is cancelled
type Board struct {
	title           string
	endpoints       []Endpoint
	policy          adaptive.Policy
	port            int
	maxConcurrency  int
	logger          *slog.Logger
	statusCallbacks []func(StatusResult)
	bus             *eventbus.Bus
	clock           clock.Clock
	registry        *prometheus.Registry
	recorder        *metrics.Recorder
	listener        net.Listener

	mu      sync.Mutex
	running bool
	pool    *poller.Pool
}

// New creates a [Board]. At least one endpoint is required and endpoint
// names must be unique.
//
// Defaults: [DefaultPolicy], port 8080, at most 10 probes in flight.
func New(opts ...Option) (*Board, error) {
	cfg := &boardConfig{
		policy:         DefaultPolicy,
		port:           defaultPort,
		maxConcurrency: defaultMaxConcurrency,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.endpoints) == 0 {
		return nil, errors.New("at least one endpoint is required")
	}
	seen := make(map[string]bool, len(cfg.endpoints))
	for _, ep := range cfg.endpoints {
		if seen[ep.name] {
			return nil, fmt.Errorf("duplicate endpoint name: %q", ep.name)
		}
		seen[ep.name] = true
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	bus := cfg.bus
	if bus == nil {
		bus = eventbus.New(eventbus.WithLogger(logger))
	}
	clk := cfg.clock
	if clk == nil {
		clk = clock.New()
	}
	registry := cfg.registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	recorder, err := metrics.NewRecorder(registry)
	if err != nil {
		return nil, err
	}

	return &Board{
		title:           cfg.title,
		endpoints:       cfg.endpoints,
		policy:          cfg.policy,
		port:            cfg.port,
		maxConcurrency:  cfg.maxConcurrency,
		logger:          logger,
		statusCallbacks: cfg.statusCallbacks,
		bus:             bus,
		clock:           clk,
		registry:        registry,
		recorder:        recorder,
		listener:        cfg.listener,
	}, nil
}

// Start probes the endpoints and serves the dashboard until ctx is
// cancelled. Every endpoint is probed once right away.
//
// Returns nil on graceful shutdown, or an error if the board is already
// running or the HTTP server cannot start. When the server stops serving
// on its own, polling stops too and Start returns the server's error.
func (b *Board) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrAlreadyRunning
	}
	b.running = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running = false
		b.pool = nil
		b.mu.Unlock()
	}()

	pool, err := poller.NewPool(b.pollerEndpoints(), b.policy, b.bus,
		poller.WithClock(b.clock),
		poller.WithLogger(b.logger),
		poller.WithMaxConcurrency(b.maxConcurrency),
	)
	if err != nil {
		return err
	}

	b.logger.Info("cadence starting",
		"endpoint_count", len(b.endpoints),
		"min_interval", b.policy.MinInterval.String(),
		"max_interval", b.policy.MaxInterval.String(),
		"idle_interval", b.policy.IdleInterval.String(),
	)

	statusStore := store.NewMemoryStore()

	// the store is updated before callbacks fire, so a callback sees the
	// dashboard already showing its result
	unsubscribe := []func(){
		eventbus.Listen(b.bus, poller.EventStatus, func(r poller.StatusResult) {
			statusStore.Update(toStoreResult(r))
			b.handleResult(r)
		}),
		eventbus.Listen(b.bus, poller.EventCycle, b.recorder.Observe),
	}
	defer func() {
		for _, fn := range unsubscribe {
			fn()
		}
	}()

	serverOpts := []server.Option{
		server.WithAssets(dashboard.Assets),
		server.WithTitle(b.title),
		server.WithNotifier(b),
		server.WithTrigger(pool),
		server.WithGatherer(b.registry),
	}
	if b.listener != nil {
		serverOpts = append(serverOpts, server.WithListener(b.listener))
	}
	httpServer := server.NewServer(statusStore, b.port, b.logger, serverOpts...)
	if err := httpServer.Listen(); err != nil {
		pool.Stop()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	b.mu.Lock()
	b.pool = pool
	b.mu.Unlock()

	// a server that stops serving cancels gctx, which stops polling
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpServer.Serve(gctx)
	})
	g.Go(func() error {
		pool.Start(gctx)
		<-gctx.Done()
		pool.Stop()
		return nil
	})

	err = g.Wait()
	b.logger.Info("cadence stopped")
	return err
}

// handleResult logs a probe result and runs the status callbacks.
func (b *Board) handleResult(r poller.StatusResult) {
	attrs := []any{
		"endpoint", r.EndpointName,
		"status", r.Status,
		"outcome", r.Outcome.String(),
		"next_poll", r.Interval.String(),
		"latency_ms", r.Latency.Milliseconds(),
	}
	switch {
	case r.Error != nil:
		b.logger.Warn("probe failed", append(attrs, "error", r.Error.Error())...)
	case r.Changed:
		b.logger.Info("probe completed", attrs...)
	default:
		b.logger.Debug("probe completed", attrs...)
	}

	if len(b.statusCallbacks) == 0 {
		return
	}
	result := toPublicResult(r)
	for _, cb := range b.statusCallbacks {
		invokeCallbackSafe(cb, result, b.logger)
	}
}

// Notify signals user activity. Endpoints with an activity cadence switch to
// their active interval. Notify implements [adaptive.Notifier] and is what
// the dashboard calls on every interaction.
func (b *Board) Notify() {
	b.bus.Emit(poller.EventActivity, nil)
}

// Trigger probes the named endpoint now.
func (b *Board) Trigger(name string) error {
	b.mu.Lock()
	pool := b.pool
	b.mu.Unlock()

	if pool == nil {
		return ErrNotRunning
	}
	if err := pool.Trigger(name); err != nil {
		if errors.Is(err, poller.ErrNotRunning) {
			return ErrNotRunning
		}
		return err
	}
	return nil
}

// Bus returns the bus the board publishes its events on.
func (b *Board) Bus() *eventbus.Bus {
	return b.bus
}

// Endpoints returns a copy of the configured endpoints.
func (b *Board) Endpoints() []Endpoint {
	cp := make([]Endpoint, len(b.endpoints))
	copy(cp, b.endpoints)
	return cp
}

// Port returns the dashboard port.
func (b *Board) Port() int {
	return b.port
}

// Policy returns the board cadence policy.
func (b *Board) Policy() adaptive.Policy {
	return b.policy
}

func (b *Board) pollerEndpoints() []poller.EndpointInfo {
	result := make([]poller.EndpointInfo, len(b.endpoints))

	for i, ep := range b.endpoints {
		extract := ep.extractor
		if extract == nil {
			extract = DefaultExtractor
		}

		info := poller.EndpointInfo{
			Name:    ep.name,
			URL:     ep.url,
			Labels:  copyMap(ep.labels),
			Headers: copyMap(ep.headers),
			Timeout: ep.timeout,
			Method:  ep.method,
			Extractor: func(body []byte, statusCode int) string {
				return extract(body, statusCode).String()
			},
		}
		if p, ok := ep.Policy(); ok {
			info.Policy = &p
		}
		result[i] = info
	}

	return result
}

func toStoreResult(r poller.StatusResult) store.StatusResult {
	var errStr *string
	if r.Error != nil {
		s := r.Error.Error()
		errStr = &s
	}

	return store.StatusResult{
		Name:           r.EndpointName,
		URL:            r.URL,
		Status:         r.Status,
		Labels:         r.Labels,
		ResponseTimeMs: r.Latency.Milliseconds(),
		CheckedAt:      r.CheckedAt,
		Error:          errStr,
		Outcome:        r.Outcome.String(),
		IntervalMs:     r.Interval.Milliseconds(),
		Mode:           r.Mode.String(),
		Changed:        r.Changed,
	}
}

// toPublicResult copies mutable fields so callbacks cannot race with the
// poller.
func toPublicResult(r poller.StatusResult) StatusResult {
	return StatusResult{
		EndpointName: r.EndpointName,
		URL:          r.URL,
		Status:       Status(r.Status),
		Labels:       copyMap(r.Labels),
		Latency:      r.Latency,
		CheckedAt:    r.CheckedAt,
		Error:        r.Error,
		RawResponse:  copyBytes(r.RawResponse),
		StatusCode:   r.StatusCode,
		Changed:      r.Changed,
		Outcome:      r.Outcome,
		Interval:     r.Interval,
		Mode:         r.Mode,
	}
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// invokeCallbackSafe runs cb and logs instead of propagating a panic.
func invokeCallbackSafe(cb func(StatusResult), result StatusResult, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("status callback panicked",
				"panic", r,
				"endpoint", result.EndpointName,
				"stack", string(debug.Stack()),
			)
		}
	}()
	cb(result)
}
