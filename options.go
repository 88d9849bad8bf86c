package cadence

import (
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/cadence/adaptive"
	"github.com/jpalmerr/cadence/eventbus"
)

// DefaultPolicy is the board cadence when [WithPolicy] is not given.
//
// An endpoint is probed every 5 seconds right after its status changes and
// slows down by 5 seconds per unchanged probe, up to 2 minutes. While nobody
// has interacted with the dashboard for 2 minutes it is probed at most once
// a minute; any interaction brings it back to 5 seconds.
var DefaultPolicy = adaptive.Policy{
	MinInterval:    5 * time.Second,
	MaxInterval:    2 * time.Minute,
	BackoffStep:    5 * time.Second,
	ActiveInterval: 5 * time.Second,
	IdleInterval:   time.Minute,
	IdleTimeout:    2 * time.Minute,
}

type boardConfig struct {
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
	listener        net.Listener
}

// Option configures a [Board] in [New]. Options return an error when their
// argument is invalid.
type Option func(*boardConfig) error

// WithEndpoint adds an endpoint. May be given several times.
func WithEndpoint(e Endpoint) Option {
	return func(cfg *boardConfig) error {
		cfg.endpoints = append(cfg.endpoints, e)
		return nil
	}
}

// WithEndpoints adds several endpoints at once.
func WithEndpoints(endpoints ...Endpoint) Option {
	return func(cfg *boardConfig) error {
		cfg.endpoints = append(cfg.endpoints, endpoints...)
		return nil
	}
}

// WithPolicy sets the cadence of every endpoint without its own
// [WithEndpointPolicy]. Defaults to [DefaultPolicy].
//
// Example:
//
//	board, err := cadence.New(
//	    cadence.WithEndpoint(ep),
//	    cadence.WithPolicy(adaptive.Policy{
//	        MinInterval: 2 * time.Second,
//	        MaxInterval: time.Minute,
//	        BackoffStep: 2 * time.Second,
//	    }),
//	)
func WithPolicy(p adaptive.Policy) Option {
	return func(cfg *boardConfig) error {
		if err := p.Validate(); err != nil {
			return err
		}
		cfg.policy = p
		return nil
	}
}

// WithPort sets the dashboard port. Defaults to 8080.
func WithPort(port int) Option {
	return func(cfg *boardConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithMaxConcurrency bounds the number of probes in flight across all
// endpoints. Defaults to 10.
func WithMaxConcurrency(n int) Option {
	return func(cfg *boardConfig) error {
		if n <= 0 {
			return errors.New("max concurrency must be positive")
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *boardConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithStatusCallback registers cb to run after every probe, once the result
// is visible on the dashboard. Callbacks run in registration order.
//
// Callbacks run on the probing goroutine of the endpoint, so callbacks for
// different endpoints may run concurrently and a slow callback delays the
// next probe of its endpoint. Panics are recovered and logged.
//
// Example:
//
//	cadence.WithStatusCallback(func(r cadence.StatusResult) {
//	    if r.Changed && r.Status == cadence.StatusDown {
//	        alert(r.EndpointName)
//	    }
//	})
//
// A nil callback is ignored.
func WithStatusCallback(cb func(StatusResult)) Option {
	return func(cfg *boardConfig) error {
		if cb != nil {
			cfg.statusCallbacks = append(cfg.statusCallbacks, cb)
		}
		return nil
	}
}

// WithTitle sets the dashboard title. Defaults to "Cadence".
func WithTitle(title string) Option {
	return func(cfg *boardConfig) error {
		cfg.title = title
		return nil
	}
}

// WithEventBus publishes the board's events on bus instead of a private
// one, so that the host application can observe probes and cycles or emit
// its own activity signals.
func WithEventBus(bus *eventbus.Bus) Option {
	return func(cfg *boardConfig) error {
		if bus == nil {
			return errors.New("event bus cannot be nil")
		}
		cfg.bus = bus
		return nil
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(cfg *boardConfig) error {
		if c == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = c
		return nil
	}
}

// WithRegistry registers the cadence metrics on reg and serves reg on
// /metrics. Defaults to a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(cfg *boardConfig) error {
		if reg == nil {
			return errors.New("registry cannot be nil")
		}
		cfg.registry = reg
		return nil
	}
}

// WithListener serves the dashboard on ln instead of binding the port.
// The dashboard server closes ln when it stops, so a board given a
// listener can serve only one run of [Board.Start].
func WithListener(ln net.Listener) Option {
	return func(cfg *boardConfig) error {
		if ln == nil {
			return errors.New("listener cannot be nil")
		}
		cfg.listener = ln
		return nil
	}
}
