// Package cadence provides an embeddable status dashboard whose polling
// cadence adapts to what it observes.
//
// Every endpoint runs on its own [adaptive.Scheduler]. A probe whose status
// differs from the previous one resets the endpoint to its fastest interval;
// every unchanged or failed probe backs it off by a fixed step up to a
// ceiling. With an activity cadence configured, endpoints also poll fast
// while someone interacts with the dashboard and drop to an idle interval
// once nobody has for a while.
//
// # Quick Start
//
//	ep, _ := cadence.NewEndpoint("API", "https://api.example.com/health")
//	board, _ := cadence.New(cadence.WithEndpoint(ep))
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	board.Start(ctx) // blocks until ctx is cancelled
//
// # Cadence
//
// The board policy applies to every endpoint; [WithEndpointPolicy] overrides
// it per endpoint:
//
//	board, err := cadence.New(
//	    cadence.WithEndpoints(api, db),
//	    cadence.WithPolicy(adaptive.Policy{
//	        MinInterval:    2 * time.Second,
//	        MaxInterval:    time.Minute,
//	        BackoffStep:    2 * time.Second,
//	        ActiveInterval: 2 * time.Second,
//	        IdleInterval:   30 * time.Second,
//	        IdleTimeout:    time.Minute,
//	    }),
//	)
//
// The dashboard page reports interaction to POST /api/activity. Host
// applications can signal activity themselves with [Board.Notify], and
// observe every probe through [WithStatusCallback] or the [eventbus.Bus]
// given to [WithEventBus].
//
// # Status Extractors
//
//   - [HTTPStatusExtractor]: 2xx up, 4xx degraded, anything else down
//   - [JSONFieldExtractor]: reads a JSON field by dot-separated path
//   - [ContainsExtractor]: up when the body contains a substring
//   - [FirstMatch]: first result other than unknown
//   - [DefaultExtractor]: JSON "status" field, then the HTTP status code
//
// # Architecture
//
//   - eventbus: synchronous in-process event dispatch
//   - adaptive: the self-tuning scheduler and its policy
//   - internal/poller: HTTP probes, one scheduler per endpoint
//   - internal/store: latest status per endpoint with subscriber fanout
//   - internal/metrics: Prometheus metrics of every scheduler cycle
//   - internal/server: chi router, JSON API, SSE and /metrics
//   - dashboard: the embedded web page
package cadence
