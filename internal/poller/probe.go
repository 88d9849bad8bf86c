package poller

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/jpalmerr/cadence/adaptive"
)

// StatusResult holds the outcome of probing a single endpoint once.
type StatusResult struct {
	EndpointName string
	URL          string

	// Status is the extracted health state (e.g. "up", "down").
	Status string

	Labels      map[string]string
	Latency     time.Duration
	CheckedAt   time.Time
	Error       error
	RawResponse []byte
	StatusCode  int

	// Changed is true when Status differs from the previous probe.
	Changed bool

	// Outcome is how the cycle was classified for the cadence.
	Outcome adaptive.Outcome

	// Interval is the wait before the endpoint is probed again.
	Interval time.Duration

	Mode adaptive.Mode
}

// StatusExtractor determines a status string from an HTTP response.
type StatusExtractor func(body []byte, statusCode int) string

// EndpointInfo is the poller-side configuration of one endpoint.
type EndpointInfo struct {
	Name    string
	URL     string
	Labels  map[string]string
	Headers map[string]string
	Timeout time.Duration
	Method  string

	// Extractor maps the response to a status. Nil uses HTTP status codes.
	Extractor StatusExtractor

	// Policy overrides the pool's default cadence for this endpoint.
	Policy *adaptive.Policy
}

// Probe polls one endpoint. Its [Probe.Run] method is the work of the
// endpoint's adaptive scheduler.
type Probe struct {
	ep     EndpointInfo
	client *Client
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	last    StatusResult
	hasLast bool
}

// NewProbe creates a [Probe] for ep.
func NewProbe(ep EndpointInfo, client *Client, clk clock.Clock, logger *slog.Logger) *Probe {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{
		ep:     ep,
		client: client,
		clock:  clk,
		logger: logger.With("endpoint", ep.Name),
	}
}

// Run probes the endpoint once and classifies the cycle:
//
//   - the request failed or the extractor panicked: [adaptive.OutcomeFailure]
//   - the status differs from the previous probe: [adaptive.OutcomeSuccess]
//   - the status is unchanged: [adaptive.OutcomeEmpty]
//
// The first successful probe always counts as a change.
func (p *Probe) Run(ctx context.Context) (adaptive.Outcome, error) {
	resp := p.client.Fetch(ctx, Request{
		Method:  p.ep.Method,
		URL:     p.ep.URL,
		Headers: p.ep.Headers,
		Timeout: p.ep.Timeout,
	})

	result := StatusResult{
		EndpointName: p.ep.Name,
		URL:          p.ep.URL,
		Labels:       p.ep.Labels,
		Latency:      resp.Latency,
		CheckedAt:    p.clock.Now(),
		RawResponse:  resp.Body,
		StatusCode:   resp.StatusCode,
		Error:        resp.Error,
	}

	switch {
	case resp.Error != nil:
		result.Status = "down"
	case p.ep.Extractor != nil:
		result.Status, result.Error = p.safeExtract(resp.Body, resp.StatusCode)
	default:
		result.Status = httpStatusToStatus(resp.StatusCode)
	}

	p.mu.Lock()
	previous, seen := p.last.Status, p.hasLast
	result.Changed = !seen || previous != result.Status
	p.last = result
	p.hasLast = true
	p.mu.Unlock()

	if seen && result.Changed {
		p.logger.Info("status changed", "from", previous, "to", result.Status)
	}

	switch {
	case result.Error != nil:
		return adaptive.OutcomeFailure, result.Error
	case result.Changed:
		return adaptive.OutcomeSuccess, nil
	default:
		return adaptive.OutcomeEmpty, nil
	}
}

// Last returns the latest result and whether the endpoint has been probed.
func (p *Probe) Last() (StatusResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.hasLast
}

// safeExtract calls the extractor with panic recovery. A panicking extractor
// yields "down" and an error carrying the correlation ID of the logged stack.
func (p *Probe) safeExtract(body []byte, statusCode int) (status string, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			p.logger.Error("extractor panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			status = "down"
			err = fmt.Errorf("extractor panic (correlation_id: %s)", correlationID)
		}
	}()
	return p.ep.Extractor(body, statusCode), nil
}

// httpStatusToStatus maps HTTP status codes to status strings.
func httpStatusToStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "up"
	case code >= 400 && code < 500:
		return "degraded"
	default:
		return "down"
	}
}
