package cadence

import (
	"time"

	"github.com/jpalmerr/cadence/adaptive"
)

// Status is the health state of an endpoint as shown on the dashboard.
type Status string

const (
	// StatusUp means the endpoint responded and reported itself healthy.
	StatusUp Status = "up"

	// StatusDown means the endpoint was unreachable or reported a failure.
	StatusDown Status = "down"

	// StatusDegraded means the endpoint is partially functional.
	StatusDegraded Status = "degraded"

	// StatusUnknown means no extractor could make sense of the response.
	StatusUnknown Status = "unknown"
)

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s)
}

// StatusExtractor maps an HTTP response to a [Status]. Extractors should be
// pure functions of their input.
//
// Extractors run inside a panic recovery boundary. A panicking extractor
// marks the endpoint [StatusDown] with an error carrying a correlation ID;
// the stack trace is logged under the same ID.
type StatusExtractor func(body []byte, statusCode int) Status

// StatusResult is the result of one probe of an endpoint, together with the
// cadence decision taken after it.
type StatusResult struct {
	EndpointName string
	URL          string
	Status       Status
	Labels       map[string]string
	Latency      time.Duration
	CheckedAt    time.Time

	// Error is set when the request failed. A nil Error does not imply
	// StatusUp; the response itself may report a problem.
	Error error

	// RawResponse is the response body, capped at 1MB.
	RawResponse []byte

	// StatusCode is zero when no response was received.
	StatusCode int

	// Changed is true when Status differs from the previous probe.
	Changed bool

	// Outcome is how the probe was classified: success when the status
	// changed, empty when it did not, failure when the request failed.
	Outcome adaptive.Outcome

	// Interval is the wait before the endpoint is probed again.
	Interval time.Duration

	// Mode is the endpoint's activity mode after the probe.
	Mode adaptive.Mode
}
