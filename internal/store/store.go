package store

import "time"

// StatusResult is the stored status of one endpoint, shaped for the REST API
// and SSE.
type StatusResult struct {
	Name   string            `json:"name"`
	URL    string            `json:"url"`
	Status string            `json:"status"`
	Labels map[string]string `json:"labels"`

	ResponseTimeMs int64     `json:"response_time_ms"`
	CheckedAt      time.Time `json:"checked_at"`

	// Error is nil when the probe completed, even if the status is "down".
	Error *string `json:"error"`

	// Outcome is how the last cycle was classified: "success", "empty" or
	// "failure".
	Outcome string `json:"outcome"`

	// IntervalMs is the wait before the next probe, in milliseconds.
	IntervalMs int64 `json:"interval_ms"`

	// Mode is "active" or "idle".
	Mode string `json:"mode"`

	// Changed is true when the status differs from the previous probe.
	Changed bool `json:"changed"`
}

// Store holds the latest status per endpoint and fans updates out to
// subscribers. Implementations must be safe for concurrent access.
type Store interface {
	// Update stores result under its Name and notifies subscribers.
	Update(result StatusResult)

	// Get returns the stored result for name.
	Get(name string) (StatusResult, bool)

	// GetAll returns a snapshot of every stored result, sorted by name.
	GetAll() []StatusResult

	// Subscribe returns a buffered channel of updates. Slow consumers miss
	// updates rather than block [Store.Update].
	Subscribe() <-chan StatusResult

	// Unsubscribe removes a subscription and closes its channel. Unknown or
	// already removed channels are ignored.
	Unsubscribe(ch <-chan StatusResult)
}
