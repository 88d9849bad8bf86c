package cadence

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jpalmerr/cadence/adaptive"
)

const defaultEndpointTimeout = 10 * time.Second

// Endpoint is a URL the board probes for its health status.
//
// An Endpoint is immutable once [NewEndpoint] has built it. Its fields are
// private, and the getters for labels and headers hand out copies, so a
// caller holding an Endpoint cannot change what the poller sends.
//
// Endpoints are configured with [EndpointOption] values: [WithLabels],
// [WithHeaders], [WithTimeout], [WithExtractor], [WithMethod] and
// [WithEndpointPolicy]. Without [WithEndpointPolicy] an endpoint follows
// the cadence policy of its [Board].
type Endpoint struct {
	name      string
	url       string
	labels    map[string]string
	headers   map[string]string
	timeout   time.Duration
	extractor StatusExtractor
	method    string
	policy    *adaptive.Policy
}

// Name returns the display name. It identifies the endpoint in the
// dashboard, the JSON API, metrics labels and logs, so it must be unique
// within a [Board].
func (e Endpoint) Name() string {
	return e.name
}

// URL returns the URL every probe requests.
func (e Endpoint) URL() string {
	return e.url
}

// Labels returns a copy of the endpoint's labels. Labels are free-form
// metadata shown on the dashboard and passed through to status callbacks.
func (e Endpoint) Labels() map[string]string {
	return copyMap(e.labels)
}

// Headers returns a copy of the custom HTTP headers sent with every probe,
// such as an Authorization header for a protected health check.
func (e Endpoint) Headers() map[string]string {
	return copyMap(e.headers)
}

// Timeout returns the request timeout. Defaults to 10 seconds.
func (e Endpoint) Timeout() time.Duration {
	return e.timeout
}

// Extractor returns the configured extractor, or nil when
// [DefaultExtractor] applies.
func (e Endpoint) Extractor() StatusExtractor {
	return e.extractor
}

// Method returns the HTTP method of each probe.
// An empty string means the method was not set and GET is used.
func (e Endpoint) Method() string {
	return e.method
}

// Policy returns the endpoint's own cadence policy, set with
// [WithEndpointPolicy]. ok is false when the endpoint follows the board
// policy given to [WithPolicy].
//
// Use an own policy for endpoints whose natural rate differs from the rest,
// for example a third-party status page that should never be polled faster
// than once a minute.
func (e Endpoint) Policy() (policy adaptive.Policy, ok bool) {
	if e.policy == nil {
		return adaptive.Policy{}, false
	}
	return *e.policy, true
}

// NewEndpoint creates an [Endpoint] with the given name, URL and options.
//
// name is the identifier shown on the dashboard and must not be empty.
// rawURL must be an absolute URL with an http or https scheme; other schemes
// are rejected because the poller only speaks HTTP.
//
// Options are applied in order. The first option that fails aborts
// construction, and its error is returned wrapped with the endpoint name.
//
// Example:
//
//	ep, err := cadence.NewEndpoint("API", "https://api.example.com/health",
//	    cadence.WithLabels("env", "prod"),
//	    cadence.WithTimeout(5*time.Second),
//	)
func NewEndpoint(name, rawURL string, opts ...EndpointOption) (Endpoint, error) {
	if name == "" {
		return Endpoint{}, errors.New("endpoint name cannot be empty")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid URL: %w", err)
	}
	switch parsedURL.Scheme {
	case "http", "https":
	case "":
		return Endpoint{}, errors.New("URL must have a scheme (http:// or https://)")
	default:
		return Endpoint{}, fmt.Errorf("URL scheme must be http or https, got %q", parsedURL.Scheme)
	}

	cfg := &endpointConfig{
		labels:  make(map[string]string),
		headers: make(map[string]string),
		timeout: defaultEndpointTimeout,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Endpoint{}, fmt.Errorf("endpoint %q: %w", name, err)
		}
	}

	return Endpoint{
		name:      name,
		url:       rawURL,
		labels:    cfg.labels,
		headers:   cfg.headers,
		timeout:   cfg.timeout,
		extractor: cfg.extractor,
		method:    cfg.method,
		policy:    cfg.policy,
	}, nil
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
