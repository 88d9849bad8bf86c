package cadence

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jpalmerr/cadence/adaptive"
)

type endpointConfig struct {
	labels    map[string]string
	headers   map[string]string
	timeout   time.Duration
	extractor StatusExtractor
	method    string
	policy    *adaptive.Policy
}

// EndpointOption configures an [Endpoint] in [NewEndpoint].
type EndpointOption func(*endpointConfig) error

// WithLabels adds key-value labels shown on the dashboard.
// Returns an error for an odd number of arguments.
func WithLabels(keyValues ...string) EndpointOption {
	return func(cfg *endpointConfig) error {
		return putPairs(cfg.labels, "WithLabels", keyValues)
	}
}

// WithHeaders adds HTTP headers sent with every probe, e.g. for
// authentication. Returns an error for an odd number of arguments.
func WithHeaders(keyValues ...string) EndpointOption {
	return func(cfg *endpointConfig) error {
		return putPairs(cfg.headers, "WithHeaders", keyValues)
	}
}

func putPairs(dst map[string]string, option string, keyValues []string) error {
	if len(keyValues)%2 != 0 {
		return fmt.Errorf("%s requires an even number of arguments (key-value pairs)", option)
	}
	for i := 0; i < len(keyValues); i += 2 {
		dst[keyValues[i]] = keyValues[i+1]
	}
	return nil
}

// WithTimeout sets the request timeout. A probe that times out counts as a
// failure and marks the endpoint [StatusDown].
func WithTimeout(d time.Duration) EndpointOption {
	return func(cfg *endpointConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithExtractor sets how responses are mapped to a [Status].
// Defaults to [DefaultExtractor].
func WithExtractor(e StatusExtractor) EndpointOption {
	return func(cfg *endpointConfig) error {
		cfg.extractor = e
		return nil
	}
}

// WithMethod sets the HTTP method: GET (default), HEAD or POST.
func WithMethod(method string) EndpointOption {
	return func(cfg *endpointConfig) error {
		switch method {
		case http.MethodGet, http.MethodHead, http.MethodPost:
			cfg.method = method
			return nil
		default:
			return errors.New("method must be GET, HEAD, or POST")
		}
	}
}

// WithEndpointPolicy gives the endpoint its own cadence instead of the board
// policy set with [WithPolicy].
//
// Example:
//
//	critical, _ := cadence.NewEndpoint("Payments", url,
//	    cadence.WithEndpointPolicy(adaptive.Policy{
//	        MinInterval: time.Second,
//	        MaxInterval: 30 * time.Second,
//	        BackoffStep: 5 * time.Second,
//	    }),
//	)
func WithEndpointPolicy(p adaptive.Policy) EndpointOption {
	return func(cfg *endpointConfig) error {
		if err := p.Validate(); err != nil {
			return err
		}
		cfg.policy = &p
		return nil
	}
}
