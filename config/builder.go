package config

import (
	"fmt"
	"sort"

	"github.com/jpalmerr/cadence"
)

// BuildEndpoints converts the configured endpoints to SDK endpoints, in file
// order.
func BuildEndpoints(cfg *Config) ([]cadence.Endpoint, error) {
	endpoints := make([]cadence.Endpoint, 0, len(cfg.Endpoints))
	for _, ec := range cfg.Endpoints {
		ep, err := buildEndpoint(ec)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// Options returns the board options the file describes, endpoints included.
func Options(cfg *Config) ([]cadence.Option, error) {
	endpoints, err := BuildEndpoints(cfg)
	if err != nil {
		return nil, err
	}

	opts := []cadence.Option{
		cadence.WithEndpoints(endpoints...),
		cadence.WithPort(cfg.Port),
		cadence.WithPolicy(cfg.Policy()),
	}
	if cfg.Title != "" {
		opts = append(opts, cadence.WithTitle(cfg.Title))
	}
	if cfg.MaxConcurrency > 0 {
		opts = append(opts, cadence.WithMaxConcurrency(cfg.MaxConcurrency))
	}
	return opts, nil
}

func buildEndpoint(ec EndpointConfig) (cadence.Endpoint, error) {
	var opts []cadence.EndpointOption

	if ec.Method != "" {
		opts = append(opts, cadence.WithMethod(ec.Method))
	}
	if ec.Timeout != 0 {
		opts = append(opts, cadence.WithTimeout(ec.Timeout.Duration()))
	}
	if len(ec.Headers) > 0 {
		opts = append(opts, cadence.WithHeaders(sortedPairs(ec.Headers)...))
	}
	if len(ec.Labels) > 0 {
		opts = append(opts, cadence.WithLabels(sortedPairs(ec.Labels)...))
	}
	if extractor := buildExtractor(ec.Extractor); extractor != nil {
		opts = append(opts, cadence.WithExtractor(extractor))
	}
	if ec.Cadence != nil {
		opts = append(opts, cadence.WithEndpointPolicy(ec.Cadence.Policy()))
	}

	ep, err := cadence.NewEndpoint(ec.Name, ec.URL, opts...)
	if err != nil {
		return cadence.Endpoint{}, fmt.Errorf("building endpoint: %w", err)
	}
	return ep, nil
}

// sortedPairs flattens m into key-value pairs ordered by key.
func sortedPairs(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}

// buildExtractor returns nil for the default extractor, which the SDK
// applies on its own.
func buildExtractor(ec ExtractorConfig) cadence.StatusExtractor {
	switch ec.Type {
	case "http":
		return cadence.HTTPStatusExtractor
	case "json":
		return cadence.JSONFieldExtractor(ec.Path)
	case "contains":
		return cadence.ContainsExtractor(ec.Text)
	default:
		return nil
	}
}
