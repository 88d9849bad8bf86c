// Package config loads a cadence dashboard from a YAML file, as an
// alternative to configuring the SDK in code.
//
// Example configuration:
//
//	title: Platform
//	port: 8080
//
//	cadence:
//	  min_interval: 5s
//	  max_interval: 2m
//	  backoff_step: 5s
//	  active_interval: 5s
//	  idle_interval: 1m
//	  idle_timeout: 2m
//
//	endpoints:
//	  - name: GitHub API
//	    url: https://api.github.com
//	    timeout: 5s
//	    extractor: json:status
//	  - name: Payments
//	    url: ${PAYMENTS_URL}/health
//	    cadence:
//	      min_interval: 1s
//	      max_interval: 30s
//	      backoff_step: 5s
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/cadence"
	"github.com/jpalmerr/cadence/adaptive"
)

const (
	defaultPort = 8080

	// minInterval guards endpoints against overly aggressive polling from a
	// config file. The SDK accepts any positive interval.
	minInterval = time.Second
)

// Config is the root of the YAML file. Use [Load] or [Parse] to create one.
type Config struct {
	// Title is the dashboard title. Defaults to "Cadence".
	Title string `yaml:"title"`

	// Port is the HTTP port. Defaults to 8080.
	Port int `yaml:"port"`

	// MaxConcurrency bounds the probes in flight. Zero keeps the SDK default.
	MaxConcurrency int `yaml:"max_concurrency"`

	// Cadence is the board policy. Omitted means [cadence.DefaultPolicy].
	Cadence *CadenceConfig `yaml:"cadence"`

	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// CadenceConfig is the YAML form of an [adaptive.Policy]. Either group of
// fields may be left out; see [adaptive.Policy] for their meaning.
type CadenceConfig struct {
	MinInterval Duration `yaml:"min_interval"`
	MaxInterval Duration `yaml:"max_interval"`
	BackoffStep Duration `yaml:"backoff_step"`

	ActiveInterval Duration `yaml:"active_interval"`
	IdleInterval   Duration `yaml:"idle_interval"`
	IdleTimeout    Duration `yaml:"idle_timeout"`
}

// Policy converts the block to an [adaptive.Policy].
func (c CadenceConfig) Policy() adaptive.Policy {
	return adaptive.Policy{
		MinInterval:    c.MinInterval.Duration(),
		MaxInterval:    c.MaxInterval.Duration(),
		BackoffStep:    c.BackoffStep.Duration(),
		ActiveInterval: c.ActiveInterval.Duration(),
		IdleInterval:   c.IdleInterval.Duration(),
		IdleTimeout:    c.IdleTimeout.Duration(),
	}
}

func (c CadenceConfig) validate() error {
	p := c.Policy()
	if err := p.Validate(); err != nil {
		return err
	}
	if p.OutcomeDriven() && p.MinInterval < minInterval {
		return fmt.Errorf("min_interval must be at least %s, got %s", minInterval, p.MinInterval)
	}
	if p.ActivityDriven() && p.ActiveInterval < minInterval {
		return fmt.Errorf("active_interval must be at least %s, got %s", minInterval, p.ActiveInterval)
	}
	return nil
}

// EndpointConfig defines one endpoint.
type EndpointConfig struct {
	Name string `yaml:"name"`

	// URL supports ${VAR} and ${VAR:-default} substitution.
	URL string `yaml:"url"`

	// Method is GET, HEAD or POST. Defaults to GET.
	Method string `yaml:"method"`

	// Timeout is the request timeout. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// Headers are sent with every probe. Values support ${VAR} substitution.
	Headers map[string]string `yaml:"headers"`

	Labels map[string]string `yaml:"labels"`

	// Extractor is a shorthand ("json:status", "contains:ok") or an object.
	Extractor ExtractorConfig `yaml:"extractor"`

	// Cadence overrides the board policy for this endpoint.
	Cadence *CadenceConfig `yaml:"cadence"`
}

// ExtractorConfig selects how a response maps to a status.
//
// Shorthand:
//
//	extractor: json:data.health.status
//	extractor: contains:ok
//	extractor: http
//	extractor: default
//
// Object:
//
//	extractor:
//	  type: json
//	  path: data.health.status
type ExtractorConfig struct {
	// Type is "default", "http", "json" or "contains".
	Type string

	// Path is the JSON field path for type json.
	Path string

	// Text is the substring for type contains.
	Text string
}

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *ExtractorConfig) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		return e.parseShorthand(s)

	case yaml.MappingNode:
		var raw struct {
			Type string `yaml:"type"`
			Path string `yaml:"path"`
			Text string `yaml:"text"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		*e = ExtractorConfig(raw)
		return nil

	default:
		return fmt.Errorf("extractor must be a string or object, got %v", node.Kind)
	}
}

func (e *ExtractorConfig) parseShorthand(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	kind, value, hasValue := strings.Cut(s, ":")
	if !hasValue {
		switch s {
		case "default", "http":
			e.Type = s
			return nil
		}
		return fmt.Errorf("unknown extractor %q (expected 'default', 'http', 'json:path', or 'contains:text')", s)
	}

	switch kind {
	case "json":
		e.Type, e.Path = kind, value
	case "contains":
		e.Type, e.Text = kind, value
	default:
		return fmt.Errorf("unknown extractor type %q", kind)
	}
	return nil
}

func (e ExtractorConfig) validate() error {
	switch e.Type {
	case "", "default", "http":
		return nil
	case "json":
		if e.Path == "" {
			return errors.New("extractor type 'json' requires a path")
		}
	case "contains":
		if e.Text == "" {
			return errors.New("extractor type 'contains' requires text")
		}
	default:
		return fmt.Errorf("unknown extractor type %q", e.Type)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default}. Group 1 is the name,
// group 2 is present when a default was given, group 3 is the default.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars substitutes ${VAR} and ${VAR:-default}. An unset variable
// without a default is an error.
func expandEnvVars(s string) (string, error) {
	var missing error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		m := envVarPattern.FindStringSubmatch(match)
		name, hasDefault, def := m[1], m[2] != "", m[3]

		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasDefault {
			return def
		}
		missing = multierr.Append(missing, fmt.Errorf("environment variable %q is not set", name))
		return match
	})

	if missing != nil {
		return "", missing
	}
	return result, nil
}

// Load reads and parses a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML data, expands environment variables in URLs and header
// values, applies defaults and validates the result. Validation reports
// every problem found, not just the first.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Policy returns the board policy: the cadence block, or
// [cadence.DefaultPolicy] when the file has none.
func (c *Config) Policy() adaptive.Policy {
	if c.Cadence == nil {
		return cadence.DefaultPolicy
	}
	return c.Cadence.Policy()
}

func (c *Config) expandAndValidate() error {
	var errs error

	if c.Port < 1 || c.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	if c.MaxConcurrency < 0 {
		errs = multierr.Append(errs, fmt.Errorf("max_concurrency cannot be negative, got %d", c.MaxConcurrency))
	}
	if c.Cadence != nil {
		if err := c.Cadence.validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cadence: %w", err))
		}
	}

	if len(c.Endpoints) == 0 {
		errs = multierr.Append(errs, errors.New("at least one endpoint must be defined"))
	}

	seen := make(map[string]int, len(c.Endpoints))
	for i := range c.Endpoints {
		ep := &c.Endpoints[i]
		where := fmt.Sprintf("endpoints[%d]", i)
		if ep.Name != "" {
			where = fmt.Sprintf("endpoints[%d] (%s)", i, ep.Name)
			if first, dup := seen[ep.Name]; dup {
				errs = multierr.Append(errs, fmt.Errorf("%s: duplicate name, first defined at endpoints[%d]", where, first))
			} else {
				seen[ep.Name] = i
			}
		}

		for _, err := range multierr.Errors(ep.expandAndValidate()) {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", where, err))
		}
	}

	return errs
}

func (ep *EndpointConfig) expandAndValidate() error {
	var errs error

	if ep.Name == "" {
		errs = multierr.Append(errs, errors.New("name is required"))
	}

	if ep.URL == "" {
		errs = multierr.Append(errs, errors.New("url is required"))
	} else if expanded, err := expandEnvVars(ep.URL); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("url: %w", err))
	} else {
		ep.URL = expanded
		errs = multierr.Append(errs, validateURL(ep.URL))
	}

	for k, v := range ep.Headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("headers[%s]: %w", k, err))
			continue
		}
		ep.Headers[k] = expanded
	}

	switch ep.Method {
	case "", "GET", "HEAD", "POST":
	default:
		errs = multierr.Append(errs, errors.New("method must be GET, HEAD, or POST"))
	}

	if ep.Timeout != 0 && ep.Timeout.Duration() < time.Second {
		errs = multierr.Append(errs, fmt.Errorf("timeout must be at least 1s if specified, got %s", ep.Timeout.Duration()))
	}

	if err := ep.Extractor.validate(); err != nil {
		errs = multierr.Append(errs, err)
	}

	if ep.Cadence != nil {
		if err := ep.Cadence.validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cadence: %w", err))
		}
	}

	return errs
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return nil
	case "":
		return errors.New("url must have a scheme (http:// or https://)")
	default:
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
}
