package poller

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
)

const maxResponseBodySize = 1 << 20 // 1MB

// connection pooling limits; every probe of a pool shares one transport
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

const defaultRequestTimeout = 10 * time.Second

// Request describes a single probe request.
type Request struct {
	// Method is the HTTP method. Empty means GET.
	Method string

	URL     string
	Headers map[string]string

	// Timeout bounds the whole request including the body read.
	// Zero means 10 seconds.
	Timeout time.Duration
}

// Response holds the result of a [Client.Fetch].
type Response struct {
	// Body is the response body, truncated to 1MB.
	Body []byte

	// StatusCode is zero if the request failed before a response arrived.
	StatusCode int

	Latency time.Duration

	// Error is set when the request could not be completed. A response with
	// an error status code is not an error.
	Error error
}

// Client is an HTTP client for probing endpoints.
//
// Timeouts are applied per request via the context, so endpoints with
// different timeouts can share one Client and its connection pool. The
// client never follows a global timeout and never returns an error
// separately: every outcome of a probe is described by its [Response].
type Client struct {
	httpClient *http.Client
	clock      clock.Clock
}

// NewClient creates a [Client] with a pooled transport. Latency is measured
// on clk; a nil clk uses the wall clock, and tests pass a mock.
//
// One Client serves every probe of a [Pool], so the transport is sized for
// many endpoints at once:
//   - MaxIdleConns: 100 idle connections in total
//   - MaxIdleConnsPerHost: 10 idle connections per host
//   - MaxConnsPerHost: 10 connections per host, idle or in use
//   - IdleConnTimeout: idle connections are closed after 60 seconds
//
// Endpoints that back off to long intervals will usually find their idle
// connection closed and dial again, which is cheaper than holding sockets
// open for minutes.
func NewClient(clk clock.Clock) *Client {
	if clk == nil {
		clk = clock.New()
	}
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
		clock: clk,
	}
}

// Fetch performs req and returns a [Response].
//
// The request runs under ctx with req.Timeout applied on top, 10 seconds
// when unset, and the timeout covers reading the body. An empty method
// means GET. Bodies longer than 1MB are truncated rather than rejected,
// since extractors only need the start of a health payload.
//
// Fetch never returns a Go error; a failed request is reported in
// Response.Error with StatusCode zero. A response with an error status code
// is not a failure here; the extractor decides what it means.
func (c *Client) Fetch(ctx context.Context, req Request) Response {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	start := c.clock.Now()

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return Response{
			Latency: c.clock.Since(start),
			Error:   fmt.Errorf("failed to create request: %w", err),
		}
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{
			Latency: c.clock.Since(start),
			Error:   fmt.Errorf("request failed: %w", err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return Response{
			StatusCode: resp.StatusCode,
			Latency:    c.clock.Since(start),
			Error:      fmt.Errorf("failed to read response body: %w", err),
		}
	}

	return Response{
		Body:       body,
		StatusCode: resp.StatusCode,
		Latency:    c.clock.Since(start),
	}
}

// Close releases the idle connections of the client's pool right away
// instead of waiting for the idle timeout. [Pool.Stop] calls it once every
// scheduler has stopped.
//
// Close is safe to call more than once and on a nil Client. The client
// stays usable afterwards; a later Fetch dials new connections as needed.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
