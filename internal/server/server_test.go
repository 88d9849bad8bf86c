package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/cadence/internal/poller"
	"github.com/jpalmerr/cadence/internal/store"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingNotifier struct {
	calls atomic.Int32
}

func (n *countingNotifier) Notify() { n.calls.Add(1) }

type fakeTrigger struct {
	known     map[string]bool
	err       error
	triggered []string
}

func (f *fakeTrigger) Trigger(name string) error {
	if f.err != nil {
		return f.err
	}
	if !f.known[name] {
		return fmt.Errorf("%w: %q", poller.ErrUnknownEndpoint, name)
	}
	f.triggered = append(f.triggered, name)
	return nil
}

func serve(srv *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestStatusEndpoints(t *testing.T) {
	st := store.NewMemoryStore()
	st.Update(store.StatusResult{Name: "search", Status: "down", IntervalMs: 1000, Mode: "active"})
	st.Update(store.StatusResult{Name: "auth", Status: "up", IntervalMs: 8000, Mode: "idle"})

	srv := NewServer(st, 0, testLogger())

	t.Run("all", func(t *testing.T) {
		rec := serve(srv, http.MethodGet, "/api/status")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}

		var got []store.StatusResult
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(got) != 2 || got[0].Name != "auth" || got[1].Name != "search" {
			t.Errorf("statuses = %+v, want auth then search", got)
		}
		if got[0].IntervalMs != 8000 || got[0].Mode != "idle" {
			t.Errorf("auth = %+v", got[0])
		}
	})

	t.Run("by name", func(t *testing.T) {
		rec := serve(srv, http.MethodGet, "/api/status/search")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var got store.StatusResult
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if got.Name != "search" || got.Status != "down" {
			t.Errorf("status = %+v", got)
		}
	})

	t.Run("unknown name", func(t *testing.T) {
		if rec := serve(srv, http.MethodGet, "/api/status/missing"); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		if rec := serve(srv, http.MethodPost, "/api/status"); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
	})
}

func TestActivityEndpoint(t *testing.T) {
	n := &countingNotifier{}
	srv := NewServer(store.NewMemoryStore(), 0, testLogger(), WithNotifier(n))

	for i := 0; i < 3; i++ {
		if rec := serve(srv, http.MethodPost, "/api/activity"); rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
	}
	if got := n.calls.Load(); got != 3 {
		t.Errorf("Notify calls = %d, want 3", got)
	}

	if rec := serve(srv, http.MethodGet, "/api/activity"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/activity status = %d, want 405", rec.Code)
	}

	// without a notifier the ping is accepted and ignored
	bare := NewServer(store.NewMemoryStore(), 0, testLogger())
	if rec := serve(bare, http.MethodPost, "/api/activity"); rec.Code != http.StatusNoContent {
		t.Errorf("status without notifier = %d, want 204", rec.Code)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	trigger := &fakeTrigger{known: map[string]bool{"auth": true}}
	srv := NewServer(store.NewMemoryStore(), 0, testLogger(), WithTrigger(trigger))

	if rec := serve(srv, http.MethodPost, "/api/refresh/auth"); rec.Code != http.StatusAccepted {
		t.Errorf("known endpoint status = %d, want 202", rec.Code)
	}
	if len(trigger.triggered) != 1 || trigger.triggered[0] != "auth" {
		t.Errorf("triggered = %v, want [auth]", trigger.triggered)
	}

	if rec := serve(srv, http.MethodPost, "/api/refresh/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown endpoint status = %d, want 404", rec.Code)
	}

	trigger.err = poller.ErrNotRunning
	if rec := serve(srv, http.MethodPost, "/api/refresh/auth"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("stopped pool status = %d, want 503", rec.Code)
	}

	trigger.err = errors.New("boom")
	if rec := serve(srv, http.MethodPost, "/api/refresh/auth"); rec.Code != http.StatusInternalServerError {
		t.Errorf("failing trigger status = %d, want 500", rec.Code)
	}

	bare := NewServer(store.NewMemoryStore(), 0, testLogger())
	if rec := serve(bare, http.MethodPost, "/api/refresh/auth"); rec.Code != http.StatusNotImplemented {
		t.Errorf("status without trigger = %d, want 501", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "cadence_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := NewServer(store.NewMemoryStore(), 0, testLogger(), WithGatherer(reg))
	rec := serve(srv, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cadence_test_total 1") {
		t.Errorf("metrics body missing counter:\n%s", rec.Body.String())
	}

	bare := NewServer(store.NewMemoryStore(), 0, testLogger())
	if rec := serve(bare, http.MethodGet, "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("status without gatherer = %d, want 404", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(store.NewMemoryStore(), 0, testLogger())
	rec := serve(srv, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("healthz = %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandleDashboard(t *testing.T) {
	assets := fstest.MapFS{
		"assets/index.html": {Data: []byte("<title>{{.Title}}</title><h1>{{.Title}}</h1>")},
	}

	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"custom title", "Ops Board", "<title>Ops Board</title><h1>Ops Board</h1>"},
		{"default title", "", "<title>Cadence</title><h1>Cadence</h1>"},
		{"escaped title", "<script>alert(1)</script>", "<title>&lt;script&gt;alert(1)&lt;/script&gt;</title>"},
		{"ampersand", "Ops & Infra", "<title>Ops &amp; Infra</title>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(store.NewMemoryStore(), 0, testLogger(), WithAssets(assets), WithTitle(tt.title))
			rec := serve(srv, http.MethodGet, "/")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.want)
			}
		})
	}

	t.Run("no assets", func(t *testing.T) {
		srv := NewServer(store.NewMemoryStore(), 0, testLogger())
		if rec := serve(srv, http.MethodGet, "/"); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("missing index", func(t *testing.T) {
		srv := NewServer(store.NewMemoryStore(), 0, testLogger(), WithAssets(fstest.MapFS{}))
		if rec := serve(srv, http.MethodGet, "/"); rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
	})

	t.Run("unknown path", func(t *testing.T) {
		srv := NewServer(store.NewMemoryStore(), 0, testLogger(), WithAssets(assets))
		if rec := serve(srv, http.MethodGet, "/nope"); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func parseSSEEvents(body string) []store.StatusResult {
	var results []store.StatusResult
	for _, line := range strings.Split(body, "\n") {
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			var result store.StatusResult
			if err := json.Unmarshal([]byte(data), &result); err == nil {
				results = append(results, result)
			}
		}
	}
	return results
}

func TestHandleSSE_InitialSnapshot(t *testing.T) {
	st := store.NewMemoryStore()
	st.Update(store.StatusResult{Name: "api-1", Status: "up"})
	st.Update(store.StatusResult{Name: "api-2", Status: "down"})

	srv := NewServer(st, 0, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	events := parseSSEEvents(rec.Body.String())
	if len(events) != 2 || events[0].Name != "api-1" || events[1].Name != "api-2" {
		t.Errorf("events = %+v", events)
	}
	if got := st.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() after disconnect = %d, want 0", got)
	}
}

func TestHandleSSE_StreamsUpdatesAndShutsDown(t *testing.T) {
	st := store.NewMemoryStore()
	srv := NewServer(st, 0, testLogger())

	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()

	port := srv.Addr().(*net.TCPAddr).Port
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/sse", port))
	if err != nil {
		t.Fatalf("GET /api/sse error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// the handler subscribes before flushing the headers
	deadline := time.Now().Add(2 * time.Second)
	for st.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("SSE handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	st.Update(store.StatusResult{Name: "streamed", Status: "degraded"})

	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	select {
	case line := <-lines:
		if !strings.Contains(line, `"name":"streamed"`) {
			t.Errorf("first SSE line = %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no SSE event received")
	}

	// server shutdown ends the stream
	cancel()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				if err := <-served; err != nil {
					t.Errorf("Serve() after cancel = %v, want nil", err)
				}
				return
			}
		case <-timeout:
			t.Fatal("SSE stream did not close after shutdown")
		}
	}
}

type nonFlushWriter struct {
	header http.Header
	code   int
}

func (n *nonFlushWriter) Header() http.Header         { return n.header }
func (n *nonFlushWriter) Write(b []byte) (int, error) { return len(b), nil }
func (n *nonFlushWriter) WriteHeader(code int)        { n.code = code }

func TestHandleSSE_NotSupported(t *testing.T) {
	srv := NewServer(store.NewMemoryStore(), 0, testLogger())
	w := &nonFlushWriter{header: http.Header{}}

	srv.handleSSE(w, httptest.NewRequest(http.MethodGet, "/api/sse", nil))

	if w.code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.code)
	}
}

func TestListen_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer func() { _ = ln.Close() }()

	srv := NewServer(store.NewMemoryStore(), ln.Addr().(*net.TCPAddr).Port, testLogger())

	err = srv.Listen()
	if err == nil || !strings.Contains(err.Error(), "failed to bind") {
		t.Errorf("Listen() error = %v, want bind error", err)
	}
	if srv.Addr() != nil {
		t.Errorf("Addr() = %v after failed Listen, want nil", srv.Addr())
	}
	if err := srv.Serve(context.Background()); err == nil {
		t.Error("Serve() without a bound listener should fail")
	}
}

func TestServe_ListenerFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	srv := NewServer(store.NewMemoryStore(), 0, testLogger(), WithListener(ln))
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if srv.Addr().String() != ln.Addr().String() {
		t.Errorf("Addr() = %v, want %v", srv.Addr(), ln.Addr())
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(context.Background()) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	_ = resp.Body.Close()

	_ = ln.Close()
	select {
	case err := <-served:
		if err == nil || !strings.Contains(err.Error(), "stopped serving") {
			t.Errorf("Serve() error = %v, want stopped serving", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() kept running after its listener failed")
	}
}
