package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jpalmerr/cadence/adaptive"
	"github.com/jpalmerr/cadence/internal/store"
)

const (
	// sseWriteTimeout bounds a single SSE write so that slow or vanished
	// clients cannot pin a handler goroutine. Must not exceed shutdownTimeout.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second

	defaultTitle     = "Cadence"
	titlePlaceholder = "{{.Title}}"
)

// Trigger forces an immediate poll of a named endpoint.
type Trigger interface {
	Trigger(name string) error
}

// Server serves the dashboard, its JSON API and the SSE stream.
//
// Routes:
//   - GET /: embedded dashboard page
//   - GET /api/status, GET /api/status/{name}: current statuses
//   - GET /api/sse: Server-Sent Events stream of status updates
//   - POST /api/activity: user activity signal, forwarded to the notifier
//   - POST /api/refresh/{name}: immediate poll of one endpoint
//   - GET /metrics: Prometheus metrics, when a gatherer is configured
//   - GET /healthz: liveness probe
type Server struct {
	router   chi.Router
	store    store.Store
	port     int
	logger   *slog.Logger
	assets   fs.FS
	title    string
	notifier adaptive.Notifier
	trigger  Trigger
	gatherer prometheus.Gatherer

	mu   sync.Mutex
	ln   net.Listener
	addr net.Addr
}

// Option configures a [Server].
type Option func(*Server)

// WithAssets sets the filesystem holding assets/index.html.
func WithAssets(assets fs.FS) Option {
	return func(s *Server) {
		s.assets = assets
	}
}

// WithTitle sets the dashboard title. Defaults to "Cadence".
func WithTitle(title string) Option {
	return func(s *Server) {
		s.title = title
	}
}

// WithNotifier receives the dashboard's activity signals.
func WithNotifier(n adaptive.Notifier) Option {
	return func(s *Server) {
		s.notifier = n
	}
}

// WithTrigger enables POST /api/refresh/{name}.
func WithTrigger(t Trigger) Option {
	return func(s *Server) {
		s.trigger = t
	}
}

// WithListener serves on ln instead of binding the configured port.
func WithListener(ln net.Listener) Option {
	return func(s *Server) {
		s.ln = ln
	}
}

// WithGatherer enables GET /metrics for the given gatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// NewServer creates a [Server] reading statuses from st. The server does not
// listen until [Server.Listen] is called.
func NewServer(st store.Store, port int, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router: chi.NewRouter(),
		store:  st,
		port:   port,
		logger: logger.With("component", "server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(s.logger))

	r.Get("/", s.handleDashboard)
	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/status/{name}", s.handleStatusByName)
		r.Get("/sse", s.handleSSE)
		r.Post("/activity", s.handleActivity)
		r.Post("/refresh/{name}", s.handleRefresh)
	})

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// Listen binds the port, or adopts the listener given to [WithListener].
// Routes are reachable as soon as [Server.Serve] runs.
//
// Returns an error if the port cannot be bound or Listen was already called.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln != nil && s.addr != nil {
		return errors.New("server is already listening")
	}
	if s.ln == nil {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
		if err != nil {
			return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
		}
		s.ln = ln
	}
	s.addr = s.ln.Addr()
	return nil
}

// Serve serves on the listener bound by [Server.Listen] until ctx is
// cancelled, then shuts down gracefully within 5 seconds. Request contexts
// derive from ctx, so open SSE streams end with it.
//
// Serve returns nil after a shutdown caused by ctx. Any other reason the
// server stops serving, such as a listener that starts failing, is returned
// as an error.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln, addr := s.ln, s.addr
	s.mu.Unlock()
	if addr == nil {
		return errors.New("server is not listening")
	}

	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errc := make(chan error, 1)
	go func() {
		errc <- httpServer.Serve(ln)
	}()
	if tcp, ok := addr.(*net.TCPAddr); ok {
		s.logger.Info("dashboard available", "url", fmt.Sprintf("http://localhost:%d", tcp.Port))
	}

	select {
	case err := <-errc:
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Error("http server error", "error", err)
		_ = httpServer.Close()
		return fmt.Errorf("http server stopped serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http server shutdown error", "error", err)
	}
	return nil
}

// Addr returns the bound listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
