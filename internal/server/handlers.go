package server

import (
	"encoding/json"
	"errors"
	"html"
	"io/fs"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jpalmerr/cadence/internal/poller"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes data as a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// handleDashboard serves the dashboard page with the title substituted.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if s.assets == nil {
		http.Error(w, "Dashboard not found", http.StatusNotFound)
		return
	}

	content, err := fs.ReadFile(s.assets, "assets/index.html")
	if err != nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	title := s.title
	if title == "" {
		title = defaultTitle
	}
	rendered := strings.ReplaceAll(string(content), titlePlaceholder, html.EscapeString(title))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(rendered)); err != nil {
		s.logger.Error("failed to write dashboard response", "error", err)
	}
}

// handleStatus returns every stored status, sorted by name.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.GetAll())
}

// handleStatusByName returns the status of one endpoint.
// GET /api/status/{name}
func (s *Server) handleStatusByName(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	result, ok := s.store.Get(name)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "endpoint not found: " + name})
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleActivity forwards a dashboard interaction to the notifier.
// POST /api/activity
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if s.notifier != nil {
		s.notifier.Notify()
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRefresh polls one endpoint immediately.
// POST /api/refresh/{name}
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		s.writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "refresh not available"})
		return
	}

	name := chi.URLParam(r, "name")
	if err := s.trigger.Trigger(name); err != nil {
		if errors.Is(err, poller.ErrUnknownEndpoint) {
			s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "endpoint not found: " + name})
			return
		}
		if errors.Is(err, poller.ErrNotRunning) {
			s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "polling is stopped"})
			return
		}
		s.logger.Error("refresh failed", "endpoint", name, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "refresh failed"})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleHealth is a liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
