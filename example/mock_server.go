package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

var mockStatuses = []string{"ok", "degraded", "down"}

// service is the simulated health of one mock service. Most of the time it
// holds a status for 20-60s; occasionally it flaps for a few probes, which
// keeps its cadence at the fastest interval until it settles.
type service struct {
	status   int
	settleAt time.Time
	flaps    int
}

func (s *service) next(now time.Time) (changed bool) {
	switch {
	case s.flaps > 0:
		s.flaps--
		s.status = (s.status + 1) % len(mockStatuses)
		return true
	case now.After(s.settleAt):
		s.status = (s.status + 1) % len(mockStatuses)
		s.settleAt = now.Add(time.Duration(20+rand.Intn(41)) * time.Second)
		if rand.Intn(3) == 0 {
			s.flaps = 2 + rand.Intn(4)
		}
		return true
	default:
		return false
	}
}

// StartMockHealthServer serves /health?svc=<name> on addr, reporting a
// status in a JSON "status" field. Call it in a goroutine before starting
// the board.
func StartMockHealthServer(addr string) {
	var (
		mu       sync.Mutex
		services = make(map[string]*service)
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("svc")
		time.Sleep(time.Duration(30+rand.Intn(120)) * time.Millisecond)

		now := time.Now()
		mu.Lock()
		svc, ok := services[name]
		if !ok {
			svc = &service{settleAt: now.Add(time.Duration(20+rand.Intn(41)) * time.Second)}
			services[name] = svc
		}
		if svc.next(now) {
			slog.Info("mock status change", "svc", name, "status", mockStatuses[svc.status], "flaps_left", svc.flaps)
		}
		status := mockStatuses[svc.status]
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"svc": name, "status": status}); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("mock server error", "error", err)
	}
}
