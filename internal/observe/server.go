package observe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. The Check function should return nil
// when the dependency is healthy and a non-nil error describing the failure
// otherwise.
type Checker struct {
	// Name is a short label for this check (e.g. "discord", "transcriber").
	// It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// healthResult is the JSON response body for health endpoints.
type healthResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Server is the operational HTTP server. It exposes:
//
//   - /metrics — Prometheus scrape endpoint for the OTel Prometheus bridge.
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//
// All routes are wrapped in [Middleware] for request metrics and logging.
type Server struct {
	srv      *http.Server
	checkers []Checker
}

// NewServer creates a Server listening on addr. The checkers are evaluated
// sequentially on each /readyz request, in the order provided.
func NewServer(addr string, m *Metrics, checkers ...Checker) *Server {
	s := &Server{checkers: append([]Checker(nil), checkers...)}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /readyz", s.readyz)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           Middleware(m)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe runs the server until Shutdown is called. It returns nil
// after a clean shutdown.
func (s *Server) ListenAndServe() error {
	slog.Info("observability server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("observe: http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResult{Status: "ok"})
}

// readyz returns 200 only when every registered [Checker] passes. Each
// checker is given a context with a [checkTimeout] deadline derived from the
// request context.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.checkers))
	allOK := true

	for _, c := range s.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := healthResult{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
