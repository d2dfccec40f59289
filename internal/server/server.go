// Package server exposes the agent's status surface over HTTP: health
// and per-collector status, the latest rendered snapshot, the manual
// collection trigger, and the agent's own Prometheus metrics. It only
// reads published state; it never blocks a collection cycle except
// through the explicitly serialized trigger endpoint.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/HerbHall/hostvantage/internal/export"
	"github.com/HerbHall/hostvantage/internal/scheduler"
	"github.com/HerbHall/hostvantage/internal/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the HostVantage status HTTP server.
type Server struct {
	httpServer *http.Server
	sched      *scheduler.Scheduler
	logger     *zap.Logger
	mux        *http.ServeMux
}

// New creates a new Server instance.
func New(addr string, sched *scheduler.Scheduler, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		sched:  sched,
		logger: logger,
		mux:    mux,
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/v1/snapshot", s.handleSnapshot)
	s.mux.HandleFunc("POST /api/v1/collect", s.handleCollect)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports overall agent and export-channel health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.sched.Status()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-HostVantage-Version", version.Short())
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         "ok",
		"service":        "hostvantage",
		"export_healthy": status.ExportHealthy,
		"version":        version.Map(),
	})
}

// handleStatus reports the last cycle's per-collector outcomes and the
// export channel state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.sched.Status()

	resp := map[string]interface{}{
		"export_healthy":       status.ExportHealthy,
		"consecutive_failures": status.ConsecutiveFailures,
	}
	if !status.LastCycle.IsZero() {
		resp["last_cycle"] = status.LastCycle.Format(time.RFC3339Nano)
	}
	if !status.LastExportSuccess.IsZero() {
		resp["last_export_success"] = status.LastExportSuccess.Format(time.RFC3339Nano)
	}
	if status.LastExportError != "" {
		resp["last_export_error"] = status.LastExportError
	}
	if status.Snapshot != nil {
		resp["collectors"] = status.Snapshot.Results
		resp["samples"] = len(status.Snapshot.Samples)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-HostVantage-Version", version.Short())
	json.NewEncoder(w).Encode(resp)
}

// handleSnapshot serves the most recent snapshot in exposition format.
// It reads published state only; it never triggers a collection.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	status := s.sched.Status()
	if status.Snapshot == nil {
		Unavailable(w, "no collection cycle has completed yet", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.Write(export.Render(status.Snapshot))
}

// handleCollect requests an out-of-band collection cycle and waits for
// its result. The scheduler serializes it against its own tick. An
// export failure is a recoverable channel-health signal, not a failed
// collection: the results are returned with the error noted.
func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.sched.Trigger(r.Context())
	if snapshot == nil {
		InternalError(w, err.Error(), r.URL.Path)
		return
	}

	resp := map[string]interface{}{
		"samples":    len(snapshot.Samples),
		"collectors": snapshot.Results,
		"timestamp":  snapshot.Timestamp.Format(time.RFC3339Nano),
	}
	if err != nil {
		resp["export_error"] = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
