// Package admin is msqlsrv-demo's admin HTTP surface: Prometheus metrics
// and a liveness endpoint, adapted from the teacher proxy's REST API server
// down to the subset that makes sense for a protocol-termination library
// with no tenant table of its own.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbbouncer/msqlsrv/internal/metrics"
)

// Server is msqlsrv-demo's admin HTTP server.
type Server struct {
	metrics    *metrics.Collector
	httpServer *http.Server
	startTime  time.Time
	version    string
	logger     *slog.Logger
}

// NewServer creates a new admin server bound to the given metrics Collector.
func NewServer(m *metrics.Collector, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		metrics:   m,
		startTime: time.Now(),
		version:   version,
		logger:    logger,
	}
}

// Start begins serving on addr. It returns once the listener is up; the
// server itself runs in a background goroutine until Stop is called.
func (s *Server) Start(addr string) error {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin: listening on %s: %w", addr, err)
	}

	s.logger.Info("admin server listening", "addr", addr)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("admin server error", "err", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the admin server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
