// Package api serves the analyzer's HTTP status API and gRPC health service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"NetflowAnalyzer/internal/engine/dispatcher"
	"NetflowAnalyzer/internal/engine/manager"
	"NetflowAnalyzer/internal/factory"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
)

// StatsSource is implemented by the dispatcher.
type StatsSource interface {
	Stats() dispatcher.Stats
	Serving() bool
}

// ModuleSource is implemented by the module manager.
type ModuleSource interface {
	Modules() []manager.ModuleStatus
}

// ProcessStats describes the analyzer process.
type ProcessStats struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Goroutines int     `json:"goroutines"`
}

// StatsResponse is the body of GET /api/v1/stats.
type StatsResponse struct {
	dispatcher.Stats
	Serving bool         `json:"serving"`
	Process ProcessStats `json:"process"`
}

// APIHandler holds the dependencies for API handlers.
type APIHandler struct {
	stats    StatsSource
	modules  ModuleSource
	gatherer prometheus.Gatherer
	proc     *process.Process
	logger   *slog.Logger
}

// NewRouter builds the HTTP routes. gatherer may be nil, in which case
// /metrics is not served.
func NewRouter(stats StatsSource, modules ModuleSource, gatherer prometheus.Gatherer, logger *slog.Logger) *mux.Router {
	if logger == nil {
		logger = slog.Default()
	}
	h := &APIHandler{stats: stats, modules: modules, gatherer: gatherer, logger: logger}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		h.proc = p
	} else {
		logger.Warn("Process stats unavailable", "error", err)
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/stats", h.statsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/modules", h.modulesHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/modules/{name}", h.moduleHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/module-types", h.moduleTypesHandler).Methods(http.MethodGet)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

func (h *APIHandler) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	if !h.stats.Serving() {
		http.Error(w, "not serving", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *APIHandler) statsHandler(w http.ResponseWriter, _ *http.Request) {
	resp := StatsResponse{
		Stats:   h.stats.Stats(),
		Serving: h.stats.Serving(),
		Process: ProcessStats{PID: os.Getpid(), Goroutines: runtime.NumGoroutine()},
	}
	if h.proc != nil {
		if cpu, err := h.proc.CPUPercent(); err == nil {
			resp.Process.CPUPercent = cpu
		}
		if mem, err := h.proc.MemoryInfo(); err == nil {
			resp.Process.RSSBytes = mem.RSS
		}
	}
	h.writeJSON(w, resp)
}

func (h *APIHandler) modulesHandler(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, h.modules.Modules())
}

func (h *APIHandler) moduleHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	for _, m := range h.modules.Modules() {
		if m.Name == name {
			h.writeJSON(w, m)
			return
		}
	}
	http.Error(w, fmt.Sprintf("module %q not found", name), http.StatusNotFound)
}

func (h *APIHandler) moduleTypesHandler(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, factory.Types())
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.logger.Debug("Failed to write response", "error", err)
	}
}

// Server wraps the HTTP server.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a status server on addr.
func NewServer(addr string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With("component", "api"),
	}
}

// Start serves in the background. Listen errors are logged; the status API
// is not essential to ingestion.
func (s *Server) Start() {
	go func() {
		s.logger.Info("API server starting", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", "addr", s.srv.Addr, "error", err)
		}
	}()
}

// Shutdown stops the server, waiting up to the ctx deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("API server forced to shutdown: %w", err)
	}
	s.logger.Info("API server exited")
	return nil
}
