package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Health publishes the analyzer state through the standard gRPC health
// service. The empty service name carries the overall state; every module
// is published under its own name.
type Health struct {
	hs      *health.Server
	stats   StatsSource
	modules ModuleSource
	logger  *slog.Logger
	grpcSrv *grpc.Server
}

// NewHealth creates the health service. Nothing is served until Serve.
func NewHealth(stats StatsSource, modules ModuleSource, logger *slog.Logger) *Health {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Health{
		hs:      health.NewServer(),
		stats:   stats,
		modules: modules,
		logger:  logger.With("component", "health"),
	}
	h.hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Server returns the underlying health server.
func (h *Health) Server() healthpb.HealthServer { return h.hs }

// Update refreshes every published status from the current state. It has
// no effect after Shutdown.
func (h *Health) Update() {
	overall := healthpb.HealthCheckResponse_NOT_SERVING
	if h.stats.Serving() {
		overall = healthpb.HealthCheckResponse_SERVING
	}
	h.hs.SetServingStatus("", overall)

	for _, m := range h.modules.Modules() {
		status := healthpb.HealthCheckResponse_SERVING
		if !m.Running {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		h.hs.SetServingStatus(m.Name, status)
	}
}

// Watch calls Update every interval until ctx is cancelled.
func (h *Health) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		h.Update()
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Serve starts the gRPC server on addr in the background.
func (h *Health) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	h.grpcSrv = grpc.NewServer()
	healthpb.RegisterHealthServer(h.grpcSrv, h.hs)

	go func() {
		h.logger.Info("gRPC health service starting", "addr", lis.Addr().String())
		if err := h.grpcSrv.Serve(lis); err != nil {
			h.logger.Error("gRPC health service failed", "error", err)
		}
	}()
	return nil
}

// Shutdown marks every service NOT_SERVING and stops the gRPC server.
func (h *Health) Shutdown() {
	h.hs.Shutdown()
	if h.grpcSrv != nil {
		h.grpcSrv.GracefulStop()
	}
}
