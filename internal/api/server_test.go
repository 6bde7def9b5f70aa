package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"NetflowAnalyzer/internal/engine/dispatcher"
	"NetflowAnalyzer/internal/engine/manager"
	"NetflowAnalyzer/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakeState struct {
	serving bool
	stats   dispatcher.Stats
	modules []manager.ModuleStatus
}

func (f *fakeState) Stats() dispatcher.Stats { return f.stats }

func (f *fakeState) Serving() bool { return f.serving }

func (f *fakeState) Modules() []manager.ModuleStatus { return f.modules }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newState() *fakeState {
	return &fakeState{
		serving: true,
		stats:   dispatcher.Stats{Received: 10, Processed: 8, DecodeErrors: 2},
		modules: []manager.ModuleStatus{
			{Name: "simple_ddos_detector", Type: "simple_ddos_detector", Running: true, QueueCap: 1024, Delivered: 8},
			{Name: "ports", Type: "top_ports", Running: false, Failed: true},
		},
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatsHandler(t *testing.T) {
	r := NewRouter(newState(), newState(), nil, quietLogger())

	rec := get(t, r, "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(10), resp.Received)
	assert.Equal(t, uint64(8), resp.Processed)
	assert.True(t, resp.Serving)
	assert.Positive(t, resp.Process.PID)
	assert.Positive(t, resp.Process.Goroutines)
}

func TestModulesHandlers(t *testing.T) {
	r := NewRouter(newState(), newState(), nil, quietLogger())

	rec := get(t, r, "/api/v1/modules")
	require.Equal(t, http.StatusOK, rec.Code)
	var mods []manager.ModuleStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mods))
	require.Len(t, mods, 2)
	assert.Equal(t, "top_ports", mods[1].Type)

	rec = get(t, r, "/api/v1/modules/ports")
	require.Equal(t, http.StatusOK, rec.Code)
	var one manager.ModuleStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.True(t, one.Failed)

	rec = get(t, r, "/api/v1/modules/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, r, "/api/v1/module-types")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzHandler(t *testing.T) {
	state := newState()
	r := NewRouter(state, state, nil, quietLogger())
	assert.Equal(t, http.StatusOK, get(t, r, "/healthz").Code)

	state.serving = false
	assert.Equal(t, http.StatusServiceUnavailable, get(t, r, "/healthz").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Received()

	r := NewRouter(newState(), newState(), reg, quietLogger())
	rec := get(t, r, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "nfanalyzer_datagrams_received_total 1"))

	noMetrics := NewRouter(newState(), newState(), nil, quietLogger())
	assert.Equal(t, http.StatusNotFound, get(t, noMetrics, "/metrics").Code)
}

func TestHealth(t *testing.T) {
	state := newState()
	h := NewHealth(state, state, quietLogger())
	ctx := context.Background()

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := h.Server().Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(""))

	h.Update()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check("simple_ddos_detector"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check("ports"))

	_, err := h.Server().Check(ctx, &healthpb.HealthCheckRequest{Service: "unknown"})
	assert.Error(t, err)

	h.Shutdown()
	h.Update()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check("simple_ddos_detector"))
}
