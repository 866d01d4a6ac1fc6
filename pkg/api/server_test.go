package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tiercache/tiercache/internal/config"
	"github.com/tiercache/tiercache/internal/engine"
	"github.com/tiercache/tiercache/internal/health"
	"github.com/tiercache/tiercache/pkg/types"
)

type fakeBackend struct {
	mu      sync.Mutex
	data    map[string][]byte
	healthy bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: make(map[string][]byte), healthy: true}
}

func (f *fakeBackend) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[key], nil
}

func (f *fakeBackend) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = data
	return nil
}

func (f *fakeBackend) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeBackend) List(ctx context.Context, prefix, cursor string) (types.ListResult, error) {
	return types.ListResult{Complete: true}, nil
}

func (f *fakeBackend) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = make(map[string][]byte)
	return nil
}

func (f *fakeBackend) Health(ctx context.Context) (types.HealthStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return types.HealthStatus{Healthy: f.healthy, CheckedAt: time.Now()}, nil
}

func (f *fakeBackend) Capabilities() types.Capabilities {
	return types.Capabilities{List: true, Clear: true}
}

func (f *fakeBackend) Name() string { return "fake" }

func newTestServer(t *testing.T, backend types.Backend) *Server {
	t.Helper()
	cfg := config.NewDefault()
	cfg.Prefetch.Enabled = false
	eng, err := engine.New(cfg, backend, &engine.Options{Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("engine.New() error: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return NewServer(DefaultServerConfig(), eng, nil, nil, zap.NewNop())
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	backend := newFakeBackend()
	server := newTestServer(t, backend)

	rec := get(t, server.Handler(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	var health types.HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !health.Healthy {
		t.Error("healthy backend should report healthy")
	}

	backend.mu.Lock()
	backend.healthy = false
	backend.mu.Unlock()
	rec = get(t, server.Handler(), "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 for unhealthy backend", rec.Code)
	}
}

func TestLivenessAndReadiness(t *testing.T) {
	backend := newFakeBackend()
	server := newTestServer(t, backend)

	rec := get(t, server.Handler(), "/health/live")
	if rec.Code != http.StatusOK {
		t.Errorf("liveness status = %d, want 200", rec.Code)
	}

	rec = get(t, server.Handler(), "/health/ready")
	if rec.Code != http.StatusOK {
		t.Errorf("readiness status = %d, want 200", rec.Code)
	}

	// Liveness stays up when the store goes away; readiness does not.
	backend.mu.Lock()
	backend.healthy = false
	backend.mu.Unlock()
	rec = get(t, server.Handler(), "/health/live")
	if rec.Code != http.StatusOK {
		t.Errorf("liveness status = %d, want 200 regardless of store", rec.Code)
	}
	rec = get(t, server.Handler(), "/health/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readiness status = %d, want 503", rec.Code)
	}
}

func TestReadinessUsesMonitor(t *testing.T) {
	backend := newFakeBackend()
	cfg := config.NewDefault()
	cfg.Prefetch.Enabled = false
	eng, err := engine.New(cfg, backend, &engine.Options{Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("engine.New() error: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	monitorCfg := health.DefaultConfig()
	monitorCfg.FailureThreshold = 1
	monitor, err := health.NewMonitor(backend, monitorCfg, zap.NewNop())
	if err != nil {
		t.Fatalf("health.NewMonitor() error: %v", err)
	}
	server := NewServer(DefaultServerConfig(), eng, monitor, nil, zap.NewNop())

	rec := get(t, server.Handler(), "/health/ready")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 while the monitor is healthy", rec.Code)
	}

	// The monitor's observed state drives readiness, not a live check.
	backend.mu.Lock()
	backend.healthy = false
	backend.mu.Unlock()
	rec = get(t, server.Handler(), "/health/ready")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 until the monitor observes the failure", rec.Code)
	}

	monitor.CheckNow(context.Background())
	rec = get(t, server.Handler(), "/health/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 after the monitor observes the failure", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	server := newTestServer(t, newFakeBackend())

	rec := get(t, server.Handler(), "/v1/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var stats map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, section := range []string{"l1", "dedup", "batch", "promote", "prefetch", "breakers"} {
		if _, ok := stats[section]; !ok {
			t.Errorf("stats missing %q section", section)
		}
	}
}

func TestBreakersEndpoint(t *testing.T) {
	server := newTestServer(t, newFakeBackend())

	rec := get(t, server.Handler(), "/v1/breakers")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 0 {
		t.Errorf("count = %d, want 0 before any origin call", body.Count)
	}
}

func TestInfoEndpoint(t *testing.T) {
	server := newTestServer(t, newFakeBackend())

	rec := get(t, server.Handler(), "/info")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var info struct {
		Service   string   `json:"service"`
		Endpoints []string `json:"endpoints"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Service == "" || len(info.Endpoints) == 0 {
		t.Errorf("info = %+v", info)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server := newTestServer(t, newFakeBackend())

	req := httptest.NewRequest(http.MethodPost, "/v1/stats", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
