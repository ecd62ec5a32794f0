package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/templegit9/sleep-system/internal/agent"
	"github.com/templegit9/sleep-system/internal/config"
)

type idleSource struct{}

func (idleSource) ReadBlock(ctx context.Context) ([]int16, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (idleSource) Close() error { return nil }

func testServer(t *testing.T) *HTTPServer {
	t.Helper()

	cfg := config.Default()
	cfg.Agent.DataDir = t.TempDir()
	cfg.Storage.Dir = filepath.Join(t.TempDir(), "clips")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := agent.New(cfg, idleSource{}, logger, nil)
	if err != nil {
		t.Fatalf("agent.New failed: %v", err)
	}

	return NewHTTPServer(cfg.HTTP, logger, cfg, a, nil)
}

func get(t *testing.T, h *HTTPServer, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, req)

	return rec
}

func TestHealthEndpoint(t *testing.T) {
	h := testServer(t)

	rec := get(t, h, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var health map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("Unexpected status: %v", health["status"])
	}
	if _, ok := health["components"]; !ok {
		t.Error("Health response missing components")
	}
}

func TestStatusEndpoint(t *testing.T) {
	h := testServer(t)

	rec := get(t, h, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var status agent.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if status.Mode != config.ModeSleep {
		t.Errorf("Unexpected mode: %s", status.Mode)
	}
	if status.DeviceID != "bedroom-pi" {
		t.Errorf("Unexpected device id: %s", status.DeviceID)
	}
}

func TestConfigEndpointSanitized(t *testing.T) {
	h := testServer(t)

	rec := get(t, h, "/config")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var cfg map[string]map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if cfg["agent"]["mode"] != config.ModeSleep {
		t.Errorf("Unexpected mode in config: %v", cfg["agent"]["mode"])
	}
	if _, ok := cfg["storage"]; !ok {
		t.Error("Config response missing storage section")
	}
}

func TestRootEndpoint(t *testing.T) {
	h := testServer(t)

	rec := get(t, h, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	rec = get(t, h, "/nonexistent")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown path, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}
