package registrar

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCollector implements the node-facing collector endpoints
type fakeCollector struct {
	mux         *http.ServeMux
	registered  int
	heartbeats  int
	muted       bool
	lastLevel   float64
	knownNodeID string
}

func newFakeCollector() *fakeCollector {
	c := &fakeCollector{mux: http.NewServeMux(), knownNodeID: "node-1"}

	c.mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ok"}`))
	})

	c.mux.HandleFunc("POST /api/nodes/register", func(w http.ResponseWriter, r *http.Request) {
		c.registered++
		json.NewEncoder(w).Encode(map[string]string{"id": c.knownNodeID})
	})

	c.mux.HandleFunc("POST /api/nodes/{id}/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != c.knownNodeID {
			http.Error(w, "unknown node", http.StatusNotFound)
			return
		}
		c.heartbeats++
		json.NewEncoder(w).Encode(map[string]bool{"muted": c.muted})
	})

	c.mux.HandleFunc("POST /api/nodes/{id}/audio-level", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Level float64 `json:"level"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		c.lastLevel = payload.Level
		w.Write([]byte(`{}`))
	})

	return c
}

func testRegistrar(t *testing.T, baseURL, dataDir string) *Registrar {
	t.Helper()

	r, err := New(Config{
		BaseURL:  baseURL,
		Name:     "Living Room",
		Location: "Living Room",
		DataDir:  dataDir,
		Timeout:  5 * time.Second,
	}, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	return r
}

func TestRegisterAndPersist(t *testing.T) {
	collector := newFakeCollector()
	server := httptest.NewServer(collector.mux)
	defer server.Close()

	dataDir := t.TempDir()
	r := testRegistrar(t, server.URL, dataDir)

	if err := r.Register(context.Background()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if r.NodeID() != "node-1" {
		t.Errorf("Expected node id node-1, got %s", r.NodeID())
	}
	if collector.registered != 1 {
		t.Errorf("Expected 1 registration, got %d", collector.registered)
	}

	// The node id is persisted
	data, err := os.ReadFile(filepath.Join(dataDir, "node.json"))
	if err != nil {
		t.Fatalf("Node state not persisted: %v", err)
	}
	var state struct {
		NodeID string `json:"node_id"`
	}
	if err := json.Unmarshal(data, &state); err != nil || state.NodeID != "node-1" {
		t.Errorf("Unexpected persisted state: %s", data)
	}

	// A second registrar restores the id and verifies it with a heartbeat
	// instead of re-registering
	r2 := testRegistrar(t, server.URL, dataDir)
	if err := r2.Register(context.Background()); err != nil {
		t.Fatalf("Second Register failed: %v", err)
	}
	if collector.registered != 1 {
		t.Errorf("Restart must not re-register, got %d registrations", collector.registered)
	}
	if r2.NodeID() != "node-1" {
		t.Errorf("Expected restored node id node-1, got %s", r2.NodeID())
	}
}

func TestRegisterRecoversFromStaleState(t *testing.T) {
	collector := newFakeCollector()
	collector.knownNodeID = "node-2"
	server := httptest.NewServer(collector.mux)
	defer server.Close()

	dataDir := t.TempDir()

	// Stale state references a node the collector no longer knows
	stale := `{"node_id": "node-gone"}`
	if err := os.WriteFile(filepath.Join(dataDir, "node.json"), []byte(stale), 0o644); err != nil {
		t.Fatalf("Failed to write stale state: %v", err)
	}

	r := testRegistrar(t, server.URL, dataDir)
	if err := r.Register(context.Background()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if r.NodeID() != "node-2" {
		t.Errorf("Expected re-registered node id node-2, got %s", r.NodeID())
	}
	if collector.registered != 1 {
		t.Errorf("Expected 1 re-registration, got %d", collector.registered)
	}
}

func TestRegisterUnreachableCollector(t *testing.T) {
	r := testRegistrar(t, "http://127.0.0.1:1", t.TempDir())

	if err := r.Register(context.Background()); err == nil {
		t.Error("Expected error for unreachable collector")
	}
}

func TestHeartbeatUpdatesMuted(t *testing.T) {
	collector := newFakeCollector()
	server := httptest.NewServer(collector.mux)
	defer server.Close()

	r := testRegistrar(t, server.URL, t.TempDir())
	if err := r.Register(context.Background()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if !r.Heartbeat(context.Background()) {
		t.Fatal("Heartbeat failed")
	}
	if r.Muted() {
		t.Error("Node should not be muted")
	}

	collector.muted = true
	if !r.Heartbeat(context.Background()) {
		t.Fatal("Heartbeat failed")
	}
	if !r.Muted() {
		t.Error("Muted status was not picked up from heartbeat")
	}
}

func TestHeartbeatWithoutRegistration(t *testing.T) {
	r := testRegistrar(t, "http://127.0.0.1:1", t.TempDir())

	if r.Heartbeat(context.Background()) {
		t.Error("Heartbeat without a node id should fail")
	}
}

func TestReportLevel(t *testing.T) {
	collector := newFakeCollector()
	server := httptest.NewServer(collector.mux)
	defer server.Close()

	r := testRegistrar(t, server.URL, t.TempDir())
	if err := r.Register(context.Background()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	r.ReportLevel(context.Background(), 42.5)

	if collector.lastLevel != 42.5 {
		t.Errorf("Expected reported level 42.5, got %v", collector.lastLevel)
	}
}
