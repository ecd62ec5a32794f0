package registrar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const stateFilename = "node.json"

// Config contains registrar configuration
type Config struct {
	BaseURL  string
	Name     string
	Location string
	DataDir  string
	Timeout  time.Duration
}

// nodeState is the persisted registration, written to the data dir so the
// node keeps its identity across restarts
type nodeState struct {
	NodeID   string `json:"node_id"`
	BaseURL  string `json:"server_url"`
	Name     string `json:"node_name"`
	Location string `json:"node_location"`
}

// Registrar manages the node's registration with the collector in homemic
// mode: health check, registration, heartbeats, privacy status and live
// audio-level reporting. Every operation is non-fatal; the agent keeps
// recording with or without a reachable collector.
type Registrar struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger

	nodeID string
	muted  bool
	mu     sync.RWMutex
}

// New creates a registrar
func New(config Config, logger *slog.Logger) (*Registrar, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	if config.DataDir == "" {
		return nil, fmt.Errorf("data dir cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Registrar{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger,
	}, nil
}

// NodeID returns the registered node id, or "" when unregistered
func (r *Registrar) NodeID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodeID
}

// Muted reports the privacy status from the last heartbeat
func (r *Registrar) Muted() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.muted
}

func (r *Registrar) statePath() string {
	return filepath.Join(r.config.DataDir, stateFilename)
}

// loadState restores a previously persisted node id
func (r *Registrar) loadState() {
	data, err := os.ReadFile(r.statePath())
	if err != nil {
		return
	}

	var state nodeState
	if err := json.Unmarshal(data, &state); err != nil {
		r.logger.Warn("Ignoring corrupt node state file",
			slog.String("path", r.statePath()),
			slog.String("error", err.Error()),
		)
		return
	}

	if state.NodeID != "" {
		r.mu.Lock()
		r.nodeID = state.NodeID
		r.mu.Unlock()

		r.logger.Info("Loaded saved node registration",
			slog.String("node_id", state.NodeID),
		)
	}
}

// saveState persists the current registration
func (r *Registrar) saveState() {
	if err := os.MkdirAll(r.config.DataDir, 0o755); err != nil {
		r.logger.Error("Failed to create data dir", slog.String("error", err.Error()))
		return
	}

	state := nodeState{
		NodeID:   r.NodeID(),
		BaseURL:  r.config.BaseURL,
		Name:     r.config.Name,
		Location: r.config.Location,
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		r.logger.Error("Failed to encode node state", slog.String("error", err.Error()))
		return
	}

	if err := os.WriteFile(r.statePath(), data, 0o644); err != nil {
		r.logger.Error("Failed to save node state", slog.String("error", err.Error()))
		return
	}

	r.logger.Info("Node state saved", slog.String("path", r.statePath()))
}

// HealthCheck reports whether the collector is reachable
func (r *Registrar) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.config.BaseURL+"/api/health", nil)
	if err != nil {
		return false
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// Register ensures the node is registered with the collector. A saved node
// id is verified with a heartbeat and the node re-registers when the
// collector no longer recognizes it.
func (r *Registrar) Register(ctx context.Context) error {
	r.loadState()

	if !r.HealthCheck(ctx) {
		return fmt.Errorf("collector unreachable at %s", r.config.BaseURL)
	}

	if r.NodeID() == "" {
		return r.registerNode(ctx)
	}

	if !r.Heartbeat(ctx) {
		r.logger.Warn("Saved registration rejected, re-registering",
			slog.String("node_id", r.NodeID()),
		)

		r.mu.Lock()
		r.nodeID = ""
		r.mu.Unlock()

		return r.registerNode(ctx)
	}

	return nil
}

// registerNode performs the registration request and persists the result
func (r *Registrar) registerNode(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"name":     r.config.Name,
		"location": r.config.Location,
	})
	if err != nil {
		return fmt.Errorf("failed to encode registration: %w", err)
	}

	url := r.config.BaseURL + "/api/nodes/register"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read registration response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse registration response: %w", err)
	}

	if result.ID == "" {
		return fmt.Errorf("collector returned empty node id")
	}

	r.mu.Lock()
	r.nodeID = result.ID
	r.mu.Unlock()

	r.saveState()

	r.logger.Info("Node registered",
		slog.String("node_id", result.ID),
		slog.String("name", r.config.Name),
		slog.String("location", r.config.Location),
	)

	return nil
}

// Heartbeat notifies the collector the node is alive and refreshes the
// privacy status from the response
func (r *Registrar) Heartbeat(ctx context.Context) bool {
	id := r.NodeID()
	if id == "" {
		return false
	}

	url := fmt.Sprintf("%s/api/nodes/%s/heartbeat", r.config.BaseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return false
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Warn("Heartbeat failed", slog.String("error", err.Error()))
		return false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		return false
	}

	var status struct {
		Muted bool `json:"muted"`
	}
	if err := json.Unmarshal(body, &status); err == nil {
		r.mu.Lock()
		changed := r.muted != status.Muted
		r.muted = status.Muted
		r.mu.Unlock()

		if changed {
			r.logger.Info("Privacy status changed", slog.Bool("muted", status.Muted))
		}
	}

	return true
}

// ReportLevel sends the current audio level for live visualization.
// Best effort; failures are dropped silently since levels are sent
// continuously.
func (r *Registrar) ReportLevel(ctx context.Context, level float64) {
	id := r.NodeID()
	if id == "" {
		return
	}

	payload, err := json.Marshal(map[string]float64{"level": level})
	if err != nil {
		return
	}

	url := fmt.Sprintf("%s/api/nodes/%s/audio-level", r.config.BaseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
