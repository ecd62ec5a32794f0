package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/templegit9/sleep-system/internal/agent"
	"github.com/templegit9/sleep-system/internal/config"
	"github.com/templegit9/sleep-system/internal/metrics"
)

// HTTPServer provides the local HTTP API for monitoring the agent
type HTTPServer struct {
	server  *http.Server
	logger  *slog.Logger
	config  *config.Config
	agent   *agent.Agent
	metrics *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates the status API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, a *agent.Agent, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		agent:     a,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/status", h.withMetrics("/status", h.handleStatus))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		if h.metrics != nil {
			h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

			if ww.statusCode >= 400 {
				errorType := "client_error"
				if ww.statusCode >= 500 {
					errorType = "server_error"
				}
				h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
			}
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// Handler returns the underlying handler, used by tests
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.agent.Status()
	uptime := time.Since(h.startTime)

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name": "homemic-agent",
			"mode": status.Mode,
		},
		"components": map[string]interface{}{
			"recorder": map[string]interface{}{
				"status":         "running",
				"clips_recorded": status.ClipsRecorded,
				"audio_level":    status.AudioLevel,
			},
			"uploader": map[string]interface{}{
				"status":         "running",
				"clips_uploaded": status.ClipsUploaded,
				"failed_uploads": status.FailedUploads,
				"pending_clips":  status.PendingClips,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.agent.Status())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration
	sanitizedConfig := map[string]interface{}{
		"agent": map[string]interface{}{
			"mode":      h.config.Agent.Mode,
			"device_id": h.config.Agent.DeviceID,
			"name":      h.config.Agent.Name,
			"location":  h.config.Agent.Location,
		},
		"server": map[string]interface{}{
			"base_url": h.config.Server.BaseURL,
			"timeout":  h.config.Server.Timeout,
		},
		"audio": map[string]interface{}{
			"sample_rate":   h.config.Audio.SampleRate,
			"channels":      h.config.Audio.Channels,
			"bit_depth":     h.config.Audio.BitDepth,
			"clip_duration": h.config.Audio.ClipDuration,
		},
		"storage": map[string]interface{}{
			"dir":              h.config.Storage.Dir,
			"poll_interval":    h.config.Storage.PollInterval,
			"reclaim_interval": h.config.Storage.ReclaimInterval,
			"retention_days":   h.config.Storage.RetentionDays,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "HomeMic Node Agent",
		"endpoints": map[string]interface{}{
			"GET /":        "API documentation",
			"GET /health":  "Agent health check",
			"GET /status":  "Agent status snapshot",
			"GET /config":  "Agent configuration",
			"GET /metrics": "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
