package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/templegit9/sleep-system/internal/capture"
	"github.com/templegit9/sleep-system/internal/config"
	"github.com/templegit9/sleep-system/internal/metrics"
	"github.com/templegit9/sleep-system/internal/registrar"
	"github.com/templegit9/sleep-system/internal/session"
	"github.com/templegit9/sleep-system/internal/store"
	"github.com/templegit9/sleep-system/internal/upload"
)

const (
	statusInterval      = time.Minute
	levelReportInterval = time.Second
)

// Status is a point-in-time snapshot of the agent for the status API and
// the periodic summary log
type Status struct {
	Mode          string  `json:"mode"`
	DeviceID      string  `json:"device_id"`
	SessionID     string  `json:"session_id,omitempty"`
	NodeID        string  `json:"node_id,omitempty"`
	Muted         bool    `json:"muted"`
	Uptime        string  `json:"uptime"`
	ClipsRecorded uint64  `json:"clips_recorded"`
	ClipsUploaded uint64  `json:"clips_uploaded"`
	FailedUploads uint64  `json:"failed_uploads"`
	PendingClips  int     `json:"pending_clips"`
	AudioLevel    float64 `json:"audio_level"`
}

// Agent wires capture, storage, upload and collector registration into one
// continuously recording node. The mode decides the collector personality
// once at startup: sleep mode tracks sessions, homemic mode registers the
// node and reports heartbeats and levels instead.
type Agent struct {
	config    *config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	store     *store.Store
	api       session.API
	recorder  *capture.Recorder
	uploader  *upload.Uploader
	registrar *registrar.Registrar // nil outside homemic mode

	startTime time.Time
	lastLevel float64
	levelMu   sync.RWMutex
}

// New assembles an agent from configuration and a capture source. Metrics
// may be nil.
func New(cfg *config.Config, source capture.Source, logger *slog.Logger, m *metrics.Metrics) (*Agent, error) {
	s := store.New(cfg.Storage.Dir)

	a := &Agent{
		config:    cfg,
		logger:    logger,
		metrics:   m,
		store:     s,
		startTime: time.Now(),
	}

	clientConfig := session.Config{
		BaseURL:  cfg.Server.BaseURL,
		DeviceID: cfg.Agent.DeviceID,
		Timeout:  cfg.Server.GetTimeout(),
	}

	switch cfg.Agent.Mode {
	case config.ModeSleep:
		client, err := session.NewClient(clientConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create session client: %w", err)
		}
		a.api = client

	case config.ModeHomeMic:
		client, err := session.NewStatic(clientConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create collector client: %w", err)
		}
		a.api = client

		reg, err := registrar.New(registrar.Config{
			BaseURL:  cfg.Server.BaseURL,
			Name:     cfg.Agent.Name,
			Location: cfg.Agent.Location,
			DataDir:  cfg.Agent.DataDir,
			Timeout:  cfg.Server.GetTimeout(),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create registrar: %w", err)
		}
		a.registrar = reg

	default:
		return nil, fmt.Errorf("unknown agent mode '%s'", cfg.Agent.Mode)
	}

	uploader, err := upload.NewUploader(s, a.api, upload.Config{
		PollInterval:    cfg.Storage.GetPollInterval(),
		ReclaimInterval: cfg.Storage.GetReclaimInterval(),
		Retention:       cfg.Storage.GetRetention(),
	}, logger, m, a)
	if err != nil {
		return nil, fmt.Errorf("failed to create uploader: %w", err)
	}
	a.uploader = uploader

	recorder, err := capture.NewRecorder(source, s, capture.Config{
		SampleRate:   cfg.Audio.SampleRate,
		Channels:     cfg.Audio.Channels,
		ClipDuration: cfg.Audio.GetClipDuration(),
	}, logger, m, a)
	if err != nil {
		return nil, fmt.Errorf("failed to create recorder: %w", err)
	}
	a.recorder = recorder

	return a, nil
}

// ClipCompleted implements capture.Observer. The level measured at record
// time is handed to the uploader so it need not re-read the file.
func (a *Agent) ClipCompleted(name string, level float64) {
	a.uploader.SetLiveLevel(name, level)
}

// LevelUpdated implements capture.Observer
func (a *Agent) LevelUpdated(level float64) {
	a.levelMu.Lock()
	a.lastLevel = level
	a.levelMu.Unlock()
}

// UploadCompleted implements upload.Observer
func (a *Agent) UploadCompleted(result upload.Result) {
	if a.config.Agent.Mode == config.ModeSleep {
		a.logger.Info("Sleep clip processed",
			slog.String("clip", result.Name),
			slog.String("session_id", result.SessionID),
		)
	}
}

// AudioLevel returns the most recently measured block level
func (a *Agent) AudioLevel() float64 {
	a.levelMu.RLock()
	defer a.levelMu.RUnlock()
	return a.lastLevel
}

// Status returns a snapshot of the agent
func (a *Agent) Status() Status {
	status := Status{
		Mode:          a.config.Agent.Mode,
		DeviceID:      a.config.Agent.DeviceID,
		SessionID:     a.api.SessionID(),
		Uptime:        time.Since(a.startTime).Round(time.Second).String(),
		ClipsRecorded: a.recorder.ClipsRecorded(),
		ClipsUploaded: a.uploader.UploadedCount(),
		FailedUploads: a.uploader.FailedCount(),
		PendingClips:  a.uploader.PendingCount(),
		AudioLevel:    a.AudioLevel(),
	}

	if a.registrar != nil {
		status.NodeID = a.registrar.NodeID()
		status.Muted = a.registrar.Muted()
	}

	return status
}

// Run starts all components and blocks until ctx is canceled or the capture
// source fails. Collector unavailability is never fatal; only a broken
// capture source stops the agent.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Agent starting",
		slog.String("mode", a.config.Agent.Mode),
		slog.String("device_id", a.config.Agent.DeviceID),
		slog.String("server", a.config.Server.BaseURL),
		slog.String("storage", a.store.Dir()),
		slog.Duration("clip_duration", a.config.Audio.GetClipDuration()),
	)

	if a.registrar != nil {
		if err := a.registrar.Register(ctx); err != nil {
			a.logger.Warn("Registration failed, continuing offline",
				slog.String("error", err.Error()),
			)
		}
	}

	if err := a.uploader.Start(ctx); err != nil {
		return fmt.Errorf("failed to start uploader: %w", err)
	}

	if err := a.recorder.Start(ctx); err != nil {
		a.shutdown()
		return fmt.Errorf("failed to start recorder: %w", err)
	}

	err := a.loop(ctx)
	a.shutdown()

	return err
}

// loop runs the periodic duties until shutdown
func (a *Agent) loop(ctx context.Context) error {
	statusTicker := time.NewTicker(statusInterval)
	defer statusTicker.Stop()

	var heartbeatCh, levelCh <-chan time.Time
	if a.registrar != nil {
		heartbeatTicker := time.NewTicker(a.config.Heartbeat.GetInterval())
		defer heartbeatTicker.Stop()
		heartbeatCh = heartbeatTicker.C

		levelTicker := time.NewTicker(levelReportInterval)
		defer levelTicker.Stop()
		levelCh = levelTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Shutdown requested")
			return nil

		case <-a.recorder.Done():
			if err := a.recorder.Err(); err != nil {
				return fmt.Errorf("capture stopped: %w", err)
			}
			return nil

		case <-statusTicker.C:
			a.logStatus()

		case <-heartbeatCh:
			a.heartbeat(ctx)

		case <-levelCh:
			a.registrar.ReportLevel(ctx, a.AudioLevel())
		}
	}
}

// heartbeat sends one heartbeat, re-registering when the collector has
// forgotten the node
func (a *Agent) heartbeat(ctx context.Context) {
	ok := a.registrar.Heartbeat(ctx)
	if a.metrics != nil {
		a.metrics.RecordHeartbeat(ok)
	}

	if !ok {
		if err := a.registrar.Register(ctx); err != nil {
			a.logger.Warn("Re-registration failed", slog.String("error", err.Error()))
		}
		return
	}

	if a.registrar.Muted() {
		a.logger.Info("Node is currently muted")
	}
}

// logStatus writes the once-a-minute summary line
func (a *Agent) logStatus() {
	status := a.Status()
	a.logger.Info("Status",
		slog.Uint64("clips_recorded", status.ClipsRecorded),
		slog.Uint64("clips_uploaded", status.ClipsUploaded),
		slog.Int("pending", status.PendingClips),
		slog.Float64("level", status.AudioLevel),
	)
}

// shutdown stops the recorder first so the final partial clip lands in the
// queue, flushes one upload pass, then stops the uploader which also ends
// the session
func (a *Agent) shutdown() {
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.recorder.Stop(stopCtx); err != nil {
		a.logger.Warn("Recorder stopped with error", slog.String("error", err.Error()))
	}

	a.uploader.DrainOnce(stopCtx)
	a.uploader.Stop(stopCtx)

	status := a.Status()
	a.logger.Info("Agent stopped",
		slog.Uint64("clips_recorded", status.ClipsRecorded),
		slog.Uint64("clips_uploaded", status.ClipsUploaded),
		slog.Int("pending", status.PendingClips),
	)
}
