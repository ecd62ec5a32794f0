package upload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/templegit9/sleep-system/internal/audio"
	"github.com/templegit9/sleep-system/internal/metrics"
	"github.com/templegit9/sleep-system/internal/session"
	"github.com/templegit9/sleep-system/internal/store"
)

// Result describes one successfully uploaded clip
type Result struct {
	Name      string
	Level     float64
	Duration  time.Duration
	SessionID string
}

// Observer receives upload completion notifications
type Observer interface {
	UploadCompleted(result Result)
}

// Config contains upload loop configuration
type Config struct {
	PollInterval    time.Duration
	ReclaimInterval time.Duration
	Retention       time.Duration
}

// Uploader drains the local clip queue to the collector. Delivery is at
// least once: a clip is marked uploaded only after the collector accepts it,
// and failed clips stay in the queue to be retried on the next poll. The
// queue is re-enumerated from disk every pass, so clips left over from a
// previous run are picked up without any recovery step.
type Uploader struct {
	store    *store.Store
	api      session.API
	config   Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	observer Observer

	// Levels computed at record time, keyed by clip name. Clips missing
	// from the cache (found on disk after a restart) are re-measured from
	// the file.
	liveLevels map[string]float64
	levelsMu   sync.Mutex

	uploadedCount uint64
	failedCount   uint64
	statsMu       sync.Mutex

	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
}

// NewUploader creates an uploader over the given store and collector client.
// Metrics and observer may be nil.
func NewUploader(s *store.Store, api session.API, config Config, logger *slog.Logger, m *metrics.Metrics, observer Observer) (*Uploader, error) {
	if config.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", config.PollInterval)
	}

	if config.ReclaimInterval <= 0 {
		config.ReclaimInterval = config.PollInterval
	}

	return &Uploader{
		store:      s,
		api:        api,
		config:     config,
		logger:     logger,
		metrics:    m,
		observer:   observer,
		liveLevels: make(map[string]float64),
	}, nil
}

// SetLiveLevel caches the level measured for a clip at record time so the
// upload pass does not re-read the file to compute it
func (u *Uploader) SetLiveLevel(name string, level float64) {
	u.levelsMu.Lock()
	u.liveLevels[name] = level
	u.levelsMu.Unlock()
}

func (u *Uploader) takeLevel(path, name string) float64 {
	u.levelsMu.Lock()
	level, ok := u.liveLevels[name]
	if ok {
		delete(u.liveLevels, name)
	}
	u.levelsMu.Unlock()

	if ok {
		return level
	}

	return audio.LevelFromFile(path)
}

// Start begins the upload loop. Idempotent. A session start failure is
// logged and not fatal; the session id may still be adopted from a later
// upload response.
func (u *Uploader) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.started {
		return nil
	}

	if err := u.store.EnsureDir(); err != nil {
		return fmt.Errorf("failed to prepare storage directory: %w", err)
	}

	if _, err := u.api.StartSession(ctx); err != nil {
		u.logger.Warn("Failed to start session, continuing without one",
			slog.String("error", err.Error()),
		)
	} else if u.metrics != nil && u.api.SessionID() != "" {
		u.metrics.RecordSessionStarted()
	}

	// A fresh done channel per run, so a restarted loop cannot close the
	// channel a previous run already closed
	runCtx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel
	u.done = make(chan struct{})
	u.started = true

	go u.run(runCtx, u.done)

	u.logger.Info("Upload loop started",
		slog.String("dir", u.store.Dir()),
		slog.Duration("poll_interval", u.config.PollInterval),
		slog.Duration("reclaim_interval", u.config.ReclaimInterval),
	)

	return nil
}

// Stop halts the upload loop and ends the active session. The wait for the
// in-flight pass is bounded by ctx.
func (u *Uploader) Stop(ctx context.Context) {
	u.mu.Lock()
	if !u.started {
		u.mu.Unlock()
		return
	}
	u.started = false
	u.cancel()
	done := u.done
	u.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		u.logger.Warn("Timed out waiting for upload loop to stop")
	}

	// ctx may already be expired after the wait; the final session end gets
	// its own bounded context so it still reaches the collector
	endCtx, endCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer endCancel()

	if u.api.EndSession(endCtx) {
		if u.metrics != nil {
			u.metrics.RecordSessionEnded()
		}
	}

	u.logger.Info("Upload loop stopped",
		slog.Uint64("uploaded", u.UploadedCount()),
		slog.Uint64("failed_attempts", u.FailedCount()),
	)
}

// run is the upload loop goroutine
func (u *Uploader) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	pollTicker := time.NewTicker(u.config.PollInterval)
	defer pollTicker.Stop()

	reclaimTicker := time.NewTicker(u.config.ReclaimInterval)
	defer reclaimTicker.Stop()

	// Immediate first pass picks up clips left over from a previous run
	u.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			u.drain(ctx)
		case <-reclaimTicker.C:
			u.reclaim()
		}
	}
}

// drain uploads every pending clip in queue order. Failures stop nothing:
// the clip stays pending and the pass moves on.
func (u *Uploader) drain(ctx context.Context) {
	pending, err := u.store.EnumeratePending()
	if err != nil {
		u.logger.Error("Failed to enumerate pending clips", slog.String("error", err.Error()))
		return
	}

	if u.metrics != nil {
		u.metrics.SetPendingClips(len(pending))
	}

	for _, clip := range pending {
		if ctx.Err() != nil {
			return
		}
		u.uploadClip(ctx, clip)
	}

	if u.metrics != nil {
		if count, err := u.store.PendingCount(); err == nil {
			u.metrics.SetPendingClips(count)
		}
	}
}

// uploadClip transfers one clip and marks it uploaded on success. State is
// rechecked against the filesystem before acting: the clip may have been
// completed by a concurrent pass or may still be mid-recording.
func (u *Uploader) uploadClip(ctx context.Context, clip store.Clip) {
	if u.store.IsRecording(clip.Name) || u.store.IsUploaded(clip.Name) {
		return
	}

	data, err := os.ReadFile(clip.Path)
	if err != nil {
		u.logger.Warn("Failed to read clip, skipping",
			slog.String("clip", clip.Name),
			slog.String("error", err.Error()),
		)
		return
	}

	level := u.takeLevel(clip.Path, clip.Name)

	start := time.Now()
	err = u.api.UploadClip(ctx, session.UploadRequest{
		Filename:  clip.Name,
		Data:      data,
		Timestamp: clip.Timestamp(),
		Level:     level,
	})
	elapsed := time.Since(start)

	if err != nil {
		u.statsMu.Lock()
		u.failedCount++
		u.statsMu.Unlock()

		if u.metrics != nil {
			u.metrics.RecordUploadFailure(elapsed.Seconds())
		}

		u.logger.Warn("Upload failed, clip remains queued",
			slog.String("clip", clip.Name),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := u.store.MarkUploaded(clip.Name); err != nil {
		// The collector has the clip; without the marker it will be
		// re-sent next pass. Acceptable under at-least-once delivery.
		u.logger.Error("Failed to mark clip uploaded",
			slog.String("clip", clip.Name),
			slog.String("error", err.Error()),
		)
		return
	}

	u.statsMu.Lock()
	u.uploadedCount++
	u.statsMu.Unlock()

	if u.metrics != nil {
		u.metrics.RecordUploadSuccess(elapsed.Seconds())
	}

	u.logger.Info("Clip uploaded",
		slog.String("clip", clip.Name),
		slog.Float64("level", level),
		slog.Duration("duration", elapsed),
		slog.String("session_id", u.api.SessionID()),
	)

	if u.observer != nil {
		u.observer.UploadCompleted(Result{
			Name:      clip.Name,
			Level:     level,
			Duration:  elapsed,
			SessionID: u.api.SessionID(),
		})
	}
}

// reclaim removes uploaded clips that have aged out of the retention window
func (u *Uploader) reclaim() {
	reclaimed, err := u.store.Reclaim(store.RetentionPolicy{MaxAge: u.config.Retention})
	if err != nil {
		u.logger.Warn("Reclamation pass reported errors",
			slog.Int("reclaimed", reclaimed),
			slog.String("error", err.Error()),
		)
	}

	if reclaimed > 0 {
		if u.metrics != nil {
			u.metrics.RecordClipsReclaimed(reclaimed)
		}
		u.logger.Info("Reclaimed uploaded clips", slog.Int("count", reclaimed))
	}
}

// DrainOnce runs a single upload pass synchronously. Used by tests and the
// shutdown path to flush without waiting for the poll ticker.
func (u *Uploader) DrainOnce(ctx context.Context) {
	u.drain(ctx)
}

// PendingCount returns the number of clips currently awaiting upload
func (u *Uploader) PendingCount() int {
	count, err := u.store.PendingCount()
	if err != nil {
		return 0
	}
	return count
}

// UploadedCount returns the number of clips uploaded since start
func (u *Uploader) UploadedCount() uint64 {
	u.statsMu.Lock()
	defer u.statsMu.Unlock()
	return u.uploadedCount
}

// FailedCount returns the number of failed upload attempts since start
func (u *Uploader) FailedCount() uint64 {
	u.statsMu.Lock()
	defer u.statsMu.Unlock()
	return u.failedCount
}
