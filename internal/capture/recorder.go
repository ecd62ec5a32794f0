package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/templegit9/sleep-system/internal/audio"
	"github.com/templegit9/sleep-system/internal/metrics"
	"github.com/templegit9/sleep-system/internal/store"
)

// Source produces blocks of PCM samples from an audio device. ReadBlock
// blocks until a full block is available or ctx is done.
type Source interface {
	ReadBlock(ctx context.Context) ([]int16, error)
	Close() error
}

// Observer receives recording progress notifications
type Observer interface {
	// ClipCompleted fires after a clip file is fully written and its
	// recording marker cleared
	ClipCompleted(name string, level float64)

	// LevelUpdated fires once per captured block with its level
	LevelUpdated(level float64)
}

// Config contains recorder configuration
type Config struct {
	SampleRate   int
	Channels     int
	ClipDuration time.Duration
}

// Recorder reads blocks from a capture source and writes fixed-duration WAV
// clips into the store. Each clip carries a recording marker for its whole
// write window so the upload loop never sees a half-written file.
type Recorder struct {
	source   Source
	store    *store.Store
	config   Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	observer Observer

	clipsRecorded uint64
	statsMu       sync.Mutex

	started bool
	runErr  error
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
}

// NewRecorder creates a recorder over the given source and store. Metrics
// and observer may be nil.
func NewRecorder(source Source, s *store.Store, config Config, logger *slog.Logger, m *metrics.Metrics, observer Observer) (*Recorder, error) {
	if source == nil {
		return nil, fmt.Errorf("capture source cannot be nil")
	}

	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}

	if config.Channels <= 0 {
		return nil, fmt.Errorf("channels must be positive, got %d", config.Channels)
	}

	if config.ClipDuration <= 0 {
		return nil, fmt.Errorf("clip duration must be positive, got %v", config.ClipDuration)
	}

	return &Recorder{
		source:   source,
		store:    s,
		config:   config,
		logger:   logger,
		metrics:  m,
		observer: observer,
	}, nil
}

// Start begins the capture loop. Idempotent.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	if err := r.store.EnsureDir(); err != nil {
		return fmt.Errorf("failed to prepare storage directory: %w", err)
	}

	// A fresh done channel per run, so a restarted loop cannot close the
	// channel a previous run already closed
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.started = true

	r.statsMu.Lock()
	r.runErr = nil
	r.statsMu.Unlock()

	go r.run(runCtx, r.done)

	r.logger.Info("Capture loop started",
		slog.Int("sample_rate", r.config.SampleRate),
		slog.Int("channels", r.config.Channels),
		slog.Duration("clip_duration", r.config.ClipDuration),
	)

	return nil
}

// Stop halts the capture loop, flushes the partial clip in progress and
// closes the source. The wait is bounded by ctx.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.cancel()
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("Timed out waiting for capture loop to stop")
	}

	if err := r.source.Close(); err != nil {
		r.logger.Warn("Error closing capture source", slog.String("error", err.Error()))
	}

	r.logger.Info("Capture loop stopped",
		slog.Uint64("clips_recorded", r.ClipsRecorded()),
	)

	return r.Err()
}

// Done is closed when the capture loop exits. An exit while the agent is
// running signals a source failure; check Err.
func (r *Recorder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Err returns the error that terminated the capture loop, if any
func (r *Recorder) Err() error {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.runErr
}

// ClipsRecorded returns the number of clips written since start
func (r *Recorder) ClipsRecorded() uint64 {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.clipsRecorded
}

// run records clips back to back until the context is canceled or the
// source fails
func (r *Recorder) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if err := r.recordClip(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}

			r.statsMu.Lock()
			r.runErr = err
			r.statsMu.Unlock()

			r.logger.Error("Capture source failed", slog.String("error", err.Error()))
			return
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// recordClip captures one clip. The recording marker is set before the clip
// file exists and cleared only after the file is fully written, so the clip
// is never visible to the upload loop in a partial state. On cancellation
// mid-clip the samples gathered so far are flushed as a short final clip.
func (r *Recorder) recordClip(ctx context.Context) error {
	start := time.Now()

	// Clip names have second resolution; skip ahead when a clip from the
	// same second already exists
	name := store.ClipName(start)
	for i := 1; r.clipExists(name); i++ {
		name = store.ClipName(start.Add(time.Duration(i) * time.Second))
	}

	if err := r.store.MarkRecording(name); err != nil {
		return fmt.Errorf("failed to mark clip recording: %w", err)
	}

	clipSamples := int(float64(r.config.SampleRate) * r.config.ClipDuration.Seconds())
	clipSamples *= r.config.Channels
	samples := make([]int16, 0, clipSamples)

	var readErr error
	for len(samples) < clipSamples {
		block, err := r.source.ReadBlock(ctx)
		if err != nil {
			readErr = err
			break
		}

		samples = append(samples, block...)

		if r.metrics != nil {
			r.metrics.RecordBlockCaptured()
		}
		if r.observer != nil {
			r.observer.LevelUpdated(audio.Level(block))
		}
	}

	if len(samples) == 0 {
		// Nothing captured; leave no trace of this clip
		if err := r.store.ClearRecording(name); err != nil {
			r.logger.Warn("Failed to clear recording marker",
				slog.String("clip", name),
				slog.String("error", err.Error()),
			)
		}
		return readErr
	}

	if err := r.finalizeClip(name, samples, time.Since(start)); err != nil {
		return err
	}

	return readErr
}

func (r *Recorder) clipExists(name string) bool {
	_, err := os.Stat(filepath.Join(r.store.Dir(), name))
	return err == nil
}

// finalizeClip encodes and writes the clip, then clears its recording marker
func (r *Recorder) finalizeClip(name string, samples []int16, elapsed time.Duration) error {
	data, err := audio.EncodeWAV(samples, r.config.SampleRate, r.config.Channels)
	if err != nil {
		return fmt.Errorf("failed to encode clip %s: %w", name, err)
	}

	path := filepath.Join(r.store.Dir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write clip %s: %w", name, err)
	}

	if err := r.store.ClearRecording(name); err != nil {
		return fmt.Errorf("failed to clear recording marker for %s: %w", name, err)
	}

	level := audio.Level(samples)

	r.statsMu.Lock()
	r.clipsRecorded++
	r.statsMu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordClipRecorded(elapsed.Seconds(), len(data), level)
	}

	r.logger.Info("Clip recorded",
		slog.String("clip", name),
		slog.Int("size_bytes", len(data)),
		slog.Float64("level", level),
		slog.Duration("duration", elapsed),
	)

	if r.observer != nil {
		r.observer.ClipCompleted(name, level)
	}

	return nil
}
