package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	clipSuffix          = ".wav"
	recordingMarkSuffix = ".recording"
	uploadedMarkSuffix  = ".uploaded"
	clipTimestampLayout = "20060102_150405"
	clipFilenamePrefix  = "audio_"
)

// State describes the disposition of a clip in the store.
type State int

const (
	// StateRecording marks a clip whose audio file is still being written.
	StateRecording State = iota
	// StatePendingUpload marks a finalized clip awaiting delivery.
	StatePendingUpload
	// StateUploaded marks a clip confirmed delivered to the collector.
	StateUploaded
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StatePendingUpload:
		return "pending_upload"
	case StateUploaded:
		return "uploaded"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Clip describes one stored audio clip.
type Clip struct {
	Name    string // filename within the store, e.g. audio_20240101_020000.wav
	Path    string // absolute path of the audio file
	Size    int64
	ModTime time.Time
}

// Timestamp derives the capture time from the clip's timestamp-based
// filename, falling back to the file modification time when the name does
// not parse.
func (c Clip) Timestamp() time.Time {
	name := strings.TrimSuffix(c.Name, clipSuffix)
	name = strings.TrimPrefix(name, clipFilenamePrefix)

	ts, err := time.ParseInLocation(clipTimestampLayout, name, time.Local)
	if err != nil {
		return c.ModTime
	}

	return ts
}

// RetentionPolicy controls which uploaded clips Reclaim removes.
// A zero MaxAge reclaims every uploaded clip.
type RetentionPolicy struct {
	MaxAge time.Duration
}

// Store is a durable clip work queue backed by a single directory. Clip
// state is derived solely from the presence or absence of zero-byte sidecar
// marker files, so the queue is crash-consistent: on restart any clip
// without markers is pending and will be retried.
type Store struct {
	dir string
}

// New creates a Store rooted at dir. The directory is not created until
// EnsureDir is called.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the storage directory path.
func (s *Store) Dir() string {
	return s.dir
}

// EnsureDir creates the storage directory if it does not exist.
func (s *Store) EnsureDir() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", s.dir, err)
	}

	return nil
}

// ClipName builds a timestamp-derived clip filename for the given capture
// start time.
func ClipName(start time.Time) string {
	return clipFilenamePrefix + start.Format(clipTimestampLayout) + clipSuffix
}

// ClipPath returns the absolute path for a clip name within the store.
func (s *Store) ClipPath(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) markerPath(name, suffix string) string {
	return filepath.Join(s.dir, strings.TrimSuffix(name, clipSuffix)+suffix)
}

// State reports the current state of the named clip.
func (s *Store) State(name string) State {
	if s.IsRecording(name) {
		return StateRecording
	}
	if s.IsUploaded(name) {
		return StateUploaded
	}

	return StatePendingUpload
}

// IsRecording reports whether the clip's recording marker is present.
func (s *Store) IsRecording(name string) bool {
	_, err := os.Stat(s.markerPath(name, recordingMarkSuffix))
	return err == nil
}

// IsUploaded reports whether the clip's uploaded marker is present.
func (s *Store) IsUploaded(name string) bool {
	_, err := os.Stat(s.markerPath(name, uploadedMarkSuffix))
	return err == nil
}

// MarkRecording creates the recording marker for a clip. The capturer sets
// this before writing the audio file so the uploader never reads a partial
// clip.
func (s *Store) MarkRecording(name string) error {
	return s.touchMarker(s.markerPath(name, recordingMarkSuffix))
}

// ClearRecording removes the recording marker, transitioning the clip to
// pending upload. Removing an absent marker is not an error.
func (s *Store) ClearRecording(name string) error {
	err := os.Remove(s.markerPath(name, recordingMarkSuffix))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear recording marker for %s: %w", name, err)
	}

	return nil
}

// MarkUploaded creates the uploaded marker for a clip. It is idempotent:
// marking an already-uploaded clip succeeds and changes nothing.
func (s *Store) MarkUploaded(name string) error {
	return s.touchMarker(s.markerPath(name, uploadedMarkSuffix))
}

// touchMarker creates a zero-byte marker file. Marker creation is atomic
// from the reader's point of view because markers carry no content.
func (s *Store) touchMarker(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create marker %s: %w", path, err)
	}

	return f.Close()
}

// EnumeratePending returns all clips in pending-upload state, ordered
// lexicographically by filename. Timestamp-derived names make this roughly
// chronological. Clips still recording and clips already uploaded are
// excluded.
func (s *Store) EnumeratePending() ([]Clip, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read storage directory %s: %w", s.dir, err)
	}

	clips := make([]Clip, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, clipSuffix) {
			continue
		}

		if s.IsRecording(name) || s.IsUploaded(name) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		clips = append(clips, Clip{
			Name:    name,
			Path:    filepath.Join(s.dir, name),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(clips, func(i, j int) bool {
		return clips[i].Name < clips[j].Name
	})

	return clips, nil
}

// PendingCount returns the number of clips currently awaiting upload.
func (s *Store) PendingCount() (int, error) {
	clips, err := s.EnumeratePending()
	if err != nil {
		return 0, err
	}

	return len(clips), nil
}

// Reclaim deletes the audio file and uploaded marker of every uploaded clip
// matching the retention policy. Non-uploaded clips are never touched. File
// and marker removal are attempted together; if either fails the marker
// state stays consistent and the clip is retried on a later pass. Returns
// the number of clips fully reclaimed.
func (s *Store) Reclaim(policy RetentionPolicy) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read storage directory %s: %w", s.dir, err)
	}

	now := time.Now()
	reclaimed := 0
	var firstErr error

	for _, entry := range entries {
		markerName := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(markerName, uploadedMarkSuffix) {
			continue
		}

		clipName := strings.TrimSuffix(markerName, uploadedMarkSuffix) + clipSuffix
		clipPath := filepath.Join(s.dir, clipName)

		if policy.MaxAge > 0 {
			info, err := os.Stat(clipPath)
			if err == nil && now.Sub(info.ModTime()) < policy.MaxAge {
				continue
			}
		}

		// Remove the audio file first so a crash between the two removals
		// leaves the marker in place and the pass retries later.
		if err := os.Remove(clipPath); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to remove clip %s: %w", clipName, err)
			}
			continue
		}

		if err := os.Remove(filepath.Join(s.dir, markerName)); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to remove marker %s: %w", markerName, err)
			}
			continue
		}

		reclaimed++
	}

	return reclaimed, firstErr
}
