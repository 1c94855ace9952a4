package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const DefaultDataRoot = "/var/lib/vms"

// ResolveDataRoot returns the absolute path to the VMS data directory.
func ResolveDataRoot() string {
	root := os.Getenv("VMS_DATA_ROOT")
	if root == "" {
		root = DefaultDataRoot
	}
	return root
}

// Layout owns the on-disk media layout under a single data root.
// All media areas are partitioned by camera id; no two cameras share a file.
type Layout struct {
	Root string
}

func NewLayout(root string) Layout {
	if root == "" {
		root = ResolveDataRoot()
	}
	return Layout{Root: root}
}

func (l Layout) StreamsDir() string   { return filepath.Join(l.Root, "streams") }
func (l Layout) RecordsDir() string   { return filepath.Join(l.Root, "records") }
func (l Layout) SnapshotsDir() string { return filepath.Join(l.Root, "snapshots") }
func (l Layout) ANPRTempDir() string  { return filepath.Join(l.Root, "temp", "anpr") }

// LiveDir is where the segmenter writes the rolling playlist for a camera.
func (l Layout) LiveDir(cameraID string) string {
	return filepath.Join(l.StreamsDir(), cameraID, "live")
}

func (l Layout) PlaylistPath(cameraID string) string {
	return filepath.Join(l.LiveDir(cameraID), "index.m3u8")
}

func (l Layout) SegmentPattern(cameraID string) string {
	return filepath.Join(l.LiveDir(cameraID), "segment_%03d.ts")
}

// RecordingPath returns records/<id>/<YYYY-MM-DD>/recording_<ISO>.mp4.
func (l Layout) RecordingPath(cameraID string, start time.Time) string {
	day := start.Format("2006-01-02")
	name := fmt.Sprintf("recording_%s.mp4", FileTimestamp(start))
	return filepath.Join(l.RecordsDir(), cameraID, day, name)
}

func (l Layout) SnapshotPath(cameraID string, t time.Time) string {
	name := fmt.Sprintf("snapshot_%s.jpg", FileTimestamp(t))
	return filepath.Join(l.SnapshotsDir(), cameraID, name)
}

func (l Layout) ANPRFramePath(cameraID string, t time.Time) string {
	name := fmt.Sprintf("frame_%s_%d.jpg", cameraID, t.UnixMilli())
	return filepath.Join(l.ANPRTempDir(), name)
}

// FileTimestamp renders an RFC3339 timestamp with ':' and '.' replaced by '-'
// so it is safe in file names on every filesystem we care about.
func FileTimestamp(t time.Time) string {
	s := t.UTC().Format("2006-01-02T15:04:05.000Z")
	s = strings.ReplaceAll(s, ":", "-")
	s = strings.ReplaceAll(s, ".", "-")
	return s
}

// EnsureDirs creates the standard data subdirectories if they don't exist.
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{l.StreamsDir(), l.RecordsDir(), l.SnapshotsDir(), l.ANPRTempDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// EnsureCameraDirs creates the per-camera media directories.
func (l Layout) EnsureCameraDirs(cameraID string) error {
	for _, dir := range []string{
		l.LiveDir(cameraID),
		filepath.Join(l.RecordsDir(), cameraID),
		filepath.Join(l.SnapshotsDir(), cameraID),
	} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// SafeJoin joins path elements and ensures the result is within the base directory (no traversal).
func SafeJoin(base string, elements ...string) (string, error) {
	for _, el := range elements {
		if filepath.IsAbs(el) || strings.HasPrefix(el, `\\`) {
			return "", fmt.Errorf("path traversal attempt detected: absolute path not allowed in elements: %s", el)
		}
	}
	joined := filepath.Join(append([]string{base}, elements...)...)

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}

	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}

	if absJoined != absBase && !strings.HasPrefix(absJoined, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt detected: %s is outside %s", absJoined, absBase)
	}

	return absJoined, nil
}
