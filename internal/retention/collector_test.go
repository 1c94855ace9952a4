package retention

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwatch/vms/internal/data"
)

type staticCams struct {
	cams []*data.Camera
}

func (s staticCams) List(context.Context) ([]*data.Camera, error) { return s.cams, nil }

type memRecordings struct {
	mu      sync.Mutex
	expired map[uuid.UUID][]*data.Recording
	deleted []uuid.UUID
	cutoffs []time.Time
}

func (m *memRecordings) ListExpired(_ context.Context, cameraID uuid.UUID, cutoff time.Time) ([]*data.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoffs = append(m.cutoffs, cutoff)
	return m.expired[cameraID], nil
}

func (m *memRecordings) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	return nil
}

func writeRecordingFile(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, uuid.NewString()+".mp4")
	require.NoError(t, os.WriteFile(p, []byte("mp4"), 0o600))
	return p
}

func TestSweep_RemovesExpiredFileAndRow(t *testing.T) {
	dir := t.TempDir()
	cam := &data.Camera{ID: uuid.New(), Recording: data.RecordingPolicy{RetentionDays: 7}}
	rec := &data.Recording{ID: uuid.New(), CameraID: cam.ID, Path: writeRecordingFile(t, dir)}

	recs := &memRecordings{expired: map[uuid.UUID][]*data.Recording{cam.ID: {rec}}}
	c := NewCollector(staticCams{cams: []*data.Camera{cam}}, recs, time.Hour)

	c.Sweep(context.Background())

	_, err := os.Stat(rec.Path)
	assert.True(t, os.IsNotExist(err), "file removed")
	assert.Equal(t, []uuid.UUID{rec.ID}, recs.deleted, "row removed after the file")
}

func TestSweep_MissingFileStillDeletesRow(t *testing.T) {
	cam := &data.Camera{ID: uuid.New(), Recording: data.RecordingPolicy{RetentionDays: 7}}
	rec := &data.Recording{ID: uuid.New(), CameraID: cam.ID, Path: "/nonexistent/recording.mp4"}

	recs := &memRecordings{expired: map[uuid.UUID][]*data.Recording{cam.ID: {rec}}}
	c := NewCollector(staticCams{cams: []*data.Camera{cam}}, recs, time.Hour)

	c.Sweep(context.Background())
	assert.Equal(t, []uuid.UUID{rec.ID}, recs.deleted, "a file already gone is not an error")
}

func TestSweep_ZeroRetentionSkipsCamera(t *testing.T) {
	cam := &data.Camera{ID: uuid.New(), Recording: data.RecordingPolicy{RetentionDays: 0}}
	recs := &memRecordings{expired: map[uuid.UUID][]*data.Recording{}}
	c := NewCollector(staticCams{cams: []*data.Camera{cam}}, recs, time.Hour)

	c.Sweep(context.Background())
	assert.Empty(t, recs.cutoffs, "retention disabled, no query issued")
}

func TestSweep_CutoffReflectsPolicy(t *testing.T) {
	cam := &data.Camera{ID: uuid.New(), Recording: data.RecordingPolicy{RetentionDays: 30}}
	recs := &memRecordings{expired: map[uuid.UUID][]*data.Recording{}}
	c := NewCollector(staticCams{cams: []*data.Camera{cam}}, recs, time.Hour)

	before := time.Now().UTC().AddDate(0, 0, -30)
	c.Sweep(context.Background())
	after := time.Now().UTC().AddDate(0, 0, -30)

	require.Len(t, recs.cutoffs, 1)
	cutoff := recs.cutoffs[0]
	assert.False(t, cutoff.Before(before))
	assert.False(t, cutoff.After(after))
}

func TestCollector_StartSweepsImmediately(t *testing.T) {
	dir := t.TempDir()
	cam := &data.Camera{ID: uuid.New(), Recording: data.RecordingPolicy{RetentionDays: 1}}
	rec := &data.Recording{ID: uuid.New(), CameraID: cam.ID, Path: writeRecordingFile(t, dir)}

	recs := &memRecordings{expired: map[uuid.UUID][]*data.Recording{cam.ID: {rec}}}
	c := NewCollector(staticCams{cams: []*data.Camera{cam}}, recs, time.Hour)

	c.Start()
	defer c.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		recs.mu.Lock()
		n := len(recs.deleted)
		recs.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("startup sweep did not run")
}
