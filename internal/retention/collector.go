package retention

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridwatch/vms/internal/data"
)

const (
	defaultSweepInterval = 24 * time.Hour
	maxJitter            = 10 * time.Minute
)

// CameraLister supplies the per-camera retention policies.
type CameraLister interface {
	List(ctx context.Context) ([]*data.Camera, error)
}

// RecordingStore lists and removes expired recordings. Active recordings
// (no end time) are never returned by ListExpired.
type RecordingStore interface {
	ListExpired(ctx context.Context, cameraID uuid.UUID, cutoff time.Time) ([]*data.Recording, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Collector deletes recordings older than each camera's retention window.
// It sweeps at startup and then once a day, with jitter so a fleet of nodes
// does not hammer shared storage at the same instant.
type Collector struct {
	cams     CameraLister
	recs     RecordingStore
	interval time.Duration

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewCollector(cams CameraLister, recs RecordingStore, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Collector{
		cams:     cams,
		recs:     recs,
		interval: interval,
		quit:     make(chan struct{}),
	}
}

func (c *Collector) Start() {
	c.wg.Add(1)
	go c.run()
}

func (c *Collector) Stop() {
	close(c.quit)
	c.wg.Wait()
}

func (c *Collector) run() {
	defer c.wg.Done()

	c.Sweep(context.Background())
	for {
		jitter := time.Duration(rand.Int63n(int64(maxJitter)))
		select {
		case <-time.After(c.interval + jitter):
			c.Sweep(context.Background())
		case <-c.quit:
			return
		}
	}
}

// Sweep applies every camera's retention policy once. A camera with
// retention disabled (zero days) is skipped entirely.
func (c *Collector) Sweep(ctx context.Context) {
	cams, err := c.cams.List(ctx)
	if err != nil {
		log.Printf("[retention] list cameras: %v", err)
		return
	}

	removed, failed := 0, 0
	for _, cam := range cams {
		days := cam.Recording.RetentionDays
		if days <= 0 {
			continue
		}
		cutoff := time.Now().UTC().AddDate(0, 0, -days)

		expired, err := c.recs.ListExpired(ctx, cam.ID, cutoff)
		if err != nil {
			log.Printf("[retention] %s: list expired: %v", cam.ID, err)
			continue
		}

		for _, rec := range expired {
			if err := c.remove(ctx, rec); err != nil {
				failed++
				log.Printf("[retention] %s: remove %s: %v", cam.ID, rec.ID, err)
				continue
			}
			removed++
		}
	}

	if removed > 0 || failed > 0 {
		log.Printf("[retention] sweep done: %d removed, %d failed", removed, failed)
	}
}

// remove deletes the file first, then the row. A file already gone is fine;
// any other filesystem error keeps the row so the next sweep retries.
func (c *Collector) remove(ctx context.Context, rec *data.Recording) error {
	if err := os.Remove(rec.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return c.recs.Delete(ctx, rec.ID)
}
