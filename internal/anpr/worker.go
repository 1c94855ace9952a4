package anpr

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/gridwatch/vms/internal/data"
	"github.com/gridwatch/vms/internal/events"
	"github.com/gridwatch/vms/internal/platform/paths"
)

var ErrSuppressed = errors.New("duplicate plate read suppressed")

const (
	frameTimeout = 5 * time.Second
	inferTimeout = 15 * time.Second
)

// FrameGrabber pulls one frame from a camera ingress onto disk.
// Implemented by the transcoder driver.
type FrameGrabber interface {
	ExtractFrame(ctx context.Context, ingressURL, outPath string) error
}

type EventStore interface {
	Create(ctx context.Context, e *data.ANPREvent) error
}

type Publisher interface {
	Publish(topic events.Topic, payload any)
}

// Stats counts recognition outcomes across all workers.
type Stats struct {
	Emitted    atomic.Int64
	Suppressed atomic.Int64
}

func (s *Stats) EmittedTotal() int64    { return s.Emitted.Load() }
func (s *Stats) SuppressedTotal() int64 { return s.Suppressed.Load() }

// Worker samples one camera's stream on a fixed cadence and runs the
// two-stage recognition pipeline on each frame: detect plate regions,
// then read the text from every region above the camera's confidence
// threshold. The dedup window is the worker's own; plates repeat freely
// across cameras.
type Worker struct {
	camID      string
	ingressURL string
	policy     data.ANPRPolicy

	frames    FrameGrabber
	detector  Detector
	extractor Extractor
	dedup     *Dedup
	store     EventStore
	bus       Publisher
	layout    paths.Layout
	stats     *Stats

	event data.ANPREvent // template carrying the camera id
}

func NewWorker(cam *data.Camera, ingressURL string, frames FrameGrabber, detector Detector,
	extractor Extractor, dedup *Dedup, store EventStore, bus Publisher,
	layout paths.Layout, stats *Stats) *Worker {

	policy := cam.ANPR
	if policy.SampleRate <= 0 {
		policy.SampleRate = 1
	}
	return &Worker{
		camID:      cam.ID.String(),
		ingressURL: ingressURL,
		policy:     policy,
		frames:     frames,
		detector:   detector,
		extractor:  extractor,
		dedup:      dedup,
		store:      store,
		bus:        bus,
		layout:     layout,
		stats:      stats,
		event:      data.ANPREvent{CameraID: cam.ID},
	}
}

func (w *Worker) interval() time.Duration {
	return time.Duration(w.policy.SampleRate) * time.Second
}

// Run samples until ctx is cancelled. A failed cycle is logged and the next
// tick proceeds; sampling errors are expected while a camera reconnects.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ScanOnce(ctx); err != nil &&
				!errors.Is(err, ErrNoDetection) && !errors.Is(err, ErrSuppressed) && ctx.Err() == nil {
				log.Printf("[anpr:%s] scan: %v", w.camID, err)
			}
		}
	}
}

// ScanOnce runs one full recognition cycle immediately, outside the sampling
// cadence. Deduplication still applies. The temp frame is removed on every
// path; an accepted read promotes it to a permanent snapshot instead.
func (w *Worker) ScanOnce(ctx context.Context) (*data.ANPREvent, error) {
	now := time.Now().UTC()
	framePath := w.layout.ANPRFramePath(w.camID, now)
	keepFrame := false
	defer func() {
		if !keepFrame {
			os.Remove(framePath)
		}
	}()

	fctx, cancel := context.WithTimeout(ctx, frameTimeout)
	err := w.frames.ExtractFrame(fctx, w.ingressURL, framePath)
	cancel()
	if err != nil {
		return nil, err
	}

	ictx, cancel := context.WithTimeout(ctx, inferTimeout)
	defer cancel()

	dets, err := w.detector.Detect(ictx, framePath)
	if err != nil {
		return nil, err
	}

	// Every region above the camera threshold gets its own read; highest
	// detector confidence first so the returned event is the strongest one.
	sort.Slice(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })

	type read struct {
		plate string
		det   Detection
	}
	var accepted []read
	suppressed := false
	for _, det := range dets {
		if det.Confidence < w.policy.MinConfidence {
			continue
		}
		text, err := w.extractor.Extract(ictx, framePath, det.BBox)
		if err != nil {
			return nil, err
		}
		plate := NormalizePlate(text)
		if plate == "" {
			continue
		}
		if w.dedup.IsDuplicate(plate, now) {
			w.stats.Suppressed.Add(1)
			suppressed = true
			continue
		}
		accepted = append(accepted, read{plate: plate, det: det})
	}
	if len(accepted) == 0 {
		if suppressed {
			return nil, ErrSuppressed
		}
		return nil, ErrNoDetection
	}

	// A cancelled scan must not emit a half-finished event.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	snapshotPath := w.layout.SnapshotPath(w.camID, now)
	if err := os.MkdirAll(filepath.Dir(snapshotPath), 0o750); err != nil {
		return nil, err
	}
	if err := os.Rename(framePath, snapshotPath); err != nil {
		return nil, err
	}
	keepFrame = true

	var first *data.ANPREvent
	for _, rd := range accepted {
		event := w.event
		event.Timestamp = now
		event.Plate = rd.plate
		event.Confidence = rd.det.Confidence
		event.SnapshotPath = snapshotPath
		event.BBox = rd.det.BBox

		if err := w.store.Create(ctx, &event); err != nil {
			return nil, err
		}
		w.bus.Publish(events.TopicANPREvent, &event)
		w.stats.Emitted.Add(1)
		if first == nil {
			first = &event
		}
	}
	return first, nil
}
