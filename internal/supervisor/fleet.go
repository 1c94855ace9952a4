package supervisor

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/gridwatch/vms/internal/data"
	"github.com/gridwatch/vms/internal/events"
	"github.com/gridwatch/vms/internal/platform/paths"
)

// Fleet owns one supervisor per camera and their lifecycles.
type Fleet struct {
	driver MediaDriver
	camsDB CameraStore
	recsDB RecordingStore
	bus    Publisher
	vault  SecretOpener
	layout paths.Layout
	opts   Options

	mu   sync.Mutex
	sups map[uuid.UUID]*Supervisor
	wg   sync.WaitGroup
	ctx  context.Context
}

func NewFleet(ctx context.Context, driver MediaDriver, camsDB CameraStore, recsDB RecordingStore,
	bus Publisher, vault SecretOpener, layout paths.Layout, opts Options) *Fleet {

	return &Fleet{
		driver: driver,
		camsDB: camsDB,
		recsDB: recsDB,
		bus:    bus,
		vault:  vault,
		layout: layout,
		opts:   opts,
		sups:   make(map[uuid.UUID]*Supervisor),
		ctx:    ctx,
	}
}

// Add registers a supervisor for cam and starts its loop. It does not start
// the pipeline; callers decide whether to Start.
func (f *Fleet) Add(cam *data.Camera) *Supervisor {
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.sups[cam.ID]; ok {
		return existing
	}

	s := New(cam, f.driver, f.camsDB, f.recsDB, f.bus, f.vault, f.layout, f.opts)
	f.sups[cam.ID] = s

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		s.Run(f.ctx)

		f.mu.Lock()
		if f.sups[cam.ID] == s {
			delete(f.sups, cam.ID)
		}
		f.mu.Unlock()
	}()

	return s
}

func (f *Fleet) Get(id uuid.UUID) (*Supervisor, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sups[id]
	return s, ok
}

// Each calls fn for every registered supervisor.
func (f *Fleet) Each(fn func(*Supervisor)) {
	f.mu.Lock()
	sups := make([]*Supervisor, 0, len(f.sups))
	for _, s := range f.sups {
		sups = append(sups, s)
	}
	f.mu.Unlock()

	for _, s := range sups {
		fn(s)
	}
}

// StartAll brings up every camera; used at boot.
func (f *Fleet) StartAll(ctx context.Context) {
	f.Each(func(s *Supervisor) {
		if err := s.Start(ctx); err != nil {
			log.Printf("[fleet] start %s: %v", s.CameraID(), err)
		}
	})
}

// StopAll tears down every pipeline and waits for the loops to unwind.
// Safe to call after the fleet context is cancelled.
func (f *Fleet) StopAll(ctx context.Context) {
	f.Each(func(s *Supervisor) {
		if err := s.Stop(ctx); err != nil && err != ErrStopped && ctx.Err() == nil {
			log.Printf("[fleet] stop %s: %v", s.CameraID(), err)
		}
	})
	f.wg.Wait()
}

// Delete removes the camera through its supervisor, which enforces the
// finalize-stop-delete ordering, and waits for the loop to terminate.
func (f *Fleet) Delete(ctx context.Context, id uuid.UUID) error {
	s, ok := f.Get(id)
	if !ok {
		return data.ErrRecordNotFound
	}
	if err := s.Delete(ctx); err != nil {
		return err
	}
	select {
	case <-s.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// ReportHealth forwards a probe observation to the camera's supervisor.
// Unknown cameras are ignored; the probe raced a delete.
func (f *Fleet) ReportHealth(ctx context.Context, id uuid.UUID, status data.CameraStatus, info data.StreamInfo, errMsg string) {
	if s, ok := f.Get(id); ok {
		s.ReportHealth(ctx, status, info, errMsg)
	}
}

var _ Publisher = (*events.Bus)(nil)
