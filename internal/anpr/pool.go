package anpr

import (
	"context"
	"log"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/gridwatch/vms/internal/data"
	"github.com/gridwatch/vms/internal/events"
	"github.com/gridwatch/vms/internal/platform/paths"
)

// SecretOpener decrypts stored camera secrets.
type SecretOpener interface {
	Open(ciphertext string) (string, error)
}

// Pool runs one recognition worker per camera with ANPR enabled. It follows
// the camera lifecycle on the event bus: added and updated events reconcile
// the worker set, deleted events tear the worker down.
type Pool struct {
	enabled   bool
	frames    FrameGrabber
	detector  Detector
	extractor Extractor
	store     EventStore
	bus       *events.Bus
	vault     SecretOpener
	layout    paths.Layout

	stats *Stats

	mu      sync.Mutex
	workers map[uuid.UUID]*runningWorker
	wg      sync.WaitGroup
	sub     *events.Subscriber
}

type runningWorker struct {
	worker *Worker
	cancel context.CancelFunc
}

func NewPool(enabled bool, frames FrameGrabber, detector Detector, extractor Extractor,
	store EventStore, bus *events.Bus, vault SecretOpener, layout paths.Layout) *Pool {

	return &Pool{
		enabled:   enabled,
		frames:    frames,
		detector:  detector,
		extractor: extractor,
		store:     store,
		bus:       bus,
		vault:     vault,
		layout:    layout,
		stats:     &Stats{},
		workers:   make(map[uuid.UUID]*runningWorker),
	}
}

func (p *Pool) Stats() *Stats { return p.stats }

// Start reconciles the initial camera set and begins following bus events.
func (p *Pool) Start(ctx context.Context, cams []*data.Camera) {
	if !p.enabled {
		log.Printf("[anpr] disabled, no workers started")
		return
	}
	for _, cam := range cams {
		p.apply(ctx, cam)
	}

	p.sub = p.bus.Subscribe(0)
	p.wg.Add(1)
	go p.follow(ctx)
}

func (p *Pool) follow(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-p.sub.C():
			if !ok {
				return
			}
			switch msg.Topic {
			case events.TopicCameraAdded, events.TopicCameraUpdated:
				if cam, ok := msg.Payload.(*data.Camera); ok {
					p.apply(ctx, cam)
				}
			case events.TopicCameraDeleted:
				if ref, ok := msg.Payload.(events.CameraRef); ok {
					p.remove(ref.ID)
				}
			}
		}
	}
}

// apply starts, restarts or removes the camera's worker to match its policy.
func (p *Pool) apply(ctx context.Context, cam *data.Camera) {
	if !cam.ANPR.Enabled {
		p.remove(cam.ID)
		return
	}

	ingress, err := p.resolveIngressURL(cam)
	if err != nil {
		log.Printf("[anpr:%s] cannot resolve ingress url: %v", cam.ID, err)
		p.remove(cam.ID)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if rw, ok := p.workers[cam.ID]; ok {
		rw.cancel()
		delete(p.workers, cam.ID)
	}

	// Each camera gets its own dedup window; the same plate crossing two
	// cameras must emit on both.
	w := NewWorker(cam, ingress, p.frames, p.detector, p.extractor,
		NewDedup(), p.store, p.bus, p.layout, p.stats)

	wctx, cancel := context.WithCancel(ctx)
	p.workers[cam.ID] = &runningWorker{worker: w, cancel: cancel}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		w.Run(wctx)
	}()
	log.Printf("[anpr:%s] worker started (sample every %s)", cam.ID, w.interval())
}

func (p *Pool) remove(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rw, ok := p.workers[id]; ok {
		rw.cancel()
		delete(p.workers, id)
		log.Printf("[anpr:%s] worker stopped", id)
	}
}

// Get returns the camera's worker for one-shot scans.
func (p *Pool) Get(id uuid.UUID) (*Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rw, ok := p.workers[id]
	if !ok {
		return nil, false
	}
	return rw.worker, true
}

// Stop cancels all workers and waits for them to drain.
func (p *Pool) Stop() {
	if p.sub != nil {
		p.sub.Unsubscribe()
	}
	p.mu.Lock()
	for id, rw := range p.workers {
		rw.cancel()
		delete(p.workers, id)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) resolveIngressURL(cam *data.Camera) (string, error) {
	u, err := url.Parse(cam.RTSPURL)
	if err != nil {
		return "", err
	}
	if cam.Username != "" {
		password := ""
		if cam.SecretEnc != "" {
			password, err = p.vault.Open(cam.SecretEnc)
			if err != nil {
				return "", err
			}
		}
		u.User = url.UserPassword(cam.Username, password)
	}
	return u.String(), nil
}
