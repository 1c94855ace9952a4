package health

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridwatch/vms/internal/data"
)

const (
	defaultInterval = 30 * time.Second
	defaultWorkers  = 8
	maxProbeTimeout = 10 * time.Second
)

// CameraLister supplies the probe targets each cycle.
type CameraLister interface {
	List(ctx context.Context) ([]*data.Camera, error)
}

// SecretOpener decrypts stored camera secrets.
type SecretOpener interface {
	Open(ciphertext string) (string, error)
}

// Reporter receives probe observations; the fleet routes them to the owning
// supervisor, which stays the single writer of camera status.
type Reporter interface {
	ReportHealth(ctx context.Context, id uuid.UUID, status data.CameraStatus, info data.StreamInfo, errMsg string)
}

type MonitorConfig struct {
	Interval time.Duration
	Workers  int
}

// Monitor probes every camera on a fixed cycle through a bounded worker pool.
// Each probe gets a third of the cycle as its timeout so a hung camera cannot
// starve the next sweep.
type Monitor struct {
	cfg      MonitorConfig
	cams     CameraLister
	vault    SecretOpener
	prober   Prober
	reporter Reporter

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewMonitor(cfg MonitorConfig, cams CameraLister, vault SecretOpener, prober Prober, reporter Reporter) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Monitor{
		cfg:      cfg,
		cams:     cams,
		vault:    vault,
		prober:   prober,
		reporter: reporter,
		quit:     make(chan struct{}),
	}
}

func (m *Monitor) probeTimeout() time.Duration {
	t := m.cfg.Interval / 3
	if t > maxProbeTimeout {
		t = maxProbeTimeout
	}
	return t
}

func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

func (m *Monitor) Stop() {
	close(m.quit)
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()

	jobs := make(chan *data.Camera, m.cfg.Workers*2)
	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker(jobs)
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.sweep(jobs)
	for {
		select {
		case <-ticker.C:
			m.sweep(jobs)
		case <-m.quit:
			close(jobs)
			return
		}
	}
}

// sweep queues every camera non-blocking; a full queue means the pool is
// still working through the previous cycle and the camera is skipped.
func (m *Monitor) sweep(jobs chan<- *data.Camera) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Interval)
	defer cancel()

	cams, err := m.cams.List(ctx)
	if err != nil {
		log.Printf("[health] list cameras: %v", err)
		return
	}

	skipped := 0
	for _, cam := range cams {
		select {
		case jobs <- cam:
		default:
			skipped++
		}
	}
	if skipped > 0 {
		log.Printf("[health] probe queue saturated, skipped %d cameras this cycle", skipped)
	}
}

func (m *Monitor) worker(jobs <-chan *data.Camera) {
	defer m.wg.Done()
	for cam := range jobs {
		m.check(cam)
	}
}

func (m *Monitor) check(cam *data.Camera) {
	ctx, cancel := context.WithTimeout(context.Background(), m.probeTimeout())
	defer cancel()

	password := ""
	if cam.Username != "" && cam.SecretEnc != "" {
		var err error
		password, err = m.vault.Open(cam.SecretEnc)
		if err != nil {
			log.Printf("[health] %s: credential decrypt failed: %v", cam.ID, err)
			m.reporter.ReportHealth(ctx, cam.ID, data.StatusError, data.StreamInfo{}, "credential_decrypt_failed")
			return
		}
	}

	res := m.prober.Probe(ctx, cam.RTSPURL, cam.Username, password)
	m.reporter.ReportHealth(ctx, cam.ID, res.Status, data.StreamInfo{}, res.Detail)
}
