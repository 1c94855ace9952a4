package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridwatch/vms/internal/data"
)

// CameraLister supplies the camera set for gauge refresh.
type CameraLister interface {
	List(ctx context.Context) ([]*data.Camera, error)
}

// EventCounters exposes bus drop/publish totals.
type EventCounters interface {
	Dropped() int64
}

// ANPRCounters exposes recognition totals.
type ANPRCounters interface {
	EmittedTotal() int64
	SuppressedTotal() int64
}

// Collector owns the prometheus registry and refreshes its gauges from the
// live system on every scrape cycle.
type Collector struct {
	registry *prometheus.Registry

	cams CameraLister
	bus  EventCounters
	anpr ANPRCounters

	camerasByStatus *prometheus.GaugeVec
	camerasTotal    prometheus.Gauge
	busDropped      prometheus.Gauge
	anprEmitted     prometheus.Gauge
	anprSuppressed  prometheus.Gauge
}

func NewCollector(cams CameraLister, bus EventCounters, anpr ANPRCounters) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		cams:     cams,
		bus:      bus,
		anpr:     anpr,
	}

	c.camerasByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vms_cameras",
		Help: "Cameras by connection status",
	}, []string{"status"})
	reg.MustRegister(c.camerasByStatus)

	c.camerasTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vms_cameras_total",
		Help: "Total registered cameras",
	})
	reg.MustRegister(c.camerasTotal)

	c.busDropped = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vms_event_bus_dropped_total",
		Help: "Events discarded by slow subscribers",
	})
	reg.MustRegister(c.busDropped)

	c.anprEmitted = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vms_anpr_events_emitted_total",
		Help: "Accepted plate reads",
	})
	reg.MustRegister(c.anprEmitted)

	c.anprSuppressed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vms_anpr_events_suppressed_total",
		Help: "Plate reads suppressed as duplicates",
	})
	reg.MustRegister(c.anprSuppressed)

	return c
}

// Refresh recomputes every gauge. Called before each scrape by the handler.
func (c *Collector) Refresh(ctx context.Context) {
	if cams, err := c.cams.List(ctx); err == nil {
		counts := map[data.CameraStatus]int{
			data.StatusOnline:       0,
			data.StatusOffline:      0,
			data.StatusReconnecting: 0,
			data.StatusError:        0,
		}
		for _, cam := range cams {
			counts[cam.Status]++
		}
		for status, n := range counts {
			c.camerasByStatus.WithLabelValues(string(status)).Set(float64(n))
		}
		c.camerasTotal.Set(float64(len(cams)))
	}

	c.busDropped.Set(float64(c.bus.Dropped()))
	if c.anpr != nil {
		c.anprEmitted.Set(float64(c.anpr.EmittedTotal()))
		c.anprSuppressed.Set(float64(c.anpr.SuppressedTotal()))
	}
}

// Handler serves the registry, refreshing gauges first.
func (c *Collector) Handler() http.Handler {
	promHandler := promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		c.Refresh(ctx)
		promHandler.ServeHTTP(w, r)
	})
}
