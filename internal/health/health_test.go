package health

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwatch/vms/internal/data"
)

// fakeRTSPServer answers every OPTIONS request with the given status line.
func fakeRTSPServer(t *testing.T, statusLine string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				// Consume the request up to the blank line.
				r := bufio.NewReader(c)
				for {
					line, err := r.ReadString('\n')
					if err != nil || line == "\r\n" {
						break
					}
				}
				fmt.Fprintf(c, "%s\r\nCSeq: 1\r\n\r\n", statusLine)
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func probeCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRTSPProber_Online(t *testing.T) {
	addr := fakeRTSPServer(t, "RTSP/1.0 200 OK")
	p := NewRTSPProber()

	res := p.Probe(probeCtx(t), "rtsp://"+addr+"/stream", "", "")
	assert.Equal(t, data.StatusOnline, res.Status)
	assert.Equal(t, "ok", res.Detail)
	assert.Greater(t, res.RTT, time.Duration(0))
}

func TestRTSPProber_Unauthorized(t *testing.T) {
	addr := fakeRTSPServer(t, "RTSP/1.0 401 Unauthorized")
	p := NewRTSPProber()

	res := p.Probe(probeCtx(t), "rtsp://"+addr+"/stream", "viewer", "wrong")
	assert.Equal(t, data.StatusError, res.Status)
	assert.Equal(t, "unauthorized", res.Detail)
}

func TestRTSPProber_StreamError(t *testing.T) {
	addr := fakeRTSPServer(t, "RTSP/1.0 500 Internal Server Error")
	p := NewRTSPProber()

	res := p.Probe(probeCtx(t), "rtsp://"+addr+"/stream", "", "")
	assert.Equal(t, data.StatusError, res.Status)
	assert.Equal(t, "rtsp_500", res.Detail)
}

func TestRTSPProber_ConnectionRefused(t *testing.T) {
	// Grab a port and close it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	p := NewRTSPProber()
	res := p.Probe(probeCtx(t), "rtsp://"+addr+"/stream", "", "")
	assert.Equal(t, data.StatusOffline, res.Status)
}

func TestRTSPProber_InvalidURL(t *testing.T) {
	p := NewRTSPProber()
	res := p.Probe(probeCtx(t), "rtsp://host:bad:port//", "", "")
	assert.Equal(t, data.StatusError, res.Status)
	assert.Equal(t, "invalid_url", res.Detail)
}

type staticLister struct {
	cams []*data.Camera
}

func (l staticLister) List(context.Context) ([]*data.Camera, error) { return l.cams, nil }

type fakeProber struct {
	mu      sync.Mutex
	results map[uuid.UUID]ProbeResult
	probed  []string
}

func (p *fakeProber) Probe(_ context.Context, rtspURL, _, _ string) ProbeResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probed = append(p.probed, rtspURL)
	for _, res := range p.results {
		return res
	}
	return ProbeResult{Status: data.StatusOffline}
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []data.CameraStatus
}

func (r *recordingReporter) ReportHealth(_ context.Context, _ uuid.UUID, status data.CameraStatus, _ data.StreamInfo, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, status)
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

type plainVault struct{}

func (plainVault) Open(string) (string, error) { return "pw", nil }

func TestMonitor_SweepsAllCameras(t *testing.T) {
	cams := []*data.Camera{
		{ID: uuid.New(), RTSPURL: "rtsp://10.0.0.1/a"},
		{ID: uuid.New(), RTSPURL: "rtsp://10.0.0.2/b"},
		{ID: uuid.New(), RTSPURL: "rtsp://10.0.0.3/c"},
	}
	prober := &fakeProber{results: map[uuid.UUID]ProbeResult{uuid.Nil: {Status: data.StatusOnline, Detail: "ok"}}}
	rep := &recordingReporter{}

	m := NewMonitor(MonitorConfig{Interval: time.Hour, Workers: 2},
		staticLister{cams: cams}, plainVault{}, prober, rep)
	m.Start()
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for rep.count() < len(cams) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, len(cams), rep.count(), "initial sweep probes every camera")
}

func TestMonitor_ProbeTimeoutDerivedFromInterval(t *testing.T) {
	m := NewMonitor(MonitorConfig{Interval: 9 * time.Second}, staticLister{}, plainVault{}, &fakeProber{}, &recordingReporter{})
	assert.Equal(t, 3*time.Second, m.probeTimeout())

	m = NewMonitor(MonitorConfig{Interval: 2 * time.Minute}, staticLister{}, plainVault{}, &fakeProber{}, &recordingReporter{})
	assert.Equal(t, maxProbeTimeout, m.probeTimeout(), "capped")
}
