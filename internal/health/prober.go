package health

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/gridwatch/vms/internal/data"
)

// ProbeResult classifies one reachability check.
type ProbeResult struct {
	Status data.CameraStatus
	Detail string
	RTT    time.Duration
}

type Prober interface {
	Probe(ctx context.Context, rtspURL, username, password string) ProbeResult
}

// RTSPProber performs a minimal RTSP OPTIONS handshake over TCP. A 200 means
// online, 401/403 means the camera is reachable but rejects the credentials,
// anything else on an open socket is a stream error, and a failed dial or
// read is offline.
type RTSPProber struct{}

func NewRTSPProber() *RTSPProber { return &RTSPProber{} }

func (p *RTSPProber) Probe(ctx context.Context, rtspURL, username, password string) ProbeResult {
	start := time.Now()

	target, err := url.Parse(rtspURL)
	if err != nil {
		return ProbeResult{Status: data.StatusError, Detail: "invalid_url"}
	}
	if username != "" {
		target.User = url.UserPassword(username, password)
	}

	port := target.Port()
	if port == "" {
		port = "554"
	}
	addr := net.JoinHostPort(target.Hostname(), port)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return ProbeResult{Status: data.StatusOffline, Detail: "connection_refused_or_timeout"}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	req := fmt.Sprintf("OPTIONS %s RTSP/1.0\r\nCSeq: 1\r\nUser-Agent: gridwatch-vms/1.0\r\n\r\n", target.String())
	if _, err := conn.Write([]byte(req)); err != nil {
		return ProbeResult{Status: data.StatusOffline, Detail: "write_failed"}
	}

	statusLine, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return ProbeResult{Status: data.StatusOffline, Detail: "read_timeout"}
	}

	rtt := time.Since(start)
	parts := strings.SplitN(strings.TrimSpace(statusLine), " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "RTSP/") {
		return ProbeResult{Status: data.StatusError, Detail: "malformed_response", RTT: rtt}
	}

	switch parts[1] {
	case "200":
		return ProbeResult{Status: data.StatusOnline, Detail: "ok", RTT: rtt}
	case "401", "403":
		return ProbeResult{Status: data.StatusError, Detail: "unauthorized", RTT: rtt}
	default:
		return ProbeResult{Status: data.StatusError, Detail: "rtsp_" + parts[1], RTT: rtt}
	}
}
