package transcoder

import (
	"errors"
	"log"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

var ErrStillRunning = errors.New("process still running")

// Handle owns exactly one external media child process. It is the only way to
// observe or terminate that process; raw PIDs never cross a package boundary.
type Handle struct {
	CameraID string
	kind     string
	cmd      *exec.Cmd

	done chan struct{}

	mu       sync.Mutex
	exitErr  error
	exitCode int
	stopping bool
}

func newHandle(cameraID, kind string, cmd *exec.Cmd) (*Handle, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &Handle{
		CameraID: cameraID,
		kind:     kind,
		cmd:      cmd,
		done:     make(chan struct{}),
		exitCode: -1,
	}
	go h.watch()
	return h, nil
}

// watch delivers the child's exit exactly once through Done.
func (h *Handle) watch() {
	err := h.cmd.Wait()

	h.mu.Lock()
	h.exitErr = err
	if h.cmd.ProcessState != nil {
		h.exitCode = h.cmd.ProcessState.ExitCode()
	}
	stopping := h.stopping
	h.mu.Unlock()

	if err != nil && !stopping {
		log.Printf("[transcoder:%s] %s exited: %v", h.CameraID, h.kind, err)
	}
	close(h.done)
}

// Done closes when the child has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitCode returns the child's exit code, or ErrStillRunning before exit.
func (h *Handle) ExitCode() (int, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.exitCode, nil
	default:
		return 0, ErrStillRunning
	}
}

// Err returns the wait error after exit; nil for a clean exit.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.exitErr
	default:
		return ErrStillRunning
	}
}

// Stop requests a graceful shutdown: SIGTERM, wait up to grace, then SIGKILL.
// ffmpeg finalizes its output container on SIGTERM, so the grace period is
// what keeps recordings playable.
func (h *Handle) Stop(grace time.Duration) {
	if grace < 2*time.Second {
		grace = 2 * time.Second
	}

	h.mu.Lock()
	h.stopping = true
	h.mu.Unlock()

	if !h.Running() {
		return
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return
	}

	select {
	case <-h.done:
	case <-time.After(grace):
		log.Printf("[transcoder:%s] %s did not stop within %s, killing", h.CameraID, h.kind, grace)
		_ = h.cmd.Process.Kill()
		<-h.done
	}
}
