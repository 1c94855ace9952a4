package supervisor

import (
	"context"

	"github.com/gridwatch/vms/internal/data"
	"github.com/gridwatch/vms/internal/transcoder"
)

// send queues a command and waits for the loop's reply.
func (s *Supervisor) send(ctx context.Context, cmd command) cmdResult {
	cmd.reply = make(chan cmdResult, 1)

	select {
	case s.cmds <- cmd:
	case <-s.stopped:
		return cmdResult{err: ErrStopped}
	case <-ctx.Done():
		return cmdResult{err: ctx.Err()}
	}

	select {
	case res := <-cmd.reply:
		return res
	case <-s.stopped:
		return cmdResult{err: ErrStopped}
	case <-ctx.Done():
		return cmdResult{err: ctx.Err()}
	}
}

// Start brings an idle or failed camera up. Idempotent on a running pipeline.
func (s *Supervisor) Start(ctx context.Context) error {
	return s.send(ctx, command{kind: cmdStart}).err
}

// Stop tears the pipeline down, finalizing any active recording first.
func (s *Supervisor) Stop(ctx context.Context) error {
	return s.send(ctx, command{kind: cmdStop}).err
}

// Restart bounces the live child without interrupting an active recording.
func (s *Supervisor) Restart(ctx context.Context) error {
	return s.send(ctx, command{kind: cmdRestart}).err
}

func (s *Supervisor) BeginRecording(ctx context.Context) (*data.Recording, error) {
	res := s.send(ctx, command{kind: cmdBeginRecording})
	return res.recording, res.err
}

func (s *Supervisor) EndRecording(ctx context.Context) (*data.Recording, error) {
	res := s.send(ctx, command{kind: cmdEndRecording})
	return res.recording, res.err
}

// Snapshot captures one frame and returns its path. Requires the camera online.
func (s *Supervisor) Snapshot(ctx context.Context) (string, error) {
	res := s.send(ctx, command{kind: cmdSnapshot})
	return res.path, res.err
}

// UpdateConfig persists a configuration change and restarts the pipeline when
// the change requires it. An identical configuration is a no-op.
func (s *Supervisor) UpdateConfig(ctx context.Context, cfg *data.Camera) error {
	return s.send(ctx, command{kind: cmdUpdateConfig, cfg: cfg}).err
}

// Delete finalizes, stops, removes the camera's rows and terminates the loop.
func (s *Supervisor) Delete(ctx context.Context) error {
	return s.send(ctx, command{kind: cmdDelete}).err
}

// ReportHealth feeds a probe observation into the loop. Status writes stay
// serialized through the supervisor so it remains the single writer.
func (s *Supervisor) ReportHealth(ctx context.Context, status data.CameraStatus, info data.StreamInfo, errMsg string) {
	s.send(ctx, command{kind: cmdHealthReport, health: healthReport{status: status, info: info, errMsg: errMsg}})
}

// Done is closed once the loop has fully unwound.
func (s *Supervisor) Done() <-chan struct{} { return s.stopped }

// driverAdapter lifts *transcoder.Driver onto the MediaDriver interface;
// its concrete *Handle returns do not satisfy the interface signatures directly.
type driverAdapter struct {
	d *transcoder.Driver
}

// WrapDriver adapts the ffmpeg driver for supervisor use.
func WrapDriver(d *transcoder.Driver) MediaDriver { return driverAdapter{d: d} }

func (a driverAdapter) StartLiveSegmenter(ctx context.Context, cameraID, ingressURL string) (MediaHandle, error) {
	h, err := a.d.StartLiveSegmenter(ctx, cameraID, ingressURL)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (a driverAdapter) StartRecording(ctx context.Context, cameraID, ingressURL, outPath string) (MediaHandle, error) {
	h, err := a.d.StartRecording(ctx, cameraID, ingressURL, outPath)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (a driverAdapter) Snapshot(ctx context.Context, cameraID, ingressURL, outPath string) error {
	return a.d.Snapshot(ctx, cameraID, ingressURL, outPath)
}

var _ MediaHandle = (*transcoder.Handle)(nil)
