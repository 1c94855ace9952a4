package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/gridwatch/vms/internal/data"
	"github.com/gridwatch/vms/internal/events"
	"github.com/gridwatch/vms/internal/platform/paths"
)

type State string

const (
	StateIdle         State = "idle"
	StateStarting     State = "starting"
	StateOnline       State = "online"
	StateReconnecting State = "reconnecting"
	StateRestarting   State = "restarting"
	StateStopping     State = "stopping"
	StateFailed       State = "failed"
)

var (
	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
	ErrUnavailable      = errors.New("camera is not online")
	ErrStopped          = errors.New("supervisor stopped")
)

// MediaHandle is the supervisor's view of one child process.
type MediaHandle interface {
	Stop(grace time.Duration)
	Done() <-chan struct{}
	Running() bool
	Err() error
}

// MediaDriver spawns child processes. Implemented by the transcoder driver.
type MediaDriver interface {
	StartLiveSegmenter(ctx context.Context, cameraID, ingressURL string) (MediaHandle, error)
	StartRecording(ctx context.Context, cameraID, ingressURL, outPath string) (MediaHandle, error)
	Snapshot(ctx context.Context, cameraID, ingressURL, outPath string) error
}

type CameraStore interface {
	SetStatus(ctx context.Context, id uuid.UUID, status data.CameraStatus, info data.StreamInfo) error
	Update(ctx context.Context, c *data.Camera) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type RecordingStore interface {
	Create(ctx context.Context, r *data.Recording) error
	Finalize(ctx context.Context, id uuid.UUID, end time.Time, sizeBytes int64) (*data.Recording, error)
	GetActive(ctx context.Context, cameraID uuid.UUID) (*data.Recording, error)
}

type Publisher interface {
	Publish(topic events.Topic, payload any)
}

// SecretOpener decrypts stored camera secrets. Implemented by the vault.
type SecretOpener interface {
	Open(ciphertext string) (string, error)
}

// Options carries the tunable timeouts. Zero values take the defaults.
type Options struct {
	TerminateGrace  time.Duration // >= 2s
	SnapshotTimeout time.Duration
	GiveUp          int // consecutive failures before Failed
}

func (o Options) withDefaults() Options {
	if o.TerminateGrace < 2*time.Second {
		o.TerminateGrace = 2 * time.Second
	}
	if o.SnapshotTimeout <= 0 {
		o.SnapshotTimeout = 5 * time.Second
	}
	return o
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdRestart
	cmdBeginRecording
	cmdEndRecording
	cmdSnapshot
	cmdUpdateConfig
	cmdDelete
	cmdHealthReport
)

type healthReport struct {
	status data.CameraStatus
	info   data.StreamInfo
	errMsg string
}

type command struct {
	kind   cmdKind
	cfg    *data.Camera
	health healthReport
	reply  chan cmdResult
}

type cmdResult struct {
	recording *data.Recording
	path      string
	err       error
}

// Supervisor owns every per-camera resource: the live and record children,
// the segment watcher, and write access to the camera's status. All commands
// are serialized through a single goroutine (single-writer discipline).
type Supervisor struct {
	cam    *data.Camera
	driver MediaDriver
	camsDB CameraStore
	recsDB RecordingStore
	bus    Publisher
	vault  SecretOpener
	layout paths.Layout
	opts   Options

	cmds    chan command
	stopped chan struct{}

	// loop-owned state; never touched outside run()
	state         State
	lastStatus    data.CameraStatus
	live          MediaHandle
	rec           MediaHandle
	activeRec     *data.Recording
	backoff       *backoff
	onlineSince   time.Time
	retryTimer    *time.Timer
	segmentFound  <-chan struct{}
	stopWatch     func()
	pendingRecord bool

	watchSegments func(dir string) (<-chan struct{}, func())
}

func New(cam *data.Camera, driver MediaDriver, camsDB CameraStore, recsDB RecordingStore,
	bus Publisher, vault SecretOpener, layout paths.Layout, opts Options) *Supervisor {

	return &Supervisor{
		cam:           cam,
		driver:        driver,
		camsDB:        camsDB,
		recsDB:        recsDB,
		bus:           bus,
		vault:         vault,
		layout:        layout,
		opts:          opts.withDefaults(),
		cmds:          make(chan command, 16),
		stopped:       make(chan struct{}),
		state:         StateIdle,
		lastStatus:    cam.Status,
		backoff:       newBackoff(opts.GiveUp),
		watchSegments: watchFirstSegment,
	}
}

func (s *Supervisor) CameraID() uuid.UUID { return s.cam.ID }

func (s *Supervisor) setState(st State) { s.state = st }

// Run drives the state machine until ctx is cancelled or the camera is
// deleted. Cancellation unwinds deterministically: timers stop, children get
// a graceful terminate, then the loop returns.
func (s *Supervisor) Run(ctx context.Context) {
	defer close(s.stopped)
	defer s.unwind()

	for {
		select {
		case <-ctx.Done():
			return

		case cmd := <-s.cmds:
			if s.handleCommand(ctx, cmd) {
				return
			}

		case <-s.liveDone():
			s.onLiveExit(ctx)

		case <-s.recDone():
			s.onRecordExit(ctx, "")

		case <-s.segmentCh():
			s.onFirstSegment(ctx)

		case <-s.retryCh():
			s.retryTimer = nil
			s.startLive(ctx)
		}
	}
}

// nil-channel helpers: a nil channel never fires in select.
func (s *Supervisor) liveDone() <-chan struct{} {
	if s.live == nil {
		return nil
	}
	return s.live.Done()
}

func (s *Supervisor) recDone() <-chan struct{} {
	if s.rec == nil {
		return nil
	}
	return s.rec.Done()
}

func (s *Supervisor) segmentCh() <-chan struct{} { return s.segmentFound }

func (s *Supervisor) retryCh() <-chan time.Time {
	if s.retryTimer == nil {
		return nil
	}
	return s.retryTimer.C
}

// handleCommand returns true when the supervisor must terminate.
func (s *Supervisor) handleCommand(ctx context.Context, cmd command) (terminate bool) {
	var res cmdResult

	switch cmd.kind {
	case cmdStart:
		s.commandStart(ctx)
	case cmdStop:
		s.commandStop(ctx)
	case cmdRestart:
		s.restartLive(ctx)
	case cmdBeginRecording:
		res.recording, res.err = s.beginRecording(ctx)
	case cmdEndRecording:
		res.recording, res.err = s.endRecording(ctx, time.Now().UTC())
	case cmdSnapshot:
		res.path, res.err = s.snapshot(ctx)
	case cmdUpdateConfig:
		res.err = s.applyConfig(ctx, cmd.cfg)
	case cmdDelete:
		res.err = s.deleteCamera(ctx)
		terminate = res.err == nil
	case cmdHealthReport:
		s.applyHealth(ctx, cmd.health)
	}

	if cmd.reply != nil {
		cmd.reply <- res
	}
	return terminate
}

func (s *Supervisor) commandStart(ctx context.Context) {
	switch s.state {
	case StateIdle, StateFailed:
		s.backoff.reset()
		s.startLive(ctx)
	default:
		// Already started; idempotent.
	}
}

func (s *Supervisor) commandStop(ctx context.Context) {
	if s.state == StateIdle {
		return
	}
	s.setState(StateStopping)
	s.finalizeRecording(ctx, time.Now().UTC())
	s.stopLive()
	s.clearRetry()
	s.setState(StateIdle)
	s.setStatus(ctx, data.StatusOffline, data.StreamInfo{}, "")
}

// startLive spawns the segmenter and arms the first-segment watcher.
func (s *Supervisor) startLive(ctx context.Context) {
	ingress, err := s.resolveIngressURL()
	if err != nil {
		log.Printf("[supervisor:%s] cannot resolve ingress url: %v", s.cam.ID, err)
		s.fail(ctx, err.Error())
		return
	}
	if err := s.layout.EnsureCameraDirs(s.cam.ID.String()); err != nil {
		s.fail(ctx, err.Error())
		return
	}

	h, err := s.driver.StartLiveSegmenter(ctx, s.cam.ID.String(), ingress)
	if err != nil {
		log.Printf("[supervisor:%s] segmenter spawn failed: %v", s.cam.ID, err)
		s.scheduleRetry(ctx)
		return
	}
	s.live = h
	if s.state != StateReconnecting {
		s.setState(StateStarting)
	}
	s.armSegmentWatch()
}

func (s *Supervisor) armSegmentWatch() {
	s.disarmSegmentWatch()
	s.segmentFound, s.stopWatch = s.watchSegments(s.layout.LiveDir(s.cam.ID.String()))
}

func (s *Supervisor) disarmSegmentWatch() {
	if s.stopWatch != nil {
		s.stopWatch()
		s.stopWatch = nil
		s.segmentFound = nil
	}
}

func (s *Supervisor) onFirstSegment(ctx context.Context) {
	if s.state != StateStarting && s.state != StateReconnecting {
		return
	}
	s.disarmSegmentWatch()
	s.setState(StateOnline)
	s.onlineSince = time.Now()
	s.backoff.reset()
	s.setStatus(ctx, data.StatusOnline, data.StreamInfo{}, "")

	// Continuous policy: the record child is kept alive whenever online.
	if s.pendingRecord || (s.cam.Recording.Mode == data.RecordContinuous && s.activeRec == nil) {
		s.pendingRecord = false
		if _, err := s.beginRecording(ctx); err != nil && !errors.Is(err, ErrAlreadyRecording) {
			log.Printf("[supervisor:%s] continuous recording start failed: %v", s.cam.ID, err)
		}
	}
}

func (s *Supervisor) onLiveExit(ctx context.Context) {
	err := s.live.Err()
	s.live = nil
	s.disarmSegmentWatch()

	switch s.state {
	case StateStarting:
		// Exited before producing a single segment: configuration or auth
		// problem, not a network blip.
		log.Printf("[supervisor:%s] segmenter exited before first segment: %v", s.cam.ID, err)
		s.fail(ctx, "segmenter exited before producing output")

	case StateOnline, StateReconnecting:
		s.backoff.observeStable(s.onlineSince, time.Now())
		s.onlineSince = time.Time{}
		s.scheduleRetry(ctx)

	case StateStopping, StateRestarting, StateIdle, StateFailed:
		// Expected during teardown.
	}
}

func (s *Supervisor) scheduleRetry(ctx context.Context) {
	delay, ok := s.backoff.next()
	if !ok {
		s.fail(ctx, "retry budget exhausted")
		return
	}
	s.setState(StateReconnecting)
	s.setStatus(ctx, data.StatusReconnecting, data.StreamInfo{}, "")
	s.clearRetry()
	s.retryTimer = time.NewTimer(delay)
	log.Printf("[supervisor:%s] segmenter restart in %s (failure %d)", s.cam.ID, delay, s.backoff.failures)
}

func (s *Supervisor) clearRetry() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (s *Supervisor) fail(ctx context.Context, reason string) {
	s.stopLive()
	s.clearRetry()
	s.disarmSegmentWatch()
	s.setState(StateFailed)
	s.setStatus(ctx, data.StatusError, data.StreamInfo{}, reason)
}

// restartLive bounces the live child without touching an active recording.
func (s *Supervisor) restartLive(ctx context.Context) {
	s.setState(StateRestarting)
	s.stopLive()
	s.clearRetry()
	s.backoff.reset()
	s.startLive(ctx)
}

func (s *Supervisor) stopLive() {
	if s.live != nil {
		s.live.Stop(s.opts.TerminateGrace)
		s.live = nil
	}
	s.disarmSegmentWatch()
}

func (s *Supervisor) beginRecording(ctx context.Context) (*data.Recording, error) {
	if s.activeRec != nil {
		return nil, ErrAlreadyRecording
	}

	ingress, err := s.resolveIngressURL()
	if err != nil {
		return nil, err
	}

	start := time.Now().UTC()
	outPath := s.layout.RecordingPath(s.cam.ID.String(), start)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return nil, err
	}

	rec := &data.Recording{
		CameraID:  s.cam.ID,
		StartTime: start,
		Path:      outPath,
		Format:    "mp4",
	}
	if err := s.recsDB.Create(ctx, rec); err != nil {
		return nil, err
	}

	h, err := s.driver.StartRecording(ctx, s.cam.ID.String(), ingress, outPath)
	if err != nil {
		// Spawn failed: the row must not linger as a phantom active recording.
		if _, ferr := s.recsDB.Finalize(ctx, rec.ID, start, 0); ferr != nil {
			log.Printf("[supervisor:%s] orphan recording finalize failed: %v", s.cam.ID, ferr)
		}
		return nil, err
	}

	s.rec = h
	s.activeRec = rec
	s.bus.Publish(events.TopicRecordingStarted, rec)
	return rec, nil
}

func (s *Supervisor) endRecording(ctx context.Context, end time.Time) (*data.Recording, error) {
	if s.activeRec == nil {
		return nil, ErrNotRecording
	}
	rec := s.finalizeRecording(ctx, end)
	if rec == nil {
		return nil, ErrNotRecording
	}
	return rec, nil
}

// finalizeRecording stops the record child and closes the row; it is the
// single path for every way a recording can end.
func (s *Supervisor) finalizeRecording(ctx context.Context, end time.Time) *data.Recording {
	if s.activeRec == nil {
		return nil
	}
	if s.rec != nil {
		s.rec.Stop(s.opts.TerminateGrace)
		s.rec = nil
	}

	var size int64
	if info, err := os.Stat(s.activeRec.Path); err == nil {
		size = info.Size()
	}

	final, err := s.recsDB.Finalize(ctx, s.activeRec.ID, end, size)
	if err != nil {
		log.Printf("[supervisor:%s] recording finalize failed: %v", s.cam.ID, err)
		final = s.activeRec
	}
	s.activeRec = nil
	s.bus.Publish(events.TopicRecordingStopped, final)
	return final
}

// onRecordExit handles the record child terminating on its own.
func (s *Supervisor) onRecordExit(ctx context.Context, _ string) {
	if s.rec == nil {
		return
	}
	log.Printf("[supervisor:%s] record child exited: %v", s.cam.ID, s.rec.Err())
	s.rec = nil
	s.finalizeRecording(ctx, time.Now().UTC())

	if s.cam.Recording.Mode == data.RecordContinuous && s.state == StateOnline {
		if _, err := s.beginRecording(ctx); err != nil {
			log.Printf("[supervisor:%s] continuous recording restart failed: %v", s.cam.ID, err)
		}
	}
}

func (s *Supervisor) snapshot(ctx context.Context) (string, error) {
	if s.state != StateOnline {
		return "", ErrUnavailable
	}
	ingress, err := s.resolveIngressURL()
	if err != nil {
		return "", err
	}

	outPath := s.layout.SnapshotPath(s.cam.ID.String(), time.Now().UTC())
	sctx, cancel := context.WithTimeout(ctx, s.opts.SnapshotTimeout)
	defer cancel()

	if err := s.driver.Snapshot(sctx, s.cam.ID.String(), ingress, outPath); err != nil {
		return "", err
	}
	return outPath, nil
}

// applyConfig validates and persists a config change, then coordinates the
// pipeline. An identical config is a strict no-op: no restart, no bus event.
func (s *Supervisor) applyConfig(ctx context.Context, next *data.Camera) error {
	if next == nil {
		return errors.New("nil config")
	}
	if err := next.Validate(); err != nil {
		return err
	}
	next.ID = s.cam.ID

	if s.cam.SameConfig(next) {
		return nil
	}

	urlChanged := next.RTSPURL != s.cam.RTSPURL ||
		next.Username != s.cam.Username ||
		next.SecretEnc != s.cam.SecretEnc
	protoChanged := next.Protocols != s.cam.Protocols

	// Carry over supervisor-owned observations.
	next.Status = s.cam.Status
	next.LastSeen = s.cam.LastSeen
	next.Stream = s.cam.Stream

	if err := s.camsDB.Update(ctx, next); err != nil {
		return err
	}
	s.cam = next
	s.bus.Publish(events.TopicCameraUpdated, next)

	if urlChanged {
		// The old ingress is gone: close the current recording cleanly with
		// the footage captured so far, and restart it once the new pipeline
		// is producing.
		wasRecording := s.activeRec != nil
		s.finalizeRecording(ctx, time.Now().UTC())
		s.pendingRecord = wasRecording || s.cam.Recording.Mode == data.RecordContinuous
		if s.state != StateIdle {
			s.restartLive(ctx)
		}
		return nil
	}

	if protoChanged && s.state != StateIdle {
		s.restartLive(ctx)
	}
	return nil
}

// deleteCamera enforces the ordering: finalize recording, stop live, delete
// rows. After the camera-deleted event, no event for this camera ever
// appears on the bus again.
func (s *Supervisor) deleteCamera(ctx context.Context) error {
	s.setState(StateStopping)
	s.finalizeRecording(ctx, time.Now().UTC())
	s.stopLive()
	s.clearRetry()

	if err := s.camsDB.Delete(ctx, s.cam.ID); err != nil && !errors.Is(err, data.ErrRecordNotFound) {
		return err
	}
	s.bus.Publish(events.TopicCameraDeleted, events.CameraRef{ID: s.cam.ID})
	return nil
}

func (s *Supervisor) applyHealth(ctx context.Context, h healthReport) {
	s.setStatus(ctx, h.status, h.info, h.errMsg)
	if h.status == data.StatusOnline && (s.state == StateIdle || s.state == StateFailed) {
		s.commandStart(ctx)
	}
}

// setStatus is the only writer of the camera's status column. A camera-status
// event is published only when the status actually changes.
func (s *Supervisor) setStatus(ctx context.Context, status data.CameraStatus, info data.StreamInfo, errMsg string) {
	if status == s.lastStatus {
		return
	}
	if err := s.camsDB.SetStatus(ctx, s.cam.ID, status, info); err != nil && !errors.Is(err, data.ErrRecordNotFound) {
		log.Printf("[supervisor:%s] status write failed: %v", s.cam.ID, err)
	}
	s.lastStatus = status
	s.cam.Status = status
	s.bus.Publish(events.TopicCameraStatus, events.CameraStatusPayload{
		ID:     s.cam.ID,
		Status: status,
		Stream: info,
		Error:  errMsg,
	})
}

func (s *Supervisor) resolveIngressURL() (string, error) {
	u, err := url.Parse(s.cam.RTSPURL)
	if err != nil {
		return "", fmt.Errorf("invalid ingress url: %w", err)
	}
	if s.cam.Username != "" {
		password := ""
		if s.cam.SecretEnc != "" {
			password, err = s.vault.Open(s.cam.SecretEnc)
			if err != nil {
				return "", fmt.Errorf("credential decrypt failed: %w", err)
			}
		}
		u.User = url.UserPassword(s.cam.Username, password)
	}
	return u.String(), nil
}

// unwind is the cancellation path: children get a graceful terminate and an
// in-flight recording is finalized so no row is left active.
func (s *Supervisor) unwind() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.TerminateGrace+3*time.Second)
	defer cancel()
	s.clearRetry()
	s.finalizeRecording(ctx, time.Now().UTC())
	s.stopLive()
}
