package transcoder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/gridwatch/vms/internal/platform/paths"
)

const (
	kindLiveSegmenter = "live-segmenter"
	kindRecorder      = "recorder"
	kindSnapshot      = "snapshot"
	kindFrameExtract  = "frame-extract"
)

// Driver spawns and tracks external ffmpeg child processes. It never restarts
// a child on its own; failure is delivered to the owning supervisor through
// the handle's exit future.
type Driver struct {
	ffmpegPath string
	layout     paths.Layout
}

func NewDriver(ffmpegPath string, layout paths.Layout) *Driver {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Driver{ffmpegPath: ffmpegPath, layout: layout}
}

// VerifyBinary resolves the ffmpeg binary. A missing binary at startup is fatal.
func (d *Driver) VerifyBinary() error {
	if _, err := exec.LookPath(d.ffmpegPath); err != nil {
		return fmt.Errorf("transcoder binary not found (check FFMPEG_PATH): %w", err)
	}
	return nil
}

// liveSegmenterArgs builds the rolling low-latency HLS pipeline:
// 2s segments, window of 6 with old segments deleted, wall-clock tagging,
// RTSP over TCP, re-encoded video with a zero-latency preset, AAC audio.
func (d *Driver) liveSegmenterArgs(cameraID, ingressURL string) []string {
	liveDir := d.layout.LiveDir(cameraID)
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-rtsp_transport", "tcp",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-i", ingressURL,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-c:a", "aac",
		"-f", "hls",
		"-hls_time", "2",
		"-hls_list_size", "6",
		"-hls_flags", "delete_segments+program_date_time",
		"-hls_segment_filename", filepath.Join(liveDir, "segment_%03d.ts"),
		filepath.Join(liveDir, "index.m3u8"),
	}
}

// recordingArgs copies codecs into a single container file without re-encode.
func (d *Driver) recordingArgs(ingressURL, outPath string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-rtsp_transport", "tcp",
		"-i", ingressURL,
		"-c", "copy",
		"-movflags", "+faststart",
		"-f", "mp4",
		outPath,
	}
}

func (d *Driver) frameArgs(ingressURL, outPath string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-rtsp_transport", "tcp",
		"-i", ingressURL,
		"-frames:v", "1",
		"-q:v", "2",
		"-y",
		outPath,
	}
}

// StartLiveSegmenter spawns the rolling playlist child for a camera.
// The ingress URL must already carry decrypted inline credentials.
func (d *Driver) StartLiveSegmenter(ctx context.Context, cameraID, ingressURL string) (*Handle, error) {
	if err := os.MkdirAll(d.layout.LiveDir(cameraID), 0o750); err != nil {
		return nil, err
	}
	cmd := exec.Command(d.ffmpegPath, d.liveSegmenterArgs(cameraID, ingressURL)...)
	return newHandle(cameraID, kindLiveSegmenter, cmd)
}

// StartRecording spawns the recording child writing to outPath. The caller
// pre-creates the destination directory.
func (d *Driver) StartRecording(ctx context.Context, cameraID, ingressURL, outPath string) (*Handle, error) {
	cmd := exec.Command(d.ffmpegPath, d.recordingArgs(ingressURL, outPath)...)
	return newHandle(cameraID, kindRecorder, cmd)
}

// Snapshot writes one frame from the camera's ingress to outPath and returns
// when the frame is on disk or the context expires.
func (d *Driver) Snapshot(ctx context.Context, cameraID, ingressURL, outPath string) error {
	return d.runOneShot(ctx, kindSnapshot, ingressURL, outPath)
}

// ExtractFrame is Snapshot without a camera attached: it reads the ingress
// URL directly, independent of any running live pipeline.
func (d *Driver) ExtractFrame(ctx context.Context, ingressURL, outPath string) error {
	return d.runOneShot(ctx, kindFrameExtract, ingressURL, outPath)
}

func (d *Driver) runOneShot(ctx context.Context, kind, ingressURL, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, d.ffmpegPath, d.frameArgs(ingressURL, outPath)...)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s failed: %w", kind, err)
	}

	// ffmpeg can exit zero without producing output on an empty stream.
	if info, err := os.Stat(outPath); err != nil || info.Size() == 0 {
		return fmt.Errorf("%s produced no output", kind)
	}
	return nil
}
