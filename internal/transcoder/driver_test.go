package transcoder

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwatch/vms/internal/platform/paths"
)

func testDriver(t *testing.T) *Driver {
	t.Helper()
	return NewDriver("ffmpeg", paths.NewLayout(t.TempDir()))
}

func TestLiveSegmenterArgs(t *testing.T) {
	d := testDriver(t)
	args := d.liveSegmenterArgs("cam-1", "rtsp://user:pw@host/stream")

	joined := ""
	for _, a := range args {
		joined += a + " "
	}
	assert.Contains(t, joined, "-rtsp_transport tcp ")
	assert.Contains(t, joined, "-hls_time 2 ")
	assert.Contains(t, joined, "-hls_list_size 6 ")
	assert.Contains(t, joined, "delete_segments+program_date_time")
	assert.Contains(t, joined, "-tune zerolatency")
	assert.Contains(t, joined, "-c:a aac")
	assert.Contains(t, joined, "streams/cam-1/live/index.m3u8")
	assert.Contains(t, joined, "segment_%03d.ts")
}

func TestRecordingArgsCopyCodecs(t *testing.T) {
	d := testDriver(t)
	args := d.recordingArgs("rtsp://host/stream", "/data/records/cam-1/out.mp4")

	require.Contains(t, args, "-c")
	idx := -1
	for i, a := range args {
		if a == "-c" {
			idx = i
		}
	}
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "copy", args[idx+1])
	assert.Equal(t, "/data/records/cam-1/out.mp4", args[len(args)-1])
	assert.NotContains(t, args, "libx264")
}

func TestFrameArgsSingleFrame(t *testing.T) {
	d := testDriver(t)
	args := d.frameArgs("rtsp://host/stream", "/tmp/frame.jpg")

	assert.Contains(t, args, "-frames:v")
	assert.Contains(t, args, "-y")
	assert.Equal(t, "/tmp/frame.jpg", args[len(args)-1])
}

func TestHandle_GracefulStop(t *testing.T) {
	// sleep handles SIGTERM by dying, standing in for a cooperative child.
	cmd := exec.Command("sleep", "60")
	h, err := newHandle("cam-1", "test-child", cmd)
	require.NoError(t, err)
	assert.True(t, h.Running())

	_, err = h.ExitCode()
	assert.ErrorIs(t, err, ErrStillRunning)

	start := time.Now()
	h.Stop(2 * time.Second)
	assert.Less(t, time.Since(start), 2*time.Second, "SIGTERM should end it before the grace period")

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Stop")
	}
	assert.False(t, h.Running())
}

func TestHandle_ExitFuture(t *testing.T) {
	cmd := exec.Command("false")
	h, err := newHandle("cam-1", "test-child", cmd)
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("child did not exit")
	}

	code, err := h.ExitCode()
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Error(t, h.Err(), "non-zero exit is a failure signal")
}

func TestHandle_CleanExit(t *testing.T) {
	cmd := exec.Command("true")
	h, err := newHandle("cam-1", "test-child", cmd)
	require.NoError(t, err)

	<-h.Done()
	code, err := h.ExitCode()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.NoError(t, h.Err())
}

func TestVerifyBinaryMissing(t *testing.T) {
	d := NewDriver("/nonexistent/ffmpeg-binary", paths.NewLayout(t.TempDir()))
	assert.Error(t, d.VerifyBinary())
}
