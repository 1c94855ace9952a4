package anpr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/gridwatch/vms/internal/data"
)

var ErrNoDetection = errors.New("no plate detected")

// Detection is one candidate plate region in a frame.
type Detection struct {
	BBox       data.BoundingBox `json:"bbox"`
	Confidence float64          `json:"confidence"`
}

// Detector locates candidate plate regions in a frame on disk.
type Detector interface {
	Detect(ctx context.Context, framePath string) ([]Detection, error)
}

// Extractor reads the plate text from a detected region. An unreadable
// region returns an empty string, not an error.
type Extractor interface {
	Extract(ctx context.Context, framePath string, bbox data.BoundingBox) (plate string, err error)
}

// ExecDetector shells out to an external detector binary. The binary takes
// the frame path as its single argument and prints a JSON array of
// detections on stdout.
type ExecDetector struct {
	Bin string
}

func (d ExecDetector) Detect(ctx context.Context, framePath string) ([]Detection, error) {
	out, err := runInference(ctx, d.Bin, framePath)
	if err != nil {
		return nil, fmt.Errorf("detector: %w", err)
	}
	var dets []Detection
	if err := json.Unmarshal(out, &dets); err != nil {
		return nil, fmt.Errorf("detector output: %w", err)
	}
	return dets, nil
}

// ExecExtractor shells out to an external OCR binary, passing the frame path
// and the region coordinates. Output is {"text": "..."}; extra fields are
// ignored.
type ExecExtractor struct {
	Bin string
}

func (e ExecExtractor) Extract(ctx context.Context, framePath string, bbox data.BoundingBox) (string, error) {
	out, err := runInference(ctx, e.Bin, framePath,
		strconv.Itoa(bbox.X), strconv.Itoa(bbox.Y), strconv.Itoa(bbox.W), strconv.Itoa(bbox.H))
	if err != nil {
		return "", fmt.Errorf("extractor: %w", err)
	}
	var res struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		return "", fmt.Errorf("extractor output: %w", err)
	}
	return res.Text, nil
}

func runInference(ctx context.Context, bin string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w (%s)", bin, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

// StubDetector and StubExtractor stand in when no inference binaries are
// configured; every frame yields no detections and no text.
type StubDetector struct{}

func (StubDetector) Detect(context.Context, string) ([]Detection, error) { return nil, nil }

type StubExtractor struct{}

func (StubExtractor) Extract(context.Context, string, data.BoundingBox) (string, error) {
	return "", nil
}
