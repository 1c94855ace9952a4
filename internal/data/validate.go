package data

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

var ErrInvalidCamera = errors.New("invalid camera configuration")

// Validate checks the operator-editable fields of a camera configuration.
func (c *Camera) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCamera)
	}
	u, err := url.Parse(c.RTSPURL)
	if err != nil || (u.Scheme != "rtsp" && u.Scheme != "rtsps") || u.Host == "" {
		return fmt.Errorf("%w: rtsp_url must be a valid rtsp:// or rtsps:// url", ErrInvalidCamera)
	}
	switch c.Recording.Mode {
	case "", RecordOff, RecordManual, RecordContinuous:
	default:
		return fmt.Errorf("%w: unknown recording mode %q", ErrInvalidCamera, c.Recording.Mode)
	}
	// Zero leaves a field unset; the runtime default applies.
	if s := c.Recording.SegmentSec; s != 0 && (s < 1 || s > 60) {
		return fmt.Errorf("%w: segment_sec must be within [1,60]", ErrInvalidCamera)
	}
	if d := c.Recording.RetentionDays; d != 0 && (d < 1 || d > 365) {
		return fmt.Errorf("%w: retention_days must be within [1,365]", ErrInvalidCamera)
	}
	if r := c.ANPR.SampleRate; r != 0 && (r < 1 || r > 30) {
		return fmt.Errorf("%w: anpr sample_rate must be within [1,30]", ErrInvalidCamera)
	}
	if m := c.ANPR.MinConfidence; m != 0 && (m < 0.1 || m > 1) {
		return fmt.Errorf("%w: anpr min_confidence must be within [0.1,1.0]", ErrInvalidCamera)
	}
	return nil
}

// SameConfig reports whether the operator-editable fields are identical,
// ignoring supervisor-owned observations (status, last seen, stream info).
func (c *Camera) SameConfig(other *Camera) bool {
	return c.Name == other.Name &&
		c.Location == other.Location &&
		c.RTSPURL == other.RTSPURL &&
		c.Username == other.Username &&
		c.SecretEnc == other.SecretEnc &&
		slices.Equal(c.Tags, other.Tags) &&
		c.Protocols == other.Protocols &&
		c.Grid == other.Grid &&
		c.Recording == other.Recording &&
		c.ANPR == other.ANPR
}
