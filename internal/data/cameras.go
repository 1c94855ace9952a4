package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type CameraStatus string

const (
	StatusOffline      CameraStatus = "offline"
	StatusOnline       CameraStatus = "online"
	StatusReconnecting CameraStatus = "reconnecting"
	StatusError        CameraStatus = "error"
)

type RecordingMode string

const (
	RecordOff        RecordingMode = "off"
	RecordManual     RecordingMode = "manual"
	RecordContinuous RecordingMode = "continuous"
)

// RecordingPolicy governs the record child of a camera's supervisor.
type RecordingPolicy struct {
	Mode          RecordingMode `json:"mode"`
	SegmentSec    int           `json:"segment_sec"`
	RetentionDays int           `json:"retention_days"`
}

// ANPRPolicy governs the per-camera plate recognition worker.
type ANPRPolicy struct {
	Enabled       bool    `json:"enabled"`
	SampleRate    int     `json:"sample_rate"`
	MinConfidence float64 `json:"min_confidence"`
}

type GridPosition struct {
	Row  int `json:"row"`
	Col  int `json:"col"`
	Size int `json:"size"`
}

type Protocols struct {
	HLS    bool `json:"hls"`
	WebRTC bool `json:"webrtc"`
}

// StreamInfo carries metadata observed from the live pipeline.
type StreamInfo struct {
	FPS     float64 `json:"fps,omitempty"`
	Bitrate int     `json:"bitrate,omitempty"`
	Width   int     `json:"width,omitempty"`
	Height  int     `json:"height,omitempty"`
}

// Camera represents a video capture device.
// SecretEnc holds the vault ciphertext of the RTSP password and is never serialized.
type Camera struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Location  string          `json:"location,omitempty"`
	RTSPURL   string          `json:"rtsp_url"`
	Username  string          `json:"username,omitempty"`
	SecretEnc string          `json:"-"`
	Tags      []string        `json:"tags"`
	Protocols Protocols       `json:"protocols"`
	Grid      GridPosition    `json:"grid"`
	Recording RecordingPolicy `json:"recording"`
	ANPR      ANPRPolicy      `json:"anpr"`
	Status    CameraStatus    `json:"status"`
	LastSeen  *time.Time      `json:"last_seen,omitempty"`
	Stream    StreamInfo      `json:"stream"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type CameraModel struct {
	DB DBTX
}

const cameraColumns = `
	id, name, location, rtsp_url, username, secret_enc, tags,
	proto_hls, proto_webrtc, grid_row, grid_col, grid_size,
	record_mode, segment_sec, retention_days,
	anpr_enabled, anpr_sample_rate, anpr_min_confidence,
	status, last_seen, fps, bitrate, width, height,
	created_at, updated_at`

func (m CameraModel) Create(ctx context.Context, c *Camera) error {
	query := `
		INSERT INTO cameras (
			id, name, location, rtsp_url, username, secret_enc, tags,
			proto_hls, proto_webrtc, grid_row, grid_col, grid_size,
			record_mode, segment_sec, retention_days,
			anpr_enabled, anpr_sample_rate, anpr_min_confidence, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING created_at, updated_at`

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = StatusOffline
	}

	return m.DB.QueryRowContext(ctx, query,
		c.ID, c.Name, c.Location, c.RTSPURL, c.Username, c.SecretEnc, pq.Array(c.Tags),
		c.Protocols.HLS, c.Protocols.WebRTC, c.Grid.Row, c.Grid.Col, c.Grid.Size,
		c.Recording.Mode, c.Recording.SegmentSec, c.Recording.RetentionDays,
		c.ANPR.Enabled, c.ANPR.SampleRate, c.ANPR.MinConfidence, c.Status,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (m CameraModel) scanRow(row interface{ Scan(...any) error }, c *Camera) error {
	var tags []string
	var lastSeen sql.NullTime
	err := row.Scan(
		&c.ID, &c.Name, &c.Location, &c.RTSPURL, &c.Username, &c.SecretEnc, pq.Array(&tags),
		&c.Protocols.HLS, &c.Protocols.WebRTC, &c.Grid.Row, &c.Grid.Col, &c.Grid.Size,
		&c.Recording.Mode, &c.Recording.SegmentSec, &c.Recording.RetentionDays,
		&c.ANPR.Enabled, &c.ANPR.SampleRate, &c.ANPR.MinConfidence,
		&c.Status, &lastSeen, &c.Stream.FPS, &c.Stream.Bitrate, &c.Stream.Width, &c.Stream.Height,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return err
	}
	c.Tags = tags
	if lastSeen.Valid {
		t := lastSeen.Time
		c.LastSeen = &t
	}
	return nil
}

func (m CameraModel) GetByID(ctx context.Context, id uuid.UUID) (*Camera, error) {
	query := `SELECT` + cameraColumns + ` FROM cameras WHERE id = $1`

	var c Camera
	err := m.scanRow(m.DB.QueryRowContext(ctx, query, id), &c)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns all cameras ordered by name ascending.
func (m CameraModel) List(ctx context.Context) ([]*Camera, error) {
	query := `SELECT` + cameraColumns + ` FROM cameras ORDER BY name ASC`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cams []*Camera
	for rows.Next() {
		var c Camera
		if err := m.scanRow(rows, &c); err != nil {
			return nil, err
		}
		cams = append(cams, &c)
	}
	return cams, rows.Err()
}

func (m CameraModel) Update(ctx context.Context, c *Camera) error {
	query := `
		UPDATE cameras
		SET name = $1, location = $2, rtsp_url = $3, username = $4, secret_enc = $5, tags = $6,
		    proto_hls = $7, proto_webrtc = $8, grid_row = $9, grid_col = $10, grid_size = $11,
		    record_mode = $12, segment_sec = $13, retention_days = $14,
		    anpr_enabled = $15, anpr_sample_rate = $16, anpr_min_confidence = $17,
		    updated_at = NOW()
		WHERE id = $18
		RETURNING updated_at`

	err := m.DB.QueryRowContext(ctx, query,
		c.Name, c.Location, c.RTSPURL, c.Username, c.SecretEnc, pq.Array(c.Tags),
		c.Protocols.HLS, c.Protocols.WebRTC, c.Grid.Row, c.Grid.Col, c.Grid.Size,
		c.Recording.Mode, c.Recording.SegmentSec, c.Recording.RetentionDays,
		c.ANPR.Enabled, c.ANPR.SampleRate, c.ANPR.MinConfidence,
		c.ID,
	).Scan(&c.UpdatedAt)

	if err == sql.ErrNoRows {
		return ErrRecordNotFound
	}
	return err
}

// SetStatus records the observed status and, for online transitions, last_seen.
// The camera supervisor is the only writer of these columns.
func (m CameraModel) SetStatus(ctx context.Context, id uuid.UUID, status CameraStatus, info StreamInfo) error {
	query := `
		UPDATE cameras
		SET status = $1,
		    last_seen = CASE WHEN $1 = 'online' THEN NOW() ELSE last_seen END,
		    fps = $2, bitrate = $3, width = $4, height = $5,
		    updated_at = NOW()
		WHERE id = $6`

	res, err := m.DB.ExecContext(ctx, query, status, info.FPS, info.Bitrate, info.Width, info.Height, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Delete removes the camera row. Recordings and ANPR events cascade via FK.
func (m CameraModel) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM cameras WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}
