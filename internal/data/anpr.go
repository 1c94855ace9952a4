package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BoundingBox is a detector region in source pixels.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// ANPREvent is one accepted plate read. Immutable after creation.
type ANPREvent struct {
	ID           uuid.UUID       `json:"id"`
	CameraID     uuid.UUID       `json:"camera_id"`
	Timestamp    time.Time       `json:"timestamp"`
	Plate        string          `json:"plate"`
	Confidence   float64         `json:"confidence"`
	SnapshotPath string          `json:"snapshot_path"`
	BBox         BoundingBox     `json:"bbox"`
	Meta         json.RawMessage `json:"meta,omitempty"`
}

type ANPRFilter struct {
	CameraID *uuid.UUID
	From     *time.Time
	To       *time.Time
	Plate    string // substring, case-insensitive
}

type ANPREventModel struct {
	DB DBTX
}

func (m ANPREventModel) Create(ctx context.Context, e *ANPREvent) error {
	query := `
		INSERT INTO anpr_events (id, camera_id, ts, plate, confidence, snapshot_path, bbox_x, bbox_y, bbox_w, bbox_h, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	meta := e.Meta
	if meta == nil {
		meta = json.RawMessage(`{}`)
	}

	_, err := m.DB.ExecContext(ctx, query,
		e.ID, e.CameraID, e.Timestamp, e.Plate, e.Confidence, e.SnapshotPath,
		e.BBox.X, e.BBox.Y, e.BBox.W, e.BBox.H, meta,
	)
	return err
}

func (m ANPREventModel) GetByID(ctx context.Context, id uuid.UUID) (*ANPREvent, error) {
	query := `
		SELECT id, camera_id, ts, plate, confidence, snapshot_path, bbox_x, bbox_y, bbox_w, bbox_h, meta
		FROM anpr_events WHERE id = $1`

	var e ANPREvent
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.CameraID, &e.Timestamp, &e.Plate, &e.Confidence, &e.SnapshotPath,
		&e.BBox.X, &e.BBox.Y, &e.BBox.W, &e.BBox.H, &e.Meta,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns events matching the filter, newest first.
func (m ANPREventModel) List(ctx context.Context, f ANPRFilter) ([]*ANPREvent, error) {
	query := `
		SELECT id, camera_id, ts, plate, confidence, snapshot_path, bbox_x, bbox_y, bbox_w, bbox_h, meta
		FROM anpr_events
		WHERE ($1::uuid IS NULL OR camera_id = $1)
		  AND ($2::timestamptz IS NULL OR ts >= $2)
		  AND ($3::timestamptz IS NULL OR ts <= $3)
		  AND ($4 = '' OR plate ILIKE '%' || $4 || '%')
		ORDER BY ts DESC`

	rows, err := m.DB.QueryContext(ctx, query, uuidArg(f.CameraID), timeArg(f.From), timeArg(f.To), f.Plate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ANPREvent
	for rows.Next() {
		var e ANPREvent
		if err := rows.Scan(
			&e.ID, &e.CameraID, &e.Timestamp, &e.Plate, &e.Confidence, &e.SnapshotPath,
			&e.BBox.X, &e.BBox.Y, &e.BBox.W, &e.BBox.H, &e.Meta,
		); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// CountSince counts events, optionally scoped to one camera.
func (m ANPREventModel) CountSince(ctx context.Context, cameraID *uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM anpr_events
		WHERE ($1::uuid IS NULL OR camera_id = $1) AND ts >= $2`

	var n int
	err := m.DB.QueryRowContext(ctx, query, uuidArg(cameraID), since).Scan(&n)
	return n, err
}
