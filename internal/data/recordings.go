package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Recording is one long-form capture. EndTime is NULL while the record child
// is running; a partial unique index keeps at most one active row per camera.
type Recording struct {
	ID          uuid.UUID  `json:"id"`
	CameraID    uuid.UUID  `json:"camera_id"`
	Date        string     `json:"date"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Path        string     `json:"path"`
	DurationSec int        `json:"duration_sec"`
	SizeBytes   int64      `json:"size_bytes"`
	Format      string     `json:"format"`
	CreatedAt   time.Time  `json:"created_at"`
}

type RecordingFilter struct {
	CameraID *uuid.UUID
	From     *time.Time
	To       *time.Time
}

type RecordingModel struct {
	DB DBTX
}

func (m RecordingModel) Create(ctx context.Context, r *Recording) error {
	query := `
		INSERT INTO recordings (id, camera_id, date, start_time, path, format)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Date == "" {
		r.Date = r.StartTime.UTC().Format("2006-01-02")
	}
	if r.Format == "" {
		r.Format = "mp4"
	}

	err := m.DB.QueryRowContext(ctx, query,
		r.ID, r.CameraID, r.Date, r.StartTime, r.Path, r.Format,
	).Scan(&r.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// Finalize sets end_time and the derived duration/size. Duration is
// floor(end-start) in whole seconds.
func (m RecordingModel) Finalize(ctx context.Context, id uuid.UUID, end time.Time, sizeBytes int64) (*Recording, error) {
	query := `
		UPDATE recordings
		SET end_time = $1,
		    duration_sec = FLOOR(EXTRACT(EPOCH FROM ($1 - start_time))),
		    size_bytes = $2
		WHERE id = $3 AND end_time IS NULL
		RETURNING id, camera_id, date, start_time, end_time, path, duration_sec, size_bytes, format, created_at`

	var r Recording
	err := m.DB.QueryRowContext(ctx, query, end, sizeBytes, id).Scan(
		&r.ID, &r.CameraID, &r.Date, &r.StartTime, &r.EndTime, &r.Path,
		&r.DurationSec, &r.SizeBytes, &r.Format, &r.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (m RecordingModel) GetByID(ctx context.Context, id uuid.UUID) (*Recording, error) {
	query := `
		SELECT id, camera_id, date, start_time, end_time, path, duration_sec, size_bytes, format, created_at
		FROM recordings WHERE id = $1`

	var r Recording
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&r.ID, &r.CameraID, &r.Date, &r.StartTime, &r.EndTime, &r.Path,
		&r.DurationSec, &r.SizeBytes, &r.Format, &r.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetActive returns the camera's in-progress recording, if any.
func (m RecordingModel) GetActive(ctx context.Context, cameraID uuid.UUID) (*Recording, error) {
	query := `
		SELECT id, camera_id, date, start_time, end_time, path, duration_sec, size_bytes, format, created_at
		FROM recordings
		WHERE camera_id = $1 AND end_time IS NULL`

	var r Recording
	err := m.DB.QueryRowContext(ctx, query, cameraID).Scan(
		&r.ID, &r.CameraID, &r.Date, &r.StartTime, &r.EndTime, &r.Path,
		&r.DurationSec, &r.SizeBytes, &r.Format, &r.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// List returns recordings matching the filter, newest first.
func (m RecordingModel) List(ctx context.Context, f RecordingFilter) ([]*Recording, error) {
	query := `
		SELECT id, camera_id, date, start_time, end_time, path, duration_sec, size_bytes, format, created_at
		FROM recordings
		WHERE ($1::uuid IS NULL OR camera_id = $1)
		  AND ($2::timestamptz IS NULL OR start_time >= $2)
		  AND ($3::timestamptz IS NULL OR start_time <= $3)
		ORDER BY start_time DESC`

	rows, err := m.DB.QueryContext(ctx, query, uuidArg(f.CameraID), timeArg(f.From), timeArg(f.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Recording
	for rows.Next() {
		var r Recording
		if err := rows.Scan(
			&r.ID, &r.CameraID, &r.Date, &r.StartTime, &r.EndTime, &r.Path,
			&r.DurationSec, &r.SizeBytes, &r.Format, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ListExpired returns finalized recordings of one camera that started before cutoff.
// In-progress rows are excluded unconditionally.
func (m RecordingModel) ListExpired(ctx context.Context, cameraID uuid.UUID, cutoff time.Time) ([]*Recording, error) {
	query := `
		SELECT id, camera_id, date, start_time, end_time, path, duration_sec, size_bytes, format, created_at
		FROM recordings
		WHERE camera_id = $1 AND end_time IS NOT NULL AND start_time < $2`

	rows, err := m.DB.QueryContext(ctx, query, cameraID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Recording
	for rows.Next() {
		var r Recording
		if err := rows.Scan(
			&r.ID, &r.CameraID, &r.Date, &r.StartTime, &r.EndTime, &r.Path,
			&r.DurationSec, &r.SizeBytes, &r.Format, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (m RecordingModel) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM recordings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

func uuidArg(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
