package data

import (
	"context"
	"time"
)

// SystemStats is the aggregate snapshot served by the control surface.
// Storage totals are optional and omitted when unknown.
type SystemStats struct {
	TotalCameras     int    `json:"total_cameras"`
	OnlineCameras    int    `json:"online_cameras"`
	ActiveRecordings int    `json:"active_recordings"`
	ANPREventsToday  int    `json:"anpr_events_today"`
	StorageUsed      *int64 `json:"storage_used,omitempty"`
	StorageTotal     *int64 `json:"storage_total,omitempty"`
}

type StatsModel struct {
	DB DBTX
}

// Snapshot aggregates counts in one round trip per table.
// "today" is local midnight of the server.
func (m StatsModel) Snapshot(ctx context.Context, now time.Time) (*SystemStats, error) {
	var s SystemStats

	query := `
		SELECT
			(SELECT COUNT(*) FROM cameras),
			(SELECT COUNT(*) FROM cameras WHERE status = 'online'),
			(SELECT COUNT(*) FROM recordings WHERE end_time IS NULL),
			(SELECT COUNT(*) FROM anpr_events WHERE ts >= $1)`

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	err := m.DB.QueryRowContext(ctx, query, midnight).Scan(
		&s.TotalCameras, &s.OnlineCameras, &s.ActiveRecordings, &s.ANPREventsToday,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
