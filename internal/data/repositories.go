package data

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicate      = errors.New("record already exists")
)

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store bundles the entity models over a single connection pool.
type Store struct {
	Users      UserModel
	Cameras    CameraModel
	Recordings RecordingModel
	ANPREvents ANPREventModel
	Stats      StatsModel
}

func NewStore(db DBTX) *Store {
	return &Store{
		Users:      UserModel{DB: db},
		Cameras:    CameraModel{DB: db},
		Recordings: RecordingModel{DB: db},
		ANPREvents: ANPREventModel{DB: db},
		Stats:      StatsModel{DB: db},
	}
}
