package cameras

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/gridwatch/vms/internal/anpr"
	"github.com/gridwatch/vms/internal/data"
	"github.com/gridwatch/vms/internal/events"
	"github.com/gridwatch/vms/internal/supervisor"
)

var ErrANPRUnavailable = errors.New("plate recognition is not running for this camera")

// SecretVault seals and opens camera credentials.
type SecretVault interface {
	Seal(plaintext string) (string, error)
	Open(ciphertext string) (string, error)
}

type CameraStore interface {
	Create(ctx context.Context, c *data.Camera) error
	GetByID(ctx context.Context, id uuid.UUID) (*data.Camera, error)
	List(ctx context.Context) ([]*data.Camera, error)
}

type Publisher interface {
	Publish(topic events.Topic, payload any)
}

// Service orchestrates the camera lifecycle across the store, the vault and
// the supervisor fleet. Everything past creation is routed through the
// camera's supervisor so there is a single writer per camera.
type Service struct {
	store Store
	fleet *supervisor.Fleet
	vault SecretVault
	bus   Publisher
	pool  *anpr.Pool // nil when ANPR is disabled
}

// Store bundles the store dependencies the service needs.
type Store struct {
	Cameras CameraStore
}

func NewService(store Store, fleet *supervisor.Fleet, vault SecretVault, bus Publisher, pool *anpr.Pool) *Service {
	return &Service{store: store, fleet: fleet, vault: vault, bus: bus, pool: pool}
}

// Create validates and persists a new camera, encrypting the password, then
// brings its supervisor up.
func (s *Service) Create(ctx context.Context, c *data.Camera, password string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if password != "" {
		enc, err := s.vault.Seal(password)
		if err != nil {
			return err
		}
		c.SecretEnc = enc
	}

	if err := s.store.Cameras.Create(ctx, c); err != nil {
		return err
	}
	s.bus.Publish(events.TopicCameraAdded, c)

	sup := s.fleet.Add(c)
	return sup.Start(ctx)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*data.Camera, error) {
	return s.store.Cameras.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*data.Camera, error) {
	return s.store.Cameras.List(ctx)
}

// Update applies a config change through the supervisor. password nil keeps
// the stored secret; non-nil replaces it (empty clears it).
func (s *Service) Update(ctx context.Context, id uuid.UUID, next *data.Camera, password *string) (*data.Camera, error) {
	current, err := s.store.Cameras.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	next.ID = id
	next.SecretEnc = current.SecretEnc
	if password != nil {
		next.SecretEnc = ""
		if *password != "" {
			enc, err := s.vault.Seal(*password)
			if err != nil {
				return nil, err
			}
			next.SecretEnc = enc
		}
	}

	sup, ok := s.fleet.Get(id)
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	if err := sup.UpdateConfig(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.fleet.Delete(ctx, id)
}

func (s *Service) Start(ctx context.Context, id uuid.UUID) error {
	sup, ok := s.fleet.Get(id)
	if !ok {
		return data.ErrRecordNotFound
	}
	return sup.Start(ctx)
}

func (s *Service) Stop(ctx context.Context, id uuid.UUID) error {
	sup, ok := s.fleet.Get(id)
	if !ok {
		return data.ErrRecordNotFound
	}
	return sup.Stop(ctx)
}

func (s *Service) Snapshot(ctx context.Context, id uuid.UUID) (string, error) {
	sup, ok := s.fleet.Get(id)
	if !ok {
		return "", data.ErrRecordNotFound
	}
	return sup.Snapshot(ctx)
}

func (s *Service) StartRecording(ctx context.Context, id uuid.UUID) (*data.Recording, error) {
	sup, ok := s.fleet.Get(id)
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	return sup.BeginRecording(ctx)
}

func (s *Service) StopRecording(ctx context.Context, id uuid.UUID) (*data.Recording, error) {
	sup, ok := s.fleet.Get(id)
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	return sup.EndRecording(ctx)
}

// ScanPlate runs one recognition cycle immediately on the camera's worker.
func (s *Service) ScanPlate(ctx context.Context, id uuid.UUID) (*data.ANPREvent, error) {
	if s.pool == nil {
		return nil, ErrANPRUnavailable
	}
	w, ok := s.pool.Get(id)
	if !ok {
		return nil, ErrANPRUnavailable
	}
	return w.ScanOnce(ctx)
}
