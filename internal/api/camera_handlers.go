package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/gridwatch/vms/internal/anpr"
	"github.com/gridwatch/vms/internal/cameras"
	"github.com/gridwatch/vms/internal/data"
	"github.com/gridwatch/vms/internal/supervisor"
)

// CameraService is the camera lifecycle surface the handlers call.
// Implemented by the cameras service.
type CameraService interface {
	Create(ctx context.Context, c *data.Camera, password string) error
	Get(ctx context.Context, id uuid.UUID) (*data.Camera, error)
	List(ctx context.Context) ([]*data.Camera, error)
	Update(ctx context.Context, id uuid.UUID, next *data.Camera, password *string) (*data.Camera, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Start(ctx context.Context, id uuid.UUID) error
	Stop(ctx context.Context, id uuid.UUID) error
	Snapshot(ctx context.Context, id uuid.UUID) (string, error)
	StartRecording(ctx context.Context, id uuid.UUID) (*data.Recording, error)
	StopRecording(ctx context.Context, id uuid.UUID) (*data.Recording, error)
	ScanPlate(ctx context.Context, id uuid.UUID) (*data.ANPREvent, error)
}

type CameraHandler struct {
	service CameraService
}

func NewCameraHandler(svc CameraService) *CameraHandler {
	return &CameraHandler{service: svc}
}

// cameraRequest is the write shape: the password travels separately from the
// camera and never round-trips back out.
type cameraRequest struct {
	data.Camera
	Password *string `json:"password,omitempty"`
}

// POST /api/v1/cameras
func (h *CameraHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req cameraRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	password := ""
	if req.Password != nil {
		password = *req.Password
	}

	cam := req.Camera
	if err := h.service.Create(r.Context(), &cam, password); err != nil {
		switch {
		case errors.Is(err, data.ErrInvalidCamera):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, data.ErrDuplicate):
			respondError(w, http.StatusConflict, "camera already exists")
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusCreated, cameraView(&cam))
}

// GET /api/v1/cameras
func (h *CameraHandler) List(w http.ResponseWriter, r *http.Request) {
	cams, err := h.service.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cameraViews(cams))
}

// GET /api/v1/cameras/{id}
func (h *CameraHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid camera id")
		return
	}
	cam, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cameraView(cam))
}

// PUT /api/v1/cameras/{id}
func (h *CameraHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid camera id")
		return
	}

	var req cameraRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cam := req.Camera
	updated, err := h.service.Update(r.Context(), id, &cam, req.Password)
	if err != nil {
		if errors.Is(err, data.ErrInvalidCamera) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cameraView(updated))
}

// DELETE /api/v1/cameras/{id}
func (h *CameraHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid camera id")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/cameras/{id}/start
func (h *CameraHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.Start)
}

// POST /api/v1/cameras/{id}/stop
func (h *CameraHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.Stop)
}

func (h *CameraHandler) lifecycle(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) error) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid camera id")
		return
	}
	if err := op(r.Context(), id); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// POST /api/v1/cameras/{id}/snapshot
func (h *CameraHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid camera id")
		return
	}
	path, err := h.service.Snapshot(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"path": path})
}

// POST /api/v1/cameras/{id}/start-record
func (h *CameraHandler) StartRecording(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid camera id")
		return
	}
	rec, err := h.service.StartRecording(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

// POST /api/v1/cameras/{id}/stop-record
func (h *CameraHandler) StopRecording(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid camera id")
		return
	}
	rec, err := h.service.StopRecording(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// POST /api/v1/anpr/process triggers one recognition cycle on the named
// camera outside its sampling schedule.
func (h *CameraHandler) ProcessANPR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CameraID uuid.UUID `json:"camera_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.CameraID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "camera_id is required")
		return
	}
	event, err := h.service.ScanPlate(r.Context(), req.CameraID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, event)
}

func (h *CameraHandler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, data.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, "camera not found")
	case errors.Is(err, supervisor.ErrAlreadyRecording):
		respondError(w, http.StatusConflict, "recording already in progress")
	case errors.Is(err, supervisor.ErrNotRecording):
		respondError(w, http.StatusConflict, "no recording in progress")
	case errors.Is(err, supervisor.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, "camera is not online")
	case errors.Is(err, cameras.ErrANPRUnavailable):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, anpr.ErrNoDetection):
		respondError(w, http.StatusNotFound, "no plate detected")
	case errors.Is(err, anpr.ErrSuppressed):
		respondError(w, http.StatusConflict, "duplicate plate read suppressed")
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
