package api

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/google/uuid"

	"github.com/gridwatch/vms/internal/data"
)

type RecordingStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*data.Recording, error)
	List(ctx context.Context, f data.RecordingFilter) ([]*data.Recording, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type RecordingHandler struct {
	store RecordingStore
}

func NewRecordingHandler(store RecordingStore) *RecordingHandler {
	return &RecordingHandler{store: store}
}

// GET /api/v1/recordings?camera_id=&from=&to=
func (h *RecordingHandler) List(w http.ResponseWriter, r *http.Request) {
	var f data.RecordingFilter
	var err error

	if f.CameraID, err = queryCameraID(r); err != nil {
		respondError(w, http.StatusBadRequest, "invalid camera_id")
		return
	}
	if f.From, err = queryTime(r, "from"); err != nil {
		respondError(w, http.StatusBadRequest, "invalid from timestamp")
		return
	}
	if f.To, err = queryTime(r, "to"); err != nil {
		respondError(w, http.StatusBadRequest, "invalid to timestamp")
		return
	}

	recs, err := h.store.List(r.Context(), f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []*data.Recording{}
	}
	respondJSON(w, http.StatusOK, recs)
}

// GET /api/v1/recordings/{id}
func (h *RecordingHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.fetch(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// GET /api/v1/recordings/{id}/download streams the finished file.
func (h *RecordingHandler) Download(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.fetch(w, r)
	if !ok {
		return
	}
	if rec.EndTime == nil {
		respondError(w, http.StatusConflict, "recording still in progress")
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", `attachment; filename="recording_`+rec.ID.String()+`.mp4"`)
	http.ServeFile(w, r, rec.Path)
}

// DELETE /api/v1/recordings/{id} removes the file first, then the row.
func (h *RecordingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.fetch(w, r)
	if !ok {
		return
	}
	if rec.EndTime == nil {
		respondError(w, http.StatusConflict, "recording still in progress")
		return
	}
	if err := os.Remove(rec.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.store.Delete(r.Context(), rec.ID); err != nil && !errors.Is(err, data.ErrRecordNotFound) {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RecordingHandler) fetch(w http.ResponseWriter, r *http.Request) (*data.Recording, bool) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid recording id")
		return nil, false
	}
	rec, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "recording not found")
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return rec, true
}
