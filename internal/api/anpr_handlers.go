package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/gridwatch/vms/internal/data"
)

type ANPRStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*data.ANPREvent, error)
	List(ctx context.Context, f data.ANPRFilter) ([]*data.ANPREvent, error)
}

type ANPRHandler struct {
	store ANPRStore
}

func NewANPRHandler(store ANPRStore) *ANPRHandler {
	return &ANPRHandler{store: store}
}

// GET /api/v1/anpr/events?camera_id=&plate=&from=&to=
func (h *ANPRHandler) List(w http.ResponseWriter, r *http.Request) {
	var f data.ANPRFilter
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
	f.Plate = r.URL.Query().Get("plate")

	out, err := h.store.List(r.Context(), f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if out == nil {
		out = []*data.ANPREvent{}
	}
	respondJSON(w, http.StatusOK, out)
}

// GET /api/v1/anpr/events/{id}
func (h *ANPRHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	event, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "event not found")
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, event)
}
