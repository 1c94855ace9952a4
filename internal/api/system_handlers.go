package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gridwatch/vms/internal/data"
)

type StatsSource interface {
	Snapshot(ctx context.Context, now time.Time) (*data.SystemStats, error)
}

type SystemHandler struct {
	stats StatsSource
}

func NewSystemHandler(stats StatsSource) *SystemHandler {
	return &SystemHandler{stats: stats}
}

// GET /api/v1/system/stats
func (h *SystemHandler) Stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.stats.Snapshot(r.Context(), time.Now())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s)
}

// GET /healthz
func Healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
