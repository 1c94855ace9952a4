package api

import (
	"net/http"
	"path/filepath"
	"regexp"

	"github.com/go-chi/chi/v5"

	"github.com/gridwatch/vms/internal/platform/paths"
)

var (
	segmentRegex  = regexp.MustCompile(`^[a-zA-Z0-9_\-]+\.ts$`)
	snapshotRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-]+\.jpg$`)
)

// MediaHandler serves the per-camera HLS playlist, its segments and stored
// snapshots straight off disk. Every request is confined to the camera's own
// directory via a filename allowlist plus SafeJoin.
type MediaHandler struct {
	layout paths.Layout
}

func NewMediaHandler(layout paths.Layout) *MediaHandler {
	return &MediaHandler{layout: layout}
}

// GET /api/v1/cameras/{id}/hls-playlist.m3u8
func (h *MediaHandler) ServePlaylist(w http.ResponseWriter, r *http.Request) {
	camID, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid camera id")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	// The playlist mutates every few seconds; players must re-fetch it.
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	http.ServeFile(w, r, h.layout.PlaylistPath(camID.String()))
}

// GET /api/v1/cameras/{id}/hls/{segment}
func (h *MediaHandler) ServeSegment(w http.ResponseWriter, r *http.Request) {
	camID, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid camera id")
		return
	}
	segment := chi.URLParam(r, "segment")
	if !segmentRegex.MatchString(segment) {
		respondError(w, http.StatusNotFound, "not found")
		return
	}

	full, err := paths.SafeJoin(h.layout.LiveDir(camID.String()), segment)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid path")
		return
	}

	w.Header().Set("Content-Type", "video/mp2t")
	// Segments are immutable once written; a short TTL keeps players honest
	// after the rolling window advances.
	w.Header().Set("Cache-Control", "max-age=2")
	http.ServeFile(w, r, full)
}

// GET /api/v1/cameras/{id}/snapshots/{file}
func (h *MediaHandler) ServeSnapshot(w http.ResponseWriter, r *http.Request) {
	camID, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid camera id")
		return
	}
	file := chi.URLParam(r, "file")
	if !snapshotRegex.MatchString(file) {
		respondError(w, http.StatusNotFound, "not found")
		return
	}

	full, err := paths.SafeJoin(filepath.Join(h.layout.SnapshotsDir(), camID.String()), file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid path")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, full)
}
