package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gridwatch/vms/internal/data"
)

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func pathID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

// queryCameraID returns nil when the parameter is absent. Both the snake and
// camel spellings are accepted.
func queryCameraID(r *http.Request) (*uuid.UUID, error) {
	v := r.URL.Query().Get("camera_id")
	if v == "" {
		v = r.URL.Query().Get("cameraId")
	}
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// cameraView is the outward shape of a camera: the secret never leaves the
// process and the username is masked to its first two characters.
func cameraView(c *data.Camera) *data.Camera {
	out := *c
	out.Username = maskUsername(c.Username)
	return &out
}

func cameraViews(cams []*data.Camera) []*data.Camera {
	out := make([]*data.Camera, len(cams))
	for i, c := range cams {
		out[i] = cameraView(c)
	}
	return out
}

func maskUsername(u string) string {
	if u == "" {
		return ""
	}
	if len(u) <= 2 {
		return strings.Repeat("*", len(u))
	}
	return u[:2] + strings.Repeat("*", len(u)-2)
}
