package events

import (
	"github.com/google/uuid"

	"github.com/gridwatch/vms/internal/data"
)

// CameraRef identifies a camera in events that carry no other body,
// such as camera-deleted.
type CameraRef struct {
	ID uuid.UUID `json:"id"`
}

// CameraStatusPayload is the body of every camera-status event.
type CameraStatusPayload struct {
	ID     uuid.UUID         `json:"id"`
	Status data.CameraStatus `json:"status"`
	Stream data.StreamInfo   `json:"stream,omitempty"`
	Error  string            `json:"error,omitempty"`
}
