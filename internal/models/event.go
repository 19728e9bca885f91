package models

import (
	"time"

	"github.com/google/uuid"
)

// CheckinEvent is the message published to NATS when attendance is committed.
// The API consumes these to feed instructor dashboards.
type CheckinEvent struct {
	StudentID   uuid.UUID `json:"student_id"`
	ClassID     uuid.UUID `json:"class_id"`
	SessionDate string    `json:"session_date"` // YYYY-MM-DD, UTC
	MarkedAt    time.Time `json:"marked_at"`
	Similarity  float32   `json:"similarity,omitempty"` // face match score, when face-verified
}
