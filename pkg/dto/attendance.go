package dto

import (
	"github.com/google/uuid"
)

type VerifyTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

type VerifyTokenResponse struct {
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	AlreadyMarked bool      `json:"already_marked"`
	ClassID       uuid.UUID `json:"class_id"`
	SessionDate   string    `json:"session_date"`
	// Similarity is set on face-verified check-ins only.
	Similarity float32 `json:"similarity,omitempty"`
}

type RotateTokenResponse struct {
	Token      string `json:"token"`
	Expiration string `json:"expiration"`
}

type AttendanceEntry struct {
	StudentID   uuid.UUID `json:"student_id"`
	Status      string    `json:"status"`
	SessionDate string    `json:"session_date"`
	MarkedAt    string    `json:"marked_at"`
}
