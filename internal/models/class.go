package models

import (
	"time"

	"github.com/google/uuid"
)

type Class struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	InstructorID uuid.UUID  `json:"instructor_id" db:"instructor_id"`
	QRToken      *string    `json:"-" db:"qr_token"`
	QRExpiration *time.Time `json:"qr_expiration,omitempty" db:"qr_expiration"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Enrollment is a (student, class) membership fact. Read-only from the
// authorizer's perspective.
type Enrollment struct {
	StudentID uuid.UUID `json:"student_id" db:"student_id"`
	ClassID   uuid.UUID `json:"class_id" db:"class_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "present"
	AttendanceStatusAbsent  AttendanceStatus = "absent"
)

// AttendanceRecord is unique per (student, class, session_date).
type AttendanceRecord struct {
	ID          uuid.UUID        `json:"id" db:"id"`
	StudentID   uuid.UUID        `json:"student_id" db:"student_id"`
	ClassID     uuid.UUID        `json:"class_id" db:"class_id"`
	SessionDate time.Time        `json:"session_date" db:"session_date"`
	Status      AttendanceStatus `json:"status" db:"status"`
	MarkedAt    time.Time        `json:"marked_at" db:"marked_at"`
}
