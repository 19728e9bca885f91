package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/auth"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/pkg/dto"
)

// ClassStore is the class/attendance slice of the relational store.
type ClassStore interface {
	GetClass(ctx context.Context, id uuid.UUID) (*models.Class, error)
	ListAttendance(ctx context.Context, classID uuid.UUID, sessionDate time.Time) ([]models.AttendanceRecord, error)
}

type ClassHandler struct {
	store      ClassStore
	authorizer Authorizer
}

func NewClassHandler(store ClassStore, authorizer Authorizer) *ClassHandler {
	return &ClassHandler{store: store, authorizer: authorizer}
}

// RotateToken handles POST /v1/classes/:id/qr-token. Only the class's own
// instructor may rotate; rotation invalidates the previous token immediately.
func (h *ClassHandler) RotateToken(c *gin.Context) {
	callerID, ok := auth.CallerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	classID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid class id"})
		return
	}

	class, ok := h.ownedClass(c, callerID, classID)
	if !ok {
		return
	}

	token, expiration, err := h.authorizer.RotateToken(c.Request.Context(), class.ID)
	if err != nil {
		slog.Error("rotate qr token", "error", err, "class_id", classID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate QR token"})
		return
	}

	c.JSON(http.StatusOK, dto.RotateTokenResponse{
		Token:      token,
		Expiration: expiration.UTC().Format(time.RFC3339),
	})
}

// ListAttendance handles GET /v1/classes/:id/attendance?day=YYYY-MM-DD.
// Defaults to today when no day is given.
func (h *ClassHandler) ListAttendance(c *gin.Context) {
	callerID, ok := auth.CallerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	classID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid class id"})
		return
	}

	if _, ok := h.ownedClass(c, callerID, classID); !ok {
		return
	}

	day := time.Now().UTC().Truncate(24 * time.Hour)
	if raw := c.Query("day"); raw != "" {
		day, err = time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "day must be YYYY-MM-DD"})
			return
		}
	}

	records, err := h.store.ListAttendance(c.Request.Context(), classID, day)
	if err != nil {
		slog.Error("list attendance", "error", err, "class_id", classID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list attendance"})
		return
	}

	entries := make([]dto.AttendanceEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, dto.AttendanceEntry{
			StudentID:   rec.StudentID,
			Status:      string(rec.Status),
			SessionDate: rec.SessionDate.Format("2006-01-02"),
			MarkedAt:    rec.MarkedAt.UTC().Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"class_id":     classID,
		"session_date": day.Format("2006-01-02"),
		"entries":      entries,
	})
}

// ownedClass loads the class and enforces instructor ownership, writing the
// error response itself on failure.
func (h *ClassHandler) ownedClass(c *gin.Context, callerID, classID uuid.UUID) (*models.Class, bool) {
	class, err := h.store.GetClass(c.Request.Context(), classID)
	if err != nil {
		slog.Error("load class", "error", err, "class_id", classID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load class"})
		return nil, false
	}
	if class == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "class not found"})
		return nil, false
	}
	if class.InstructorID != callerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not the instructor of this class"})
		return nil, false
	}
	return class, true
}
