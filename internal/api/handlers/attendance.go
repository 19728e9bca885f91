package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/attendance"
	"github.com/your-org/rollcall/internal/auth"
	"github.com/your-org/rollcall/pkg/dto"
)

// Authorizer is the attendance state machine as the handlers consume it.
type Authorizer interface {
	Authorize(ctx context.Context, req attendance.Request) (attendance.Result, error)
	RotateToken(ctx context.Context, classID uuid.UUID) (string, time.Time, error)
}

type AttendanceHandler struct {
	authorizer Authorizer
}

func NewAttendanceHandler(authorizer Authorizer) *AttendanceHandler {
	return &AttendanceHandler{authorizer: authorizer}
}

// VerifyToken handles POST /v1/attendance/verify-qr-token: QR-only check-in.
func (h *AttendanceHandler) VerifyToken(c *gin.Context) {
	studentID, ok := auth.CallerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req dto.VerifyTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return
	}

	result, err := h.authorizer.Authorize(c.Request.Context(), attendance.Request{
		StudentID: studentID,
		Token:     req.Token,
	})
	if err != nil {
		status, msg := authFailure(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, checkinResponse(result, 0))
}

func checkinResponse(result attendance.Result, similarity float32) dto.VerifyTokenResponse {
	msg := "attendance marked"
	if result.AlreadyMarked {
		msg = "attendance already marked for today"
	}
	return dto.VerifyTokenResponse{
		Success:       true,
		Message:       msg,
		AlreadyMarked: result.AlreadyMarked,
		ClassID:       result.ClassID,
		SessionDate:   result.SessionDate.Format("2006-01-02"),
		Similarity:    similarity,
	}
}

// authFailure maps a typed authorization failure to an HTTP status and a
// message safe to expose. No stack traces or internal identifiers leak.
func authFailure(err error) (int, string) {
	switch attendance.KindOf(err) {
	case attendance.KindInvalidToken:
		return http.StatusBadRequest, "invalid QR token"
	case attendance.KindTokenExpired:
		return http.StatusBadRequest, "QR token expired"
	case attendance.KindNotEnrolled:
		return http.StatusForbidden, "not enrolled in this class"
	case attendance.KindTransientStore:
		return http.StatusInternalServerError, "temporary storage error, please retry"
	case attendance.KindWrite:
		return http.StatusInternalServerError, "failed to record attendance"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
