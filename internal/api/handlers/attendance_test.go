package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/rollcall/internal/attendance"
	"github.com/your-org/rollcall/internal/auth"
	"github.com/your-org/rollcall/pkg/dto"
)

const (
	testKey    = "handler-test-key"
	testIssuer = "rollcall-test"
)

type mockAuthorizer struct {
	authorize   func(ctx context.Context, req attendance.Request) (attendance.Result, error)
	rotateToken func(ctx context.Context, classID uuid.UUID) (string, time.Time, error)
}

func (m *mockAuthorizer) Authorize(ctx context.Context, req attendance.Request) (attendance.Result, error) {
	return m.authorize(ctx, req)
}

func (m *mockAuthorizer) RotateToken(ctx context.Context, classID uuid.UUID) (string, time.Time, error) {
	return m.rotateToken(ctx, classID)
}

func studentToken(t *testing.T, id uuid.UUID) string {
	t.Helper()
	token, _, err := auth.Issue(id.String(), auth.RoleStudent, testIssuer, testKey, time.Hour)
	require.NoError(t, err)
	return token
}

func verifyTokenRouter(authorizer Authorizer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewAttendanceHandler(authorizer)
	r.POST("/v1/attendance/verify-qr-token",
		auth.BearerAuth(testKey, testIssuer), h.VerifyToken)
	return r
}

func postVerifyToken(r *gin.Engine, bearer string, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/v1/attendance/verify-qr-token", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestVerifyTokenSuccess(t *testing.T) {
	studentID := uuid.New()
	classID := uuid.New()
	sessionDate := time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC)

	authorizer := &mockAuthorizer{
		authorize: func(_ context.Context, req attendance.Request) (attendance.Result, error) {
			assert.Equal(t, studentID, req.StudentID)
			assert.Equal(t, "qr-token", req.Token)
			return attendance.Result{ClassID: classID, SessionDate: sessionDate}, nil
		},
	}

	w := postVerifyToken(verifyTokenRouter(authorizer), studentToken(t, studentID),
		dto.VerifyTokenRequest{Token: "qr-token"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.VerifyTokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.False(t, resp.AlreadyMarked)
	assert.Equal(t, classID, resp.ClassID)
	assert.Equal(t, "2026-03-09", resp.SessionDate)
}

func TestVerifyTokenAlreadyMarked(t *testing.T) {
	authorizer := &mockAuthorizer{
		authorize: func(_ context.Context, _ attendance.Request) (attendance.Result, error) {
			return attendance.Result{AlreadyMarked: true, ClassID: uuid.New()}, nil
		},
	}

	w := postVerifyToken(verifyTokenRouter(authorizer), studentToken(t, uuid.New()),
		dto.VerifyTokenRequest{Token: "qr-token"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.VerifyTokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.AlreadyMarked)
}

func TestVerifyTokenFailureStatuses(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid token", &attendance.Error{Kind: attendance.KindInvalidToken}, http.StatusBadRequest},
		{"expired token", &attendance.Error{Kind: attendance.KindTokenExpired}, http.StatusBadRequest},
		{"not enrolled", &attendance.Error{Kind: attendance.KindNotEnrolled}, http.StatusForbidden},
		{"store outage", &attendance.Error{Kind: attendance.KindTransientStore}, http.StatusInternalServerError},
		{"write failure", &attendance.Error{Kind: attendance.KindWrite}, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			authorizer := &mockAuthorizer{
				authorize: func(_ context.Context, _ attendance.Request) (attendance.Result, error) {
					return attendance.Result{}, tc.err
				},
			}
			w := postVerifyToken(verifyTokenRouter(authorizer), studentToken(t, uuid.New()),
				dto.VerifyTokenRequest{Token: "qr-token"})
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestVerifyTokenBadRequests(t *testing.T) {
	authorizer := &mockAuthorizer{
		authorize: func(_ context.Context, _ attendance.Request) (attendance.Result, error) {
			t.Fatal("authorize must not run on invalid input")
			return attendance.Result{}, nil
		},
	}
	r := verifyTokenRouter(authorizer)

	t.Run("missing token field", func(t *testing.T) {
		w := postVerifyToken(r, studentToken(t, uuid.New()), gin.H{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		w := postVerifyToken(r, "", dto.VerifyTokenRequest{Token: "qr-token"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
