// Package attendance implements the server-side attendance authorization
// state machine: TokenLookup → TokenValidity → EnrollmentCheck →
// DuplicateCheck → Commit. Each stage short-circuits to a terminal failure on
// violation; the whole flow is stateless per request, with the relational
// store as the only shared resource.
package attendance

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/observability"
)

// Store is the slice of the relational store the authorizer reads and writes.
type Store interface {
	// ClassByToken returns the class whose current QR token equals the
	// presented token, or nil when no class holds it.
	ClassByToken(ctx context.Context, token string) (*models.Class, error)
	IsEnrolled(ctx context.Context, studentID, classID uuid.UUID) (bool, error)
	AttendanceExists(ctx context.Context, studentID, classID uuid.UUID, sessionDate time.Time) (bool, error)
	// InsertAttendance inserts if no record exists for the unique
	// (student, class, session_date) key; reports whether a row was written.
	InsertAttendance(ctx context.Context, rec *models.AttendanceRecord) (bool, error)
	RotateClassToken(ctx context.Context, classID uuid.UUID, token string, expiration time.Time) error
}

// Publisher emits check-in events for the live feed. May be nil.
type Publisher interface {
	PublishCheckin(ctx context.Context, ev models.CheckinEvent) error
}

// Request is one attendance authorization attempt.
type Request struct {
	StudentID uuid.UUID
	Token     string
	// Similarity carries the face match score when the check-in was
	// face-verified; zero otherwise. Audit only, never gates authorization.
	Similarity float32
}

// Result is a successful authorization outcome. AlreadyMarked reports that a
// record for (student, class, today) already existed: repeated scans in one
// day are harmless, not an error.
type Result struct {
	AlreadyMarked bool
	ClassID       uuid.UUID
	SessionDate   time.Time
}

type Authorizer struct {
	store     Store
	publisher Publisher
	tokenTTL  time.Duration
	now       func() time.Time
}

func NewAuthorizer(store Store, publisher Publisher, tokenTTL time.Duration) *Authorizer {
	return &Authorizer{
		store:     store,
		publisher: publisher,
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

// Authorize runs the full state machine for one request.
func (a *Authorizer) Authorize(ctx context.Context, req Request) (Result, error) {
	now := a.now().UTC()

	// TokenLookup
	class, err := a.store.ClassByToken(ctx, req.Token)
	if err != nil {
		return a.fail(wrapError(KindTransientStore, "token lookup", err))
	}
	if class == nil {
		return a.fail(newError(KindInvalidToken, "unknown or rotated token"))
	}

	// TokenValidity — a token expiring exactly now is already expired.
	if class.QRExpiration == nil || !class.QRExpiration.After(now) {
		return a.fail(newError(KindTokenExpired, "token expired"))
	}

	// EnrollmentCheck — a store error here is not "not enrolled".
	enrolled, err := a.store.IsEnrolled(ctx, req.StudentID, class.ID)
	if err != nil {
		return a.fail(wrapError(KindTransientStore, "enrollment check", err))
	}
	if !enrolled {
		return a.fail(newError(KindNotEnrolled, "student not enrolled in class"))
	}

	sessionDate := utcDate(now)

	// DuplicateCheck — idempotent success, not an error.
	exists, err := a.store.AttendanceExists(ctx, req.StudentID, class.ID, sessionDate)
	if err != nil {
		return a.fail(wrapError(KindTransientStore, "duplicate check", err))
	}
	if exists {
		observability.AttendanceChecks.WithLabelValues("already_marked").Inc()
		return Result{AlreadyMarked: true, ClassID: class.ID, SessionDate: sessionDate}, nil
	}

	// Commit — insert-if-not-exists; a concurrent request losing the race on
	// the unique key resolves to AlreadyMarked instead of a double insert.
	rec := &models.AttendanceRecord{
		ID:          uuid.New(),
		StudentID:   req.StudentID,
		ClassID:     class.ID,
		SessionDate: sessionDate,
		Status:      models.AttendanceStatusPresent,
		MarkedAt:    now,
	}
	inserted, err := a.store.InsertAttendance(ctx, rec)
	if err != nil {
		return a.fail(wrapError(KindWrite, "insert attendance", err))
	}
	if !inserted {
		observability.AttendanceChecks.WithLabelValues("already_marked").Inc()
		return Result{AlreadyMarked: true, ClassID: class.ID, SessionDate: sessionDate}, nil
	}

	observability.AttendanceChecks.WithLabelValues("marked").Inc()

	if a.publisher != nil {
		ev := models.CheckinEvent{
			StudentID:   req.StudentID,
			ClassID:     class.ID,
			SessionDate: sessionDate.Format("2006-01-02"),
			MarkedAt:    now,
			Similarity:  req.Similarity,
		}
		if err := a.publisher.PublishCheckin(ctx, ev); err != nil {
			slog.Warn("publish checkin event", "error", err, "class_id", class.ID)
		}
	}

	return Result{ClassID: class.ID, SessionDate: sessionDate}, nil
}

func (a *Authorizer) fail(err *Error) (Result, error) {
	observability.AttendanceChecks.WithLabelValues(err.Kind.String()).Inc()
	return Result{}, err
}

// RotateToken mints a fresh one-time QR token for a class, replacing any
// previous one. Exactly one live token per class at a time.
func (a *Authorizer) RotateToken(ctx context.Context, classID uuid.UUID) (string, time.Time, error) {
	token, err := newToken()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("mint token: %w", err)
	}

	expiration := a.now().UTC().Add(a.tokenTTL)
	if err := a.store.RotateClassToken(ctx, classID, token, expiration); err != nil {
		return "", time.Time{}, wrapError(KindWrite, "rotate class token", err)
	}
	return token, expiration, nil
}

func newToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// utcDate truncates a time to its UTC date boundary.
func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
