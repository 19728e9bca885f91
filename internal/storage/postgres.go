package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Classes & tokens ---

func (s *PostgresStore) GetClass(ctx context.Context, id uuid.UUID) (*models.Class, error) {
	c := &models.Class{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, instructor_id, qr_token, qr_expiration, created_at, updated_at
		 FROM classes WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.InstructorID, &c.QRToken, &c.QRExpiration, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get class: %w", err)
	}
	return c, nil
}

// ClassByToken finds the class whose current QR token equals the presented
// token. A rotated-away token matches nothing.
func (s *PostgresStore) ClassByToken(ctx context.Context, token string) (*models.Class, error) {
	c := &models.Class{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, instructor_id, qr_token, qr_expiration, created_at, updated_at
		 FROM classes WHERE qr_token = $1`, token,
	).Scan(&c.ID, &c.Name, &c.InstructorID, &c.QRToken, &c.QRExpiration, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("class by token: %w", err)
	}
	return c, nil
}

// RotateClassToken replaces the class's live token. Regenerated, never
// appended: one live token per class.
func (s *PostgresStore) RotateClassToken(ctx context.Context, classID uuid.UUID, token string, expiration time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE classes SET qr_token = $1, qr_expiration = $2, updated_at = NOW() WHERE id = $3`,
		token, expiration, classID)
	if err != nil {
		return fmt.Errorf("rotate class token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("class %s not found", classID)
	}
	return nil
}

// --- Enrollments & attendance ---

func (s *PostgresStore) IsEnrolled(ctx context.Context, studentID, classID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM enrollments WHERE student_id = $1 AND class_id = $2)`,
		studentID, classID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("enrollment check: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) AttendanceExists(ctx context.Context, studentID, classID uuid.UUID, sessionDate time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM attendance WHERE student_id = $1 AND class_id = $2 AND session_date = $3)`,
		studentID, classID, sessionDate,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("attendance exists: %w", err)
	}
	return exists, nil
}

// InsertAttendance writes a record unless one already exists for the unique
// (student, class, session_date) key. Returns false when the insert lost a
// race or the record was already there.
func (s *PostgresStore) InsertAttendance(ctx context.Context, rec *models.AttendanceRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO attendance (id, student_id, class_id, session_date, status, marked_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (student_id, class_id, session_date) DO NOTHING`,
		rec.ID, rec.StudentID, rec.ClassID, rec.SessionDate, rec.Status, rec.MarkedAt)
	if err != nil {
		return false, fmt.Errorf("insert attendance: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListAttendance(ctx context.Context, classID uuid.UUID, sessionDate time.Time) ([]models.AttendanceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, student_id, class_id, session_date, status, marked_at
		 FROM attendance WHERE class_id = $1 AND session_date = $2 ORDER BY marked_at`,
		classID, sessionDate)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var records []models.AttendanceRecord
	for rows.Next() {
		var r models.AttendanceRecord
		if err := rows.Scan(&r.ID, &r.StudentID, &r.ClassID, &r.SessionDate, &r.Status, &r.MarkedAt); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// --- Face profiles ---

// ProfileSample is one enrollment embedding to persist.
type ProfileSample struct {
	Embedding []float32
	Quality   float32
}

// FaceProfileByUser returns the user's profile with its stored embeddings,
// or nil when the user has never enrolled.
func (s *PostgresStore) FaceProfileByUser(ctx context.Context, userID uuid.UUID) (*models.FaceProfile, error) {
	p := &models.FaceProfile{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, similarity_threshold, quality_score, created_at, updated_at
		 FROM face_profiles WHERE user_id = $1`, userID,
	).Scan(&p.ID, &p.UserID, &p.SimilarityThreshold, &p.QualityScore, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get face profile: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, face_profile_id, embedding, quality_score, created_at
		 FROM face_profile_embeddings WHERE face_profile_id = $1 ORDER BY created_at`,
		p.ID)
	if err != nil {
		return nil, fmt.Errorf("list profile embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.ProfileEmbedding
		var vec pgvector.Vector
		if err := rows.Scan(&e.ID, &e.FaceProfileID, &vec, &e.QualityScore, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan profile embedding: %w", err)
		}
		e.Embedding = vec.Slice()
		p.Embeddings = append(p.Embeddings, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan profile embeddings: %w", err)
	}
	return p, nil
}

// ReplaceFaceProfile swaps the user's profile wholesale: delete-then-insert
// inside one transaction, so the replacement is atomic from the caller's
// perspective. At most one profile per user.
func (s *PostgresStore) ReplaceFaceProfile(ctx context.Context, userID uuid.UUID, threshold, quality float32, samples []ProfileSample) (*models.FaceProfile, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin replace profile: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM face_profiles WHERE user_id = $1`, userID); err != nil {
		return nil, fmt.Errorf("delete old profile: %w", err)
	}

	p := &models.FaceProfile{
		ID:                  uuid.New(),
		UserID:              userID,
		SimilarityThreshold: threshold,
		QualityScore:        quality,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO face_profiles (id, user_id, similarity_threshold, quality_score)
		 VALUES ($1, $2, $3, $4) RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.SimilarityThreshold, p.QualityScore,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}

	for _, sample := range samples {
		e := models.ProfileEmbedding{
			ID:            uuid.New(),
			FaceProfileID: p.ID,
			Embedding:     sample.Embedding,
			QualityScore:  sample.Quality,
		}
		err = tx.QueryRow(ctx,
			`INSERT INTO face_profile_embeddings (id, face_profile_id, embedding, quality_score)
			 VALUES ($1, $2, $3, $4) RETURNING created_at`,
			e.ID, e.FaceProfileID, pgvector.NewVector(sample.Embedding), e.QualityScore,
		).Scan(&e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert profile embedding: %w", err)
		}
		p.Embeddings = append(p.Embeddings, e)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit replace profile: %w", err)
	}
	return p, nil
}

// DeleteFaceProfile removes the user's profile and its embeddings.
func (s *PostgresStore) DeleteFaceProfile(ctx context.Context, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM face_profiles WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete face profile: %w", err)
	}
	return nil
}
