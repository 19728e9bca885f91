package storage

import (
	"context"
	"fmt"
)

// provisionStatements is the one-time schema setup. Every statement is
// idempotent, so repeated provisioning is harmless.
var provisionStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,

	`CREATE TABLE IF NOT EXISTS classes (
		id            UUID PRIMARY KEY,
		name          TEXT NOT NULL,
		instructor_id UUID NOT NULL,
		qr_token      TEXT,
		qr_expiration TIMESTAMPTZ,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS classes_qr_token_idx ON classes (qr_token) WHERE qr_token IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS enrollments (
		student_id UUID NOT NULL,
		class_id   UUID NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (student_id, class_id)
	)`,

	`CREATE TABLE IF NOT EXISTS attendance (
		id           UUID PRIMARY KEY,
		student_id   UUID NOT NULL,
		class_id     UUID NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
		session_date DATE NOT NULL,
		status       TEXT NOT NULL,
		marked_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (student_id, class_id, session_date)
	)`,

	`CREATE TABLE IF NOT EXISTS face_profiles (
		id                   UUID PRIMARY KEY,
		user_id              UUID NOT NULL UNIQUE,
		similarity_threshold REAL NOT NULL DEFAULT 0.45,
		quality_score        REAL NOT NULL DEFAULT 0,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS face_profile_embeddings (
		id              UUID PRIMARY KEY,
		face_profile_id UUID NOT NULL REFERENCES face_profiles(id) ON DELETE CASCADE,
		embedding       vector(512) NOT NULL,
		quality_score   REAL NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS face_profile_embeddings_profile_idx ON face_profile_embeddings (face_profile_id)`,
}

// Provision creates the tables the service needs. Not part of the runtime
// hot path.
func (s *PostgresStore) Provision(ctx context.Context) error {
	for _, stmt := range provisionStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("provision schema: %w", err)
		}
	}
	return nil
}
