package models

import (
	"time"

	"github.com/google/uuid"
)

// FaceProfile is a user's enrolled face identity. At most one per user;
// re-enrollment replaces the profile wholesale.
type FaceProfile struct {
	ID                  uuid.UUID `json:"id" db:"id"`
	UserID              uuid.UUID `json:"user_id" db:"user_id"`
	SimilarityThreshold float32   `json:"similarity_threshold" db:"similarity_threshold"`
	QualityScore        float32   `json:"quality_score" db:"quality_score"`
	Embeddings          []ProfileEmbedding
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// ProfileEmbedding is one enrollment sample within a profile.
// All embeddings within a profile share the same vector dimension.
type ProfileEmbedding struct {
	ID            uuid.UUID `json:"id" db:"id"`
	FaceProfileID uuid.UUID `json:"face_profile_id" db:"face_profile_id"`
	Embedding     []float32 `json:"-" db:"embedding"`
	QualityScore  float32   `json:"quality_score" db:"quality_score"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
