package dto

import (
	"github.com/google/uuid"
)

type StoreProfileRequest struct {
	Embeddings [][]float32 `json:"embeddings" binding:"required"`
	// Threshold overrides the system-wide default similarity threshold
	// for this profile when positive.
	Threshold float32 `json:"threshold,omitempty"`
}

type StoreProfileResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ProfileID string `json:"profile_id,omitempty"`
}

type ProfileResponse struct {
	ID                  uuid.UUID `json:"id"`
	UserID              uuid.UUID `json:"user_id"`
	SimilarityThreshold float32   `json:"similarity_threshold"`
	QualityScore        float32   `json:"quality_score"`
	EmbeddingCount      int       `json:"embedding_count"`
	CreatedAt           string    `json:"created_at"`
	UpdatedAt           string    `json:"updated_at"`
}

type WSEvent struct {
	Type    string      `json:"type"`
	ClassID uuid.UUID   `json:"class_id"`
	Data    interface{} `json:"data"`
}
