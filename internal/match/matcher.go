// Package match decides whether a fresh face embedding belongs to a stored
// profile.
package match

import (
	"errors"
	"fmt"
	"math"

	"github.com/your-org/rollcall/internal/models"
)

// ErrDimensionMismatch indicates the fresh and stored embeddings have
// different vector dimensions. Never silently truncated or padded.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// DefaultThreshold applies when a profile carries no threshold of its own.
const DefaultThreshold float32 = 0.45

// Result is the match decision plus the numeric similarity for audit.
type Result struct {
	Accepted   bool    `json:"accepted"`
	Similarity float32 `json:"similarity"`
	Threshold  float32 `json:"threshold"`
}

// Match compares a fresh embedding against every stored embedding in the
// profile and takes the maximum similarity — a profile holds several
// enrollment samples to tolerate pose and lighting variance. Accept iff the
// maximum is at or above the profile's threshold.
func Match(fresh []float32, profile *models.FaceProfile) (Result, error) {
	threshold := profile.SimilarityThreshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	best := float32(-1)
	for _, stored := range profile.Embeddings {
		sim, err := CosineSimilarity(fresh, stored.Embedding)
		if err != nil {
			return Result{}, err
		}
		if sim > best {
			best = sim
		}
	}
	if len(profile.Embeddings) == 0 {
		best = 0
	}

	return Result{
		Accepted:   best >= threshold,
		Similarity: best,
		Threshold:  threshold,
	}, nil
}

// CosineSimilarity computes the normalized inner product of two vectors.
func CosineSimilarity(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("%w: empty vectors", ErrDimensionMismatch)
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB))), nil
}

// MeanVector computes the element-wise mean of uniformly sized vectors.
// Mismatched lengths are rejected, never summed over a ragged array.
func MeanVector(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: no vectors", ErrDimensionMismatch)
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has %d elements, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}

	mean := make([]float32, dim)
	for _, v := range vectors {
		for i, x := range v {
			mean[i] += x
		}
	}
	n := float32(len(vectors))
	for i := range mean {
		mean[i] /= n
	}
	return mean, nil
}
