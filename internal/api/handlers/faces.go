package handlers

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/attendance"
	"github.com/your-org/rollcall/internal/auth"
	"github.com/your-org/rollcall/internal/match"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/observability"
	"github.com/your-org/rollcall/internal/session"
	"github.com/your-org/rollcall/internal/storage"
	"github.com/your-org/rollcall/internal/vision"
	"github.com/your-org/rollcall/pkg/dto"
)

// ProfileStore is the face-profile slice of the relational store.
type ProfileStore interface {
	FaceProfileByUser(ctx context.Context, userID uuid.UUID) (*models.FaceProfile, error)
	ReplaceFaceProfile(ctx context.Context, userID uuid.UUID, threshold, quality float32, samples []storage.ProfileSample) (*models.FaceProfile, error)
	DeleteFaceProfile(ctx context.Context, userID uuid.UUID) error
}

// FacePipeline extracts a quality-gated embedding from one image.
type FacePipeline interface {
	ExtractFaceEmbedding(img image.Image) (vision.Embedding, error)
}

type FaceHandler struct {
	store            ProfileStore
	pipeline         FacePipeline
	authorizer       Authorizer
	defaultThreshold float32
	maxSamples       int
}

func NewFaceHandler(store ProfileStore, pipeline FacePipeline, authorizer Authorizer, defaultThreshold float32, maxSamples int) *FaceHandler {
	return &FaceHandler{
		store:            store,
		pipeline:         pipeline,
		authorizer:       authorizer,
		defaultThreshold: defaultThreshold,
		maxSamples:       maxSamples,
	}
}

// StoreProfile handles POST /v1/faces/profile: client-computed embeddings.
// The previous profile is replaced wholesale; mismatched vector lengths are
// rejected before anything is written.
func (h *FaceHandler) StoreProfile(c *gin.Context) {
	userID, ok := auth.CallerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req dto.StoreProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "embeddings required"})
		return
	}
	if len(req.Embeddings) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "embeddings array must not be empty"})
		return
	}

	// Mean vector doubles as the uniform-length validation.
	mean, err := match.MeanVector(req.Embeddings)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "embeddings must all have the same length"})
		return
	}
	slog.Debug("profile mean vector computed", "user_id", userID, "dim", len(mean))

	threshold := req.Threshold
	if threshold <= 0 {
		threshold = h.defaultThreshold
	}

	samples := make([]storage.ProfileSample, 0, len(req.Embeddings))
	for _, emb := range req.Embeddings {
		samples = append(samples, storage.ProfileSample{Embedding: emb})
	}

	profile, err := h.store.ReplaceFaceProfile(c.Request.Context(), userID, threshold, 0, samples)
	if err != nil {
		slog.Error("replace face profile", "error", err, "user_id", userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store face profile"})
		return
	}

	c.JSON(http.StatusOK, dto.StoreProfileResponse{
		Success:   true,
		Message:   "face profile stored",
		ProfileID: profile.ID.String(),
	})
}

// GetProfile handles GET /v1/faces/profile: metadata only, no raw vectors.
func (h *FaceHandler) GetProfile(c *gin.Context) {
	userID, ok := auth.CallerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	profile, err := h.store.FaceProfileByUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load face profile"})
		return
	}
	if profile == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no face profile enrolled"})
		return
	}

	c.JSON(http.StatusOK, dto.ProfileResponse{
		ID:                  profile.ID,
		UserID:              profile.UserID,
		SimilarityThreshold: profile.SimilarityThreshold,
		QualityScore:        profile.QualityScore,
		EmbeddingCount:      len(profile.Embeddings),
		CreatedAt:           profile.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:           profile.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	})
}

// DeleteProfile handles DELETE /v1/faces/profile.
func (h *FaceHandler) DeleteProfile(c *gin.Context) {
	userID, ok := auth.CallerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.store.DeleteFaceProfile(c.Request.Context(), userID); err != nil {
		slog.Error("delete face profile", "error", err, "user_id", userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete face profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "face profile deleted"})
}

// Enroll handles POST /v1/faces/enroll: multipart image upload. The server
// runs the full pipeline per image; captures failing the quality gate are
// skipped, and enrollment fails outright when nothing usable remains.
func (h *FaceHandler) Enroll(c *gin.Context) {
	userID, ok := auth.CallerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one image required"})
		return
	}
	if len(files) > h.maxSamples {
		files = files[:h.maxSamples]
	}

	var samples []storage.ProfileSample
	var qualitySum float32
	for _, fh := range files {
		emb, err := h.extractFromUpload(fh)
		if err != nil {
			if errors.Is(err, vision.ErrRuntimeNotReady) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "face models not ready"})
				return
			}
			slog.Warn("enrollment sample rejected", "error", err, "file", fh.Filename)
			continue
		}
		samples = append(samples, storage.ProfileSample{Embedding: emb.Vector, Quality: emb.Quality})
		qualitySum += emb.Quality
	}

	if len(samples) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no usable face found in uploaded images"})
		return
	}

	profile, err := h.store.ReplaceFaceProfile(c.Request.Context(), userID,
		h.defaultThreshold, qualitySum/float32(len(samples)), samples)
	if err != nil {
		slog.Error("replace face profile", "error", err, "user_id", userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store face profile"})
		return
	}

	c.JSON(http.StatusCreated, dto.ProfileResponse{
		ID:                  profile.ID,
		UserID:              profile.UserID,
		SimilarityThreshold: profile.SimilarityThreshold,
		QualityScore:        profile.QualityScore,
		EmbeddingCount:      len(profile.Embeddings),
		CreatedAt:           profile.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:           profile.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	})
}

// VerifyFace handles POST /v1/attendance/verify-face: the full flow.
// Camera frame → pipeline → matcher → on accept, the session controller
// fires the attendance authorization callback.
func (h *FaceHandler) VerifyFace(c *gin.Context) {
	studentID, ok := auth.CallerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	token := c.PostForm("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return
	}

	fh, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}

	profile, err := h.store.FaceProfileByUser(c.Request.Context(), studentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load face profile"})
		return
	}
	if profile == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no face profile enrolled"})
		return
	}

	// One controller per verification attempt: concurrent requests must
	// never see or replace each other's pending callback.
	sess := session.NewController()

	var result attendance.Result
	var matchSim float32
	sess.Open(session.Info{StudentID: studentID, Token: token}, func(ctx context.Context) error {
		res, err := h.authorizer.Authorize(ctx, attendance.Request{
			StudentID:  studentID,
			Token:      token,
			Similarity: matchSim,
		})
		if err != nil {
			return err
		}
		result = res
		return nil
	})

	emb, err := h.extractFromUpload(fh)
	if err != nil {
		sess.Close()
		status, msg := pipelineFailure(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	decision, err := match.Match(emb.Vector, profile)
	if err != nil {
		sess.Close()
		slog.Error("face match", "error", err, "user_id", studentID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "face comparison failed"})
		return
	}
	if !decision.Accepted {
		sess.Close()
		observability.FaceVerifications.WithLabelValues("reject").Inc()
		c.JSON(http.StatusForbidden, gin.H{
			"error":      "face verification failed",
			"similarity": decision.Similarity,
		})
		return
	}

	observability.FaceVerifications.WithLabelValues("accept").Inc()
	matchSim = decision.Similarity

	if err := sess.Succeed(c.Request.Context()); err != nil {
		status, msg := authFailure(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, checkinResponse(result, decision.Similarity))
}

// pipelineFailure maps pipeline errors to user-facing responses.
func pipelineFailure(err error) (int, string) {
	switch {
	case errors.Is(err, vision.ErrRuntimeNotReady):
		return http.StatusServiceUnavailable, "face models not ready"
	case errors.Is(err, vision.ErrNoFaceDetected):
		return http.StatusUnprocessableEntity, "no face detected, please rescan"
	case errors.Is(err, vision.ErrLowQuality):
		return http.StatusUnprocessableEntity, "image quality too low, please rescan"
	default:
		return http.StatusInternalServerError, "face processing failed"
	}
}

func (h *FaceHandler) extractFromUpload(fh *multipart.FileHeader) (vision.Embedding, error) {
	file, err := fh.Open()
	if err != nil {
		return vision.Embedding{}, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return vision.Embedding{}, err
	}

	img, err := vision.DecodeImage(data)
	if err != nil {
		return vision.Embedding{}, err
	}

	return h.pipeline.ExtractFaceEmbedding(img)
}
