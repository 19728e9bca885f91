package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/rollcall/internal/attendance"
	"github.com/your-org/rollcall/internal/auth"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/storage"
	"github.com/your-org/rollcall/internal/vision"
	"github.com/your-org/rollcall/pkg/dto"
)

type mockProfileStore struct {
	faceProfileByUser  func(ctx context.Context, userID uuid.UUID) (*models.FaceProfile, error)
	replaceFaceProfile func(ctx context.Context, userID uuid.UUID, threshold, quality float32, samples []storage.ProfileSample) (*models.FaceProfile, error)
	deleteFaceProfile  func(ctx context.Context, userID uuid.UUID) error
}

func (m *mockProfileStore) FaceProfileByUser(ctx context.Context, userID uuid.UUID) (*models.FaceProfile, error) {
	return m.faceProfileByUser(ctx, userID)
}

func (m *mockProfileStore) ReplaceFaceProfile(ctx context.Context, userID uuid.UUID, threshold, quality float32, samples []storage.ProfileSample) (*models.FaceProfile, error) {
	return m.replaceFaceProfile(ctx, userID, threshold, quality, samples)
}

func (m *mockProfileStore) DeleteFaceProfile(ctx context.Context, userID uuid.UUID) error {
	if m.deleteFaceProfile != nil {
		return m.deleteFaceProfile(ctx, userID)
	}
	return nil
}

type stubPipeline struct {
	embedding vision.Embedding
	err       error
}

func (s *stubPipeline) ExtractFaceEmbedding(_ image.Image) (vision.Embedding, error) {
	return s.embedding, s.err
}

// gatedPipeline stalls the first extraction until released, so a second
// request can overtake the first mid-flight.
type gatedPipeline struct {
	embedding vision.Embedding
	entered   chan struct{}
	release   chan struct{}
	calls     int32
}

func (p *gatedPipeline) ExtractFaceEmbedding(_ image.Image) (vision.Embedding, error) {
	if atomic.AddInt32(&p.calls, 1) == 1 {
		close(p.entered)
		<-p.release
	}
	return p.embedding, nil
}

func faceRouter(store ProfileStore, pipeline FacePipeline, authorizer Authorizer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewFaceHandler(store, pipeline, authorizer, 0.45, 5)
	v1 := r.Group("/v1", auth.BearerAuth(testKey, testIssuer))
	v1.POST("/faces/profile", h.StoreProfile)
	v1.GET("/faces/profile", h.GetProfile)
	v1.POST("/attendance/verify-face", h.VerifyFace)
	return r
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.Gray{Y: uint8((x * y) % 256)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func verifyFaceRequest(t *testing.T, bearer, token string, frame []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("token", token))
	if frame != nil {
		fw, err := mw.CreateFormFile("image", "frame.jpg")
		require.NoError(t, err)
		_, err = fw.Write(frame)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/attendance/verify-face", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+bearer)
	return req
}

func storedProfile(userID uuid.UUID, threshold float32, embeddings ...[]float32) *models.FaceProfile {
	p := &models.FaceProfile{
		ID:                  uuid.New(),
		UserID:              userID,
		SimilarityThreshold: threshold,
		CreatedAt:           time.Now(),
		UpdatedAt:           time.Now(),
	}
	for _, e := range embeddings {
		p.Embeddings = append(p.Embeddings, models.ProfileEmbedding{Embedding: e})
	}
	return p
}

func TestStoreProfile(t *testing.T) {
	userID := uuid.New()
	bearer := studentToken(t, userID)

	post := func(r *gin.Engine, body any) *httptest.ResponseRecorder {
		data, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/v1/faces/profile", bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+bearer)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("stores embeddings with default threshold", func(t *testing.T) {
		store := &mockProfileStore{
			replaceFaceProfile: func(_ context.Context, id uuid.UUID, threshold, _ float32, samples []storage.ProfileSample) (*models.FaceProfile, error) {
				assert.Equal(t, userID, id)
				assert.Equal(t, float32(0.45), threshold)
				assert.Len(t, samples, 2)
				return storedProfile(id, threshold), nil
			},
		}
		w := post(faceRouter(store, nil, nil), dto.StoreProfileRequest{
			Embeddings: [][]float32{{1, 0}, {0, 1}},
		})
		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.StoreProfileResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.NotEmpty(t, resp.ProfileID)
	})

	t.Run("custom threshold passes through", func(t *testing.T) {
		store := &mockProfileStore{
			replaceFaceProfile: func(_ context.Context, _ uuid.UUID, threshold, _ float32, _ []storage.ProfileSample) (*models.FaceProfile, error) {
				assert.Equal(t, float32(0.6), threshold)
				return storedProfile(userID, threshold), nil
			},
		}
		w := post(faceRouter(store, nil, nil), dto.StoreProfileRequest{
			Embeddings: [][]float32{{1, 0}},
			Threshold:  0.6,
		})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("empty embeddings rejected", func(t *testing.T) {
		w := post(faceRouter(&mockProfileStore{}, nil, nil), gin.H{"embeddings": [][]float32{}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("mismatched lengths rejected, nothing stored", func(t *testing.T) {
		store := &mockProfileStore{
			replaceFaceProfile: func(_ context.Context, _ uuid.UUID, _, _ float32, _ []storage.ProfileSample) (*models.FaceProfile, error) {
				t.Fatal("must not store mismatched embeddings")
				return nil, nil
			},
		}
		w := post(faceRouter(store, nil, nil), dto.StoreProfileRequest{
			Embeddings: [][]float32{{1, 0, 0}, {1, 0}},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDeleteProfile(t *testing.T) {
	userID := uuid.New()
	store := &mockProfileStore{
		deleteFaceProfile: func(_ context.Context, id uuid.UUID) error {
			assert.Equal(t, userID, id)
			return nil
		},
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewFaceHandler(store, nil, nil, 0.45, 5)
	r.DELETE("/v1/faces/profile", auth.BearerAuth(testKey, testIssuer), h.DeleteProfile)

	req := httptest.NewRequest(http.MethodDelete, "/v1/faces/profile", nil)
	req.Header.Set("Authorization", "Bearer "+studentToken(t, userID))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetProfile(t *testing.T) {
	userID := uuid.New()
	bearer := studentToken(t, userID)

	get := func(r *gin.Engine) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/faces/profile", nil)
		req.Header.Set("Authorization", "Bearer "+bearer)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("found", func(t *testing.T) {
		store := &mockProfileStore{
			faceProfileByUser: func(_ context.Context, id uuid.UUID) (*models.FaceProfile, error) {
				return storedProfile(id, 0.5, []float32{1, 0}, []float32{0, 1}), nil
			},
		}
		w := get(faceRouter(store, nil, nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.ProfileResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, userID, resp.UserID)
		assert.Equal(t, 2, resp.EmbeddingCount)
	})

	t.Run("not enrolled", func(t *testing.T) {
		store := &mockProfileStore{
			faceProfileByUser: func(_ context.Context, _ uuid.UUID) (*models.FaceProfile, error) {
				return nil, nil
			},
		}
		w := get(faceRouter(store, nil, nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestVerifyFace(t *testing.T) {
	userID := uuid.New()
	bearer := studentToken(t, userID)
	classID := uuid.New()

	profileStore := func(p *models.FaceProfile) *mockProfileStore {
		return &mockProfileStore{
			faceProfileByUser: func(_ context.Context, _ uuid.UUID) (*models.FaceProfile, error) {
				return p, nil
			},
		}
	}

	t.Run("accepted face marks attendance with similarity", func(t *testing.T) {
		var authorized *attendance.Request
		authorizer := &mockAuthorizer{
			authorize: func(_ context.Context, req attendance.Request) (attendance.Result, error) {
				authorized = &req
				return attendance.Result{ClassID: classID}, nil
			},
		}
		pipeline := &stubPipeline{embedding: vision.Embedding{Vector: []float32{1, 0}, Quality: 0.8}}
		r := faceRouter(profileStore(storedProfile(userID, 0.5, []float32{1, 0})), pipeline, authorizer)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, verifyFaceRequest(t, bearer, "qr-token", jpegBytes(t)))
		require.Equal(t, http.StatusOK, w.Code)

		require.NotNil(t, authorized)
		assert.Equal(t, userID, authorized.StudentID)
		assert.Equal(t, "qr-token", authorized.Token)
		assert.InDelta(t, 1.0, authorized.Similarity, 1e-6)

		var resp dto.VerifyTokenResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, classID, resp.ClassID)
		assert.InDelta(t, 1.0, resp.Similarity, 1e-6)
	})

	t.Run("rejected face never reaches authorizer", func(t *testing.T) {
		authorizer := &mockAuthorizer{
			authorize: func(_ context.Context, _ attendance.Request) (attendance.Result, error) {
				t.Fatal("authorizer must not run on rejected face")
				return attendance.Result{}, nil
			},
		}
		// Orthogonal probe: similarity 0 against the stored sample.
		pipeline := &stubPipeline{embedding: vision.Embedding{Vector: []float32{0, 1}, Quality: 0.8}}
		r := faceRouter(profileStore(storedProfile(userID, 0.5, []float32{1, 0})), pipeline, authorizer)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, verifyFaceRequest(t, bearer, "qr-token", jpegBytes(t)))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("no face detected", func(t *testing.T) {
		pipeline := &stubPipeline{err: vision.ErrNoFaceDetected}
		r := faceRouter(profileStore(storedProfile(userID, 0.5, []float32{1, 0})), pipeline, &mockAuthorizer{})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, verifyFaceRequest(t, bearer, "qr-token", jpegBytes(t)))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("low quality capture", func(t *testing.T) {
		pipeline := &stubPipeline{err: vision.ErrLowQuality}
		r := faceRouter(profileStore(storedProfile(userID, 0.5, []float32{1, 0})), pipeline, &mockAuthorizer{})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, verifyFaceRequest(t, bearer, "qr-token", jpegBytes(t)))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("models not ready", func(t *testing.T) {
		pipeline := &stubPipeline{err: vision.ErrRuntimeNotReady}
		r := faceRouter(profileStore(storedProfile(userID, 0.5, []float32{1, 0})), pipeline, &mockAuthorizer{})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, verifyFaceRequest(t, bearer, "qr-token", jpegBytes(t)))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("no profile enrolled", func(t *testing.T) {
		r := faceRouter(profileStore(nil), &stubPipeline{}, &mockAuthorizer{})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, verifyFaceRequest(t, bearer, "qr-token", jpegBytes(t)))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		r := faceRouter(profileStore(storedProfile(userID, 0.5, []float32{1, 0})), &stubPipeline{}, &mockAuthorizer{})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, verifyFaceRequest(t, bearer, "", jpegBytes(t)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing image", func(t *testing.T) {
		r := faceRouter(profileStore(storedProfile(userID, 0.5, []float32{1, 0})), &stubPipeline{}, &mockAuthorizer{})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, verifyFaceRequest(t, bearer, "qr-token", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("concurrent requests stay independent", func(t *testing.T) {
		studentA := uuid.New()
		studentB := uuid.New()

		var mu sync.Mutex
		authorizedFor := map[uuid.UUID]bool{}
		authorizer := &mockAuthorizer{
			authorize: func(_ context.Context, req attendance.Request) (attendance.Result, error) {
				mu.Lock()
				authorizedFor[req.StudentID] = true
				mu.Unlock()
				return attendance.Result{ClassID: classID}, nil
			},
		}
		store := &mockProfileStore{
			faceProfileByUser: func(_ context.Context, id uuid.UUID) (*models.FaceProfile, error) {
				return storedProfile(id, 0.5, []float32{1, 0}), nil
			},
		}
		pipeline := &gatedPipeline{
			embedding: vision.Embedding{Vector: []float32{1, 0}, Quality: 0.8},
			entered:   make(chan struct{}),
			release:   make(chan struct{}),
		}
		r := faceRouter(store, pipeline, authorizer)

		frame := jpegBytes(t)
		reqA := verifyFaceRequest(t, studentToken(t, studentA), "qr-token", frame)
		reqB := verifyFaceRequest(t, studentToken(t, studentB), "qr-token", frame)

		// A blocks inside the pipeline; B completes end-to-end meanwhile.
		codeA := make(chan int, 1)
		go func() {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, reqA)
			codeA <- w.Code
		}()
		<-pipeline.entered

		wB := httptest.NewRecorder()
		r.ServeHTTP(wB, reqB)
		require.Equal(t, http.StatusOK, wB.Code)

		close(pipeline.release)
		assert.Equal(t, http.StatusOK, <-codeA)

		mu.Lock()
		defer mu.Unlock()
		assert.True(t, authorizedFor[studentA], "first student's attendance must be marked")
		assert.True(t, authorizedFor[studentB], "second student's attendance must be marked")
	})

	t.Run("expired token after accepted face", func(t *testing.T) {
		authorizer := &mockAuthorizer{
			authorize: func(_ context.Context, _ attendance.Request) (attendance.Result, error) {
				return attendance.Result{}, &attendance.Error{Kind: attendance.KindTokenExpired}
			},
		}
		pipeline := &stubPipeline{embedding: vision.Embedding{Vector: []float32{1, 0}, Quality: 0.8}}
		r := faceRouter(profileStore(storedProfile(userID, 0.5, []float32{1, 0})), pipeline, authorizer)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, verifyFaceRequest(t, bearer, "qr-token", jpegBytes(t)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
