package vision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	detectorModelFile = "det_10g.onnx"
	embedderModelFile = "w600k_r50.onnx"
)

// ModelFetcher pulls model weights into a local file. Implemented by the
// MinIO model store; nil means only the local models dir is consulted.
type ModelFetcher interface {
	FetchModel(ctx context.Context, name, dest string) error
}

// Runtime owns the detector and embedder inference sessions. Both models are
// loaded exactly once; no inference call is accepted before Ready.
type Runtime struct {
	mu        sync.Mutex
	ready     bool
	modelsDir string
	fetcher   ModelFetcher
	detector  *Detector
	embedder  *Embedder
}

// Metadata describes the loaded models for diagnostics.
type Metadata struct {
	DetectorModel string `json:"detector_model"`
	EmbedderModel string `json:"embedder_model"`
	DetectorInput [2]int `json:"detector_input"`
	EmbedderInput [2]int `json:"embedder_input"`
	EmbeddingDim  int    `json:"embedding_dim"`
	Ready         bool   `json:"ready"`
}

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func NewRuntime(modelsDir string, fetcher ModelFetcher) *Runtime {
	return &Runtime{modelsDir: modelsDir, fetcher: fetcher}
}

// Initialize loads both models, transitioning the runtime to Ready.
// Idempotent: a second call on a ready runtime is a no-op.
func (r *Runtime) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ready {
		return nil
	}

	detPath, err := r.ensureModel(ctx, detectorModelFile)
	if err != nil {
		return err
	}
	embPath, err := r.ensureModel(ctx, embedderModelFile)
	if err != nil {
		return err
	}

	ortInitOnce.Do(func() {
		ort.SetSharedLibraryPath(onnxLibPath())
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return fmt.Errorf("%w: init onnx runtime: %v", ErrModelLoad, ortInitErr)
	}

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath)
	if err != nil {
		return fmt.Errorf("%w: detector: %v", ErrModelLoad, err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath)
	if err != nil {
		det.Close()
		return fmt.Errorf("%w: embedder: %v", ErrModelLoad, err)
	}

	r.detector = det
	r.embedder = emb
	r.ready = true

	slog.Info("face model runtime ready")
	return nil
}

// ensureModel returns the local path of a model file, fetching it from the
// model store when absent.
func (r *Runtime) ensureModel(ctx context.Context, name string) (string, error) {
	path := filepath.Join(r.modelsDir, name)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if r.fetcher == nil {
		return "", fmt.Errorf("%w: model %s not found in %s", ErrModelLoad, name, r.modelsDir)
	}

	slog.Info("fetching model weights", "model", name)
	if err := r.fetcher.FetchModel(ctx, name, path); err != nil {
		return "", fmt.Errorf("%w: fetch %s: %v", ErrModelLoad, name, err)
	}
	return path, nil
}

// Ready reports whether both models are loaded.
func (r *Runtime) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Models returns the loaded detector and embedder, or ErrRuntimeNotReady.
func (r *Runtime) Models() (FaceDetector, FaceEmbedder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		return nil, nil, ErrRuntimeNotReady
	}
	return r.detector, r.embedder, nil
}

// Metadata returns static model information for diagnostics.
func (r *Runtime) Metadata() Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()

	md := Metadata{
		DetectorModel: detectorModelFile,
		EmbedderModel: embedderModelFile,
		Ready:         r.ready,
	}
	if r.ready {
		md.DetectorInput[0], md.DetectorInput[1] = r.detector.InputSize()
		md.EmbedderInput[0], md.EmbedderInput[1] = r.embedder.InputSize()
		md.EmbeddingDim = r.embedder.EmbeddingDim()
	}
	return md
}

// Close releases the ONNX sessions.
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.detector != nil {
		r.detector.Close()
		r.detector = nil
	}
	if r.embedder != nil {
		r.embedder.Close()
		r.embedder = nil
	}
	r.ready = false
}

// onnxLibPath returns the ONNX Runtime shared library path
// based on the operating system.
func onnxLibPath() string {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
