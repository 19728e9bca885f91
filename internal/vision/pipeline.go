package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"time"

	_ "image/png"

	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/observability"
)

// FaceDetector locates faces in a preprocessed image.
type FaceDetector interface {
	Detect(imgData []float32, origW, origH int) ([]Detection, error)
	InputSize() (int, int)
}

// FaceEmbedder turns an aligned face crop into a fixed-dimension vector.
type FaceEmbedder interface {
	Extract(faceData []float32) ([]float32, error)
	InputSize() (int, int)
	EmbeddingDim() int
}

// ModelProvider hands out ready models, or ErrRuntimeNotReady.
// *Runtime satisfies this.
type ModelProvider interface {
	Models() (FaceDetector, FaceEmbedder, error)
}

// Embedding is the result of one successful extraction: a fixed-dimension
// vector paired with a quality score in [0,1].
type Embedding struct {
	Vector  []float32
	Quality float32
}

// Pipeline runs detect → select → crop → embed → quality-gate on a single
// image. Pure function of the input image and loaded model weights; the only
// state is the models themselves.
type Pipeline struct {
	models        ModelProvider
	minConfidence float32
	minQuality    float32
}

func NewPipeline(models ModelProvider, cfg config.VisionConfig) *Pipeline {
	return &Pipeline{
		models:        models,
		minConfidence: float32(cfg.DetectionThreshold),
		minQuality:    float32(cfg.MinQuality),
	}
}

// DetectFaces returns all detected faces ordered by confidence, highest
// first. An empty result is valid: no face in the image is not an error.
func (p *Pipeline) DetectFaces(img image.Image) ([]Detection, error) {
	det, _, err := p.models.Models()
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	inW, inH := det.InputSize()

	start := time.Now()
	input := preprocessForDetection(img, inW, inH)
	observability.InferenceDuration.WithLabelValues("preprocess").Observe(time.Since(start).Seconds())

	start = time.Now()
	detections, err := det.Detect(input, bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	observability.FacesDetected.Add(float64(len(detections)))
	return detections, nil
}

// ExtractFaceEmbedding detects faces, selects the best qualifying one, and
// produces its embedding plus a quality score. Fails with ErrNoFaceDetected
// when no detection clears the confidence threshold and with ErrLowQuality
// when the capture is too degraded to store or verify.
func (p *Pipeline) ExtractFaceEmbedding(img image.Image) (Embedding, error) {
	detections, err := p.DetectFaces(img)
	if err != nil {
		return Embedding{}, err
	}

	best, ok := selectFace(detections, p.minConfidence)
	if !ok {
		return Embedding{}, ErrNoFaceDetected
	}

	crop := cropFace(img, best.BBox)
	if crop == nil {
		return Embedding{}, ErrNoFaceDetected
	}

	_, emb, err := p.models.Models()
	if err != nil {
		return Embedding{}, err
	}

	inW, inH := emb.InputSize()

	start := time.Now()
	vector, err := emb.Extract(preprocessForEmbedding(crop, inW, inH))
	if err != nil {
		return Embedding{}, fmt.Errorf("embed: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

	quality := qualityScore(best, crop, inW)
	if quality < p.minQuality {
		return Embedding{}, fmt.Errorf("%w: score %.2f below %.2f", ErrLowQuality, quality, p.minQuality)
	}

	return Embedding{Vector: vector, Quality: quality}, nil
}

// selectFace applies the selection policy: highest-confidence detection above
// the minimum. Detections arrive confidence-ordered, so the first qualifying
// one wins.
func selectFace(detections []Detection, minConfidence float32) (Detection, bool) {
	for _, d := range detections {
		if d.Confidence >= minConfidence {
			return d, true
		}
	}
	return Detection{}, false
}

// qualityScore combines detection confidence, face size relative to the
// embedder input, and crop sharpness into a single [0,1] proxy.
func qualityScore(det Detection, crop image.Image, embInput int) float32 {
	b := crop.Bounds()
	minDim := b.Dx()
	if b.Dy() < minDim {
		minDim = b.Dy()
	}

	sizeScore := float32(minDim) / float32(embInput)
	if sizeScore > 1 {
		sizeScore = 1
	}

	q := det.Confidence * (0.3 + 0.7*sizeScore) * (0.5 + 0.5*sharpness(crop))
	return clampF(q, 0, 1)
}

// sharpness estimates crop sharpness from mean absolute luma gradient,
// mapped into [0,1). Blurry captures score near zero.
func sharpness(img image.Image) float32 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	var acc, n float64
	for y := bounds.Min.Y + 1; y < bounds.Max.Y-1; y++ {
		for x := bounds.Min.X + 1; x < bounds.Max.X-1; x++ {
			gx := luma(img, x+1, y) - luma(img, x-1, y)
			gy := luma(img, x, y+1) - luma(img, x, y-1)
			acc += math.Abs(gx) + math.Abs(gy)
			n++
		}
	}
	if n == 0 {
		return 0
	}

	// Mean gradient of ~20 (8-bit luma) saturates the score.
	mean := acc / n
	s := mean / 20.0
	if s > 1 {
		s = 1
	}
	return float32(s)
}

func luma(img image.Image, x, y int) float64 {
	r, g, b, _ := img.At(x, y).RGBA()
	return 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
}

// DecodeImage decodes JPEG (preferred) or any registered format.
func DecodeImage(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err == nil {
		return img, nil
	}
	img, _, err = image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// --- Image preprocessing helpers ---

func preprocessForDetection(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{128.0, 128.0, 128.0})
}

func preprocessForEmbedding(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
}

// imageToFloat32CHW converts an image to CHW float32 format with
// pixel = (pixel - mean) / std normalization.
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := resizeImage(img, targetW, targetH)
	bounds := resized.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	data := make([]float32, 3*h*w)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()

			rf := float32(r >> 8)
			gf := float32(g >> 8)
			bf := float32(b >> 8)

			idx := y*w + x
			data[0*h*w+idx] = (rf - mean[0]) / std[0]
			data[1*h*w+idx] = (gf - mean[1]) / std[1]
			data[2*h*w+idx] = (bf - mean[2]) / std[2]
		}
	}

	return data
}

// resizeImage performs nearest-neighbour resize (fast, good enough for ML input).
func resizeImage(img image.Image, targetW, targetH int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))

	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			srcX := bounds.Min.X + x*srcW/targetW
			srcY := bounds.Min.Y + y*srcH/targetH
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}

	return dst
}

// cropFace extracts a padded face region from the image given a bounding box.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	bounds := img.Bounds()

	x1 := int(bbox[0])
	y1 := int(bbox[1])
	x2 := int(bbox[2])
	y2 := int(bbox[3])

	w := x2 - x1
	h := y2 - y1
	if w <= 0 || h <= 0 {
		return nil
	}

	// 10% padding on each side
	x1 -= w / 10
	y1 -= h / 10
	x2 += w / 10
	y2 += h / 10

	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}
	if x2-x1 <= 0 || y2-y1 <= 0 {
		return nil
	}

	crop := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	for cy := y1; cy < y2; cy++ {
		for cx := x1; cx < x2; cx++ {
			crop.Set(cx-x1, cy-y1, img.At(cx, cy))
		}
	}

	return crop
}
