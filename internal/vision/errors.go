package vision

import "errors"

var (
	// ErrModelLoad indicates model weights could not be fetched or parsed.
	ErrModelLoad = errors.New("model load failed")

	// ErrRuntimeNotReady indicates an inference call before Initialize succeeded.
	ErrRuntimeNotReady = errors.New("model runtime not ready")

	// ErrNoFaceDetected indicates no qualifying face was found in the image.
	ErrNoFaceDetected = errors.New("no face detected")

	// ErrLowQuality indicates the capture quality score is below the
	// configured minimum. Degraded enrollments and verifications are
	// rejected early rather than silently stored.
	ErrLowQuality = errors.New("face quality below minimum")
)
