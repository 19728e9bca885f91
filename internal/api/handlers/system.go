package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/rollcall/internal/queue"
	"github.com/your-org/rollcall/internal/storage"
	"github.com/your-org/rollcall/internal/vision"
)

type SystemHandler struct {
	db       *storage.PostgresStore
	models   *storage.ModelStore
	producer *queue.Producer
	runtime  *vision.Runtime
}

func NewSystemHandler(db *storage.PostgresStore, models *storage.ModelStore, producer *queue.Producer, runtime *vision.Runtime) *SystemHandler {
	return &SystemHandler{db: db, models: models, producer: producer, runtime: runtime}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := h.db.Ping(ctx); err != nil {
		checks["postgres"] = err.Error()
		healthy = false
	} else {
		checks["postgres"] = "ok"
	}

	if h.models != nil {
		if err := h.models.Ping(ctx); err != nil {
			checks["minio"] = err.Error()
			healthy = false
		} else {
			checks["minio"] = "ok"
		}
	}

	if err := h.producer.Ping(); err != nil {
		checks["nats"] = err.Error()
		healthy = false
	} else {
		checks["nats"] = "ok"
	}

	if h.runtime.Ready() {
		checks["models"] = "ok"
	} else {
		// Models load lazily; the service can still serve QR-only
		// check-ins without them.
		checks["models"] = "not loaded"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": checks,
	})
}

// ModelInfo handles GET /v1/admin/models: static model diagnostics.
func (h *SystemHandler) ModelInfo(c *gin.Context) {
	c.JSON(http.StatusOK, h.runtime.Metadata())
}

// SetupFaceTables handles POST /v1/admin/setup-face-tables: idempotent
// schema provisioning.
func (h *SystemHandler) SetupFaceTables(c *gin.Context) {
	if err := h.db.Provision(c.Request.Context()); err != nil {
		slog.Error("provision schema", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "schema provisioning failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "face tables ready"})
}
