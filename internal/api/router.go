package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/rollcall/internal/api/handlers"
	"github.com/your-org/rollcall/internal/api/ws"
	"github.com/your-org/rollcall/internal/auth"
	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/queue"
	"github.com/your-org/rollcall/internal/storage"
	"github.com/your-org/rollcall/internal/vision"
)

type RouterConfig struct {
	Config     *config.Config
	DB         *storage.PostgresStore
	Models     *storage.ModelStore
	Producer   *queue.Producer
	Hub        *ws.Hub
	Runtime    *vision.Runtime
	Pipeline   *vision.Pipeline
	Authorizer handlers.Authorizer
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.Models, cfg.Producer, cfg.Runtime)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.BearerAuth(cfg.Config.Server.JWTSigningKey, cfg.Config.Server.JWTIssuer))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Attendance
	attendanceH := handlers.NewAttendanceHandler(cfg.Authorizer)
	v1.POST("/attendance/verify-qr-token", attendanceH.VerifyToken)

	// Faces
	faceH := handlers.NewFaceHandler(cfg.DB, cfg.Pipeline, cfg.Authorizer,
		float32(cfg.Config.Attendance.DefaultThreshold), cfg.Config.Vision.MaxEnrollSamples)
	v1.POST("/faces/profile", faceH.StoreProfile)
	v1.GET("/faces/profile", faceH.GetProfile)
	v1.DELETE("/faces/profile", faceH.DeleteProfile)
	v1.POST("/faces/enroll", faceH.Enroll)
	v1.POST("/attendance/verify-face", faceH.VerifyFace)

	// Classes (instructor only)
	classH := handlers.NewClassHandler(cfg.DB, cfg.Authorizer)
	instructor := v1.Group("/classes", auth.RequireRole(auth.RoleInstructor))
	instructor.POST("/:id/qr-token", classH.RotateToken)
	instructor.GET("/:id/attendance", classH.ListAttendance)

	// Admin
	admin := v1.Group("/admin", auth.RequireRole(auth.RoleInstructor))
	admin.POST("/setup-face-tables", systemH.SetupFaceTables)
	admin.GET("/models", systemH.ModelInfo)

	return r
}
