package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/rollcall/internal/api"
	"github.com/your-org/rollcall/internal/api/ws"
	"github.com/your-org/rollcall/internal/attendance"
	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/observability"
	"github.com/your-org/rollcall/internal/queue"
	"github.com/your-org/rollcall/internal/storage"
	"github.com/your-org/rollcall/internal/vision"
	"github.com/your-org/rollcall/pkg/dto"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting rollcall API service", "port", cfg.Server.Port)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO (model weights store)
	modelStore, err := storage.NewModelStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := modelStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// WebSocket hub for live instructor dashboards
	hub := ws.NewHub()
	go hub.Run()

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create check-in consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.ConsumeCheckins(ctx, "api-checkins", func(ctx context.Context, msg jetstream.Msg) error {
		var ev models.CheckinEvent
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			return err
		}
		hub.BroadcastEvent(&dto.WSEvent{
			Type:    "checkin",
			ClassID: ev.ClassID,
			Data:    ev,
		})
		return nil
	})
	if err != nil {
		slog.Warn("start check-in consumer", "error", err)
	}

	// Face models load at startup; QR-only check-ins still work when they
	// cannot, face verification returns 503 until they do.
	runtime := vision.NewRuntime(cfg.Vision.ModelsDir, modelStore)
	if err := runtime.Initialize(ctx); err != nil {
		slog.Warn("face models unavailable — face verification disabled", "error", err)
	} else {
		defer runtime.Close()
		slog.Info("face models ready", "models_dir", cfg.Vision.ModelsDir)
	}

	pipeline := vision.NewPipeline(runtime, cfg.Vision)
	authorizer := attendance.NewAuthorizer(db, producer, cfg.Attendance.TokenTTL)

	router := api.NewRouter(api.RouterConfig{
		Config:     cfg,
		DB:         db,
		Models:     modelStore,
		Producer:   producer,
		Hub:        hub,
		Runtime:    runtime,
		Pipeline:   pipeline,
		Authorizer: authorizer,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
