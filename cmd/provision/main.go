package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/observability"
	"github.com/your-org/rollcall/internal/storage"
)

// One-shot schema provisioning: creates the pgvector extension and all
// tables if missing. Safe to run repeatedly.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Provision(ctx); err != nil {
		slog.Error("provision schema", "error", err)
		os.Exit(1)
	}

	slog.Info("schema provisioned")
}
