package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/config"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/db"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/devices"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/export"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/logging"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/pipeline"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("organizer failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := loadRegistry(cfg.DevicesFile)
	if err != nil {
		return err
	}

	runner := &pipeline.Runner{
		Config:   cfg,
		Registry: registry,
		Logger:   logger,
		Client:   &http.Client{Timeout: cfg.FetchTimeout},
	}

	if cfg.DatabaseURL != "" {
		store, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()
		if !cfg.DryRun {
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
		}
		runner.Store = store
	} else {
		logger.Info("DATABASE_URL not set; results are written to CSV only")
	}

	if cfg.S3.Enabled() {
		blobs, err := export.NewBlobStore(ctx, cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Bucket, cfg.S3.Prefix, cfg.S3.Secure)
		if err != nil {
			return err
		}
		runner.Uploader = blobs
	}

	res, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("run finished",
		zap.String("run", res.Run.ID.String()),
		zap.String("status", res.Run.Status),
		zap.Int("events", len(res.Events)),
		zap.Strings("devices", res.Devices),
		zap.Int("chunks", res.Chunks),
		zap.Int("artifacts", len(res.Artifacts)),
		zap.Bool("dry_run", cfg.DryRun),
	)
	return nil
}

func loadRegistry(path string) (*devices.Registry, error) {
	if path == "" {
		return devices.Default()
	}
	return devices.LoadFile(path)
}
