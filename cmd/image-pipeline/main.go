package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/zoff-tech/go-imagepipeline/pkg/broker"
	"github.com/zoff-tech/go-imagepipeline/pkg/config"
	"github.com/zoff-tech/go-imagepipeline/pkg/imagestore"
	"github.com/zoff-tech/go-imagepipeline/pkg/logging"
	"github.com/zoff-tech/go-imagepipeline/pkg/pipeline"
	"github.com/zoff-tech/go-imagepipeline/pkg/store"
	"github.com/zoff-tech/go-imagepipeline/pkg/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration from file or environment
	cfg, err := config.LoadFromFile("./cmd/image-pipeline")
	if err != nil {
		log.Fatal("Error loading configuration: ", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatal("Failed to initialize logger: ", err)
	}
	defer func() { _ = logger.Sync() }()

	// Initialize telemetry (tracing and metrics)
	if telemetry.Enabled(cfg.Observability) {
		shutdownTelemetry, err := telemetry.Init(cfg.Observability)
		if err != nil {
			logger.Fatal("Failed to initialize telemetry", zap.Error(err))
		}
		defer shutdownTelemetry()
	}

	metrics, err := telemetry.NewMetrics(nil)
	if err != nil {
		logger.Fatal("Failed to create metrics", zap.Error(err))
	}

	repo, err := store.NewRepository(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize repository", zap.Error(err))
	}
	defer repo.Close()

	storage, err := imagestore.NewStorage(ctx, cfg.Storage, logger.Named("storage"))
	if err != nil {
		logger.Fatal("Failed to initialize image storage", zap.Error(err))
	}

	messageBroker, err := broker.NewBroker(ctx, &cfg.Broker, logger.Named("broker"))
	if err != nil {
		logger.Fatal("Failed to initialize broker", zap.Error(err))
	}
	defer messageBroker.Close()

	p := pipeline.New(cfg.Pipeline, repo, storage,
		pipeline.WithBroker(messageBroker, broker.Destination(&cfg.Broker)),
		pipeline.WithMetrics(metrics),
		pipeline.WithLogger(logger))

	logger.Info("Image pipeline started",
		zap.String("database", cfg.Database.Type),
		zap.String("storage", cfg.Storage.Type),
		zap.String("broker", cfg.Broker.Type),
		zap.Int("workers", cfg.Pipeline.Workers))

	// Run the retry scheduler and cache sweeper (blocks until a signal arrives)
	p.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := p.Shutdown(shutdownCtx); err != nil {
		logger.Error("Pipeline did not drain in time", zap.Error(err))
	}
	logger.Info("Image pipeline stopped")
}
