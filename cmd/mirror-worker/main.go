package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"attendance.service/internal/config"
	"attendance.service/internal/ports/mirror"
	"attendance.service/internal/ports/repository"
	"attendance.service/internal/worker"
	"attendance.service/internal/worker/repair"
	"attendance.service/pkg/aws"
	"attendance.service/pkg/database"
	"attendance.service/pkg/logger"
	"attendance.service/pkg/telemetry"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}
	logger.Setup("mirror-worker", cfg.IsLocalDev)

	shutdownTracer, err := telemetry.InitTracer("mirror-worker", cfg.OTELEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracer")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(ctx)
	}()

	// DB connection
	db, err := database.NewInstrumentedConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening database")
	}
	defer db.Close()
	log.Info().Str("driver", cfg.DBDriver).Msg("Successfully connected to the database.")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := mirror.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening mirror store")
	}
	defer closeStore()

	// AWS SDK Config
	awsCfg, err := aws.NewAWSConfig(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load SDK config")
	}

	// Initialize Dependencies
	sqsClient := sqs.NewFromConfig(awsCfg)
	repo := repository.NewAttendanceRepository(db, repository.Dialect(cfg.DBDriver))

	pubCfg := mirror.DefaultPublisherConfig()
	pubCfg.MaxRetries = uint(cfg.MirrorMaxRetries)
	// The worker retries through SQS visibility, so an exhausted publish is not re-enqueued.
	publisher := mirror.NewPublisher(store, nil, pubCfg)
	processor := repair.NewProcessor(repo, publisher, 8)

	// Start Worker
	app := worker.NewWorker(sqsClient, cfg.MirrorRepairSQSQueueURL, processor)
	stopped := make(chan struct{})
	go func() {
		app.Start(ctx)
		close(stopped)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info().Msg("Shutting down worker...")

	// Cancel the context to signal the worker to stop polling.
	cancel()
	<-stopped

	log.Info().Msg("Worker exited gracefully")
}
