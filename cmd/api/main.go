// Entry point for REST API
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"attendance.service/internal/api"
	"attendance.service/internal/api/handler"
	"attendance.service/internal/config"
	"attendance.service/internal/core"
	"attendance.service/internal/core/consistency"
	"attendance.service/internal/core/schedule"
	"attendance.service/internal/ports/messaging"
	"attendance.service/internal/ports/mirror"
	"attendance.service/internal/ports/repository"
	"attendance.service/pkg/aws"
	"attendance.service/pkg/database"
	"attendance.service/pkg/logger"
	"attendance.service/pkg/telemetry"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}
	loc, _ := cfg.Location()

	// Configure structured logging
	logger.Setup("attendance-api", cfg.IsLocalDev)

	// Configure OpenTelemetry Tracing
	shutdownTracer, err := telemetry.InitTracer("attendance-api", cfg.OTELEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init tracer")
	}
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	ctx := context.Background()

	// DB connection
	db, err := database.NewInstrumentedConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening database")
	}
	defer db.Close()
	repo := repository.NewAttendanceRepository(db, repository.Dialect(cfg.DBDriver))
	if err := repo.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Error applying schema")
	}
	log.Info().Str("driver", cfg.DBDriver).Msg("Successfully connected to the database.")

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

	// Initialize dependencies
	sqsClient := sqs.NewFromConfig(awsCfg)
	producer := messaging.NewSQSProducer(sqsClient, cfg.MirrorRepairSQSQueueURL)

	pubCfg := mirror.DefaultPublisherConfig()
	pubCfg.MaxRetries = uint(cfg.MirrorMaxRetries)
	publisher := mirror.NewPublisher(store, producer, pubCfg)

	source, err := schedule.Open(ctx, cfg.ScheduleFile, loc)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading work schedules")
	}
	if cfg.ScheduleFile != "" {
		log.Info().Str("path", cfg.ScheduleFile).Msg("Loading work schedules from file")
	}
	schedules := schedule.NewProvider(source, cfg.ScheduleCacheTTL)
	coreService := core.NewAttendanceService(repo, schedules, publisher, core.NewKeyedLocker(cfg.LockTimeout))

	alerter := core.NewSESAlertService(ses.NewFromConfig(awsCfg), cfg.AlertEmailFrom, cfg.AlertRecipients())
	validator := consistency.NewValidator(repo, store, alerter, loc)

	// Setup router and server
	router := api.NewRouter(
		&handler.AttendanceHandler{Service: coreService},
		&handler.AdminHandler{Service: coreService, Validator: validator, Mirror: store, Location: loc},
		map[string]api.Pinger{"database": db.PingContext},
	)

	// Middleware to inject logger with trace ID
	loggerMiddleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = logger.EnrichContextWithLogger(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	// Wrap the router with OpenTelemetry middleware to create spans for each request
	httpHandler := otelhttp.NewHandler(loggerMiddleware(router), "api")

	serverAddr := ":" + cfg.ServerPort
	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.ServerPort).Msg("API Service starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	// The context is used to inform the server it has 5 seconds to finish
	// the requests it is currently handling
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let pending mirror publishes finish or hand off to the repair queue.
	publisher.Wait()
	log.Info().Msg("Server exiting")
}
