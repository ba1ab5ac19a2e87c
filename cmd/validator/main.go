package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"attendance.service/internal/cli"
	"attendance.service/internal/config"
	"attendance.service/internal/core"
	"attendance.service/internal/core/consistency"
	"attendance.service/internal/core/schedule"
	"attendance.service/internal/ports/mirror"
	"attendance.service/internal/ports/repository"
	"attendance.service/pkg/aws"
	"attendance.service/pkg/database"
	"attendance.service/pkg/logger"
	"attendance.service/pkg/telemetry"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}
	logger.Setup("consistency-validator", cfg.IsLocalDev)

	shutdownTracer, err := telemetry.InitTracer("consistency-validator", cfg.OTELEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init tracer")
	}
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(func(ctx context.Context) (*consistency.Validator, func(), error) {
		return openValidator(ctx, cfg)
	}, cfg.ValidatorInterval)
	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Validator failed")
		stop()
		os.Exit(1)
	}
}

func openValidator(ctx context.Context, cfg config.Config) (*consistency.Validator, func(), error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}
	// Session days are keyed in the schedule timezone; refuse to validate against a different one.
	if _, err := schedule.Open(ctx, cfg.ScheduleFile, loc); err != nil {
		return nil, nil, err
	}

	db, err := database.NewInstrumentedConnection(cfg)
	if err != nil {
		return nil, nil, err
	}
	store, closeStore, err := mirror.Open(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	var alerter consistency.Alerter
	if recipients := cfg.AlertRecipients(); len(recipients) > 0 {
		awsCfg, err := aws.NewAWSConfig(ctx, cfg)
		if err != nil {
			closeStore()
			db.Close()
			return nil, nil, err
		}
		alerter = core.NewSESAlertService(ses.NewFromConfig(awsCfg), cfg.AlertEmailFrom, recipients)
	}

	repo := repository.NewAttendanceRepository(db, repository.Dialect(cfg.DBDriver))
	v := consistency.NewValidator(repo, store, alerter, loc)
	return v, func() {
		closeStore()
		db.Close()
	}, nil
}
