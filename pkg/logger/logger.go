package logger

import (
	"context"
	"os"
	"time"

	"attendance.service/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Setup configures the global zerolog logger for one binary.
func Setup(service string, isLocalDev bool) {
	// Use Unix timestamps for performance and consistency
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if isLocalDev {
		// Pretty printing for local development
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		// Default to JSON output for production
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.With().Str("service", service).Logger()
	zerolog.DefaultContextLogger = &log.Logger
}

// EnrichContextWithLogger adds a zerolog logger to the context carrying the trace
// identifiers and the acting user, when known.
func EnrichContextWithLogger(ctx context.Context) context.Context {
	lc := log.Ctx(ctx).With()
	enriched := false

	if sCtx := trace.SpanFromContext(ctx).SpanContext(); sCtx.HasTraceID() {
		lc = lc.Str("trace_id", sCtx.TraceID().String()).Str("span_id", sCtx.SpanID().String())
		enriched = true
	}
	if userID := telemetry.GetUserIDFromContext(ctx); userID != "" {
		lc = lc.Str("user_id", userID)
		enriched = true
	}
	if !enriched {
		return ctx
	}

	l := lc.Logger()
	return l.WithContext(ctx)
}
