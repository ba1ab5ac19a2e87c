package repair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"attendance.service/internal/core/model"
	"attendance.service/internal/ports/messaging"
	"attendance.service/internal/ports/repository"
	"attendance.service/internal/worker"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MirrorWriter is satisfied by *mirror.Publisher.
type MirrorWriter interface {
	Publish(ctx context.Context, snap model.MirrorSnapshot) error
}

// RepairProcessor handles jobs from the mirror repair queue. The event only names the
// user-day; the snapshot is always rebuilt from the current primary record.
type RepairProcessor struct {
	Repo        repository.Repository
	mirror      MirrorWriter
	maxAttempts int
}

// NewProcessor creates a processor that gives up on a user-day after maxAttempts deliveries.
func NewProcessor(r repository.Repository, mirror MirrorWriter, maxAttempts int) *RepairProcessor {
	if maxAttempts < 1 {
		maxAttempts = 8
	}
	return &RepairProcessor{Repo: r, mirror: mirror, maxAttempts: maxAttempts}
}

// Process republishes the primary record of the user-day named by msg.
func (p *RepairProcessor) Process(ctx context.Context, msg types.Message) (bool, int32, error) {
	if msg.Body == nil {
		return false, 0, errors.New("empty repair message")
	}
	var event messaging.MirrorRepairEvent
	if err := json.Unmarshal([]byte(*msg.Body), &event); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to unmarshal mirror repair event")
		return false, 0, err // Do not retry on malformed message
	}

	logger := log.Ctx(ctx).With().Str("user_id", event.UserID).Str("date_key", event.DateKey).Logger()
	attempt := worker.ReceiveCount(msg)
	logger.Info().Int("attempt", attempt).Int64("version", event.Version).Msg("Processing mirror repair")

	record, err := p.Repo.Get(ctx, event.UserID, event.DateKey)
	if errors.Is(err, model.ErrSessionNotFound) {
		logger.Warn().Msg("No primary session for repair event; dropping")
		return false, 0, nil
	}
	if err != nil {
		return p.retry(logger, attempt, fmt.Errorf("failed to get record from db: %w", err))
	}

	if err := p.mirror.Publish(ctx, model.SnapshotFromSession(*record)); err != nil {
		return p.retry(logger, attempt, err)
	}

	logger.Info().Int64("version", record.Version).Msg("Mirror repaired")
	return false, 0, nil
}

func (p *RepairProcessor) retry(logger zerolog.Logger, attempt int, err error) (bool, int32, error) {
	if attempt >= p.maxAttempts {
		logger.Error().Err(err).Int("attempt", attempt).Msg("Mirror repair gave up; left for the consistency validator")
		return false, 0, err
	}
	return true, calculateBackoff(attempt), err
}

// calculateBackoff determines how long to wait before retrying a failed job.
// It increases the delay exponentially with each retry.
func calculateBackoff(retryCount int) int32 {
	backoff := math.Pow(2, float64(retryCount)) * 10
	if backoff > 3600 {
		return 3600 // max at 1 hour
	}
	return int32(backoff)
}
