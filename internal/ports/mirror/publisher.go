package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"attendance.service/internal/core/model"
	"attendance.service/internal/ports/messaging"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PublisherConfig bounds the retry loop around a mirror write.
type PublisherConfig struct {
	MaxRetries      uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Timeout caps one PublishAsync call including all retries.
	Timeout time.Duration
}

func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		MaxRetries:      5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Timeout:         30 * time.Second,
	}
}

// Publisher pushes snapshots to the mirror after a primary write. Failures are retried
// with exponential backoff behind a circuit breaker; when retries run out the user-day is
// handed to the repair queue. Nothing here is ever reported back to the request.
type Publisher struct {
	store Store
	queue messaging.RepairQueue
	cfg   PublisherConfig
	cb    *gobreaker.CircuitBreaker
	wg    sync.WaitGroup

	failures metric.Int64Counter
	enqueued metric.Int64Counter
}

// NewPublisher builds a publisher. queue may be nil, in which case exhausted publishes
// are only logged and counted and the consistency validator picks them up.
func NewPublisher(store Store, queue messaging.RepairQueue, cfg PublisherConfig) *Publisher {
	settings := gobreaker.Settings{
		Name:        "Mirror-Store",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Trip if failure rate is bigger then 50% after at least 10 requests
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.5
		},
	}

	meter := otel.Meter("attendance.service/mirror")
	failures, _ := meter.Int64Counter("mirror.publish.failures",
		metric.WithDescription("Mirror publishes that failed after all retries"))
	enqueued, _ := meter.Int64Counter("mirror.repairs.enqueued",
		metric.WithDescription("User-days handed to the mirror repair queue"))

	return &Publisher{
		store:    store,
		queue:    queue,
		cfg:      cfg,
		cb:       gobreaker.NewCircuitBreaker(settings),
		failures: failures,
		enqueued: enqueued,
	}
}

// PublishAsync publishes in the background. The request context only contributes its
// values (trace, logger); its cancellation does not abort the publish.
func (p *Publisher) PublishAsync(ctx context.Context, snap model.MirrorSnapshot) {
	ctx = context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()

		if err := p.Publish(ctx, snap); err != nil {
			p.giveUp(ctx, snap, err)
		}
	}()
}

// Publish writes snap with bounded retries and returns the last error.
func (p *Publisher) Publish(ctx context.Context, snap model.MirrorSnapshot) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialInterval
	b.MaxInterval = p.cfg.MaxInterval

	_, err := backoff.Retry(ctx, func() (bool, error) {
		applied, err := p.cb.Execute(func() (interface{}, error) {
			return p.store.Publish(ctx, snap)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return false, backoff.Permanent(err)
		}
		if err != nil {
			return false, err
		}
		return applied.(bool), nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.cfg.MaxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Ctx(ctx).Warn().Err(err).Str("user_id", snap.UserID).Dur("retry_in", next).Msg("Mirror publish failed, retrying")
		}),
	)
	if err != nil {
		return fmt.Errorf("mirror publish for %s/%s: %w", snap.UserID, snap.DateKey, err)
	}
	return nil
}

func (p *Publisher) giveUp(ctx context.Context, snap model.MirrorSnapshot, cause error) {
	attrs := metric.WithAttributes(attribute.String("status", string(snap.Status)))
	p.failures.Add(ctx, 1, attrs)

	logEvt := log.Ctx(ctx).Error().Err(cause).Str("user_id", snap.UserID).Str("date_key", snap.DateKey).Int64("version", snap.SourceVersion)
	if p.queue == nil {
		logEvt.Msg("Mirror publish gave up; left for the consistency validator")
		return
	}

	err := p.queue.EnqueueRepair(ctx, messaging.MirrorRepairEvent{
		UserID:     snap.UserID,
		DateKey:    snap.DateKey,
		Version:    snap.SourceVersion,
		Reason:     cause.Error(),
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		logEvt.AnErr("enqueue_error", err).Msg("Mirror publish gave up and the repair could not be enqueued")
		return
	}
	p.enqueued.Add(ctx, 1, attrs)
	logEvt.Msg("Mirror publish gave up; repair enqueued")
}

// Wait blocks until every in-flight PublishAsync has finished.
func (p *Publisher) Wait() {
	p.wg.Wait()
}
