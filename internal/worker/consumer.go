package worker

import (
	"context"
	"strconv"
	"time"

	"attendance.service/pkg/logger"
	"attendance.service/pkg/telemetry"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type SQSClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Processor handles one queue message. A retryable failure comes back with shouldRetry
// set and the number of seconds to hide the message for.
type Processor interface {
	Process(ctx context.Context, msg types.Message) (shouldRetry bool, retryDelay int32, err error)
}

// Worker long-polls one queue and runs up to Concurrency processors at once.
type Worker struct {
	client    SQSClient
	queueURL  string
	processor Processor

	Concurrency int
	// ReceiveErrorPause is how long to wait after a failed ReceiveMessage.
	ReceiveErrorPause time.Duration
}

func NewWorker(client SQSClient, url string, proc Processor) *Worker {
	return &Worker{
		client:            client,
		queueURL:          url,
		processor:         proc,
		Concurrency:       10,
		ReceiveErrorPause: time.Second,
	}
}

// Start polls until ctx is cancelled, then waits for in-flight messages before returning.
func (w *Worker) Start(ctx context.Context) {
	log.Info().Int("concurrency", w.Concurrency).Str("queue", w.queueURL).Msg("SQS Worker started. Polling for messages...")

	var g errgroup.Group
	g.SetLimit(w.Concurrency)

	for ctx.Err() == nil {
		msgs, err := w.receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error().Err(err).Msg("Error receiving messages")
			select {
			case <-ctx.Done():
			case <-time.After(w.ReceiveErrorPause):
			}
			continue
		}
		for _, msg := range msgs {
			// Blocks while Concurrency processors are busy.
			g.Go(func() error {
				w.handleSingleMessage(ctx, msg)
				return nil
			})
		}
	}

	_ = g.Wait()
	log.Info().Msg("SQS Worker stopped")
}

func (w *Worker) receive(ctx context.Context) ([]types.Message, error) {
	out, err := w.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(w.queueURL),
		MaxNumberOfMessages:   int32(min(w.Concurrency, 10)), // SQS caps a batch at 10
		WaitTimeSeconds:       20,
		MessageAttributeNames: []string{"All"}, // trace context travels in the attributes
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, err
	}
	if len(out.Messages) > 0 {
		log.Debug().Int("count", len(out.Messages)).Msg("Received messages")
	}
	return out.Messages, nil
}

// handleSingleMessage runs the processor and then either deletes the message or hides
// it for the requested delay so SQS redelivers it.
func (w *Worker) handleSingleMessage(ctx context.Context, msg types.Message) {
	ctx, span := telemetry.StartConsumerSpan(ctx, w.queueURL, msg)
	defer span.End()

	ctx = logger.EnrichContextWithLogger(ctx)
	l := log.Ctx(ctx).With().Str("message_id", aws.ToString(msg.MessageId)).Int("receive_count", ReceiveCount(msg)).Logger()

	shouldRetry, retryDelay, err := w.processor.Process(ctx, msg)

	if err != nil && shouldRetry {
		l.Warn().Err(err).Int32("retry_delay", retryDelay).Msg("Processing failed, will retry")

		if _, visErr := w.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
			QueueUrl:          aws.String(w.queueURL),
			ReceiptHandle:     msg.ReceiptHandle,
			VisibilityTimeout: retryDelay,
		}); visErr != nil {
			l.Error().Err(visErr).Msg("Failed to delay message; it reappears after the queue's visibility timeout")
		}
		return
	}

	if err != nil {
		// Unrecoverable (e.g. bad message format); the message is dropped.
		l.Error().Err(err).Msg("Unrecoverable error processing message, will not retry")
	}

	// Delete with a fresh context so a shutdown does not leave handled messages queued.
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, delErr := w.client.DeleteMessage(delCtx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(w.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	}); delErr != nil {
		l.Error().Err(delErr).Msg("Failed to delete message")
	}
}

// ReceiveCount is how many times SQS has delivered msg, 1 on first delivery.
func ReceiveCount(msg types.Message) int {
	n, err := strconv.Atoi(msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil || n < 1 {
		return 1
	}
	return n
}
