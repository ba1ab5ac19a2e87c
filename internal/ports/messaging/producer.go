package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Producer struct {
	sender         MessageSender
	repairQueueURL string
}

func NewProducer(sender MessageSender, repairQueueURL string) *Producer {
	return &Producer{
		sender:         sender,
		repairQueueURL: repairQueueURL,
	}
}

func NewSQSProducer(client SQSClient, repairQueueURL string) *Producer {
	return NewProducer(NewSQSSender(client), repairQueueURL)
}

func (p *Producer) EnqueueRepair(ctx context.Context, event MirrorRepairEvent) error {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("app.user_id", event.UserID),
		attribute.String("app.date_key", event.DateKey),
	)
	return p.publish(ctx, p.repairQueueURL, event)
}

func (p *Producer) publish(ctx context.Context, destination string, body interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}

	if err := p.sender.SendMessage(ctx, destination, b); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

var _ RepairQueue = (*Producer)(nil)
