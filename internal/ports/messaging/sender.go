package messaging

import (
	"context"
	"fmt"

	"attendance.service/pkg/telemetry"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"
)

// SQSSender implements MessageSender for AWS SQS.
type SQSSender struct {
	client SQSClient
}

func NewSQSSender(client SQSClient) *SQSSender {
	return &SQSSender{client: client}
}

// SendMessage carries the caller's trace context in the message attributes so the
// worker's span joins the request that gave up on the mirror.
func (s *SQSSender) SendMessage(ctx context.Context, destination string, body []byte) error {
	attributes := telemetry.InjectTraceContext(ctx)

	out, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(destination),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attributes,
	})
	if err != nil {
		return fmt.Errorf("sqs send to %s: %w", destination, err)
	}
	log.Ctx(ctx).Debug().Str("queue", destination).Str("message_id", aws.ToString(out.MessageId)).Msg("Message sent")
	return nil
}
