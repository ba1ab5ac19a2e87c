package telemetry

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InjectTraceContext returns SQS message attributes carrying the span context of ctx.
func InjectTraceContext(ctx context.Context) map[string]types.MessageAttributeValue {
	attrs := make(map[string]types.MessageAttributeValue)
	otel.GetTextMapPropagator().Inject(ctx, messageCarrier(attrs))
	return attrs
}

// StartConsumerSpan continues the producer's trace from the message attributes. When the
// body carries a userId it is attached the same way an HTTP request's caller is.
func StartConsumerSpan(ctx context.Context, queueURL string, msg types.Message) (context.Context, trace.Span) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, messageCarrier(msg.MessageAttributes))

	ctx, span := otel.Tracer("sqs-worker").Start(ctx, "process_message",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "aws_sqs"),
			attribute.String("messaging.destination", queueURL),
			attribute.String("messaging.message_id", aws.ToString(msg.MessageId)),
		),
	)

	if msg.Body != nil {
		var payload struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal([]byte(*msg.Body), &payload); err == nil && payload.UserID != "" {
			ctx = WithUserID(ctx, payload.UserID)
		}
	}
	return ctx, span
}

// messageCarrier adapts SQS string message attributes to propagation.TextMapCarrier.
type messageCarrier map[string]types.MessageAttributeValue

func (c messageCarrier) Get(key string) string {
	if attr, ok := c[key]; ok {
		return aws.ToString(attr.StringValue)
	}
	return ""
}

func (c messageCarrier) Set(key, value string) {
	c[key] = types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(value),
	}
}

func (c messageCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
