package core

import (
	"context"
	"fmt"
	"strings"

	"attendance.service/internal/core/consistency"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SESClient is the part of the SES API the alerter uses.
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESAlertService emails operators when a consistency run finds HIGH severity drift.
type SESAlertService struct {
	client SESClient
	sender string
	to     []string
}

func NewSESAlertService(client SESClient, sender string, to []string) *SESAlertService {
	return &SESAlertService{client: client, sender: sender, to: to}
}

func (s *SESAlertService) NotifyDrift(ctx context.Context, report consistency.Report) error {
	if len(s.to) == 0 {
		return nil
	}

	tracer := otel.Tracer("ses-alert-service")
	ctx, span := tracer.Start(ctx, "send_drift_alert", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("app.date_key", report.DateKey),
		attribute.Int("app.high_findings", report.Summary.High),
	)

	input := &ses.SendEmailInput{
		Source: aws.String(s.sender),
		Destination: &types.Destination{
			ToAddresses: s.to,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(fmt.Sprintf("[attendance] %d high severity mirror drift findings for %s", report.Summary.High, report.DateKey)),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(driftBody(report)),
				},
			},
		},
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to send drift alert: %w", err)
	}
	return nil
}

func driftBody(report consistency.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Consistency run (%s) for %s finished at %s.\n\n", report.Mode, report.DateKey, report.FinishedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "High: %d  Medium: %d  Low: %d  Repaired: %d  Repair failures: %d\n\n",
		report.Summary.High, report.Summary.Medium, report.Summary.Low, report.Summary.Repaired, report.Summary.Failed)
	for _, f := range report.HighFindings() {
		fmt.Fprintf(&b, "- %s %s: %s\n", f.Code, f.UserID, f.Message)
	}
	return b.String()
}

var _ consistency.Alerter = (*SESAlertService)(nil)
