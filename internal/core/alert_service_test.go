package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"attendance.service/internal/core/consistency"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	inputs []*ses.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(_ context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.inputs = append(f.inputs, in)
	return &ses.SendEmailOutput{}, f.err
}

func driftReport() consistency.Report {
	return consistency.Report{
		Mode:       consistency.ModeFix,
		DateKey:    "2026-03-02",
		FinishedAt: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		Summary:    consistency.Summary{Total: 2, High: 1, Low: 1},
		Findings: []consistency.Finding{
			{Code: consistency.CodeMissingInPrimary, UserID: "ghost", Severity: consistency.SeverityHigh, Message: "mirror shows CHECKED_IN"},
			{Code: consistency.CodeStaleDay, UserID: "u-stale", Severity: consistency.SeverityLow},
		},
	}
}

func TestSESAlertService_NotifyDrift(t *testing.T) {
	client := &fakeSES{}
	svc := NewSESAlertService(client, "alerts@example.com", []string{"ops@example.com"})

	require.NoError(t, svc.NotifyDrift(context.Background(), driftReport()))
	require.Len(t, client.inputs, 1)

	in := client.inputs[0]
	assert.Equal(t, "alerts@example.com", *in.Source)
	assert.Equal(t, []string{"ops@example.com"}, in.Destination.ToAddresses)
	assert.Contains(t, *in.Message.Subject.Data, "1 high severity")
	body := *in.Message.Body.Text.Data
	assert.Contains(t, body, "MISSING_IN_PRIMARY ghost")
	assert.NotContains(t, body, "u-stale", "only HIGH findings are listed")
}

func TestSESAlertService_NoRecipients(t *testing.T) {
	client := &fakeSES{}
	svc := NewSESAlertService(client, "alerts@example.com", nil)

	require.NoError(t, svc.NotifyDrift(context.Background(), driftReport()))
	assert.Empty(t, client.inputs)
}

func TestSESAlertService_SendFailure(t *testing.T) {
	client := &fakeSES{err: errors.New("throttled")}
	svc := NewSESAlertService(client, "alerts@example.com", []string{"ops@example.com"})

	err := svc.NotifyDrift(context.Background(), driftReport())
	assert.ErrorContains(t, err, "throttled")
}
