package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func TestProducer_EnqueueRepair(t *testing.T) {
	client := &fakeSQS{}
	p := NewSQSProducer(client, "http://queue/repair")

	event := MirrorRepairEvent{
		UserID:     "u1",
		DateKey:    "2026-03-02",
		Version:    3,
		Reason:     "mirror offline",
		OccurredAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.EnqueueRepair(context.Background(), event))

	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "http://queue/repair", aws.ToString(in.QueueUrl))

	var got MirrorRepairEvent
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &got))
	assert.Equal(t, event, got)
}

func TestProducer_SendFailure(t *testing.T) {
	p := NewSQSProducer(&fakeSQS{err: errors.New("throttled")}, "http://queue/repair")

	err := p.EnqueueRepair(context.Background(), MirrorRepairEvent{UserID: "u1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
	assert.Contains(t, err.Error(), "http://queue/repair")
}
