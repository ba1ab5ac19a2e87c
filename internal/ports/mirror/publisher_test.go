package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"attendance.service/internal/core/model"
	"attendance.service/internal/ports/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingQueue struct {
	mu     sync.Mutex
	events []messaging.MirrorRepairEvent
	err    error
}

func (q *recordingQueue) EnqueueRepair(_ context.Context, e messaging.MirrorRepairEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.events = append(q.events, e)
	return nil
}

func (q *recordingQueue) Events() []messaging.MirrorRepairEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]messaging.MirrorRepairEvent(nil), q.events...)
}

func fastConfig() PublisherConfig {
	return PublisherConfig{
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Timeout:         time.Second,
	}
}

func snapshot(userID, dateKey string, version int64, status model.SessionStatus) model.MirrorSnapshot {
	in := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return model.MirrorSnapshot{
		UserID:        userID,
		DateKey:       dateKey,
		Status:        status,
		CheckInTime:   &in,
		UpdatedAt:     in,
		SourceVersion: version,
	}
}

func TestMemoryStore_PublishIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	applied, err := store.Publish(ctx, snapshot("u1", "2026-03-02", 2, model.StatusOnBreak))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.Publish(ctx, snapshot("u1", "2026-03-02", 1, model.StatusCheckedIn))
	require.NoError(t, err)
	assert.False(t, applied, "older version must not overwrite")

	applied, err = store.Publish(ctx, snapshot("u1", "2026-03-01", 9, model.StatusCheckedOut))
	require.NoError(t, err)
	assert.False(t, applied, "older day must not overwrite")

	applied, err = store.Publish(ctx, snapshot("u1", "2026-03-03", 1, model.StatusCheckedIn))
	require.NoError(t, err)
	assert.True(t, applied, "a new day always wins")

	got, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-03", got.DateKey)

	require.NoError(t, store.Replace(ctx, snapshot("u1", "2026-03-02", 1, model.StatusCheckedIn)))
	got, err = store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", got.DateKey, "replace is unconditional")
}

func TestMemoryStore_Summary(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, s := range []model.MirrorSnapshot{
		snapshot("u1", "2026-03-02", 1, model.StatusCheckedIn),
		snapshot("u2", "2026-03-02", 2, model.StatusOnBreak),
		snapshot("u3", "2026-03-02", 4, model.StatusCheckedOut),
		snapshot("u4", "2026-03-02", 1, model.StatusCheckedIn),
		snapshot("u5", "2026-03-01", 4, model.StatusCheckedOut),
	} {
		_, err := store.Publish(ctx, s)
		require.NoError(t, err)
	}

	sum, err := store.Summary(ctx, "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 2, sum.Counts[model.StatusCheckedIn])
	assert.Equal(t, 1, sum.Counts[model.StatusOnBreak])
	assert.Equal(t, 1, sum.Counts[model.StatusCheckedOut])

	_, err = store.Get(ctx, "nobody")
	assert.ErrorIs(t, err, model.ErrSnapshotNotFound)
}

func TestPublisher_PublishesAsync(t *testing.T) {
	store := NewMemoryStore()
	queue := &recordingQueue{}
	p := NewPublisher(store, queue, fastConfig())

	p.PublishAsync(context.Background(), snapshot("u1", "2026-03-02", 1, model.StatusCheckedIn))
	p.Wait()

	got, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCheckedIn, got.Status)
	assert.Empty(t, queue.Events())
}

func TestPublisher_RequestCancellationDoesNotAbortPublish(t *testing.T) {
	store := NewMemoryStore()
	p := NewPublisher(store, nil, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	p.PublishAsync(ctx, snapshot("u1", "2026-03-02", 1, model.StatusCheckedIn))
	cancel()
	p.Wait()

	_, err := store.Get(context.Background(), "u1")
	assert.NoError(t, err)
}

func TestPublisher_ExhaustedRetriesEnqueueRepair(t *testing.T) {
	store := NewMemoryStore()
	store.Fail(errors.New("mirror unavailable"))
	queue := &recordingQueue{}
	p := NewPublisher(store, queue, fastConfig())

	p.PublishAsync(context.Background(), snapshot("u1", "2026-03-02", 3, model.StatusOnBreak))
	p.Wait()

	events := queue.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "u1", events[0].UserID)
	assert.Equal(t, "2026-03-02", events[0].DateKey)
	assert.Equal(t, int64(3), events[0].Version)
	assert.Contains(t, events[0].Reason, "mirror unavailable")
	assert.Zero(t, store.Writes())
}

func TestPublisher_RecoversWithinRetries(t *testing.T) {
	store := NewMemoryStore()
	store.Fail(errors.New("blip"))
	queue := &recordingQueue{}
	p := NewPublisher(store, queue, PublisherConfig{
		MaxRetries:      10,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Timeout:         time.Second,
	})

	p.PublishAsync(context.Background(), snapshot("u1", "2026-03-02", 1, model.StatusCheckedIn))
	time.Sleep(8 * time.Millisecond)
	store.Fail(nil)
	p.Wait()

	_, err := store.Get(context.Background(), "u1")
	assert.NoError(t, err)
	assert.Empty(t, queue.Events())
}

func TestPublisher_EnqueueFailureIsSwallowed(t *testing.T) {
	store := NewMemoryStore()
	store.Fail(errors.New("mirror unavailable"))
	queue := &recordingQueue{err: errors.New("sqs down")}
	p := NewPublisher(store, queue, fastConfig())

	p.PublishAsync(context.Background(), snapshot("u1", "2026-03-02", 1, model.StatusCheckedIn))
	p.Wait()

	assert.Empty(t, queue.Events())
}
