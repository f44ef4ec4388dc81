package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kyc-engine/internal/kyc/models"
	"kyc-engine/internal/platform/logger"
)

func fixedClock(t time.Time) models.Clock {
	return func() time.Time { return t }
}

func TestEmitterFillsIDAndTimestamp(t *testing.T) {
	outbox := NewInMemoryOutbox()
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	emitter := NewEmitter(outbox, fixedClock(now), logger.Discard())

	emitter.Emit(context.Background(), CaseEvent{
		CaseRef: "FGR20260315-001",
		Action:  "consent",
		From:    models.StatusStarted,
		To:      models.StatusInProgress,
		ActorID: "agent-1",
	})

	pending := outbox.Pending()
	require.Len(t, pending, 1)
	assert.NotEmpty(t, pending[0].ID)
	assert.Equal(t, now, pending[0].Timestamp)
	assert.Equal(t, "consent", pending[0].Action)
}

func TestEmitterPreservesExplicitFields(t *testing.T) {
	outbox := NewInMemoryOutbox()
	emitter := NewEmitter(outbox, nil, logger.Discard())
	stamp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	emitter.Emit(context.Background(), CaseEvent{ID: "evt-1", CaseRef: "FGR20260315-002", Action: "expire", Timestamp: stamp})

	pending := outbox.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "evt-1", pending[0].ID)
	assert.Equal(t, stamp, pending[0].Timestamp)
}

func TestOutboxMarkPublished(t *testing.T) {
	outbox := NewInMemoryOutbox()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, outbox.Append(ctx, CaseEvent{ID: id, CaseRef: "FGR20260315-003"}))
	}

	batch, err := outbox.PendingBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	require.NoError(t, outbox.MarkPublished(ctx, []string{"a", "b"}))

	remaining, err := outbox.PendingBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "c", remaining[0].ID)
	assert.Len(t, outbox.Published(), 2)
}

type capturePublisher struct {
	batches [][]CaseEvent
	err     error
}

func (p *capturePublisher) Publish(_ context.Context, batch []CaseEvent) error {
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, batch)
	return nil
}

func TestWorkerDrainsOutbox(t *testing.T) {
	outbox := NewInMemoryOutbox()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, outbox.Append(ctx, CaseEvent{ID: id, CaseRef: "FGR20260315-004"}))
	}

	publisher := &capturePublisher{}
	worker := NewWorker(outbox, publisher, logger.Discard(), time.Second, 2)
	worker.drain(ctx)

	// Two batches: a full one of two, then the remainder.
	require.Len(t, publisher.batches, 2)
	assert.Len(t, publisher.batches[0], 2)
	assert.Len(t, publisher.batches[1], 1)
	assert.Empty(t, outbox.Pending())
	assert.Len(t, outbox.Published(), 3)
}

func TestWorkerKeepsEventsOnPublishFailure(t *testing.T) {
	outbox := NewInMemoryOutbox()
	ctx := context.Background()
	require.NoError(t, outbox.Append(ctx, CaseEvent{ID: "a", CaseRef: "FGR20260315-005"}))

	publisher := &capturePublisher{err: errors.New("broker unreachable")}
	worker := NewWorker(outbox, publisher, logger.Discard(), time.Second, 10)
	worker.drain(ctx)

	assert.Len(t, outbox.Pending(), 1, "failed publishes must stay pending")
	assert.Empty(t, outbox.Published())
}
