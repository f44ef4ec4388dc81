// Package events records the case lifecycle trail. Every applied transition
// appends a CaseEvent to an outbox; a worker drains the outbox to Kafka.
// Emission is best-effort and decoupled from case-state correctness.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kyc-engine/internal/kyc/models"
)

// CaseEvent captures one lifecycle action. Keep it transport-agnostic so
// outboxes and sinks can fan out.
type CaseEvent struct {
	ID        string
	CaseRef   string
	Action    string
	From      models.KycStatus
	To        models.KycStatus
	ActorID   string
	Timestamp time.Time
	Detail    string
}

// Outbox stores events pending publication.
type Outbox interface {
	Append(ctx context.Context, event CaseEvent) error
	// PendingBatch returns up to limit unpublished events, oldest first.
	PendingBatch(ctx context.Context, limit int) ([]CaseEvent, error)
	// MarkPublished flags events as drained.
	MarkPublished(ctx context.Context, ids []string) error
}

// Emitter appends lifecycle events to the outbox. Failures are logged, never
// propagated: the event trail must not block transitions.
type Emitter struct {
	outbox Outbox
	clock  models.Clock
	logger *slog.Logger
}

// NewEmitter builds an emitter over the given outbox.
func NewEmitter(outbox Outbox, clock models.Clock, logger *slog.Logger) *Emitter {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{outbox: outbox, clock: clock, logger: logger}
}

// Emit appends one event, filling ID and timestamp when unset.
func (e *Emitter) Emit(ctx context.Context, event CaseEvent) {
	if e == nil || e.outbox == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.clock()
	}
	if err := e.outbox.Append(ctx, event); err != nil {
		e.logger.Error("failed to append case event", "case", event.CaseRef, "action", event.Action, "error", err)
	}
}
