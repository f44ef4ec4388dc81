package events

import (
	"context"
	"log/slog"
	"time"
)

// Publisher is the downstream sink for drained events.
type Publisher interface {
	Publish(ctx context.Context, batch []CaseEvent) error
}

// Worker drains the outbox to a publisher on a fixed interval.
type Worker struct {
	outbox    Outbox
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// NewWorker creates a drain worker. A zero interval defaults to 5s and a zero
// batch size to 100.
func NewWorker(outbox Outbox, publisher Publisher, logger *slog.Logger, interval time.Duration, batchSize int) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		outbox:    outbox,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run drains until the context is cancelled. A final drain happens on the way
// out so shutdown does not strand appended events.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.drain(flushCtx)
			cancel()
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain publishes pending batches until the outbox is empty or an error stops
// the pass. Events stay pending on publish failure and are retried next tick.
func (w *Worker) drain(ctx context.Context) {
	for {
		batch, err := w.outbox.PendingBatch(ctx, w.batchSize)
		if err != nil {
			w.logger.Error("failed to load pending case events", "error", err)
			return
		}
		if len(batch) == 0 {
			return
		}

		if err := w.publisher.Publish(ctx, batch); err != nil {
			w.logger.Error("failed to publish case events", "count", len(batch), "error", err)
			return
		}

		ids := make([]string, len(batch))
		for i, event := range batch {
			ids[i] = event.ID
		}
		if err := w.outbox.MarkPublished(ctx, ids); err != nil {
			w.logger.Error("failed to mark case events published", "count", len(ids), "error", err)
			return
		}

		if len(batch) < w.batchSize {
			return
		}
	}
}
