package events

import (
	"context"
	"sync"
)

// InMemoryOutbox keeps pending events in a slice. Backs unit tests and
// broker-less deployments.
type InMemoryOutbox struct {
	mu        sync.Mutex
	pending   []CaseEvent
	published []CaseEvent
}

// NewInMemoryOutbox creates an empty in-memory outbox.
func NewInMemoryOutbox() *InMemoryOutbox {
	return &InMemoryOutbox{}
}

func (o *InMemoryOutbox) Append(_ context.Context, event CaseEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, event)
	return nil
}

func (o *InMemoryOutbox) PendingBatch(_ context.Context, limit int) ([]CaseEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.pending)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]CaseEvent, n)
	copy(out, o.pending[:n])
	return out, nil
}

func (o *InMemoryOutbox) MarkPublished(_ context.Context, ids []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	drained := make(map[string]bool, len(ids))
	for _, id := range ids {
		drained[id] = true
	}
	var remaining []CaseEvent
	for _, event := range o.pending {
		if drained[event.ID] {
			o.published = append(o.published, event)
			continue
		}
		remaining = append(remaining, event)
	}
	o.pending = remaining
	return nil
}

// Published returns drained events, oldest first. Test helper.
func (o *InMemoryOutbox) Published() []CaseEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]CaseEvent, len(o.published))
	copy(out, o.published)
	return out
}

// Pending returns undrained events, oldest first. Test helper.
func (o *InMemoryOutbox) Pending() []CaseEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]CaseEvent, len(o.pending))
	copy(out, o.pending)
	return out
}
