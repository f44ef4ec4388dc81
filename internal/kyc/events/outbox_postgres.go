package events

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresOutbox implements Outbox using the transactional outbox pattern on
// database/sql. Events are written to the outbox table and drained to Kafka
// by the publish worker; Kafka is the downstream source of truth for the
// lifecycle trail.
type PostgresOutbox struct {
	db *sql.DB
}

// NewPostgresOutbox creates a PostgreSQL-backed outbox.
func NewPostgresOutbox(db *sql.DB) *PostgresOutbox {
	return &PostgresOutbox{db: db}
}

// Migrate creates the outbox table when missing.
func (o *PostgresOutbox) Migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS case_event_outbox (
	id          TEXT PRIMARY KEY,
	case_ref    TEXT NOT NULL,
	action      TEXT NOT NULL,
	from_status TEXT,
	to_status   TEXT,
	actor_id    TEXT,
	occurred_at TIMESTAMPTZ NOT NULL,
	detail      TEXT,
	published   BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_case_event_outbox_pending ON case_event_outbox (occurred_at) WHERE NOT published;`
	_, err := o.db.ExecContext(ctx, schema)
	return err
}

func (o *PostgresOutbox) Append(ctx context.Context, event CaseEvent) error {
	_, err := o.db.ExecContext(ctx, `
		INSERT INTO case_event_outbox (id, case_ref, action, from_status, to_status, actor_id, occurred_at, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.CaseRef, event.Action, event.From, event.To, event.ActorID, event.Timestamp, event.Detail)
	if err != nil {
		return fmt.Errorf("append case event: %w", err)
	}
	return nil
}

func (o *PostgresOutbox) PendingBatch(ctx context.Context, limit int) ([]CaseEvent, error) {
	rows, err := o.db.QueryContext(ctx, `
		SELECT id, case_ref, action, from_status, to_status, actor_id, occurred_at, detail
		FROM case_event_outbox WHERE NOT published
		ORDER BY occurred_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending events: %w", err)
	}
	defer rows.Close()

	var out []CaseEvent
	for rows.Next() {
		var event CaseEvent
		if err := rows.Scan(&event.ID, &event.CaseRef, &event.Action, &event.From, &event.To, &event.ActorID, &event.Timestamp, &event.Detail); err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

func (o *PostgresOutbox) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := o.db.ExecContext(ctx,
		`UPDATE case_event_outbox SET published = TRUE WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("mark events published: %w", err)
	}
	return nil
}
