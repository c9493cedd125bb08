package journal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS reconcile_events (
	id          BIGSERIAL PRIMARY KEY,
	tick        BIGINT      NOT NULL,
	action      TEXT        NOT NULL,
	path        TEXT        NOT NULL,
	status      TEXT        NOT NULL,
	error       TEXT        NOT NULL DEFAULT '',
	words       INTEGER     NOT NULL DEFAULT 0,
	latency_ms  BIGINT      NOT NULL DEFAULT 0,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS reconcile_events_path_idx ON reconcile_events (path, tick);
`

const insertEvent = `
INSERT INTO reconcile_events (tick, action, path, status, error, words, latency_ms, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// PostgresSink stores each batch in reconcile_events within one
// transaction.
type PostgresSink struct {
	client *postgres.Client
}

func NewPostgresSink(client *postgres.Client) *PostgresSink {
	return &PostgresSink{client: client}
}

func (s *PostgresSink) Name() string { return "postgres" }

// EnsureSchema creates the events table and its index if missing.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.client.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating reconcile_events schema: %w", err)
	}
	return nil
}

func (s *PostgresSink) Write(ctx context.Context, events []Event) error {
	return s.client.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertEvent)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()
		for _, ev := range events {
			if _, err := stmt.ExecContext(ctx,
				ev.Tick, ev.Action, ev.Path, ev.Status, ev.Error,
				ev.Words, ev.LatencyMs, ev.Timestamp,
			); err != nil {
				return fmt.Errorf("inserting event for %s: %w", ev.Path, err)
			}
		}
		return nil
	})
}
