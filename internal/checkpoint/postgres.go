package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/resilience"
)

const schema = `
CREATE TABLE IF NOT EXISTS index_checkpoints (
	name       TEXT PRIMARY KEY,
	dump_id    TEXT NOT NULL,
	ts         BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS index_checkpoint_history (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL,
	dump_id    TEXT NOT NULL,
	ts         BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// PostgresStore keeps the current checkpoint of one index in
// index_checkpoints and appends every save to index_checkpoint_history.
type PostgresStore struct {
	client *postgres.Client
	name   string
	retry  resilience.RetryConfig
}

func NewPostgresStore(client *postgres.Client, name string) *PostgresStore {
	return &PostgresStore{client: client, name: name}
}

// EnsureSchema creates the checkpoint tables if they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.client.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating checkpoint schema: %w", err)
	}
	return nil
}

// Save upserts the checkpoint. The stored timestamp never moves backwards.
func (s *PostgresStore) Save(ctx context.Context, cp Checkpoint) error {
	return resilience.Retry(ctx, "checkpoint-save", s.retry, func() error {
		return s.client.InTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO index_checkpoints (name, dump_id, ts) VALUES ($1, $2, $3)
				ON CONFLICT (name) DO UPDATE
				SET dump_id = EXCLUDED.dump_id, ts = EXCLUDED.ts, updated_at = now()
				WHERE index_checkpoints.ts <= EXCLUDED.ts`,
				s.name, cp.DumpID, cp.Timestamp)
			if err != nil {
				return fmt.Errorf("upserting checkpoint: %w", err)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO index_checkpoint_history (name, dump_id, ts) VALUES ($1, $2, $3)`,
				s.name, cp.DumpID, cp.Timestamp)
			if err != nil {
				return fmt.Errorf("recording checkpoint history: %w", err)
			}
			return nil
		})
	})
}

func (s *PostgresStore) Load(ctx context.Context) (Checkpoint, error) {
	var cp Checkpoint
	err := s.client.DB.QueryRowContext(ctx,
		`SELECT dump_id, ts FROM index_checkpoints WHERE name = $1`, s.name,
	).Scan(&cp.DumpID, &cp.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("loading checkpoint: %w", err)
	}
	return cp, nil
}
