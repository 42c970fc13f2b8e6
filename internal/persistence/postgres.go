package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore persists run state as a JSON blob keyed by ladder id. One row
// per ladder; each save supersedes the previous one.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SaveRunState(ctx context.Context, state *RunState) error {
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now()
	}
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO grid.run_state (ladder_id, symbol, state, snapshot, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ladder_id) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			state = EXCLUDED.state,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at`,
		state.LadderID, state.Symbol, state.State, blob, state.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save run state %s: %w", state.LadderID, err)
	}
	return nil
}

// LoadRunState returns nil with no error when the ladder has never been
// saved; callers treat that as a cold start.
func (s *PostgresStore) LoadRunState(ctx context.Context, ladderID string) (*RunState, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM grid.run_state WHERE ladder_id = $1`,
		ladderID,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load run state %s: %w", ladderID, err)
	}

	var state RunState
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, fmt.Errorf("unmarshal run state %s: %w", ladderID, err)
	}
	return &state, nil
}

func (s *PostgresStore) DeleteRunState(ctx context.Context, ladderID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM grid.run_state WHERE ladder_id = $1`, ladderID)
	if err != nil {
		return fmt.Errorf("delete run state %s: %w", ladderID, err)
	}
	return nil
}
