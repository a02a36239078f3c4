// Package postgres persists reminder state in the reminder_states table.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/incident-responder/internal/reminder"
)

// Store implements reminder.Store on postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Get(ctx context.Context, incidentID, name string) (*reminder.State, error) {
	state := &reminder.State{IncidentID: incidentID, Name: name}

	rows, err := s.pool.Query(ctx, `
		SELECT last_fired_at, attempt_count, COALESCE(last_fingerprint, '')
		FROM reminder_states
		WHERE incident_id = $1 AND name = $2`,
		incidentID, name,
	)
	if err != nil {
		return nil, fmt.Errorf("query reminder state: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return state, rows.Err()
	}
	if err := rows.Scan(&state.LastFiredAt, &state.AttemptCount, &state.LastFingerprint); err != nil {
		return nil, fmt.Errorf("scan reminder state: %w", err)
	}
	return state, nil
}

func (s *Store) Put(ctx context.Context, state *reminder.State) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reminder_states (incident_id, name, last_fired_at, attempt_count, last_fingerprint)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (incident_id, name) DO UPDATE SET
			last_fired_at = EXCLUDED.last_fired_at,
			attempt_count = EXCLUDED.attempt_count,
			last_fingerprint = EXCLUDED.last_fingerprint`,
		state.IncidentID, state.Name, state.LastFiredAt, state.AttemptCount, state.LastFingerprint,
	)
	if err != nil {
		return fmt.Errorf("upsert reminder state: %w", err)
	}
	return nil
}
