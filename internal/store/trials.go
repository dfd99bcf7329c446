package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/calibre/internal/feedback"
)

var ErrSessionNotFound = errors.New("session not found")

// CreateSession registers a new experiment session.
func (s *Store) CreateSession(ctx context.Context, externalID, task string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, external_id, task, created_at)
		VALUES ($1, $2, $3, now())`,
		id, externalID, task,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// DeleteSession removes a session together with its trials and block scores.
func (s *Store) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// InsertTrials appends trials to a session's log in a single transaction.
// Trial numbers continue from the highest number already stored.
func (s *Store) InsertTrials(ctx context.Context, sessionID uuid.UUID, trials []feedback.Trial) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the session row so concurrent appends number trials serially.
	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return fmt.Errorf("lock session: %w", err)
	}

	var next int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(trial_number), 0) FROM trials WHERE session_id = $1`,
		sessionID,
	).Scan(&next)
	if err != nil {
		return fmt.Errorf("next trial number: %w", err)
	}

	batch := &pgx.Batch{}
	for _, t := range trials {
		next++
		batch.Queue(`
			INSERT INTO trials (id, session_id, trial_number, task, block, response, correct, rt_ms, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
			uuid.New(), sessionID, next, t.Task, t.Block, t.Response, t.Correct, t.RTMillis,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert trials: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListTrials returns a session's trials for block in log order. An empty
// block returns every trial.
func (s *Store) ListTrials(ctx context.Context, sessionID uuid.UUID, block string) ([]feedback.Trial, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT task, block, response, correct, rt_ms
		FROM trials
		WHERE session_id = $1 AND ($2::text = '' OR block = $2::text)
		ORDER BY trial_number`,
		sessionID, block,
	)
	if err != nil {
		return nil, fmt.Errorf("query trials: %w", err)
	}
	defer rows.Close()

	var trials []feedback.Trial
	for rows.Next() {
		var t feedback.Trial
		if err := rows.Scan(&t.Task, &t.Block, &t.Response, &t.Correct, &t.RTMillis); err != nil {
			return nil, fmt.Errorf("scan trial: %w", err)
		}
		trials = append(trials, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trials: %w", err)
	}
	return trials, nil
}
