package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/calibre/internal/feedback"
)

var ErrScoreNotFound = errors.New("block score not found")

// UpsertBlockScore records the feedback report for a session's block,
// replacing any earlier report for the same block.
func (s *Store) UpsertBlockScore(ctx context.Context, sessionID uuid.UUID, r feedback.Report) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO block_scores (id, session_id, block, trials, accuracy, calibration, calibration_available, score, joint, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (session_id, block)
		DO UPDATE SET
			trials = $4,
			accuracy = $5,
			calibration = $6,
			calibration_available = $7,
			score = $8,
			joint = $9,
			updated_at = now()`,
		uuid.New(), sessionID, r.Block, r.Trials, r.Accuracy, r.Calibration, r.CalibrationAvailable, r.Score, r.Joint,
	)
	if err != nil {
		return fmt.Errorf("upsert block score: %w", err)
	}
	return nil
}

// GetBlockScore fetches the stored report for a session's block.
func (s *Store) GetBlockScore(ctx context.Context, sessionID uuid.UUID, block string) (*feedback.Report, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT block, trials, accuracy, calibration, calibration_available, score, joint
		FROM block_scores
		WHERE session_id = $1 AND block = $2`,
		sessionID, block,
	)

	var r feedback.Report
	err := row.Scan(&r.Block, &r.Trials, &r.Accuracy, &r.Calibration, &r.CalibrationAvailable, &r.Score, &r.Joint)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s block %q", ErrScoreNotFound, sessionID, block)
	}
	if err != nil {
		return nil, fmt.Errorf("get block score: %w", err)
	}
	return &r, nil
}
