package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/calibre/internal/calibration"
	"github.com/MikeSquared-Agency/calibre/internal/confidence"
	"github.com/MikeSquared-Agency/calibre/internal/feedback"
	"github.com/MikeSquared-Agency/calibre/internal/hermes"
	"github.com/MikeSquared-Agency/calibre/internal/store"
)

const handlerTimeout = 10 * time.Second

// TrialSource reads a session's trial log.
type TrialSource interface {
	ListTrials(ctx context.Context, sessionID uuid.UUID, block string) ([]feedback.Trial, error)
}

// ScoreSink stores computed block reports and reads them back.
type ScoreSink interface {
	UpsertBlockScore(ctx context.Context, sessionID uuid.UUID, r feedback.Report) error
	GetBlockScore(ctx context.Context, sessionID uuid.UUID, block string) (*feedback.Report, error)
}

type Publisher interface {
	Publish(subject string, data any) error
}

// Processor scores completed blocks and announces the results.
type Processor struct {
	trials TrialSource
	scores ScoreSink
	pub    Publisher
	set    *confidence.Set
	scorer *calibration.Scorer
	logger *slog.Logger
	now    func() time.Time
}

func New(trials TrialSource, scores ScoreSink, pub Publisher, set *confidence.Set, scorer *calibration.Scorer, logger *slog.Logger) *Processor {
	return &Processor{
		trials: trials,
		scores: scores,
		pub:    pub,
		set:    set,
		scorer: scorer,
		logger: logger,
		now:    time.Now,
	}
}

// ScoreBlock builds the feedback report for one block of a session from
// the trial log and stores it.
func (p *Processor) ScoreBlock(ctx context.Context, sessionID uuid.UUID, block string) (feedback.Report, error) {
	report, err := p.buildReport(ctx, sessionID, block)
	if err != nil {
		return feedback.Report{}, err
	}
	if err := p.scores.UpsertBlockScore(ctx, sessionID, report); err != nil {
		return feedback.Report{}, fmt.Errorf("store report: %w", err)
	}
	return report, nil
}

// Feedback returns the stored report for a block. A block that has not been
// scored yet is built from the trial log without being stored.
func (p *Processor) Feedback(ctx context.Context, sessionID uuid.UUID, block string) (feedback.Report, error) {
	stored, err := p.scores.GetBlockScore(ctx, sessionID, block)
	if err == nil {
		return *stored, nil
	}
	if !errors.Is(err, store.ErrScoreNotFound) {
		return feedback.Report{}, fmt.Errorf("read report: %w", err)
	}
	return p.buildReport(ctx, sessionID, block)
}

func (p *Processor) buildReport(ctx context.Context, sessionID uuid.UUID, block string) (feedback.Report, error) {
	trials, err := p.trials.ListTrials(ctx, sessionID, block)
	if err != nil {
		return feedback.Report{}, fmt.Errorf("list trials: %w", err)
	}
	return feedback.Build(trials, block, p.set, p.scorer)
}

// HandleBlockCompleted is the NATS handler for lab.experiment.block.completed.
func (p *Processor) HandleBlockCompleted(subject string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	var evt hermes.BlockCompleted
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse block event", "error", err)
		return
	}

	sessionID, err := uuid.Parse(evt.SessionID)
	if err != nil {
		p.logger.Error("invalid session id", "session_id", evt.SessionID, "error", err)
		return
	}
	if evt.Block == "" {
		p.logger.Error("block event without block", "session_id", evt.SessionID)
		return
	}

	p.logger.Info("scoring block", "session_id", sessionID, "block", evt.Block)

	report, err := p.ScoreBlock(ctx, sessionID, evt.Block)
	if err != nil {
		p.logger.Error("block scoring failed", "session_id", sessionID, "block", evt.Block, "error", err)
		return
	}

	if err := p.pub.Publish(hermes.SubjectBlockScored, hermes.BlockScored{
		SessionID:            sessionID.String(),
		Block:                report.Block,
		Trials:               report.Trials,
		Accuracy:             report.Accuracy,
		Calibration:          report.Calibration,
		CalibrationAvailable: report.CalibrationAvailable,
		Joint:                report.Joint,
		Message:              report.Message(),
		ScoredAt:             p.now().UTC().Format(time.RFC3339),
	}); err != nil {
		p.logger.Error("failed to publish block score", "session_id", sessionID, "error", err)
		return
	}

	p.logger.Info("block scored",
		"session_id", sessionID,
		"block", report.Block,
		"accuracy", report.Accuracy,
		"calibration", report.Calibration,
		"calibration_available", report.CalibrationAvailable,
	)
}
