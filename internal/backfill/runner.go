package backfill

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/calibre/internal/calibration"
	"github.com/MikeSquared-Agency/calibre/internal/confidence"
	"github.com/MikeSquared-Agency/calibre/internal/feedback"
)

// Config holds the backfill command configuration.
type Config struct {
	Dir        string
	SingleFile string // process a single file only
	StatePath  string
	Task       string // task label for created sessions
	DryRun     bool
	Out        io.Writer
	Notifier   Notifier // optional; receives the summary after a real run
}

// Notifier publishes the run summary somewhere people will see it.
type Notifier interface {
	PostSummary(ctx context.Context, title, text string) (string, error)
}

// Sink is where imported sessions, trials and block scores are written.
type Sink interface {
	CreateSession(ctx context.Context, externalID, task string) (uuid.UUID, error)
	InsertTrials(ctx context.Context, sessionID uuid.UUID, trials []feedback.Trial) error
	UpsertBlockScore(ctx context.Context, sessionID uuid.UUID, r feedback.Report) error
	DeleteSession(ctx context.Context, sessionID uuid.UUID) error
}

// FileSummary is the import result for one export file.
type FileSummary struct {
	Path      string
	SubjectID string
	Trials    int
	Reports   []feedback.Report
	Errors    int
}

// Runner imports experiment data exports into the trial log and scores
// every block it finds.
type Runner struct {
	cfg    Config
	sink   Sink
	set    *confidence.Set
	scorer *calibration.Scorer
	logger *slog.Logger
}

// NewRunner creates a backfill runner. sink may be nil for dry runs.
func NewRunner(cfg Config, sink Sink, set *confidence.Set, scorer *calibration.Scorer, logger *slog.Logger) *Runner {
	if cfg.StatePath == "" {
		cfg.StatePath = DefaultStatePath
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &Runner{cfg: cfg, sink: sink, set: set, scorer: scorer, logger: logger}
}

// Run executes the backfill process.
func (r *Runner) Run(ctx context.Context) error {
	if !r.cfg.DryRun && r.sink == nil {
		return fmt.Errorf("backfill needs a store unless running dry")
	}

	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	files, err := r.discoverFiles()
	if err != nil {
		return fmt.Errorf("discover files: %w", err)
	}
	r.logger.Info("files discovered", "files", len(files))

	var summaries []FileSummary
	skipped := 0

	for _, path := range files {
		select {
		case <-ctx.Done():
			r.logger.Info("backfill interrupted, saving state")
			r.saveState(state)
			return ctx.Err()
		default:
		}

		if state.IsProcessed(path) {
			skipped++
			continue
		}

		exp, err := ParseExportFile(path)
		if err != nil {
			r.logger.Warn("failed to parse export", "path", path, "error", err)
			state.AddError(fmt.Sprintf("parse %s: %v", path, err))
			continue
		}
		fp := Fingerprint(exp)
		if len(exp.Trials) == 0 || state.HasFingerprint(fp) {
			r.logger.Info("skipping export", "path", path, "trials", len(exp.Trials))
			state.MarkProcessed(path)
			skipped++
			continue
		}

		fs, err := r.importExport(ctx, exp, state)
		if err != nil {
			r.logger.Error("import failed", "path", path, "error", err)
			state.AddError(fmt.Sprintf("import %s: %v", path, err))
			continue
		}
		summaries = append(summaries, fs)
		state.RecordFingerprint(fp)
		state.MarkProcessed(path)
		r.saveState(state)
	}

	r.saveState(state)

	r.logger.Info("backfill complete",
		"files_imported", len(summaries),
		"files_skipped", skipped,
		"dry_run", r.cfg.DryRun,
	)

	summary := FormatSummary(summaries)
	fmt.Fprint(r.cfg.Out, summary)
	fmt.Fprintf(r.cfg.Out, "Files skipped: %d\n", skipped)
	fmt.Fprintf(r.cfg.Out, "Errors: %d\n", len(state.Errors))
	if r.cfg.DryRun {
		fmt.Fprintf(r.cfg.Out, "Mode: DRY RUN (no DB writes)\n")
	} else {
		fmt.Fprintf(r.cfg.Out, "State file: %s\n", expandHome(r.cfg.StatePath))
	}

	if r.cfg.Notifier != nil && !r.cfg.DryRun && len(summaries) > 0 {
		if _, err := r.cfg.Notifier.PostSummary(ctx, "Calibre backfill complete", summary); err != nil {
			r.logger.Warn("failed to post backfill summary", "error", err)
		}
	}
	return nil
}

func (r *Runner) importExport(ctx context.Context, exp *Export, state *BackfillState) (FileSummary, error) {
	fs := FileSummary{Path: exp.Path, SubjectID: exp.SubjectID, Trials: len(exp.Trials)}

	var sessionID uuid.UUID
	if !r.cfg.DryRun {
		id, err := r.sink.CreateSession(ctx, exp.SubjectID, r.cfg.Task)
		if err != nil {
			return fs, fmt.Errorf("create session: %w", err)
		}
		if err := r.sink.InsertTrials(ctx, id, exp.Trials); err != nil {
			r.discardSession(ctx, id)
			return fs, fmt.Errorf("insert trials: %w", err)
		}
		sessionID = id
	}

	blocksScored := 0
	for _, block := range exp.Blocks() {
		report, err := feedback.Build(exp.Trials, block, r.set, r.scorer)
		if err != nil {
			r.logger.Warn("block not scored", "path", exp.Path, "block", block, "error", err)
			state.AddError(fmt.Sprintf("score %s/%s: %v", exp.Path, block, err))
			fs.Errors++
			continue
		}
		if !r.cfg.DryRun {
			if err := r.sink.UpsertBlockScore(ctx, sessionID, report); err != nil {
				r.discardSession(ctx, sessionID)
				return fs, fmt.Errorf("store block %q: %w", block, err)
			}
			blocksScored++
		}
		fs.Reports = append(fs.Reports, report)
	}

	if !r.cfg.DryRun {
		state.SessionsCreated++
		state.TrialsImported += len(exp.Trials)
		state.BlocksScored += blocksScored
	}

	r.logger.Info("export imported",
		"path", exp.Path,
		"subject", exp.SubjectID,
		"trials", len(exp.Trials),
		"blocks", len(fs.Reports),
		"dry_run", r.cfg.DryRun,
	)
	return fs, nil
}

// discardSession removes a partially imported session so the file can be
// retried on the next run.
func (r *Runner) discardSession(ctx context.Context, id uuid.UUID) {
	if err := r.sink.DeleteSession(context.WithoutCancel(ctx), id); err != nil {
		r.logger.Warn("failed to discard partial session", "session_id", id, "error", err)
	}
}

// saveState is a no-op on dry runs so a later real run imports everything.
func (r *Runner) saveState(state *BackfillState) {
	if r.cfg.DryRun {
		return
	}
	if err := state.Save(); err != nil {
		r.logger.Warn("failed to save backfill state", "error", err)
	}
}

// FormatSummary renders per-file block scores.
func FormatSummary(summaries []FileSummary) string {
	var sb strings.Builder
	sb.WriteString("=== Backfill Summary ===\n")
	trials, blocks := 0, 0
	for _, f := range summaries {
		trials += f.Trials
		blocks += len(f.Reports)
	}
	fmt.Fprintf(&sb, "Files imported: %d (%d trials, %d blocks)\n", len(summaries), trials, blocks)

	for _, f := range summaries {
		fmt.Fprintf(&sb, "  - %s [%s]: %d trials", filepath.Base(f.Path), f.SubjectID, f.Trials)
		if f.Errors > 0 {
			fmt.Fprintf(&sb, " (%d errors)", f.Errors)
		}
		sb.WriteString("\n")
		for _, rep := range f.Reports {
			if rep.CalibrationAvailable {
				fmt.Fprintf(&sb, "      %s: accuracy %d%%, calibration %d, joint %g\n", rep.Block, rep.Accuracy, rep.Calibration, rep.Joint)
			} else {
				fmt.Fprintf(&sb, "      %s: accuracy %d%%, calibration n/a\n", rep.Block, rep.Accuracy)
			}
		}
	}
	return sb.String()
}

func (r *Runner) discoverFiles() ([]string, error) {
	if r.cfg.SingleFile != "" {
		path := expandHome(r.cfg.SingleFile)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("single file not found: %s", path)
		}
		return []string{path}, nil
	}

	dir := expandHome(r.cfg.Dir)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("export dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("export dir %s is not a directory", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip errors
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), ".json") || strings.HasSuffix(d.Name(), ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("error walking export dir", "dir", dir, "error", err)
	}
	sort.Strings(files)
	return files, nil
}
