package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/calibre/internal/backfill"
	"github.com/MikeSquared-Agency/calibre/internal/calibration"
	"github.com/MikeSquared-Agency/calibre/internal/confidence"
	"github.com/MikeSquared-Agency/calibre/internal/config"
	"github.com/MikeSquared-Agency/calibre/internal/slack"
	"github.com/MikeSquared-Agency/calibre/internal/store"
)

var backfillFlags struct {
	dir       string
	file      string
	statePath string
	task      string
	dryRun    bool
}

func newBackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Import exported trial logs and score every block",
		RunE:  runBackfill,
	}

	f := cmd.Flags()
	f.StringVar(&backfillFlags.dir, "dir", "", "Directory of .json/.jsonl exports")
	f.StringVar(&backfillFlags.file, "file", "", "Import a single export file")
	f.StringVar(&backfillFlags.statePath, "state", backfill.DefaultStatePath, "Resumable state file")
	f.StringVar(&backfillFlags.task, "task", "drone_recon", "Task label for created sessions")
	f.BoolVar(&backfillFlags.dryRun, "dry-run", false, "Score exports without writing to the database")
	cmd.MarkFlagsOneRequired("dir", "file")
	cmd.MarkFlagsMutuallyExclusive("dir", "file")
	return cmd
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	set, err := confidence.Load(cfg.ConfidenceVersion)
	if err != nil {
		return err
	}
	scorer, err := calibration.New(set.CalibrationConfig())
	if err != nil {
		return err
	}

	var sink backfill.Sink
	if !backfillFlags.dryRun {
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required unless --dry-run is set")
		}
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		sink = db
	}

	var notifier backfill.Notifier
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		notifier = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
	}

	runner := backfill.NewRunner(backfill.Config{
		Dir:        backfillFlags.dir,
		SingleFile: backfillFlags.file,
		StatePath:  backfillFlags.statePath,
		Task:       backfillFlags.task,
		DryRun:     backfillFlags.dryRun,
		Out:        cmd.OutOrStdout(),
		Notifier:   notifier,
	}, sink, set, scorer, slog.Default())
	return runner.Run(ctx)
}
