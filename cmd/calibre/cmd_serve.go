package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/calibre/internal/api"
	"github.com/MikeSquared-Agency/calibre/internal/calibration"
	"github.com/MikeSquared-Agency/calibre/internal/confidence"
	"github.com/MikeSquared-Agency/calibre/internal/config"
	"github.com/MikeSquared-Agency/calibre/internal/hermes"
	"github.com/MikeSquared-Agency/calibre/internal/processor"
	"github.com/MikeSquared-Agency/calibre/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scoring service (HTTP API and NATS block scorer)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(config.Load())
		},
	}
}

func serve(cfg config.Config) error {
	setupLogging(cfg.LogLevel)

	slog.Info("calibre starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Confidence scale and scorer
	set, err := confidence.Load(cfg.ConfidenceVersion)
	if err != nil {
		return fmt.Errorf("load confidence scale: %w", err)
	}
	scorer, err := calibration.New(set.CalibrationConfig())
	if err != nil {
		return fmt.Errorf("build scorer: %w", err)
	}
	slog.Info("scorer ready", "confidence_version", set.Version, "levels", set.Len(), "baseline", scorer.Baseline())

	// Database
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	slog.Info("database connected")

	// NATS/Hermes
	hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer hermesClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	proc := processor.New(db, db, hermesClient, set, scorer, slog.Default())

	if err := hermesClient.Subscribe(hermes.SubjectBlockCompleted, proc.HandleBlockCompleted); err != nil {
		return fmt.Errorf("subscribe to block events: %w", err)
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, set, scorer, db, proc)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Announce registration
	if err := hermesClient.Publish(hermes.SubjectRegistered, map[string]any{
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
		"port":               cfg.Port,
		"confidence_version": set.Version,
	}); err != nil {
		slog.Warn("failed to publish registration", "error", err)
	}

	slog.Info("calibre ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
	if err := hermesClient.Drain(); err != nil {
		slog.Warn("NATS drain", "error", err)
	}
	cancel()
	slog.Info("calibre stopped")
	return nil
}
