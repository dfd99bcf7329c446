package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/calibre/internal/calibration"
	"github.com/MikeSquared-Agency/calibre/internal/confidence"
	"github.com/MikeSquared-Agency/calibre/internal/feedback"
)

// SessionStore is the trial log the session routes write to.
type SessionStore interface {
	CreateSession(ctx context.Context, externalID, task string) (uuid.UUID, error)
	InsertTrials(ctx context.Context, sessionID uuid.UUID, trials []feedback.Trial) error
}

// BlockScorer scores blocks and reads their feedback reports.
type BlockScorer interface {
	ScoreBlock(ctx context.Context, sessionID uuid.UUID, block string) (feedback.Report, error)
	Feedback(ctx context.Context, sessionID uuid.UUID, block string) (feedback.Report, error)
}

type Server struct {
	router   *chi.Mux
	port     int
	set      *confidence.Set
	scorer   *calibration.Scorer
	sessions SessionStore
	blocks   BlockScorer
	http     *http.Server
}

// NewServer builds the HTTP API. The session routes are mounted only when
// sessions and blocks are non-nil; an empty apiToken leaves them open.
func NewServer(port int, apiToken string, set *confidence.Set, scorer *calibration.Scorer, sessions SessionStore, blocks BlockScorer) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		set:      set,
		scorer:   scorer,
		sessions: sessions,
		blocks:   blocks,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/calibre/status", s.status)
	router.Post("/api/v1/score", s.score)

	if sessions != nil && blocks != nil {
		router.Route("/api/v1/sessions", func(r chi.Router) {
			r.Use(BearerAuthMiddleware(apiToken))
			r.Post("/", s.createSession)
			r.Post("/{sessionID}/trials", s.appendTrials)
			r.Post("/{sessionID}/blocks/{block}/score", s.scoreBlock)
			r.Get("/{sessionID}/blocks/{block}/feedback", s.blockFeedback)
		})
	}

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("API server starting", "addr", addr)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":              "calibre",
		"confidence_version": s.set.Version,
		"levels":             s.set.Labels,
		"baseline":           s.scorer.Baseline(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
