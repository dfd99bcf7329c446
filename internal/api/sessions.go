package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/calibre/internal/feedback"
	"github.com/MikeSquared-Agency/calibre/internal/store"
)

type CreateSessionRequest struct {
	ExternalID string `json:"external_id"`
	Task       string `json:"task"`
}

type AppendTrialsRequest struct {
	Trials []feedback.Trial `json:"trials"`
}

type FeedbackResponse struct {
	feedback.Report
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// createSession handles POST /api/v1/sessions
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	id, err := s.sessions.CreateSession(r.Context(), req.ExternalID, req.Task)
	if err != nil {
		slog.Error("create session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "create session failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id.String()})
}

// appendTrials handles POST /api/v1/sessions/{sessionID}/trials
func (s *Server) appendTrials(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}

	var req AppendTrialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if len(req.Trials) == 0 {
		writeError(w, http.StatusBadRequest, "no trials")
		return
	}
	for i, t := range req.Trials {
		if t.Task == "" || t.Block == "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("trial %d: task and block are required", i))
			return
		}
	}

	err := s.sessions.InsertTrials(r.Context(), sessionID, req.Trials)
	if errors.Is(err, store.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		slog.Error("append trials failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "append trials failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"appended": len(req.Trials)})
}

// scoreBlock handles POST /api/v1/sessions/{sessionID}/blocks/{block}/score
func (s *Server) scoreBlock(w http.ResponseWriter, r *http.Request) {
	s.writeBlockReport(w, r, s.blocks.ScoreBlock)
}

// blockFeedback handles GET /api/v1/sessions/{sessionID}/blocks/{block}/feedback
func (s *Server) blockFeedback(w http.ResponseWriter, r *http.Request) {
	s.writeBlockReport(w, r, s.blocks.Feedback)
}

type reportFunc func(ctx context.Context, sessionID uuid.UUID, block string) (feedback.Report, error)

func (s *Server) writeBlockReport(w http.ResponseWriter, r *http.Request, get reportFunc) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	block := chi.URLParam(r, "block")

	report, err := get(r.Context(), sessionID, block)
	if errors.Is(err, feedback.ErrNoTrials) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeScoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FeedbackResponse{
		Report:    report,
		SessionID: sessionID.String(),
		Message:   report.Message(),
	})
}

func sessionParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}
