package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/MikeSquared-Agency/calibre/internal/calibration"
	"github.com/MikeSquared-Agency/calibre/internal/feedback"
)

// ScoreRequest carries one confidence category (1..K) and one outcome
// (0 or 1) per trial.
type ScoreRequest struct {
	Estimates []int `json:"estimates"`
	Outcomes  []int `json:"outcomes"`
}

type ScoreResponse struct {
	Score   float64          `json:"score"`
	Percent int              `json:"percent"`
	Bins    calibration.Bins `json:"bins"`
}

// score handles POST /api/v1/score
func (s *Server) score(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	bins, err := s.scorer.Bin(req.Estimates, req.Outcomes)
	if err != nil {
		writeScoreError(w, err)
		return
	}
	score, err := s.scorer.Convert(bins)
	if err != nil {
		writeScoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ScoreResponse{
		Score:   score,
		Percent: feedback.Percent(score),
		Bins:    bins,
	})
}

func writeScoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, calibration.ErrInvalidCategory),
		errors.Is(err, calibration.ErrInvalidOutcome),
		errors.Is(err, calibration.ErrLengthMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, calibration.ErrInsufficientData):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
