package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/calibre/internal/calibration"
	"github.com/MikeSquared-Agency/calibre/internal/confidence"
	"github.com/MikeSquared-Agency/calibre/internal/feedback"
	"github.com/MikeSquared-Agency/calibre/internal/store"
)

const testToken = "calibre-secret"

type fakeSessions struct {
	created  []CreateSessionRequest
	appended map[uuid.UUID][]feedback.Trial
	known    map[uuid.UUID]bool
}

func (f *fakeSessions) CreateSession(_ context.Context, externalID, task string) (uuid.UUID, error) {
	f.created = append(f.created, CreateSessionRequest{ExternalID: externalID, Task: task})
	id := uuid.New()
	f.known[id] = true
	return id, nil
}

func (f *fakeSessions) InsertTrials(_ context.Context, sessionID uuid.UUID, trials []feedback.Trial) error {
	if !f.known[sessionID] {
		return fmt.Errorf("%w: %s", store.ErrSessionNotFound, sessionID)
	}
	f.appended[sessionID] = append(f.appended[sessionID], trials...)
	return nil
}

type fakeBlocks struct {
	reports map[string]feedback.Report
	scored  []string
}

func (f *fakeBlocks) ScoreBlock(ctx context.Context, sessionID uuid.UUID, block string) (feedback.Report, error) {
	r, err := f.Feedback(ctx, sessionID, block)
	if err != nil {
		return feedback.Report{}, err
	}
	f.scored = append(f.scored, block)
	return r, nil
}

func (f *fakeBlocks) Feedback(_ context.Context, sessionID uuid.UUID, block string) (feedback.Report, error) {
	r, ok := f.reports[block]
	if !ok {
		return feedback.Report{}, fmt.Errorf("%w in block %q", feedback.ErrNoTrials, block)
	}
	return r, nil
}

func newTestServer(t *testing.T) (*Server, *fakeSessions) {
	srv, sessions, _ := newTestServerWithBlocks(t)
	return srv, sessions
}

func newTestServerWithBlocks(t *testing.T) (*Server, *fakeSessions, *fakeBlocks) {
	t.Helper()
	set, err := confidence.Load(1)
	if err != nil {
		t.Fatalf("confidence.Load: %v", err)
	}
	scorer, err := calibration.New(set.CalibrationConfig())
	if err != nil {
		t.Fatalf("calibration.New: %v", err)
	}
	sessions := &fakeSessions{appended: map[uuid.UUID][]feedback.Trial{}, known: map[uuid.UUID]bool{}}
	blocks := &fakeBlocks{reports: map[string]feedback.Report{
		"test": {Block: "test", Trials: 6, Accuracy: 67, Calibration: 11, CalibrationAvailable: true, Score: 4.0 / 37, Joint: 39},
	}}
	return NewServer(8760, testToken, set, scorer, sessions, blocks), sessions, blocks
}

func do(srv *Server, method, path, body string, auth bool) *httptest.ResponseRecorder {
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(srv, "GET", "/health", "", false)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(srv, "GET", "/api/v1/calibre/status", "", false)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body struct {
		Agent             string   `json:"agent"`
		ConfidenceVersion int      `json:"confidence_version"`
		Levels            []string `json:"levels"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Agent != "calibre" {
		t.Errorf("expected agent calibre, got %q", body.Agent)
	}
	if body.ConfidenceVersion != 1 {
		t.Errorf("expected confidence version 1, got %d", body.ConfidenceVersion)
	}
	if len(body.Levels) != 4 {
		t.Errorf("expected 4 levels, got %v", body.Levels)
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(srv, "GET", "/nonexistent", "", false)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestScoreEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(srv, "POST", "/api/v1/score", `{"estimates":[1,1,2,3,4,4],"outcomes":[1,0,1,0,1,1]}`, false)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp ScoreResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if math.Abs(resp.Score-4.0/37) > 1e-12 {
		t.Errorf("expected score 4/37, got %f", resp.Score)
	}
	if resp.Percent != 11 {
		t.Errorf("expected percent 11, got %d", resp.Percent)
	}
	if diff := cmp.Diff([]int{2, 1, 1, 2}, resp.Bins.Counts); diff != "" {
		t.Errorf("counts mismatch:\n%s", diff)
	}
}

func TestScoreEndpoint_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"category zero", `{"estimates":[0],"outcomes":[1]}`, http.StatusBadRequest},
		{"category above K", `{"estimates":[5],"outcomes":[1]}`, http.StatusBadRequest},
		{"length mismatch", `{"estimates":[1,2],"outcomes":[1]}`, http.StatusBadRequest},
		{"bad outcome", `{"estimates":[1],"outcomes":[3]}`, http.StatusBadRequest},
		{"no trials", `{"estimates":[],"outcomes":[]}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t)
			w := do(srv, "POST", "/api/v1/score", tt.body, false)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode error body: %v", err)
			}
			if body["error"] == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestSessionRoutes_RequireToken(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(srv, "POST", "/api/v1/sessions", `{"external_id":"p1"}`, false)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}

	req := httptest.NewRequest("POST", "/api/v1/sessions", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", rec.Code)
	}
}

func TestSessionFlow(t *testing.T) {
	srv, sessions := newTestServer(t)

	w := do(srv, "POST", "/api/v1/sessions", `{"external_id":"prolific-1","task":"drone_recon"}`, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created map[string]string
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	id := created["session_id"]
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("expected session uuid, got %q", id)
	}
	if sessions.created[0].ExternalID != "prolific-1" {
		t.Errorf("unexpected session request %+v", sessions.created[0])
	}

	body := `{"trials":[
		{"task":"classification","block":"test","response":"n","correct":true},
		{"task":"confidence","block":"test","response":"4"}
	]}`
	w = do(srv, "POST", "/api/v1/sessions/"+id+"/trials", body, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	stored := sessions.appended[uuid.MustParse(id)]
	if len(stored) != 2 || stored[0].Correct == nil || !*stored[0].Correct {
		t.Errorf("unexpected stored trials %+v", stored)
	}

	w = do(srv, "GET", "/api/v1/sessions/"+id+"/blocks/test/feedback", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var fb FeedbackResponse
	if err := json.NewDecoder(w.Body).Decode(&fb); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if fb.Accuracy != 67 || fb.Calibration != 11 || fb.Joint != 39 {
		t.Errorf("unexpected feedback %+v", fb)
	}
	if fb.SessionID != id {
		t.Errorf("expected session id %s, got %s", id, fb.SessionID)
	}
	if fb.Message == "" {
		t.Error("expected feedback message")
	}
}

func TestAppendTrials_Errors(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"bad session id", "/api/v1/sessions/not-a-uuid/trials", `{"trials":[{"task":"classification","block":"test"}]}`, http.StatusBadRequest},
		{"unknown session", "/api/v1/sessions/" + uuid.New().String() + "/trials", `{"trials":[{"task":"classification","block":"test"}]}`, http.StatusNotFound},
		{"no trials", "/api/v1/sessions/" + uuid.New().String() + "/trials", `{"trials":[]}`, http.StatusBadRequest},
		{"missing block", "/api/v1/sessions/" + uuid.New().String() + "/trials", `{"trials":[{"task":"classification"}]}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(srv, "POST", tt.path, tt.body, true)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestBlockFeedback_ReadOnly(t *testing.T) {
	srv, _, blocks := newTestServerWithBlocks(t)
	id := uuid.New().String()

	w := do(srv, "GET", "/api/v1/sessions/"+id+"/blocks/test/feedback", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(blocks.scored) != 0 {
		t.Errorf("GET feedback must not score blocks, scored %v", blocks.scored)
	}

	w = do(srv, "POST", "/api/v1/sessions/"+id+"/blocks/test/score", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var fb FeedbackResponse
	if err := json.NewDecoder(w.Body).Decode(&fb); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if fb.Calibration != 11 {
		t.Errorf("unexpected scored report %+v", fb)
	}
	if diff := cmp.Diff([]string{"test"}, blocks.scored); diff != "" {
		t.Errorf("scored blocks mismatch:\n%s", diff)
	}
}

func TestBlockFeedback_UnknownBlock(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(srv, "GET", "/api/v1/sessions/"+uuid.New().String()+"/blocks/practice/feedback", "", true)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestSessionRoutes_OpenWithoutToken(t *testing.T) {
	set, _ := confidence.Load(1)
	scorer, _ := calibration.New(set.CalibrationConfig())
	sessions := &fakeSessions{appended: map[uuid.UUID][]feedback.Trial{}, known: map[uuid.UUID]bool{}}
	srv := NewServer(8760, "", set, scorer, sessions, &fakeBlocks{})

	w := do(srv, "POST", "/api/v1/sessions", `{"external_id":"p2"}`, false)
	if w.Code != http.StatusCreated {
		t.Errorf("expected 201 with auth disabled, got %d", w.Code)
	}
}
