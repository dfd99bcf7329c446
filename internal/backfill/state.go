package backfill

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const DefaultStatePath = "~/.calibre/backfill-state.json"

// BackfillState tracks progress for resumable backfill runs.
type BackfillState struct {
	StartedAt       time.Time `json:"started_at"`
	LastProcessedAt time.Time `json:"last_processed_at"`
	FilesProcessed  []string  `json:"files_processed"`
	Fingerprints    []string  `json:"fingerprints"`
	SessionsCreated int       `json:"sessions_created"`
	TrialsImported  int       `json:"trials_imported"`
	BlocksScored    int       `json:"blocks_scored"`
	Errors          []string  `json:"errors"`

	path string // not serialized
}

// LoadState loads the backfill state from path, or creates a new one.
func LoadState(path string) (*BackfillState, error) {
	p := expandHome(path)

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return &BackfillState{
				StartedAt: time.Now().UTC(),
				path:      p,
			}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s BackfillState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	s.path = p
	return &s, nil
}

// Save persists the state to disk.
func (s *BackfillState) Save() error {
	s.LastProcessedAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return os.WriteFile(s.path, data, 0o644)
}

// IsProcessed returns true if the given file has already been processed.
func (s *BackfillState) IsProcessed(path string) bool {
	for _, f := range s.FilesProcessed {
		if f == path {
			return true
		}
	}
	return false
}

// MarkProcessed records a file as processed.
func (s *BackfillState) MarkProcessed(path string) {
	s.FilesProcessed = append(s.FilesProcessed, path)
}

// HasFingerprint reports whether an export with the same subject and
// trials was already imported.
func (s *BackfillState) HasFingerprint(fp string) bool {
	for _, f := range s.Fingerprints {
		if f == fp {
			return true
		}
	}
	return false
}

// RecordFingerprint marks an export's content as imported.
func (s *BackfillState) RecordFingerprint(fp string) {
	if !s.HasFingerprint(fp) {
		s.Fingerprints = append(s.Fingerprints, fp)
	}
}

// AddError records a processing error.
func (s *BackfillState) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

// Fingerprint identifies an export by subject and trial content, so the same
// data exported twice under different file names is imported once.
func Fingerprint(e *Export) string {
	h := sha256.New()
	h.Write([]byte(e.SubjectID))
	for _, t := range e.Trials {
		h.Write([]byte{0})
		h.Write([]byte(t.Task + "\x1f" + t.Block + "\x1f" + t.Response + "\x1f"))
		switch {
		case t.Correct == nil:
			h.Write([]byte("-"))
		case *t.Correct:
			h.Write([]byte("1"))
		default:
			h.Write([]byte("0"))
		}
		if t.RTMillis != nil {
			h.Write([]byte(strconv.Itoa(*t.RTMillis)))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

