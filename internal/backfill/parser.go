package backfill

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/calibre/internal/feedback"
)

// exportRecord is one trial as written by the experiment's data export.
// Only records with both task and block set are trial log rows; the rest
// (instructions, consent, questionnaires) are skipped.
type exportRecord struct {
	SubjectID string          `json:"subject_id"`
	Task      string          `json:"task"`
	Block     string          `json:"block"`
	Response  json.RawMessage `json:"response"`
	Correct   *bool           `json:"correct"`
	RT        *float64        `json:"rt"`
}

// Export is the trial log of one subject read from an export file.
type Export struct {
	Path      string
	SubjectID string
	Trials    []feedback.Trial
}

// Blocks returns the blocks holding classification trials, in order of
// first appearance.
func (e *Export) Blocks() []string {
	seen := make(map[string]bool)
	var blocks []string
	for _, t := range e.Trials {
		if t.Task != feedback.TaskClassification || seen[t.Block] {
			continue
		}
		seen[t.Block] = true
		blocks = append(blocks, t.Block)
	}
	return blocks
}

// ParseExportFile reads a JSON array export or a JSONL file with one
// trial record per line.
func ParseExportFile(path string) (*Export, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	var records []exportRecord
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("parse json export: %w", err)
		}
	} else {
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var rec exportRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				continue // skip malformed lines
			}
			records = append(records, rec)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
	}

	exp := &Export{Path: path}
	for _, rec := range records {
		if exp.SubjectID == "" && rec.SubjectID != "" {
			exp.SubjectID = rec.SubjectID
		}
		if rec.Task == "" || rec.Block == "" {
			continue
		}
		t := feedback.Trial{
			Task:     rec.Task,
			Block:    rec.Block,
			Response: responseString(rec.Response),
			Correct:  rec.Correct,
		}
		if rec.RT != nil {
			ms := int(*rec.RT)
			t.RTMillis = &ms
		}
		exp.Trials = append(exp.Trials, t)
	}
	if exp.SubjectID == "" {
		exp.SubjectID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return exp, nil
}

// responseString flattens a recorded response (string key, number or null).
func responseString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return string(raw)
}
