package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testPoster(url string) *Poster {
	p := NewPoster("xoxb-test", "C-LAB", slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.apiURL = url
	return p
}

func TestPostSummary_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer xoxb-test" {
			t.Errorf("expected Bearer xoxb-test, got %q", r.Header.Get("Authorization"))
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["channel"] != "C-LAB" {
			t.Errorf("expected channel C-LAB, got %v", payload["channel"])
		}
		text, _ := payload["text"].(string)
		if !strings.Contains(text, "Backfill complete") || !strings.Contains(text, "Files imported: 3") {
			t.Errorf("unexpected text %q", text)
		}
		blocks, _ := payload["blocks"].([]any)
		if len(blocks) != 2 {
			t.Errorf("expected 2 blocks, got %d", len(blocks))
		}
		w.Write([]byte(`{"ok": true, "ts": "1700000000.000100"}`))
	}))
	defer server.Close()

	ts, err := testPoster(server.URL).PostSummary(context.Background(), "Backfill complete", "Files imported: 3")
	if err != nil {
		t.Fatalf("PostSummary: %v", err)
	}
	if ts != "1700000000.000100" {
		t.Errorf("expected ts, got %q", ts)
	}
}

func TestPostSummary_SlackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok": false, "error": "channel_not_found"}`))
	}))
	defer server.Close()

	_, err := testPoster(server.URL).PostSummary(context.Background(), "t", "x")
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Errorf("expected channel_not_found error, got %v", err)
	}
}

func TestPostSummary_BadResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	if _, err := testPoster(server.URL).PostSummary(context.Background(), "t", "x"); err == nil {
		t.Error("expected parse error")
	}
}

func TestPostSummary_SplitsLongSummary(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&sb, "  - p%03d.jsonl [P%03d]: 240 trials\n      test: accuracy 67%%, calibration 11, joint 39\n", i, i)
	}
	summary := sb.String()

	var sections []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Blocks []struct {
				Type string `json:"type"`
				Text struct {
					Text string `json:"text"`
				} `json:"text"`
			} `json:"blocks"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		for _, b := range payload.Blocks {
			if b.Type == "section" {
				sections = append(sections, b.Text.Text)
			}
		}
		w.Write([]byte(`{"ok": true, "ts": "1"}`))
	}))
	defer server.Close()

	if _, err := testPoster(server.URL).PostSummary(context.Background(), "Backfill complete", summary); err != nil {
		t.Fatalf("PostSummary: %v", err)
	}
	if len(sections) < 2 {
		t.Fatalf("expected summary split across sections, got %d", len(sections))
	}
	var joined strings.Builder
	for _, sec := range sections {
		if len(sec) > 3000 {
			t.Errorf("section of %d chars exceeds the Slack limit", len(sec))
		}
		joined.WriteString(strings.TrimSuffix(strings.TrimPrefix(sec, "```"), "```"))
	}
	if joined.String() != summary {
		t.Error("sections do not reassemble into the summary")
	}
}

func TestSplitSections(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		limit     int
		maxChunks int
		want      []string
	}{
		{"fits", "a\nb\n", 10, 3, []string{"a\nb\n"}},
		{"line boundaries", "aaaa\nbbbb\ncc\n", 6, 5, []string{"aaaa\n", "bbbb\n", "cc\n"}},
		{"long line cut", "abcdefghij", 4, 5, []string{"abcd", "efgh", "ij"}},
		{"empty", "", 10, 3, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitSections(tt.text, tt.limit, tt.maxChunks)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("splitSections mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSplitSections_Truncates(t *testing.T) {
	text := strings.Repeat(strings.Repeat("x", 39)+"\n", 100)
	got := splitSections(text, 100, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(got))
	}
	last := got[2]
	if !strings.HasSuffix(last, "(truncated)") {
		t.Errorf("expected truncation marker, got %q", last)
	}
	for _, c := range got {
		if len(c) > 100 {
			t.Errorf("chunk of %d bytes exceeds limit", len(c))
		}
	}
}
