package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

const (
	// maxSectionText is Slack's limit for a section block's text, less the
	// code fence around it.
	maxSectionText = 3000 - 6
	// maxBlocks is Slack's per-message block limit.
	maxBlocks = 50
)

// Poster posts lab notifications to a single Slack channel.
type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostSummary posts a titled mrkdwn summary and returns the message ts.
func (p *Poster) PostSummary(ctx context.Context, title, text string) (string, error) {
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": title,
			},
		},
	}
	for _, chunk := range splitSections(text, maxSectionText, maxBlocks-1) {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": "```" + chunk + "```",
			},
		})
	}

	body, err := json.Marshal(map[string]any{
		"channel": p.channel,
		"text":    title + "\n" + text,
		"blocks":  blocks,
	})
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}

	p.logger.Info("posted summary to slack", "ts", slackResp.TS, "title", title)
	return slackResp.TS, nil
}

// splitSections breaks text into at most maxChunks pieces of at most limit
// bytes, cutting at line ends where possible. Text beyond the last piece is
// dropped and the last piece ends with a truncation marker.
func splitSections(text string, limit, maxChunks int) []string {
	const marker = "\n... (truncated)"
	var chunks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}

	var pieces []string
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			pieces = append(pieces, line[:limit])
			line = line[limit:]
		}
		if line != "" {
			pieces = append(pieces, line)
		}
	}

	for _, piece := range pieces {
		if cur.Len()+len(piece) > limit {
			flush()
		}
		if len(chunks) == maxChunks {
			last := chunks[maxChunks-1]
			if len(last)+len(marker) > limit {
				last = last[:limit-len(marker)]
			}
			chunks[maxChunks-1] = last + marker
			return chunks
		}
		cur.WriteString(piece)
	}
	flush()
	return chunks
}
