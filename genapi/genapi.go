// Package genapi contains a minimal client for the line-generation
// collaborator: any OpenAI-compatible chat-completions endpoint. It turns a
// persona, an intent, and the recent room transcript into one short line of
// dialogue.
package genapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"
)

// MaxLineLen caps generated lines; anything longer is truncated.
const MaxLineLen = 180

// Client calls the generation endpoint. Zero-value HTTPClient falls back to
// http.DefaultClient; callers bound latency with their request context.
type Client struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Turn is one prior message shown to the model.
type Turn struct {
	Author string
	Text   string
}

// LineRequest describes one utterance to generate.
type LineRequest struct {
	PersonaID       string
	Intent          string
	TargetPersonaID string
	Tones           []string
	Subjects        []string
	ContextTags     []string
	Recent          []Turn
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateLine asks the collaborator for one short line spoken by the given
// persona. All failures (transport, non-2xx, empty completion) are returned
// as recoverable errors; the caller abandons the turn and moves on.
func (c *Client) GenerateLine(ctx context.Context, lr LineRequest) (string, error) {
	if c.BaseURL == "" {
		return "", fmt.Errorf("genapi: base url empty")
	}
	body := completionRequest{
		Model:       c.Model,
		Messages:    buildMessages(lr),
		MaxTokens:   80,
		Temperature: 0.9,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("genapi: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("genapi: decode response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("genapi: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("genapi: empty completion")
	}
	line := strings.TrimSpace(out.Choices[0].Message.Content)
	if line == "" {
		return "", fmt.Errorf("genapi: blank completion")
	}
	return truncateLine(line, MaxLineLen), nil
}

// truncateLine cuts s to at most max bytes, backing off to the previous rune
// boundary so a multi-byte character is never split.
func truncateLine(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// buildMessages flattens the request into a system prompt plus the recent
// transcript.
func buildMessages(lr LineRequest) []chatMessage {
	var sys strings.Builder
	fmt.Fprintf(&sys, "You are persona %q in a group chat. Reply with one short casual message (under %d characters) with intent %q.", lr.PersonaID, MaxLineLen, lr.Intent)
	if lr.TargetPersonaID != "" {
		fmt.Fprintf(&sys, " Address persona %q.", lr.TargetPersonaID)
	}
	if len(lr.Subjects) > 0 {
		fmt.Fprintf(&sys, " The conversation is about: %s.", strings.Join(lr.Subjects, ", "))
	}
	if len(lr.Tones) > 0 {
		fmt.Fprintf(&sys, " Match the tone: %s.", strings.Join(lr.Tones, ", "))
	}
	if len(lr.ContextTags) > 0 {
		fmt.Fprintf(&sys, " Context: %s.", strings.Join(lr.ContextTags, ", "))
	}

	var transcript strings.Builder
	for _, t := range lr.Recent {
		fmt.Fprintf(&transcript, "%s: %s\n", t.Author, t.Text)
	}
	if transcript.Len() == 0 {
		transcript.WriteString("(the room is quiet; open the conversation)\n")
	}

	return []chatMessage{
		{Role: "system", Content: sys.String()},
		{Role: "user", Content: transcript.String()},
	}
}
