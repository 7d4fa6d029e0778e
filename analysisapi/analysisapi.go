// Package analysisapi contains a minimal client for the content-analysis
// collaborator, which turns raw room text into sentiment scores and
// tone/subject/context tags.
package analysisapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Client calls the analysis endpoint.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Sentiment components are expected within [0,1], roughly summing to 1.
type Sentiment struct {
	Positive float64 `json:"positive"`
	Neutral  float64 `json:"neutral"`
	Negative float64 `json:"negative"`
}

// Result is the collaborator's verdict on a stretch of conversation.
type Result struct {
	Sentiment   Sentiment `json:"sentiment"`
	Tones       []string  `json:"tones"`
	Subjects    []string  `json:"subjects"`
	ContextTags []string  `json:"context_tags"`
}

// Analyze posts text and decodes the verdict. Failures are recoverable; the
// caller falls back to a neutral context.
func (c *Client) Analyze(ctx context.Context, text string) (Result, error) {
	if c.BaseURL == "" {
		return Result{}, fmt.Errorf("analysisapi: base url empty")
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/analyze", bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("analysisapi: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("analysisapi: decode response: %w", err)
	}
	return out, nil
}
