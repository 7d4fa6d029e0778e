package genapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func completionBody(content string) map[string]interface{} {
	return map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
}

func TestGenerateLine(t *testing.T) {
	tests := []struct {
		response    interface{}
		name        string
		wantLine    string
		errContains string
		statusCode  int
		wantErr     bool
	}{
		{
			name:       "successful completion",
			response:   completionBody("sounds good to me!"),
			statusCode: http.StatusOK,
			wantLine:   "sounds good to me!",
		},
		{
			name:       "whitespace trimmed",
			response:   completionBody("  hey there \n"),
			statusCode: http.StatusOK,
			wantLine:   "hey there",
		},
		{
			name:        "empty choices",
			response:    map[string]interface{}{"choices": []interface{}{}},
			statusCode:  http.StatusOK,
			wantErr:     true,
			errContains: "empty completion",
		},
		{
			name:        "blank completion",
			response:    completionBody("   "),
			statusCode:  http.StatusOK,
			wantErr:     true,
			errContains: "blank completion",
		},
		{
			name:        "api error envelope",
			response:    map[string]interface{}{"error": map[string]string{"message": "model overloaded"}},
			statusCode:  http.StatusOK,
			wantErr:     true,
			errContains: "model overloaded",
		},
		{
			name:        "server error",
			response:    map[string]string{"detail": "boom"},
			statusCode:  http.StatusInternalServerError,
			wantErr:     true,
			errContains: "status 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/chat/completions" {
					t.Errorf("path = %s, want /chat/completions", r.URL.Path)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
					t.Errorf("Authorization = %q", got)
				}
				var req completionRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("decode request: %v", err)
				}
				if req.Model != "test-model" {
					t.Errorf("model = %q, want test-model", req.Model)
				}
				if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
					t.Errorf("unexpected messages: %+v", req.Messages)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.statusCode)
				_ = json.NewEncoder(w).Encode(tt.response)
			}))
			defer server.Close()

			c := &Client{BaseURL: server.URL, APIKey: "test-key", Model: "test-model"}
			line, err := c.GenerateLine(context.Background(), LineRequest{
				PersonaID: "alice",
				Intent:    "ask",
				Recent:    []Turn{{Author: "bob", Text: "anyone around?"}},
			})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("err = %v, want contains %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("GenerateLine: %v", err)
			}
			if line != tt.wantLine {
				t.Errorf("line = %q, want %q", line, tt.wantLine)
			}
		})
	}
}

func TestGenerateLineTruncation(t *testing.T) {
	long := strings.Repeat("chatter ", 60)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completionBody(long))
	}))
	defer server.Close()

	c := &Client{BaseURL: server.URL, Model: "m"}
	line, err := c.GenerateLine(context.Background(), LineRequest{PersonaID: "a", Intent: "share"})
	if err != nil {
		t.Fatalf("GenerateLine: %v", err)
	}
	if len(line) != MaxLineLen {
		t.Errorf("len(line) = %d, want %d", len(line), MaxLineLen)
	}
}

func TestGenerateLineTruncationRuneBoundary(t *testing.T) {
	// One ASCII byte followed by 3-byte runes puts the byte cap mid-rune.
	long := "a" + strings.Repeat("日", 100)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completionBody(long))
	}))
	defer server.Close()

	c := &Client{BaseURL: server.URL, Model: "m"}
	line, err := c.GenerateLine(context.Background(), LineRequest{PersonaID: "a", Intent: "share"})
	if err != nil {
		t.Fatalf("GenerateLine: %v", err)
	}
	if len(line) > MaxLineLen {
		t.Errorf("len(line) = %d, want <= %d", len(line), MaxLineLen)
	}
	if !utf8.ValidString(line) {
		t.Errorf("truncated line is not valid UTF-8: %q", line)
	}
	// The cap falls one byte into a rune, so truncation backs off to the
	// previous rune boundary.
	if len(line) != MaxLineLen-2 {
		t.Errorf("len(line) = %d, want %d", len(line), MaxLineLen-2)
	}
}

func TestGenerateLineEmptyBaseURL(t *testing.T) {
	c := &Client{}
	if _, err := c.GenerateLine(context.Background(), LineRequest{}); err == nil {
		t.Fatal("expected error for empty base url")
	}
}

func TestBuildMessagesQuietRoom(t *testing.T) {
	msgs := buildMessages(LineRequest{PersonaID: "a", Intent: "share"})
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if !strings.Contains(msgs[1].Content, "the room is quiet") {
		t.Errorf("empty transcript should carry the opener hint, got %q", msgs[1].Content)
	}
}

func TestBuildMessagesMentionsTarget(t *testing.T) {
	msgs := buildMessages(LineRequest{PersonaID: "a", Intent: "disagree", TargetPersonaID: "b", Subjects: []string{"coffee"}})
	sys := msgs[0].Content
	if !strings.Contains(sys, `"b"`) || !strings.Contains(sys, "coffee") {
		t.Errorf("system prompt missing target or subject: %q", sys)
	}
}
