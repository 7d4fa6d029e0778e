// Package testutil provides httptest doubles for the collaborator services
// and a Postgres helper for archive tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// MockGenServer creates a test server that mocks the OpenAI-compatible
// line-generation collaborator.
type MockGenServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
	Calls    atomic.Int64
}

// NewMockGenServer creates a new mock generation server.
func NewMockGenServer(t *testing.T) *MockGenServer {
	t.Helper()
	m := &MockGenServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Calls.Add(1)
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockCompletion adds a handler returning the given line for every
// chat-completion request.
func (m *MockGenServer) MockCompletion(line string) {
	m.Handlers["/chat/completions"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": line}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockCompletionError makes every chat-completion request fail with the given
// status.
func (m *MockGenServer) MockCompletionError(status int) {
	m.Handlers["/chat/completions"] = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "mock upstream error", status)
	}
}

// MockAnalysisServer creates a test server that mocks the content-analysis
// collaborator.
type MockAnalysisServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockAnalysisServer creates a new mock analysis server.
func NewMockAnalysisServer(t *testing.T) *MockAnalysisServer {
	t.Helper()
	m := &MockAnalysisServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockAnalysis adds a handler returning a fixed sentiment/tag payload.
func (m *MockAnalysisServer) MockAnalysis(positive, neutral, negative float64, subjects []string) {
	m.Handlers["/analyze"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"sentiment": map[string]float64{
				"positive": positive,
				"neutral":  neutral,
				"negative": negative,
			},
			"subjects": subjects,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockAnalysisError makes every analysis request fail with the given status.
func (m *MockAnalysisServer) MockAnalysisError(status int) {
	m.Handlers["/analyze"] = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "mock analysis error", status)
	}
}
