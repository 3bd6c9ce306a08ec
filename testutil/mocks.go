package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// TelegramCall is one recorded Bot API invocation.
type TelegramCall struct {
	Method  string
	Payload map[string]any
}

// MockTelegramServer mocks the Telegram Bot API: it records every method call
// and answers {"ok":true} unless a failure is installed for the method.
type MockTelegramServer struct {
	*httptest.Server

	mu       sync.Mutex
	calls    []TelegramCall
	failures map[string]string // method -> error description
}

// NewMockTelegramServer creates a mock Bot API server. Point
// chat.Telegram.APIBase or bot.Bot.APIBase at its URL.
func NewMockTelegramServer(t *testing.T) *MockTelegramServer {
	t.Helper()
	m := &MockTelegramServer{failures: make(map[string]string)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Paths look like /bot<token>/<method>
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
		if len(parts) != 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		method := parts[1]

		payload := map[string]any{}
		if body, err := io.ReadAll(r.Body); err == nil && len(body) > 0 {
			_ = json.Unmarshal(body, &payload)
		}

		m.mu.Lock()
		m.calls = append(m.calls, TelegramCall{Method: method, Payload: payload})
		desc, failed := m.failures[method]
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if failed {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": desc})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{}})
	}))
	t.Cleanup(m.Close)
	return m
}

// FailMethod makes the given Bot API method answer ok=false with description.
func (m *MockTelegramServer) FailMethod(method, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = description
}

// Calls returns a copy of the recorded invocations.
func (m *MockTelegramServer) Calls() []TelegramCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TelegramCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsTo returns the recorded invocations of one method.
func (m *MockTelegramServer) CallsTo(method string) []TelegramCall {
	var out []TelegramCall
	for _, c := range m.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// NewMockFeedServer serves a fixed RSS document.
func NewMockFeedServer(t *testing.T, rss string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = io.WriteString(w, rss)
	}))
	t.Cleanup(srv.Close)
	return srv
}
