package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/auth"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/autonomy"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/conversations"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/llm"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/orchestrator"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/ratelimit"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/tools"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/pkg/models"
)

// fixedProvider answers every completion with the same text.
type fixedProvider struct {
	text string
}

func (p *fixedProvider) Name() string { return "fixed" }

func (p *fixedProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	chunks := make(chan *llm.CompletionChunk, 2)
	chunks <- &llm.CompletionChunk{Text: p.text}
	chunks <- &llm.CompletionChunk{Done: true}
	close(chunks)
	return chunks, nil
}

func newTestServer(t *testing.T, authService *auth.Service, limiter *ratelimit.Limiter) *Server {
	t.Helper()
	registry := tools.NewRegistry()
	gate := autonomy.NewGate(&autonomy.StaticPolicy{Fallback: 0.99}, 0, nil)
	executor := tools.NewExecutor(registry, gate, nil, nil, nil)
	orch := orchestrator.New(&fixedProvider{text: "hello from the assistant"},
		conversations.NewMemoryStore(), nil, registry, executor, nil, nil, nil, nil)
	return New(orch, authService, limiter, nil, Options{}, nil)
}

func postChat(t *testing.T, handler http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/assistant/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

// parseNDJSON splits a recorded body into records, requiring the sentinel.
func parseNDJSON(t *testing.T, body string) []map[string]any {
	t.Helper()
	var records []map[string]any
	sawSentinel := false
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if line == models.StreamEndSentinel {
			sawSentinel = true
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("unparseable line: %q", line)
		}
		records = append(records, record)
	}
	if !sawSentinel {
		t.Fatalf("body missing stream sentinel: %q", body)
	}
	return records
}

func TestChatStreamsResponse(t *testing.T) {
	server := newTestServer(t, nil, nil)

	recorder := postChat(t, server.Handler(), `{"message":"hi"}`, nil)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if ct := recorder.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", ct)
	}

	records := parseNDJSON(t, recorder.Body.String())
	var content strings.Builder
	doneSeen := false
	for _, r := range records {
		if c, ok := r["content"].(string); ok {
			content.WriteString(c)
		}
		if r["done"] == true {
			doneSeen = true
		}
	}
	if content.String() != "hello from the assistant" {
		t.Errorf("content = %q", content.String())
	}
	if !doneSeen {
		t.Error("stream missing terminal record")
	}
}

func TestChatValidation(t *testing.T) {
	server := newTestServer(t, nil, nil)
	handler := server.Handler()

	tests := []struct {
		name string
		body string
	}{
		{"empty message", `{"message":""}`},
		{"whitespace message", `{"message":"   "}`},
		{"oversized message", `{"message":"` + strings.Repeat("a", maxMessageLength+1) + `"}`},
		{"malformed json", `{"message":`},
		{"bad attachment type", `{"message":"hi","attachments":[{"type":"video","url":"https://x"}]}`},
		{"attachment without url", `{"message":"hi","attachments":[{"type":"image"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := postChat(t, handler, tt.body, nil)
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", recorder.Code)
			}
			records := parseNDJSON(t, recorder.Body.String())
			if len(records) != 1 {
				t.Fatalf("records = %d, want a single error record", len(records))
			}
			if records[0]["code"] != "validation_error" {
				t.Errorf("code = %v", records[0]["code"])
			}
		})
	}
}

func TestChatRequiresAuthWhenEnabled(t *testing.T) {
	authService := auth.NewService(auth.Config{JWTSecret: "test-secret", TokenExpiry: time.Hour})
	server := newTestServer(t, authService, nil)
	handler := server.Handler()

	recorder := postChat(t, handler, `{"message":"hi"}`, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", recorder.Code)
	}
	records := parseNDJSON(t, recorder.Body.String())
	if records[0]["code"] != "auth_error" {
		t.Errorf("code = %v", records[0]["code"])
	}

	recorder = postChat(t, handler, `{"message":"hi"}`, map[string]string{"Authorization": "Bearer garbage"})
	if recorder.Code != http.StatusUnauthorized {
		t.Errorf("status with bad token = %d", recorder.Code)
	}

	token, err := authService.GenerateJWT(auth.Identity{TenantID: "t1", UserID: "u1"})
	if err != nil {
		t.Fatalf("GenerateJWT() error = %v", err)
	}
	recorder = postChat(t, handler, `{"message":"hi"}`, map[string]string{"Authorization": "Bearer " + token})
	if recorder.Code != http.StatusOK {
		t.Errorf("status with valid token = %d", recorder.Code)
	}
}

func TestChatRateLimit(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.Config{Requests: 2, Window: time.Minute, Enabled: true})
	server := newTestServer(t, nil, limiter)
	handler := server.Handler()

	for i := 0; i < 2; i++ {
		if recorder := postChat(t, handler, `{"message":"hi"}`, nil); recorder.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, recorder.Code)
		}
	}

	recorder := postChat(t, handler, `{"message":"hi"}`, nil)
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", recorder.Code)
	}
	if recorder.Header().Get("Retry-After") == "" {
		t.Error("rate limited response missing Retry-After")
	}
	records := parseNDJSON(t, recorder.Body.String())
	if records[0]["code"] != "rate_limit_error" {
		t.Errorf("code = %v", records[0]["code"])
	}

	// Another actor is unaffected.
	recorder = postChat(t, handler, `{"message":"hi"}`, map[string]string{"X-User-ID": "someone-else"})
	if recorder.Code != http.StatusOK {
		t.Errorf("other actor status = %d", recorder.Code)
	}
}

func TestChatInvalidRequestsDoNotConsumeQuota(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.Config{Requests: 1, Window: time.Minute, Enabled: true})
	server := newTestServer(t, nil, limiter)
	handler := server.Handler()

	for _, body := range []string{`{"message":`, `{"message":"   "}`} {
		if recorder := postChat(t, handler, body, nil); recorder.Code != http.StatusBadRequest {
			t.Fatalf("body %q status = %d, want 400", body, recorder.Code)
		}
	}

	recorder := postChat(t, handler, `{"message":"hi"}`, nil)
	if recorder.Code != http.StatusOK {
		t.Errorf("valid request after rejections status = %d, want 200", recorder.Code)
	}
}

func TestChatConversationContinuity(t *testing.T) {
	server := newTestServer(t, nil, nil)
	handler := server.Handler()

	recorder := postChat(t, handler, `{"message":"first"}`, nil)
	records := parseNDJSON(t, recorder.Body.String())
	convRecord, ok := func() (map[string]any, bool) {
		for _, r := range records {
			if _, ok := r["conversationId"]; ok {
				return r, true
			}
		}
		return nil, false
	}()
	if !ok {
		t.Fatal("missing conversation record")
	}
	convID := convRecord["conversationId"].(string)

	body, _ := json.Marshal(chatRequest{ConversationID: convID, Message: "second"})
	recorder = postChat(t, handler, string(body), nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	followup := parseNDJSON(t, recorder.Body.String())
	for _, r := range followup {
		if id, ok := r["conversationId"].(string); ok && id != convID {
			t.Errorf("conversation ID changed: %q != %q", id, convID)
		}
	}
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("healthz body not JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestChatMethodNotAllowed(t *testing.T) {
	server := newTestServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/assistant/chat", nil)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", recorder.Code)
	}
}
