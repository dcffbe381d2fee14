package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func chatResponse(content string) map[string]any {
	return map[string]any{
		"id":    "test-id",
		"model": "openai/gpt-4.1-mini",
		"choices": []map[string]any{
			{
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     10,
			"completion_tokens": 8,
			"total_tokens":      18,
		},
	}
}

func TestOpenRouterClient_Complete(t *testing.T) {
	t.Run("structured request", func(t *testing.T) {
		var got openRouterRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
				t.Errorf("unexpected authorization: %s", auth)
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decode request: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(chatResponse(`{"court":"Cass."}`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "test-key", BaseURL: server.URL})
		temp := 0.0
		out, err := client.Complete(context.Background(),
			[]Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "hi"}},
			JSONSchemaFormat("citations", json.RawMessage(`{"type":"object"}`)),
			Settings{Temperature: &temp},
		)
		if err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if out.Content != `{"court":"Cass."}` {
			t.Errorf("content = %q", out.Content)
		}
		if out.Usage.TotalTokens != 18 {
			t.Errorf("total tokens = %d, want 18", out.Usage.TotalTokens)
		}
		if out.Provider != OpenRouterName {
			t.Errorf("provider = %q", out.Provider)
		}
		if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_schema" {
			t.Fatalf("expected json_schema response_format, got %+v", got.ResponseFormat)
		}
		if !strings.Contains(string(got.ResponseFormat.JSONSchema), `"name":"citations"`) {
			t.Errorf("schema wrapper missing name: %s", got.ResponseFormat.JSONSchema)
		}
		if got.Temperature == nil || *got.Temperature != 0 {
			t.Errorf("explicit zero temperature should be sent")
		}
	})

	t.Run("anthropic models get schema in prompt", func(t *testing.T) {
		var got openRouterRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&got)
			json.NewEncoder(w).Encode(chatResponse(`{}`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{BaseURL: server.URL})
		_, err := client.Complete(context.Background(),
			[]Message{{Role: RoleUser, Content: "hi"}},
			JSONSchemaFormat("x", json.RawMessage(`{"type":"object"}`)),
			Settings{Model: "anthropic/claude-sonnet-4"},
		)
		if err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if got.ResponseFormat != nil {
			t.Errorf("anthropic models should not receive response_format")
		}
		if len(got.Messages) != 2 || got.Messages[0].Role != RoleSystem {
			t.Fatalf("expected injected system message, got %+v", got.Messages)
		}
		if s, _ := got.Messages[0].Content.(string); !strings.Contains(s, "Schema:") {
			t.Errorf("system message should carry schema, got %q", s)
		}
	})

	t.Run("429 is a rate limit error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"message":"slow down"}}`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{BaseURL: server.URL})
		_, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, TextFormat(), Settings{})
		if !IsRateLimited(err) {
			t.Fatalf("expected rate limit error, got %v", err)
		}
		rl := err.(*RateLimitError)
		if rl.RetryAfter != 3*time.Second {
			t.Errorf("retry after = %v, want 3s", rl.RetryAfter)
		}
	})

	t.Run("rate limit inside 200 body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"error":{"message":"upstream throttled","code":429}}`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{BaseURL: server.URL})
		_, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, TextFormat(), Settings{})
		if !IsRateLimited(err) {
			t.Fatalf("expected rate limit error, got %v", err)
		}
	})

	t.Run("server error is terminal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`bad request`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{BaseURL: server.URL})
		_, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, TextFormat(), Settings{})
		if err == nil || IsRateLimited(err) {
			t.Fatalf("expected terminal error, got %v", err)
		}
	})
}
