package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "github.com/mrg275/proof2pay-agents/internal/errors"
	"github.com/mrg275/proof2pay-agents/internal/llm"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func TestCompleteSuccess(t *testing.T) {
	var captured struct {
		APIKey  string
		Version string
		Body    map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.APIKey = r.Header.Get("x-api-key")
		captured.Version = r.Header.Get("anthropic-version")
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "监管摘要已生成"},
				{"type": "tool_use", "id": "toolu_1", "name": "web_search", "input": map[string]any{"query": "stablecoin rules"}},
			},
			"stop_reason": "tool_use",
			"usage":       map[string]any{"input_tokens": 120, "output_tokens": 45},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	result, err := client.Complete(context.Background(), llm.Request{
		System:   "You are a research agent.",
		Messages: []llm.Message{{Role: llm.RoleUser, Text: "调研最新监管动态"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Text != "监管摘要已生成" {
		t.Fatalf("unexpected text: %q", result.Text)
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].Name != "web_search" {
		t.Fatalf("unexpected tool calls: %+v", result.ToolCalls)
	}
	if result.InputTokens != 120 || result.OutputTokens != 45 {
		t.Fatalf("unexpected usage: %+v", result)
	}

	if captured.APIKey != "test" {
		t.Fatalf("x-api-key header missing: %q", captured.APIKey)
	}
	if captured.Version == "" {
		t.Fatalf("anthropic-version header missing")
	}
	if captured.Body["model"] == "" {
		t.Fatalf("model field missing in request")
	}
	if captured.Body["system"] != "You are a research agent." {
		t.Fatalf("system prompt missing: %v", captured.Body["system"])
	}
}

func TestCompleteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	_, err = client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Text: "test"}},
	})
	if err == nil {
		t.Fatalf("expected error when http status is not success")
	}
	if xerrors.RetryableError(err) {
		t.Fatalf("400 responses must not be retryable")
	}
}

func TestCompleteRetryableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	_, err = client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Text: "test"}},
	})
	if err == nil {
		t.Fatalf("expected error when http status is not success")
	}
	if !xerrors.RetryableError(err) {
		t.Fatalf("503 responses should be retryable")
	}
}
