package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func completionServer(t *testing.T, content string) (*httptest.Server, *http.Request) {
	t.Helper()
	var captured http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = *r
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server, &captured
}

func TestCompleteReturnsTrimmedAnswer(t *testing.T) {
	server, captured := completionServer(t, "  Paris  ")
	client := NewClient(server.URL, "test-key", "qwen3:1.7b", 5*time.Second)

	answer, err := client.Complete(context.Background(), "capital of France?")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if answer != "Paris" {
		t.Fatalf("expected trimmed answer, got %q", answer)
	}
	if got := captured.Header.Get("Authorization"); got != "Bearer test-key" {
		t.Fatalf("missing auth header, got %q", got)
	}
}

func TestCompleteStripsThinkBlocks(t *testing.T) {
	server, _ := completionServer(t, "<think>the user asks a\nsimple question</think>yes")
	client := NewClient(server.URL, "", "qwen3:1.7b", 5*time.Second)

	answer, err := client.Complete(context.Background(), "is this a greeting?")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if answer != "yes" {
		t.Fatalf("think block not stripped, got %q", answer)
	}
}

func TestCompleteAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limited", "type": "rate_limit"},
		})
	}))
	defer server.Close()
	client := NewClient(server.URL, "", "qwen3:1.7b", 5*time.Second)

	if _, err := client.Complete(context.Background(), "hi"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestCompleteNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer server.Close()
	client := NewClient(server.URL, "", "qwen3:1.7b", 5*time.Second)

	if _, err := client.Complete(context.Background(), "hi"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
