package driver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIDriverChatParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("expected bearer auth header, got %q", got)
		}
		w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "hi there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13}
		}`))
	}))
	defer srv.Close()

	d := NewOpenAIDriver("openai", "test-key", srv.URL, "gpt-4.1-mini")
	resp, err := d.Chat(context.Background(), ChatRequest{
		System:   "be terse",
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hi there" {
		t.Fatalf("expected content %q, got %q", "hi there", resp.Content)
	}
	if resp.Usage.TotalTokens != 13 {
		t.Fatalf("expected total tokens 13, got %d", resp.Usage.TotalTokens)
	}
}

func TestOpenAIDriverChatSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"message": "invalid api key"}}`))
	}))
	defer srv.Close()

	d := NewOpenAIDriver("openai", "bad-key", srv.URL, "")
	_, err := d.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err == nil {
		t.Fatalf("expected error from api error response")
	}
}

func TestOpenAIDriverDefaultModelFallback(t *testing.T) {
	d := NewOpenAIDriver("openrouter", "key", "", "")
	if d.DefaultModel() != defaultOpenAIModel {
		t.Fatalf("expected fallback default model %q, got %q", defaultOpenAIModel, d.DefaultModel())
	}
	if d.Name() != "openrouter" {
		t.Fatalf("expected name %q, got %q", "openrouter", d.Name())
	}
}
