package embeddings

import (
	"context"
	"testing"
)

func TestChunkSplitsAtMaxBatchItems(t *testing.T) {
	texts := make([]string, 250)
	for i := range texts {
		texts[i] = "t"
	}
	chunks := chunk(texts)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks for 250 items, got %d", len(chunks))
	}
	if len(chunks[0]) != 100 || len(chunks[1]) != 100 || len(chunks[2]) != 50 {
		t.Fatalf("unexpected chunk sizes: %d %d %d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
}

func TestChunkEmpty(t *testing.T) {
	if chunks := chunk(nil); chunks != nil {
		t.Fatalf("expected nil for empty input, got %v", chunks)
	}
}

type stubKeyStore struct {
	keys map[string]string
}

func (s stubKeyStore) Get(provider string) (string, bool) {
	v, ok := s.keys[provider]
	return v, ok
}

func TestFactoryReturnsNilWithoutAnyKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	p := New(context.Background(), FactoryConfig{Provider: "openai", Keys: stubKeyStore{keys: map[string]string{}}})
	if p != nil {
		t.Fatal("expected nil provider when no key is resolvable")
	}
}

func TestFactoryUsesProxyWithoutKeyLookup(t *testing.T) {
	p := New(context.Background(), FactoryConfig{ProxyBaseURL: "http://localhost:9999/v1", ProxyAPIKey: "proxy-key", Model: "text-embedding-3-small"})
	if p == nil {
		t.Fatal("expected a provider when a proxy base URL is configured")
	}
	if p.Name() != "openai" {
		t.Fatalf("expected proxy provider to report openai-shaped name, got %s", p.Name())
	}
}
