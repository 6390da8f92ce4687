package pageindex

import (
	"context"
	"path/filepath"
	"testing"
)

type fakeEmbedder struct {
	name, model string
	dim         int
	vectors     map[string][]float32
}

func (f *fakeEmbedder) Name() string  { return f.name }
func (f *fakeEmbedder) Model() string { return f.model }
func (f *fakeEmbedder) Dimension() int { return f.dim }
func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func TestSearchRespectsKAndDedup(t *testing.T) {
	emb := &fakeEmbedder{name: "openai", model: "m1", dim: 3, vectors: map[string][]float32{
		"q": {1, 0, 0},
	}}
	idx := Load(filepath.Join(t.TempDir(), "embeddings.json"), emb)

	if err := idx.IndexPages(context.Background(), []PageText{
		{ID: "a", Text: "near-dup-1", Label: "a"},
		{ID: "b", Text: "near-dup-2", Label: "b"},
		{ID: "c", Text: "different", Label: "c"},
	}); err != nil {
		t.Fatalf("IndexPages: %v", err)
	}
	// force a and b to be near-identical vectors, c orthogonal-ish.
	idx.setEntry("a", []float32{1, 0, 0}, "a")
	idx.setEntry("b", []float32{0.99, 0.01, 0}, "b")
	idx.setEntry("c", []float32{0, 1, 0}, "c")

	results, err := idx.Search(context.Background(), "q", 5, 0.0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) > 5 {
		t.Fatalf("expected at most k results, got %d", len(results))
	}
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			if results[i].ID == "a" && results[j].ID == "b" {
				t.Fatal("expected near-duplicate a/b to be deduplicated")
			}
		}
	}
}

func TestModelDriftDiscardsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.json")
	emb1 := &fakeEmbedder{name: "openai", model: "m1", dim: 3}
	idx := Load(path, emb1)
	idx.setEntry("a", []float32{1, 0, 0}, "a")
	if err := idx.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	emb2 := &fakeEmbedder{name: "openai", model: "m2", dim: 3}
	reloaded := Load(path, emb2)
	if reloaded.Size() != 0 {
		t.Fatalf("expected model drift to discard all entries, got size %d", reloaded.Size())
	}
}

func TestCloneIsIndependent(t *testing.T) {
	emb := &fakeEmbedder{name: "openai", model: "m1", dim: 3}
	idx := Load(filepath.Join(t.TempDir(), "embeddings.json"), emb)
	idx.setEntry("a", []float32{1, 0, 0}, "a")

	clone := idx.Clone(filepath.Join(t.TempDir(), "embeddings.shadow.json"))
	clone.setEntry("b", []float32{0, 1, 0}, "b")

	if idx.Has("b") {
		t.Fatal("mutating clone should not affect original")
	}
	if !clone.Has("a") || !clone.Has("b") {
		t.Fatal("clone should carry original entries plus its own additions")
	}
}

func TestCosineZeroMagnitudeGuard(t *testing.T) {
	if got := cosine([]float32{0, 0, 0}, []float32{1, 2, 3}); got != 0 {
		t.Fatalf("expected 0 for zero-magnitude input, got %v", got)
	}
}
