package rebuild

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/pagedclaw/internal/page"
	"github.com/nextlevelbuilder/pagedclaw/internal/pageindex"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Name() string   { return "openai" }
func (fakeEmbedder) Model() string  { return "m1" }
func (fakeEmbedder) Dimension() int { return 3 }
func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type stubSummarizer struct{ calls int }

func (s *stubSummarizer) Summarize(content, label string) (string, error) {
	s.calls++
	return "summary of " + label, nil
}

type noopFlag struct{}

func (noopFlag) SetBatchRunning(bool) {}

func TestRunSummarizesAndPublishesShadow(t *testing.T) {
	dir := t.TempDir()
	store, err := page.Open(dir)
	if err != nil {
		t.Fatalf("page.Open: %v", err)
	}
	p1 := &page.Page{ID: page.IDFromContent("one"), Content: "one", Lane: "assistant"}
	p2 := &page.Page{ID: page.IDFromContent("two"), Content: "two", Lane: "user"}
	store.Write(p1)
	store.Write(p2)

	idx := pageindex.Load(filepath.Join(dir, "embeddings.json"), fakeEmbedder{})
	sum := &stubSummarizer{}
	b := New(Config{Pages: store, Index: idx, Summarizer: sum, Flag: noopFlag{}})

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.calls != 2 {
		t.Fatalf("expected 2 summarize calls, got %d", sum.calls)
	}
	if idx.Size() != 2 {
		t.Fatalf("expected live index to have 2 entries after swap, got %d", idx.Size())
	}

	got1, err := store.Read(p1.ID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got1.Summary == "" {
		t.Fatal("expected page summary to be written")
	}
}

func TestRunSkipsUnchangedHash(t *testing.T) {
	dir := t.TempDir()
	store, _ := page.Open(dir)
	p1 := &page.Page{ID: page.IDFromContent("stable"), Content: "stable", Lane: "assistant"}
	store.Write(p1)
	store.SetSummary(p1.ID, "already summarized")

	manifest := page.LoadSummaryManifest(dir)
	manifest.Set(p1.ID, page.HashPrefix("stable"))
	if err := manifest.Save(); err != nil {
		t.Fatalf("manifest.Save: %v", err)
	}

	idx := pageindex.Load(filepath.Join(dir, "embeddings.json"), fakeEmbedder{})
	sum := &stubSummarizer{}
	b := New(Config{Pages: store, Index: idx, Summarizer: sum, Flag: noopFlag{}})

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.calls != 0 {
		t.Fatalf("expected unchanged page to skip re-summarization, got %d calls", sum.calls)
	}
}

func TestRunForceResummarizesEverything(t *testing.T) {
	dir := t.TempDir()
	store, _ := page.Open(dir)
	p1 := &page.Page{ID: page.IDFromContent("stable2"), Content: "stable2", Lane: "assistant"}
	store.Write(p1)
	store.SetSummary(p1.ID, "already summarized")
	manifest := page.LoadSummaryManifest(dir)
	manifest.Set(p1.ID, page.HashPrefix("stable2"))
	manifest.Save()

	idx := pageindex.Load(filepath.Join(dir, "embeddings.json"), fakeEmbedder{})
	sum := &stubSummarizer{}
	b := New(Config{Pages: store, Index: idx, Summarizer: sum, Flag: noopFlag{}, Force: true})

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.calls != 1 {
		t.Fatalf("expected force to re-summarize, got %d calls", sum.calls)
	}
}

func TestRecoverOnStartupCompletesInterruptedSwap(t *testing.T) {
	dir := t.TempDir()
	store, _ := page.Open(dir)

	shadowPath := filepath.Join(dir, "embeddings.shadow.json")
	livePath := filepath.Join(dir, "embeddings.json")
	idx := pageindex.Load(shadowPath, fakeEmbedder{})
	idx.IndexPage(context.Background(), "pg_x", "text", "label")
	if err := idx.Save(); err != nil {
		t.Fatalf("Save shadow: %v", err)
	}

	if err := RecoverOnStartup(store); err != nil {
		t.Fatalf("RecoverOnStartup: %v", err)
	}

	reloaded := pageindex.Load(livePath, fakeEmbedder{})
	if reloaded.Size() != 1 {
		t.Fatalf("expected recovered live index to carry shadow's entry, got size %d", reloaded.Size())
	}
}

func TestCancelStopsRunAndFlushesProgress(t *testing.T) {
	dir := t.TempDir()
	store, _ := page.Open(dir)
	store.Write(&page.Page{ID: page.IDFromContent("a"), Content: "a", Lane: "user"})
	store.Write(&page.Page{ID: page.IDFromContent("b"), Content: "b", Lane: "user"})

	idx := pageindex.Load(filepath.Join(dir, "embeddings.json"), fakeEmbedder{})
	sum := &stubSummarizer{}
	b := New(Config{Pages: store, Index: idx, Summarizer: sum, Flag: noopFlag{}})
	b.Cancel()

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.calls != 0 {
		t.Fatalf("expected pre-cancelled run to summarize nothing, got %d", sum.calls)
	}
}
