// Package pageindex implements the flat cosine-similarity index over page
// summaries (§4.D): a plain in-memory map persisted to a single JSON file,
// with model-drift detection on load and shadow-clone support for the
// double-buffered atomic rebuild in internal/rebuild.
package pageindex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/pagedclaw/internal/embeddings"
)

// Entry is one indexed page: its embedding vector and display label.
type Entry struct {
	Embedding []float32 `json:"embedding"`
	Label     string    `json:"label"`
}

// fileFormat is the on-disk shape of the index file.
type fileFormat struct {
	Version   int              `json:"version"`
	Provider  string           `json:"provider"`
	Model     string           `json:"model"`
	Dimension int              `json:"dimension"`
	Entries   map[string]Entry `json:"entries"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

const indexVersion = 1

// Index is the in-memory cosine index. All methods are safe for concurrent
// use; the swap in internal/rebuild replaces the live instance's guts
// synchronously relative to in-flight Search calls.
type Index struct {
	mu       sync.RWMutex
	path     string
	provider string
	model    string
	dim      int
	entries  map[string]Entry

	embedder embeddings.Provider
}

// Load reads the persisted index at path. If the file is missing, an empty
// index tagged with the active embedder's provider/model is returned. If
// the file's stored provider or model differs from the active embedder
// (model drift), every entry is discarded silently — backfill will
// repopulate, per §7 and invariant 10.
func Load(path string, embedder embeddings.Provider) *Index {
	idx := &Index{path: path, entries: map[string]Entry{}}
	if embedder != nil {
		idx.provider = embedder.Name()
		idx.model = embedder.Model()
		idx.dim = embedder.Dimension()
	}
	idx.embedder = embedder

	data, err := os.ReadFile(path)
	if err != nil {
		return idx
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		slog.Warn("pageindex: corrupt index file, starting empty", "path", path, "error", err)
		return idx
	}

	if embedder != nil && (ff.Provider != embedder.Name() || ff.Model != embedder.Model()) {
		slog.Info("pageindex: model drift detected, discarding stale entries",
			"stored_provider", ff.Provider, "stored_model", ff.Model,
			"active_provider", embedder.Name(), "active_model", embedder.Model())
		return idx
	}

	idx.provider = ff.Provider
	idx.model = ff.Model
	idx.dim = ff.Dimension
	if ff.Entries != nil {
		idx.entries = ff.Entries
	}
	return idx
}

// Embedder returns the embedding provider backing this index, so a shadow
// index built for a rebuild can be constructed against the same provider.
func (idx *Index) Embedder() embeddings.Provider {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.embedder
}

// Size returns the number of indexed pages.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Has reports whether a page id is indexed.
func (idx *Index) Has(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.entries[id]
	return ok
}

// IndexPage embeds text once and stores the resulting vector under id.
func (idx *Index) IndexPage(ctx context.Context, id, text, label string) error {
	if idx.embedder == nil {
		return fmt.Errorf("pageindex: no embedder configured")
	}
	vecs, err := idx.embedder.Embed(ctx, []string{text})
	if err != nil {
		return err
	}
	if len(vecs) == 0 || vecs[0] == nil {
		return fmt.Errorf("pageindex: embedding failed for page %s", id)
	}
	idx.setEntry(id, vecs[0], label)
	return nil
}

// IndexPages batch-embeds a set of (id, text, label) tuples.
type PageText struct {
	ID    string
	Text  string
	Label string
}

func (idx *Index) IndexPages(ctx context.Context, pages []PageText) error {
	if idx.embedder == nil {
		return fmt.Errorf("pageindex: no embedder configured")
	}
	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Text
	}
	vecs, err := idx.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	for i, p := range pages {
		if i < len(vecs) && vecs[i] != nil {
			idx.setEntry(p.ID, vecs[i], p.Label)
		}
	}
	return nil
}

func (idx *Index) setEntry(id string, vec []float32, label string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[id] = Entry{Embedding: vec, Label: label}
	if idx.dim == 0 {
		idx.dim = len(vec)
	}
}

// Result is one search hit.
type Result struct {
	ID    string
	Label string
	Score float64
}

// Search embeds the query, scores every entry by cosine similarity,
// retains those at or above threshold, and returns at most k results after
// applying inter-result deduplication (§4.D): a candidate survives only if
// its cosine similarity to every previously kept result is ≤ 0.9.
func (idx *Index) Search(ctx context.Context, query string, k int, threshold float64) ([]Result, error) {
	return idx.SearchWithRefBoosts(ctx, query, k, threshold, nil)
}

// RefBoost nudges ranking toward pages related to an inline reference
// without being able to manufacture relevance: the boost only reorders
// candidates that already cleared the raw-score threshold.
type RefBoost struct {
	Embedding []float32
	Weight    float64
}

const (
	dedupCosineCeiling = 0.9
	boostScale         = 0.15
	overfetchFactor    = 2
)

// SearchWithRefBoosts is Search with an additional boost term:
// max_over_boosts(cos(entry, boost) * weight) * 0.15 added to the raw
// cosine score before ranking. The threshold filter is applied to the raw
// score only, so boosts can reorder but never manufacture relevance.
func (idx *Index) SearchWithRefBoosts(ctx context.Context, query string, k int, threshold float64, boosts []RefBoost) ([]Result, error) {
	if idx.embedder == nil {
		return nil, fmt.Errorf("pageindex: no embedder configured")
	}
	vecs, err := idx.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || vecs[0] == nil {
		return nil, fmt.Errorf("pageindex: failed to embed query")
	}
	q := vecs[0]

	idx.mu.RLock()
	type scored struct {
		id    string
		label string
		raw   float64
		boost float64
		vec   []float32
	}
	candidates := make([]scored, 0, len(idx.entries))
	for id, e := range idx.entries {
		raw := cosine(q, e.Embedding)
		if raw < threshold {
			continue
		}
		boost := 0.0
		for _, b := range boosts {
			bc := cosine(e.Embedding, b.Embedding) * b.Weight
			if bc > boost {
				boost = bc
			}
		}
		candidates = append(candidates, scored{id: id, label: e.Label, raw: raw, boost: boost * boostScale, vec: e.Embedding})
	}
	idx.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		return (candidates[i].raw + candidates[i].boost) > (candidates[j].raw + candidates[j].boost)
	})

	overfetch := k * overfetchFactor
	if overfetch > len(candidates) {
		overfetch = len(candidates)
	}
	candidates = candidates[:overfetch]

	var kept []scored
	for _, c := range candidates {
		ok := true
		for _, k2 := range kept {
			if cosine(c.vec, k2.vec) > dedupCosineCeiling {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, c)
			if len(kept) >= k {
				break
			}
		}
	}

	out := make([]Result, len(kept))
	for i, c := range kept {
		out[i] = Result{ID: c.id, Label: c.label, Score: c.raw + c.boost}
	}
	return out, nil
}

// Clone deep-copies the index, optionally retargeting its on-disk path.
// Used to build the shadow index during a batch rebuild.
func (idx *Index) Clone(newPath string) *Index {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	clone := &Index{
		path:     newPath,
		provider: idx.provider,
		model:    idx.model,
		dim:      idx.dim,
		entries:  make(map[string]Entry, len(idx.entries)),
		embedder: idx.embedder,
	}
	for id, e := range idx.entries {
		vec := make([]float32, len(e.Embedding))
		copy(vec, e.Embedding)
		clone.entries[id] = Entry{Embedding: vec, Label: e.Label}
	}
	if newPath == "" {
		clone.path = idx.path
	}
	return clone
}

// Swap replaces idx's entries, provider, model, and dimension with other's,
// in place and under lock, so every existing holder of idx observes the
// new contents atomically without needing to reacquire a pointer. This is
// the in-process half of the batch rebuild's atomic swap (§4.G step 8):
// callers must not let a Search cross the boundary between Swap and the
// subsequent on-disk rename.
func (idx *Index) Swap(other *Index) {
	other.mu.RLock()
	entries := other.entries
	provider := other.provider
	model := other.model
	dim := other.dim
	other.mu.RUnlock()

	idx.mu.Lock()
	idx.entries = entries
	idx.provider = provider
	idx.model = model
	idx.dim = dim
	idx.mu.Unlock()
}

// SetIndexPath retargets where Save writes, used after an atomic rename
// has made a shadow file the new live file.
func (idx *Index) SetIndexPath(path string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.path = path
}

// Path returns the index's current on-disk path.
func (idx *Index) Path() string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.path
}

// Save persists the index to its current path.
func (idx *Index) Save() error {
	idx.mu.RLock()
	ff := fileFormat{
		Version:   indexVersion,
		Provider:  idx.provider,
		Model:     idx.model,
		Dimension: idx.dim,
		Entries:   idx.entries,
		UpdatedAt: time.Now(),
	}
	path := idx.path
	idx.mu.RUnlock()

	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("pageindex: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("pageindex: mkdir: %w", err)
	}
	return atomicWrite(path, data)
}

// Delete removes an entry (used when a page is dropped out-of-band; not
// exercised by the in-scope API surface but kept for store hygiene).
func (idx *Index) Delete(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.entries, id)
}

// cosine computes the standard dot/(‖a‖·‖b‖) similarity, guarding against
// zero-magnitude inputs (returns 0 rather than NaN).
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}
