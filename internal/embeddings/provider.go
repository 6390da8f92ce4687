// Package embeddings implements the provider-agnostic text-to-vector batch
// client used by the page search index (§4.C): a narrow interface plus two
// concrete OpenAI-shaped and Google-shaped backends, and a factory that
// probes a proxy endpoint, secure key storage, then environment variables.
package embeddings

import "context"

// Provider batches text into embedding vectors. Implementations must never
// let a transient failure escape into the caller: on error they return
// empty vectors for the affected items and log, per §7.
type Provider interface {
	// Embed returns one vector per input text, in order. A failed item is
	// represented as a nil/empty vector rather than a partial-slice error.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Name is the provider identifier, e.g. "openai", "google".
	Name() string
	// Model is the embedding model identifier, e.g. "text-embedding-3-small".
	Model() string
	// Dimension is the vector width this provider produces.
	Dimension() int
}

// maxBatchItems is the hard ceiling on items sent in a single provider
// call, per §4.C ("must batch at ≤ 100 items per provider call").
const maxBatchItems = 100

// chunk splits texts into groups of at most maxBatchItems.
func chunk(texts []string) [][]string {
	if len(texts) == 0 {
		return nil
	}
	var out [][]string
	for i := 0; i < len(texts); i += maxBatchItems {
		end := i + maxBatchItems
		if end > len(texts) {
			end = len(texts)
		}
		out = append(out, texts[i:end])
	}
	return out
}
