package embeddings

import (
	"context"
	"log/slog"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIProvider embeds text via the OpenAI embeddings endpoint (or any
// OpenAI-compatible proxy, via WithBaseURL).
type OpenAIProvider struct {
	client    sdk.Client
	model     string
	dimension int
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*openaiConfig)

type openaiConfig struct {
	baseURL string
}

// WithOpenAIBaseURL points the client at a proxy/self-hosted endpoint
// instead of api.openai.com.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openaiConfig) { c.baseURL = url }
}

// NewOpenAIProvider constructs a provider for the given model (e.g.
// "text-embedding-3-small", dimension 1536).
func NewOpenAIProvider(apiKey, model string, dimension int, opts ...OpenAIOption) *OpenAIProvider {
	cfg := &openaiConfig{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &OpenAIProvider{
		client:    sdk.NewClient(reqOpts...),
		model:     model,
		dimension: dimension,
	}
}

func (p *OpenAIProvider) Name() string    { return "openai" }
func (p *OpenAIProvider) Model() string   { return p.model }
func (p *OpenAIProvider) Dimension() int  { return p.dimension }

// Embed batches texts in groups of ≤100 and never returns an error to the
// caller for a failed batch — it logs and leaves those slots as nil
// vectors, per §7's "Transient I/O" policy.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	offset := 0
	for _, batch := range chunk(texts) {
		vecs, err := p.embedBatch(ctx, batch)
		if err != nil {
			slog.Warn("embeddings: openai batch failed", "error", err, "count", len(batch))
			offset += len(batch)
			continue
		}
		for i, v := range vecs {
			out[offset+i] = v
		}
		offset += len(batch)
	}
	return out, nil
}

func (p *OpenAIProvider) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: batch},
		Model: p.model,
	})
	if err != nil {
		return nil, err
	}

	vecs := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		v := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			v[j] = float32(f)
		}
		vecs[i] = v
	}
	return vecs, nil
}
