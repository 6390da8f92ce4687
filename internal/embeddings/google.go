package embeddings

import (
	"context"
	"log/slog"

	genai "google.golang.org/genai"
)

// GoogleProvider embeds text via the Gemini API's embedding models.
type GoogleProvider struct {
	client    *genai.Client
	model     string
	dimension int
}

// NewGoogleProvider constructs a provider for the given model (e.g.
// "text-embedding-004", dimension 768).
func NewGoogleProvider(ctx context.Context, apiKey, model string, dimension int) (*GoogleProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GoogleProvider{client: client, model: model, dimension: dimension}, nil
}

func (p *GoogleProvider) Name() string   { return "google" }
func (p *GoogleProvider) Model() string  { return p.model }
func (p *GoogleProvider) Dimension() int { return p.dimension }

func (p *GoogleProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	offset := 0
	for _, batch := range chunk(texts) {
		vecs, err := p.embedBatch(ctx, batch)
		if err != nil {
			slog.Warn("embeddings: google batch failed", "error", err, "count", len(batch))
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

func (p *GoogleProvider) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(batch))
	for i, text := range batch {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, nil)
	if err != nil {
		return nil, err
	}

	vecs := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		vecs[i] = e.Values
	}
	return vecs, nil
}
