package embeddings

import (
	"context"
	"log/slog"
	"os"
)

// KeyStore resolves a provider's API key from secure storage (e.g. an OS
// keyring or an encrypted file). Scoped to an explicit runtime object per
// the Design Notes rather than process-wide global state.
type KeyStore interface {
	Get(provider string) (key string, ok bool)
}

// FactoryConfig selects and configures the embedding provider.
type FactoryConfig struct {
	Provider  string // "openai" or "google"
	Model     string
	Dimension int

	// ProxyBaseURL, if set, is tried first: an OpenAI-compatible proxy
	// endpoint requiring no separate API key resolution.
	ProxyBaseURL string
	ProxyAPIKey  string

	Keys KeyStore // secure storage, probed second
}

// envKeyFor maps a provider name to the environment variable convention
// used when neither a proxy nor secure storage has a key.
func envKeyFor(provider string) string {
	switch provider {
	case "google":
		return "GOOGLE_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// New probes, in order: a configured proxy endpoint, then keys from secure
// storage, then environment variables. Returns nil (not an error) if no
// provider could be constructed — callers must treat a nil Provider as
// "embeddings unavailable this run" and degrade gracefully.
func New(ctx context.Context, cfg FactoryConfig) Provider {
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}

	if cfg.ProxyBaseURL != "" {
		slog.Info("embeddings: using proxy endpoint", "base_url", cfg.ProxyBaseURL, "provider", cfg.Provider)
		return NewOpenAIProvider(cfg.ProxyAPIKey, cfg.Model, cfg.Dimension, WithOpenAIBaseURL(cfg.ProxyBaseURL))
	}

	key, ok := "", false
	if cfg.Keys != nil {
		key, ok = cfg.Keys.Get(cfg.Provider)
	}
	if !ok {
		if v := os.Getenv(envKeyFor(cfg.Provider)); v != "" {
			key, ok = v, true
		}
	}
	if !ok {
		slog.Warn("embeddings: no key available for provider, disabling embeddings", "provider", cfg.Provider)
		return nil
	}

	switch cfg.Provider {
	case "google":
		p, err := NewGoogleProvider(ctx, key, cfg.Model, cfg.Dimension)
		if err != nil {
			slog.Warn("embeddings: google provider init failed", "error", err)
			return nil
		}
		return p
	default:
		return NewOpenAIProvider(key, cfg.Model, cfg.Dimension)
	}
}
