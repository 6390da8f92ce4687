package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// DefaultAgentModel is the model used when no override is configured.
const DefaultAgentModel = "claude-sonnet-4-5-20250929"

// Default returns a Config with sensible defaults, matching the baselines
// the paging engine documents: an 8000-token working-memory budget, a 0.85
// high watermark, a 4-message minimum recency floor, and an 8:4:3:1
// assistant:user:system:tool lane weighting.
func Default() *Config {
	return &Config{
		DataDir: "~/.pagedclaw/data",
		Model: ModelConfig{
			Provider: "anthropic",
			Model:    DefaultAgentModel,
		},
		Memory: MemoryConfig{
			WorkingMemoryTokens: 8000,
			HighRatio:           0.85,
			MinRecent:           4,
			PageSlotTokens:      2000,
			Weights:             LaneWeights{Assistant: 8, User: 4, System: 3, Tool: 1},
			ThinkingBudget:      0,
		},
		Embedding: EmbeddingConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		Retrieval: RetrievalConfig{
			MaxAutoFillPages: 3,
			FillFraction:     0.5,
			SearchK:          5,
			SearchThreshold:  0,
		},
		Worker: WorkerConfig{
			BatchSize:         20,
			QueuePollEverySec: 60,
			BatchPollEverySec: 300,
			APIKeyEnvVar:      "PAGEDCLAW_ANTHROPIC_API_KEY",
		},
		Sensory: SensoryConfig{
			Slots:       []string{"config", "context_map", "temporal"},
			PanelWidth:  40,
			PanelHeight: 8,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error: the defaults (plus env overrides) are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Secrets are only
// ever sourced from the environment, never persisted to the config file.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("PAGEDCLAW_ANTHROPIC_API_KEY", &c.Model.APIKey)
	envStr("PAGEDCLAW_ANTHROPIC_BASE_URL", &c.Model.APIBase)
	envStr("PAGEDCLAW_OPENAI_API_KEY", &c.Embedding.APIKey)
	envStr("PAGEDCLAW_GEMINI_API_KEY", &c.Embedding.APIKey)
	envStr("PAGEDCLAW_EMBEDDING_BASE_URL", &c.Embedding.APIBase)

	envStr("PAGEDCLAW_PROVIDER", &c.Model.Provider)
	envStr("PAGEDCLAW_MODEL", &c.Model.Model)
	envStr("PAGEDCLAW_EMBEDDING_PROVIDER", &c.Embedding.Provider)
	envStr("PAGEDCLAW_DATA_DIR", &c.DataDir)

	if v := os.Getenv("PAGEDCLAW_WORKING_MEMORY_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Memory.WorkingMemoryTokens = n
		}
	}
	if v := os.Getenv("PAGEDCLAW_THINKING_BUDGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			c.Memory.ThinkingBudget = f
		}
	}
}

// Save writes the config to a JSON file. Fields tagged `json:"-"` (API
// keys) are never serialized.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Hash returns a SHA-256 prefix of the config, for optimistic concurrency
// across reload.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// DataDirPath returns the expanded data directory.
func (c *Config) DataDirPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.DataDir)
}
