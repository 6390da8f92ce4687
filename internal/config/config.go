// Package config is the root configuration for the context runtime: data
// directory layout, model/driver selection, VirtualMemory tuning, embedding
// provider settings, retrieval and rebuild knobs, batch-worker intervals,
// and the sensory HUD's default slot assignment.
package config

import (
	"sync"
)

// Config is the root configuration.
type Config struct {
	DataDir   string          `json:"data_dir"`
	Model     ModelConfig     `json:"model"`
	Memory    MemoryConfig    `json:"memory"`
	Embedding EmbeddingConfig `json:"embedding"`
	Retrieval RetrievalConfig `json:"retrieval"`
	Rebuild   RebuildConfig   `json:"rebuild"`
	Worker    WorkerConfig    `json:"worker"`
	Sensory   SensoryConfig   `json:"sensory"`

	mu sync.RWMutex
}

// ModelConfig selects the chat driver and its default model.
type ModelConfig struct {
	Provider string `json:"provider"` // "anthropic", "openai", "openrouter", "groq", "deepseek"
	Model    string `json:"model"`
	APIKey   string `json:"-"` // from env only, never persisted
	APIBase  string `json:"api_base,omitempty"`
}

// LaneWeights mirrors vm.LaneWeights for JSON round-tripping.
type LaneWeights struct {
	Assistant int `json:"assistant"`
	User      int `json:"user"`
	System    int `json:"system"`
	Tool      int `json:"tool"`
}

// MemoryConfig tunes the VirtualMemory paging engine.
type MemoryConfig struct {
	WorkingMemoryTokens int         `json:"working_memory_tokens"`
	HighRatio           float64     `json:"high_ratio"`
	MinRecent           int         `json:"min_recent"`
	PageSlotTokens      int         `json:"page_slot_tokens"`
	Weights             LaneWeights `json:"lane_weights"`
	ThinkingBudget      float64     `json:"thinking_budget"`
}

// EmbeddingConfig selects the embedding provider backing PageSearchIndex.
type EmbeddingConfig struct {
	Provider string `json:"provider"` // "openai", "google", "" (disabled)
	Model    string `json:"model"`
	APIKey   string `json:"-"`
	APIBase  string `json:"api_base,omitempty"`
}

// RetrievalConfig tunes SemanticRetrieval's auto-fill behavior.
type RetrievalConfig struct {
	MaxAutoFillPages int     `json:"max_auto_fill_pages"`
	FillFraction     float64 `json:"fill_fraction"`
	SearchK          int     `json:"search_k"`
	SearchThreshold  float64 `json:"search_threshold"`
}

// RebuildConfig tunes the double-buffered index rebuild.
type RebuildConfig struct {
	Force bool `json:"force,omitempty"`
}

// WorkerConfig tunes the batch-summarization worker process.
type WorkerConfig struct {
	BatchSize         int    `json:"batch_size"`
	QueuePollEverySec int    `json:"queue_poll_every_sec"`
	BatchPollEverySec int    `json:"batch_poll_every_sec"`
	APIKeyEnvVar      string `json:"api_key_env_var"`
}

// SensoryConfig configures the HUD's initial camera-slot assignment and
// default panel dimensions.
type SensoryConfig struct {
	Slots       []string `json:"slots"`
	PanelWidth  int      `json:"panel_width"`
	PanelHeight int      `json:"panel_height"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DataDir = src.DataDir
	c.Model = src.Model
	c.Memory = src.Memory
	c.Embedding = src.Embedding
	c.Retrieval = src.Retrieval
	c.Rebuild = src.Rebuild
	c.Worker = src.Worker
	c.Sensory = src.Sensory
}
