package page

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SummaryManifest maps page id → SHA-256 of the first 4 KiB of the page's
// raw content at the time it was last summarized. The BatchSummarizer uses
// this to skip re-summarizing pages whose content hasn't changed.
type SummaryManifest struct {
	Version   int               `json:"version"`
	Hashes    map[string]string `json:"hashes"`
	UpdatedAt time.Time         `json:"updatedAt"`

	path string
	mu   sync.Mutex
}

const summaryManifestVersion = 1
const hashPrefixBytes = 4096

// HashPrefix hashes the first 4 KiB of content, matching the manifest's
// per-page fingerprint.
func HashPrefix(content string) string {
	b := []byte(content)
	if len(b) > hashPrefixBytes {
		b = b[:hashPrefixBytes]
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// LoadSummaryManifest reads the manifest at dir/summary-manifest.json,
// returning an empty manifest if absent or corrupt (§7: manifest
// corruption resets to empty and is logged as a warning).
func LoadSummaryManifest(dir string) *SummaryManifest {
	path := filepath.Join(dir, "summary-manifest.json")
	sm := &SummaryManifest{Version: summaryManifestVersion, Hashes: map[string]string{}, path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		return sm
	}
	var loaded SummaryManifest
	if err := json.Unmarshal(data, &loaded); err != nil {
		slog.Warn("page: summary manifest corrupt, starting empty", "path", path, "error", err)
		return sm
	}
	sm.Version = loaded.Version
	sm.Hashes = loaded.Hashes
	if sm.Hashes == nil {
		sm.Hashes = map[string]string{}
	}
	sm.UpdatedAt = loaded.UpdatedAt
	return sm
}

// Get returns the recorded hash for a page id, if any.
func (sm *SummaryManifest) Get(id string) (string, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	h, ok := sm.Hashes[id]
	return h, ok
}

// Set records the hash for a page id.
func (sm *SummaryManifest) Set(id, hash string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.Hashes[id] = hash
}

// Save persists the manifest atomically.
func (sm *SummaryManifest) Save() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(sm, "", "  ")
	if err != nil {
		return fmt.Errorf("summarymanifest: marshal: %w", err)
	}
	return atomicWrite(sm.path, data)
}
