// Package retrieval implements SemanticRetrieval (§4.F): the orchestrator
// bound to one VirtualMemory and one PageSearchIndex that auto-fills page
// slots before a turn, harvests inline @@ref@@ markers, answers explicit
// semantic search markers, and backfills the index from pages on startup.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/pagedclaw/internal/markers"
	"github.com/nextlevelbuilder/pagedclaw/internal/page"
	"github.com/nextlevelbuilder/pagedclaw/internal/pageindex"
	"github.com/nextlevelbuilder/pagedclaw/internal/vm"
)

// Config configures a Retrieval orchestrator.
type Config struct {
	VM    *vm.VirtualMemory
	Index *pageindex.Index
	Pages *page.Store

	MaxAutoFillPages int     // cap on pages loaded by semantic fill per turn
	FillFraction     float64 // fraction of remaining page-slot budget semantic fill may consume
	SearchK          int
	SearchThreshold  float64
}

// Retrieval is the SemanticRetrieval orchestrator.
type Retrieval struct {
	cfg Config

	mu           sync.Mutex
	batchRunning bool
	unrefHistory map[string]bool
	lastHash     string
}

// New constructs a Retrieval bound to cfg.VM and cfg.Index.
func New(cfg Config) *Retrieval {
	if cfg.MaxAutoFillPages <= 0 {
		cfg.MaxAutoFillPages = 3
	}
	if cfg.FillFraction <= 0 {
		cfg.FillFraction = 0.5
	}
	if cfg.SearchK <= 0 {
		cfg.SearchK = 5
	}
	return &Retrieval{cfg: cfg, unrefHistory: map[string]bool{}}
}

// ApplyTurn applies every stream marker in an assistant turn's raw output:
// ref/unref/thinking/reboot go to the VirtualMemory directly; explicit
// search markers (@@ref('?query')@@) are resolved here. Returns the text
// with markers stripped and whether @@reboot@@ was present.
func (r *Retrieval) ApplyTurn(ctx context.Context, text string) (clean string, rebooted bool) {
	for _, id := range markers.FindUnrefs(text) {
		r.recordUnref(id)
	}
	clean, rebooted = r.cfg.VM.ApplyMarkers(text)

	for _, req := range markers.FindRefs(text) {
		if req.Query == "" {
			continue
		}
		if err := r.Search(ctx, req.Query); err != nil {
			slog.Warn("retrieval: explicit search failed", "query", req.Query, "error", err)
		}
	}
	return clean, rebooted
}

func (r *Retrieval) recordUnref(id string) {
	r.mu.Lock()
	r.unrefHistory[id] = true
	r.mu.Unlock()
}

func (r *Retrieval) wasUnreffed(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unrefHistory[id]
}

// Search resolves an explicit semantic query (@@ref('?query')@@): it
// searches the index and loads any unloaded hits.
func (r *Retrieval) Search(ctx context.Context, query string) error {
	results, err := r.cfg.Index.Search(ctx, query, r.cfg.SearchK, r.cfg.SearchThreshold)
	if err != nil {
		return err
	}
	for _, res := range results {
		if r.wasUnreffed(res.ID) {
			continue
		}
		if err := r.cfg.VM.Ref(res.ID); err != nil {
			slog.Debug("retrieval: search hit unloadable", "id", res.ID, "error", err)
		}
	}
	return nil
}

// OnPageCreated is the live-indexing hook (§4.F): wire this as the VM's
// Config.OnPageCreated so every newly evicted page is embedded immediately.
func (r *Retrieval) OnPageCreated(id, summary, label string) {
	if summary == "" {
		return
	}
	if err := r.cfg.Index.IndexPage(context.Background(), id, summary, label); err != nil {
		slog.Warn("retrieval: live index of new page failed", "page", id, "error", err)
	}
}

// Backfill embeds every page whose summary exists but whose id is absent
// from the index. Pages without a summary are skipped (broken/incomplete).
// Refuses to run while a batch rebuild is in progress.
func (r *Retrieval) Backfill(ctx context.Context) error {
	r.mu.Lock()
	if r.batchRunning {
		r.mu.Unlock()
		return fmt.Errorf("retrieval: backfill refused, batch rebuild in progress")
	}
	r.batchRunning = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.batchRunning = false
		r.mu.Unlock()
	}()

	var pending []pageindex.PageText
	err := r.cfg.Pages.Iterate(func(id string) error {
		if r.cfg.Index.Has(id) {
			return nil
		}
		p, err := r.cfg.Pages.Read(id)
		if err != nil {
			return nil // unreadable page: skip, don't fail the whole backfill
		}
		if p.Summary == "" {
			return nil
		}
		pending = append(pending, pageindex.PageText{ID: p.ID, Text: p.Summary, Label: p.Label})
		return nil
	})
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	if err := r.cfg.Index.IndexPages(ctx, pending); err != nil {
		return err
	}
	return r.cfg.Index.Save()
}

// SetBatchRunning is used by the BatchSummarizer to hold the mutex flag
// that blocks concurrent backfill for the duration of a rebuild.
func (r *Retrieval) SetBatchRunning(running bool) {
	r.mu.Lock()
	r.batchRunning = running
	r.mu.Unlock()
}

// AutoFillPageSlots runs before each turn (§4.F): change detection, inline
// @@ref@@ harvest, then semantic fill from the most recent user message.
func (r *Retrieval) AutoFillPageSlots(ctx context.Context, msgs []vm.Message) {
	hash := hashRecent(msgs, 6)
	r.mu.Lock()
	if hash == r.lastHash {
		r.mu.Unlock()
		return
	}
	r.lastHash = hash
	r.mu.Unlock()

	r.inlineHarvest(msgs)
	r.semanticFill(ctx, msgs)
}

func hashRecent(msgs []vm.Message, n int) string {
	start := len(msgs) - n
	if start < 0 {
		start = 0
	}
	h := sha256.New()
	for _, m := range msgs[start:] {
		h.Write([]byte(m.Role))
		h.Write([]byte(m.Content))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (r *Retrieval) inlineHarvest(msgs []vm.Message) {
	stats := r.cfg.VM.GetStats()
	remaining := stats.PageSlotTokens - stats.PageSlotUsed

	active := map[string]bool{}
	for _, id := range r.cfg.VM.ActivePageIDs() {
		active[id] = true
	}

	for _, m := range msgs {
		for _, req := range markers.FindRefs(m.Content) {
			if req.Query != "" {
				continue
			}
			for _, id := range req.IDs {
				if active[id] || r.wasUnreffed(id) {
					continue
				}
				p, err := r.cfg.Pages.Read(id)
				if err != nil {
					continue
				}
				cost := estimatePageCost(p.Summary)
				if cost > remaining {
					continue
				}
				if err := r.cfg.VM.Ref(id); err == nil {
					remaining -= cost
					active[id] = true
				}
			}
		}
	}
}

func (r *Retrieval) semanticFill(ctx context.Context, msgs []vm.Message) {
	query := buildQuery(msgs)
	if query == "" {
		return
	}

	stats := r.cfg.VM.GetStats()
	remaining := int(float64(stats.PageSlotTokens-stats.PageSlotUsed) * r.cfg.FillFraction)
	if remaining <= 0 {
		return
	}

	results, err := r.cfg.Index.Search(ctx, query, r.cfg.SearchK, r.cfg.SearchThreshold)
	if err != nil {
		slog.Debug("retrieval: semantic fill search failed", "error", err)
		return
	}

	loaded := 0
	for _, res := range results {
		if loaded >= r.cfg.MaxAutoFillPages {
			break
		}
		if r.wasUnreffed(res.ID) {
			continue
		}
		p, err := r.cfg.Pages.Read(res.ID)
		if err != nil {
			continue
		}
		cost := estimatePageCost(p.Summary)
		if cost > remaining {
			continue
		}
		if err := r.cfg.VM.Ref(res.ID); err != nil {
			continue
		}
		remaining -= cost
		loaded++
	}
}

// buildQuery derives a semantic-fill query from the most recent user
// message, padded with the latest assistant message if the user message is
// under 20 characters (too short to carry useful semantic signal alone).
func buildQuery(msgs []vm.Message) string {
	var lastUser, lastAssistant string
	for i := len(msgs) - 1; i >= 0; i-- {
		if lastUser == "" && msgs[i].Role == "user" {
			lastUser = msgs[i].Content
		}
		if lastAssistant == "" && msgs[i].Role == "assistant" {
			lastAssistant = msgs[i].Content
		}
		if lastUser != "" && lastAssistant != "" {
			break
		}
	}
	if lastUser == "" {
		return ""
	}
	if len(strings.TrimSpace(lastUser)) < 20 && lastAssistant != "" {
		return lastUser + " " + lastAssistant
	}
	return lastUser
}

func estimatePageCost(summary string) int {
	return (len(summary) + 32) / 2
}
