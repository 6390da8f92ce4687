package vm

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/pagedclaw/internal/markers"
	"github.com/nextlevelbuilder/pagedclaw/internal/page"
)

// VirtualMemory holds the working-memory buffer, the loaded-page slots, and
// the compaction knobs for one conversation. All exported methods are safe
// for concurrent use; eviction passes are coalesced so at most one runs at
// a time (§4.E "Concurrency").
type VirtualMemory struct {
	mu sync.Mutex

	systemPrompt string
	buffer       []Message

	baseWm        int
	baseHigh      float64
	baseMinRecent int
	thinkingB     float64

	weights        LaneWeights
	pageSlotTokens int

	model string

	summarizer Summarizer
	queue      SummarizationQueue
	async      bool
	onPage     func(id, summary, label string)

	pages *page.Store

	activePageIDs []string // loaded page slots, most-recently-loaded last
	loadOrder     []string // eviction order for the page slot LRU

	lastReclaim *ReclaimReport

	evicting bool // coalesces concurrent eviction triggers
}

// New constructs a VirtualMemory from cfg.
func New(cfg Config) *VirtualMemory {
	weights := cfg.Weights
	if weights.total() == 0 {
		weights = DefaultLaneWeights()
	}
	wm := cfg.WorkingMemoryTokens
	if wm <= 0 {
		wm = 8000
	}
	high := cfg.HighRatio
	if high <= 0 {
		high = 0.85
	}
	minRecent := cfg.MinRecent
	if minRecent <= 0 {
		minRecent = 4
	}
	slot := cfg.PageSlotTokens
	if slot <= 0 {
		slot = 2000
	}
	return &VirtualMemory{
		systemPrompt:   cfg.SystemPrompt,
		baseWm:         wm,
		baseHigh:       high,
		baseMinRecent:  minRecent,
		weights:        weights,
		pageSlotTokens: slot,
		model:          cfg.Model,
		summarizer:     cfg.Summarizer,
		queue:          cfg.Queue,
		async:          cfg.Async,
		onPage:         cfg.OnPageCreated,
		pages:          cfg.Pages,
	}
}

// Add appends a message to the working buffer, assigns it an ID, and then
// runs an eviction pass if any lane has crossed its watermark.
func (vm *VirtualMemory) Add(m Message) Message {
	vm.mu.Lock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.createdAt = time.Now()
	vm.buffer = append(vm.buffer, m)
	vm.mu.Unlock()

	vm.maybeEvict()
	return m
}

// SetModel updates the driver model used for summarization prompts.
func (vm *VirtualMemory) SetModel(model string) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.model = model
}

// SetThinkingBudget sets b in [0,1], rescaling wmTokens/highRatio/minRecent
// for subsequent eviction passes.
func (vm *VirtualMemory) SetThinkingBudget(b float64) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.thinkingB = b
}

// ProtectMessage exempts a message from eviction until ClearProtectedMessages
// is called (typically once per turn, per §4.E).
func (vm *VirtualMemory) ProtectMessage(id string) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for i := range vm.buffer {
		if vm.buffer[i].ID == id {
			vm.buffer[i].Protected = true
			return
		}
	}
}

// UnprotectMessage clears protection on a single message.
func (vm *VirtualMemory) UnprotectMessage(id string) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for i := range vm.buffer {
		if vm.buffer[i].ID == id {
			vm.buffer[i].Protected = false
			return
		}
	}
}

// ClearProtectedMessages lifts protection from every message.
func (vm *VirtualMemory) ClearProtectedMessages() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for i := range vm.buffer {
		vm.buffer[i].Protected = false
	}
}

// Ref loads a page into an active slot by its exact id; prefixes are not
// matched. If the page is already loaded it is only moved to the front of
// the LRU.
func (vm *VirtualMemory) Ref(id string) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if !vm.pages.HasPage(id) {
		return fmt.Errorf("vm: unknown page %s", id)
	}
	vm.touchLoadOrder(id)
	for _, pid := range vm.activePageIDs {
		if pid == id {
			return nil
		}
	}
	vm.activePageIDs = append(vm.activePageIDs, id)
	vm.evictPageSlotsLocked()
	return nil
}

// Unref removes a page from the active slots (it remains on disk and
// searchable).
func (vm *VirtualMemory) Unref(id string) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	out := vm.activePageIDs[:0]
	for _, pid := range vm.activePageIDs {
		if pid != id {
			out = append(out, pid)
		}
	}
	vm.activePageIDs = out
}

func (vm *VirtualMemory) touchLoadOrder(id string) {
	out := vm.loadOrder[:0]
	for _, pid := range vm.loadOrder {
		if pid != id {
			out = append(out, pid)
		}
	}
	vm.loadOrder = append(out, id)
}

// evictPageSlotsLocked drops least-recently-loaded pages once the sum of
// their summaries exceeds pageSlotTokens (§4.E page-slot budget). Caller
// holds vm.mu.
func (vm *VirtualMemory) evictPageSlotsLocked() {
	for {
		total := 0
		for _, id := range vm.activePageIDs {
			if p, err := vm.pages.Read(id); err == nil {
				total += tokensOf(p.Summary)
			}
		}
		if total <= vm.pageSlotTokens || len(vm.activePageIDs) <= 1 {
			return
		}
		// drop the least-recently-referenced loaded page
		var victim string
		for _, id := range vm.loadOrder {
			for _, active := range vm.activePageIDs {
				if active == id {
					victim = id
					break
				}
			}
			if victim != "" {
				break
			}
		}
		if victim == "" {
			return
		}
		out := vm.activePageIDs[:0]
		for _, pid := range vm.activePageIDs {
			if pid != victim {
				out = append(out, pid)
			}
		}
		vm.activePageIDs = out
	}
}

// ApplyMarkers scans an assistant turn's raw output for stream markers
// (@@ref@@, @@unref@@, @@thinking@@, @@reboot@@) and applies them,
// returning the text with markers stripped for display/storage.
// @@importance@@ markers are stripped but not applied to any message.
func (vm *VirtualMemory) ApplyMarkers(text string) (clean string, rebooted bool) {
	for _, r := range markers.FindRefs(text) {
		if r.Query != "" {
			continue // resolved by retrieval, not here
		}
		for _, id := range r.IDs {
			if err := vm.Ref(id); err != nil {
				slog.Debug("vm: ref marker for unknown page", "id", id, "error", err)
			}
		}
	}
	for _, id := range markers.FindUnrefs(text) {
		vm.Unref(id)
	}
	if v, ok := markers.FindThinking(text); ok {
		vm.SetThinkingBudget(v)
	}
	if markers.HasReboot(text) {
		rebooted = true
	}
	return markers.StripAll(text), rebooted
}
