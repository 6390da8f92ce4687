package vm

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/pagedclaw/internal/page"
)

// maybeEvict runs an eviction pass if any lane is over its high watermark.
// While a pass started here is running, a further trigger is dropped, not
// queued; the next Add re-triggers if a lane is still over.
func (vm *VirtualMemory) maybeEvict() {
	vm.mu.Lock()
	if vm.evicting {
		vm.mu.Unlock()
		return
	}
	over := vm.overBudgetLanesLocked()
	if len(over) == 0 {
		vm.mu.Unlock()
		return
	}
	vm.evicting = true
	vm.mu.Unlock()

	defer func() {
		vm.mu.Lock()
		vm.evicting = false
		vm.mu.Unlock()
	}()

	if err := vm.runEvictionPass(over); err != nil {
		slog.Warn("vm: eviction pass failed", "error", err)
	}
}

// overBudgetLanesLocked reports which lanes exceed wmTokens*weight/total *
// highRatio. Caller holds vm.mu.
func (vm *VirtualMemory) overBudgetLanesLocked() map[Lane]bool {
	wm, high, _ := thinkingScale(vm.thinkingB, vm.baseWm, vm.baseHigh, vm.baseMinRecent)
	budgets := laneBudgets(wm, vm.weights)

	used := map[Lane]int{}
	for _, m := range vm.buffer {
		used[m.Lane()] += tokensOf(m.Content)
	}

	over := map[Lane]bool{}
	for _, l := range []Lane{LaneAssistant, LaneUser, LaneSystem, LaneTool} {
		if float64(used[l]) > float64(budgets[l])*high {
			over[l] = true
		}
	}
	// if assistant is over budget, tool must be paged alongside it so a
	// tool result is never orphaned from the assistant call that made it.
	if over[LaneAssistant] {
		over[LaneTool] = true
	}
	return over
}

// runEvictionPass builds an eviction plan for the given lanes, durably
// writes a page per lane with >=2 older messages, and rewrites the buffer
// with synthetic lane-summary messages in place of the evicted originals.
func (vm *VirtualMemory) runEvictionPass(lanes map[Lane]bool) error {
	vm.mu.Lock()
	buf := make([]Message, len(vm.buffer))
	copy(buf, vm.buffer)
	_, _, minRecentBase := thinkingScale(vm.thinkingB, vm.baseWm, vm.baseHigh, vm.baseMinRecent)
	vm.mu.Unlock()

	older := computeOlderSet(buf, lanes, minRecentBase)
	repairToolPairing(buf, older)

	type planned struct {
		lane     Lane
		indices  []int
		content  string
		pageID   string
	}
	var plans []planned

	for l := range lanes {
		var idxs []int
		for i, is := range older {
			if is && buf[i].Lane() == l {
				idxs = append(idxs, i)
			}
		}
		if len(idxs) < 2 {
			continue // not enough to page; leave lane over budget for now
		}
		content := renderPageContent(buf, idxs)
		pageID := page.IDFromContent(content)
		plans = append(plans, planned{lane: l, indices: idxs, content: content, pageID: pageID})
	}
	if len(plans) == 0 {
		return nil
	}

	report := &ReclaimReport{
		At:            time.Now(),
		PerLaneBefore: map[Lane]int{},
		PerLaneAfter:  map[Lane]int{},
		PerLaneCounts: map[Lane]int{},
	}
	for _, l := range []Lane{LaneAssistant, LaneUser, LaneSystem, LaneTool} {
		for _, m := range buf {
			if m.Lane() == l {
				report.PerLaneBefore[l] += tokensOf(m.Content)
			}
		}
	}

	replacements := map[Lane]Message{} // lane -> synthetic summary message
	for _, p := range plans {
		summary, err := vm.summarizeFor(buf, p.indices, p.lane, p.pageID)
		if err != nil {
			return fmt.Errorf("vm: summarize lane %s: %w", p.lane, err)
		}
		pg := &page.Page{
			ID:            p.pageID,
			Label:         string(p.lane),
			Content:       p.content,
			CreatedAt:     time.Now(),
			MessageCount:  len(p.indices),
			Tokens:        tokensOf(p.content),
			MaxImportance: maxImportance(buf, p.indices),
			Lane:          string(p.lane),
			Summary:       summary,
		}
		if vm.pages != nil {
			if err := vm.pages.Write(pg); err != nil {
				return fmt.Errorf("vm: write page: %w", err)
			}
		}
		if vm.onPage != nil {
			vm.onPage(pg.ID, pg.Summary, pg.Label)
		}
		if vm.queue != nil && (vm.async || vm.summarizer == nil) {
			if err := vm.queue.Enqueue(pg.ID, pg.Label, string(p.lane)); err != nil {
				slog.Warn("vm: enqueue summarization task failed", "page", pg.ID, "error", err)
			}
		}
		report.PagesCreated = append(report.PagesCreated, pg.ID)
		report.PerLaneCounts[p.lane] = len(p.indices)

		replacements[p.lane] = Message{
			ID:         pg.ID + "-summary",
			Role:       laneRole(p.lane),
			Content:    ensureRef(summary, pg.ID),
			Provenance: "vm-summary",
			createdAt:  time.Now(),
		}
	}

	var newBuf []Message
	seenLane := map[Lane]bool{}
	for l, msg := range replacements {
		newBuf = append(newBuf, msg)
		seenLane[l] = true
	}
	evicted := map[int]bool{}
	for _, p := range plans {
		for _, i := range p.indices {
			evicted[i] = true
		}
	}
	for i, m := range buf {
		if !evicted[i] {
			newBuf = append(newBuf, m)
		}
	}

	for _, l := range []Lane{LaneAssistant, LaneUser, LaneSystem, LaneTool} {
		for _, m := range newBuf {
			if m.Lane() == l {
				report.PerLaneAfter[l] += tokensOf(m.Content)
			}
		}
	}

	vm.mu.Lock()
	vm.buffer = newBuf
	vm.lastReclaim = report
	vm.mu.Unlock()
	return nil
}

// computeOlderSet decides, per lane in `lanes`, which buffer indices are
// evicted ("older") versus kept: a message stays if its importance is
// >= 0.7 or it is within the tail-N most-recent messages of its lane.
// For the assistant lane, the tail-N cut is back-scanned so the resulting
// boundary never falls immediately before a tool message (§4.E step 4).
func computeOlderSet(buf []Message, lanes map[Lane]bool, baseMinRecent int) []bool {
	older := make([]bool, len(buf))

	for l := range lanes {
		var laneIdx []int
		for i, m := range buf {
			if m.Lane() == l && !m.Protected {
				laneIdx = append(laneIdx, i)
			}
		}
		if len(laneIdx) == 0 {
			continue
		}

		minRecent := baseMinRecent
		if minRecent > len(laneIdx) {
			minRecent = len(laneIdx)
		}
		cutPos := len(laneIdx) - minRecent // index into laneIdx; before this = candidate-older

		if l == LaneAssistant {
			cutPos = backScanAssistantCut(buf, laneIdx, cutPos)
		}

		for pos, i := range laneIdx {
			imp := buf[i].Importance != nil && *buf[i].Importance >= 0.7
			if pos < cutPos && !imp {
				older[i] = true
			}
		}
	}
	return older
}

// backScanAssistantCut walks the proposed cut position earlier while the
// full-buffer message immediately following the last "older" assistant
// message is tool-role, so the cut never orphans a tool result.
func backScanAssistantCut(buf []Message, laneIdx []int, cutPos int) int {
	for cutPos > 0 {
		lastOlderBufIdx := laneIdx[cutPos-1]
		if lastOlderBufIdx+1 < len(buf) && buf[lastOlderBufIdx+1].Lane() == LaneTool {
			cutPos--
			continue
		}
		break
	}
	return cutPos
}

// repairToolPairing forces any tool message immediately following an
// evicted assistant message to be evicted too, regardless of the tool
// lane's own keep/older decision (invariant: a tool result never survives
// without the assistant message whose call produced it).
func repairToolPairing(buf []Message, older []bool) {
	for i, m := range buf {
		if m.Lane() != LaneAssistant || !older[i] {
			continue
		}
		j := i + 1
		for j < len(buf) && buf[j].Lane() == LaneTool {
			older[j] = true
			j++
		}
	}
}

func renderPageContent(buf []Message, idxs []int) string {
	var b strings.Builder
	for _, i := range idxs {
		m := buf[i]
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	return b.String()
}

func maxImportance(buf []Message, idxs []int) float64 {
	max := 0.0
	for _, i := range idxs {
		if buf[i].Importance != nil && *buf[i].Importance > max {
			max = *buf[i].Importance
		}
	}
	return max
}

func laneRole(l Lane) string {
	switch l {
	case LaneAssistant:
		return "assistant"
	case LaneUser:
		return "user"
	case LaneTool:
		return "tool"
	default:
		return "system"
	}
}

func ensureRef(summary, pageID string) string {
	marker := fmt.Sprintf("@@ref('%s')@@", pageID)
	if strings.Contains(summary, "@@ref(") {
		return summary
	}
	return strings.TrimRight(summary, "\n") + " " + marker
}

// summarizeFor generates the lane summary for a page, synchronously via the
// configured Summarizer unless running in async mode, in which case a
// pending placeholder is used and the real summary arrives via the batch
// worker (§4.B). A synchronous driver failure falls back to a different
// placeholder text per §7 ("Transient I/O" handling).
func (vm *VirtualMemory) summarizeFor(buf []Message, idxs []int, lane Lane, pageID string) (string, error) {
	msgs := make([]Message, len(idxs))
	for i, idx := range idxs {
		msgs[i] = buf[idx]
	}
	if vm.async || vm.summarizer == nil {
		return pendingSummary(len(msgs), string(lane), pageID), nil
	}
	summary, err := vm.summarizer.Summarize(msgs, string(lane), pageID)
	if err != nil {
		slog.Warn("vm: synchronous summarization failed, using fallback", "error", err, "page", pageID)
		return fallbackSummary(len(msgs), string(lane), pageID), nil
	}
	return summary, nil
}

// pendingSummary is used when a page is queued for asynchronous batch
// summarization and no summary exists yet.
func pendingSummary(count int, label, pageID string) string {
	return fmt.Sprintf("[Pending summary: %d messages, %s] @@ref('%s')@@", count, label, pageID)
}

// fallbackSummary is used when a synchronous driver call to summarize a
// page failed outright.
func fallbackSummary(count int, label, pageID string) string {
	return fmt.Sprintf("[Summary of %d messages: %s] @@ref('%s')@@", count, label, pageID)
}
