package vm

import "log/slog"

// CompactWithHints forces an eviction pass on the named lanes regardless of
// whether they have crossed their watermark — used when the host knows a
// large tool result or document is about to be appended and wants headroom
// ahead of time (§4.E "compactWithHints").
func (vm *VirtualMemory) CompactWithHints(lanes ...Lane) error {
	if len(lanes) == 0 {
		return nil
	}
	want := map[Lane]bool{}
	for _, l := range lanes {
		want[l] = true
	}
	if want[LaneAssistant] {
		want[LaneTool] = true
	}
	return vm.runEvictionPass(want)
}

// defaultPreToolCompactThreshold is the fraction of a lane's budget that
// must be in use before PreToolCompact bothers evicting.
const defaultPreToolCompactThreshold = 0.9

// PreToolCompact checks whether the tool or assistant lane is already using
// more than threshold of its budget (threshold <= 0 uses the default) and,
// if so, forces an eviction pass on both — since a tool call always follows
// an assistant message — so the tool result that's about to arrive has
// somewhere to land without immediately tripping eviction mid-turn. Reports
// whether it ran a pass without error; a pass may page out nothing when no
// lane has enough older messages.
func (vm *VirtualMemory) PreToolCompact(threshold float64) bool {
	if threshold <= 0 {
		threshold = defaultPreToolCompactThreshold
	}

	vm.mu.Lock()
	wm, _, _ := thinkingScale(vm.thinkingB, vm.baseWm, vm.baseHigh, vm.baseMinRecent)
	budgets := laneBudgets(wm, vm.weights)
	used := map[Lane]int{}
	for _, m := range vm.buffer {
		used[m.Lane()] += tokensOf(m.Content)
	}
	vm.mu.Unlock()

	overTool := budgets[LaneTool] > 0 && float64(used[LaneTool]) > float64(budgets[LaneTool])*threshold
	overAssistant := budgets[LaneAssistant] > 0 && float64(used[LaneAssistant]) > float64(budgets[LaneAssistant])*threshold
	if !overTool && !overAssistant {
		return false
	}

	if err := vm.runEvictionPass(map[Lane]bool{LaneTool: true, LaneAssistant: true}); err != nil {
		slog.Warn("vm: preToolCompact eviction failed", "error", err)
		return false
	}
	return true
}

// ActivePageIDs returns the ids currently loaded into page slots.
func (vm *VirtualMemory) ActivePageIDs() []string {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return append([]string(nil), vm.activePageIDs...)
}

// GetStats snapshots lane usage, budgets, and page-slot occupancy for the
// sensory HUD (§4.H).
func (vm *VirtualMemory) GetStats() Stats {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	wm, _, _ := thinkingScale(vm.thinkingB, vm.baseWm, vm.baseHigh, vm.baseMinRecent)
	budgets := laneBudgets(wm, vm.weights)

	laneTokens := map[Lane]int{}
	working := 0
	for _, m := range vm.buffer {
		t := tokensOf(m.Content)
		laneTokens[m.Lane()] += t
		working += t
	}

	slotUsed := 0
	if vm.pages != nil {
		for _, id := range vm.activePageIDs {
			if p, err := vm.pages.Read(id); err == nil {
				slotUsed += tokensOf(p.Summary)
			}
		}
	}

	total := 0
	if vm.pages != nil {
		total = vm.pages.Count()
	}

	return Stats{
		LaneTokens:     laneTokens,
		LaneBudgets:    budgets,
		WorkingTokens:  working,
		WorkingBudget:  wm,
		PageSlotTokens: vm.pageSlotTokens,
		PageSlotUsed:   slotUsed,
		LoadedPages:    len(vm.activePageIDs),
		TotalPages:     total,
		ThinkingBudget: vm.thinkingB,
		LastReclaim:    vm.lastReclaim,
	}
}
