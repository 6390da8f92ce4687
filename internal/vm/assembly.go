package vm

import (
	"fmt"
	"sort"
)

// Messages assembles the turn input (§4.E "messages()"):
//  1. apply pending unrefs/refs (handled by Ref/Unref directly, eagerly);
//  2. evict loaded pages over pageSlotTokens;
//  3. start with the system prompt;
//  4. append one synthetic system message per loaded page;
//  5. walk the buffer newest-to-oldest under workingMemoryTokens, with a
//     hard ceiling of 2x that and a floor of minRecent*4 messages.
func (vm *VirtualMemory) Messages() []Message {
	vm.mu.Lock()
	vm.evictPageSlotsLocked()
	buf := make([]Message, len(vm.buffer))
	copy(buf, vm.buffer)
	systemPrompt := vm.systemPrompt
	activePageIDs := append([]string(nil), vm.activePageIDs...)
	pages := vm.pages
	wm, _, minRecent := thinkingScale(vm.thinkingB, vm.baseWm, vm.baseHigh, vm.baseMinRecent)
	vm.mu.Unlock()

	var out []Message
	if systemPrompt != "" {
		out = append(out, Message{Role: "system", Content: systemPrompt, Provenance: "system-prompt"})
	}
	if pages != nil {
		for _, id := range activePageIDs {
			p, err := pages.Read(id)
			if err != nil {
				continue
			}
			out = append(out, Message{
				Role: "system",
				Content: fmt.Sprintf("--- Loaded Page: %s (%s) ---\n%s\n--- @@unref('%s')@@ to release ---",
					id, p.Label, p.Summary, id),
				Provenance: "loaded-page:" + id,
			})
		}
	}

	kept := windowBuffer(buf, wm, 2*wm, minRecent*4)
	out = append(out, kept...)
	return out
}

// windowBuffer walks buf newest-to-oldest accumulating tokens under a soft
// target budget, always keeping protected messages, importance>=0.7
// messages, and the tail `floor` most recent messages — but never letting
// the mandatory keep set itself exceed the hard ceiling (trimming from the
// oldest end of the mandatory set first). Returns the kept subset in
// chronological order.
func windowBuffer(buf []Message, target, ceiling, floor int) []Message {
	if len(buf) == 0 {
		return nil
	}
	if floor > len(buf) {
		floor = len(buf)
	}

	mandatory := make([]bool, len(buf))
	for i := len(buf) - floor; i < len(buf); i++ {
		if i >= 0 {
			mandatory[i] = true
		}
	}
	for i, m := range buf {
		if m.Protected || (m.Importance != nil && *m.Importance >= 0.7) {
			mandatory[i] = true
		}
	}

	// trim the mandatory set from its oldest, non-protected/non-important
	// end if it alone would blow through the hard ceiling.
	mandatoryTokens := 0
	for i, on := range mandatory {
		if on {
			mandatoryTokens += tokensOf(buf[i].Content)
		}
	}
	if mandatoryTokens > ceiling {
		for i := 0; i < len(buf) && mandatoryTokens > ceiling; i++ {
			if !mandatory[i] {
				continue
			}
			if buf[i].Protected || (buf[i].Importance != nil && *buf[i].Importance >= 0.7) {
				continue
			}
			mandatoryTokens -= tokensOf(buf[i].Content)
			mandatory[i] = false
		}
	}

	keep := append([]bool(nil), mandatory...)
	used := mandatoryTokens

	for i := len(buf) - 1; i >= 0; i-- {
		if keep[i] {
			continue
		}
		t := tokensOf(buf[i].Content)
		if used+t > target {
			continue
		}
		keep[i] = true
		used += t
	}

	var idxs []int
	for i, k := range keep {
		if k {
			idxs = append(idxs, i)
		}
	}
	sort.Ints(idxs)

	out := make([]Message, len(idxs))
	for i, idx := range idxs {
		out[i] = buf[idx]
	}
	return out
}
