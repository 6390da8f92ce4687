package sensory

import (
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/pagedclaw/internal/page"
	"github.com/nextlevelbuilder/pagedclaw/internal/vm"
)

func newTestVM(t *testing.T) *vm.VirtualMemory {
	t.Helper()
	store, err := page.Open(t.TempDir())
	if err != nil {
		t.Fatalf("page.Open: %v", err)
	}
	return vm.New(vm.Config{SystemPrompt: "you are an agent", Pages: store})
}

func testRegistry() *Registry {
	r := NewRegistry()
	r.Register(&ConfigChannel{Model: "claude-sonnet-4-5", WorkingMemoryTokens: 8000, ThinkingBudget: 0.5})
	r.Register(&TemporalChannel{SessionStarted: time.Now()})
	r.Register(&TasksChannel{TasksFunc: func() []Task {
		return []Task{{Label: "write tests", Done: false}}
	}})
	return r
}

func TestMessagesInjectsHUDRightAfterSystemPrompt(t *testing.T) {
	inner := newTestVM(t)
	inner.Add(vm.Message{Role: "user", Content: "hello"})

	s := New(inner, testRegistry(), "config", "temporal")
	msgs := s.Messages()

	if len(msgs) < 2 {
		t.Fatalf("expected at least system + hud message, got %d", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Provenance == "sensory-hud" {
		t.Fatalf("expected first message to be the real system prompt, got %+v", msgs[0])
	}
	if msgs[1].Provenance != "sensory-hud" {
		t.Fatalf("expected second message to be the sensory buffer, got %+v", msgs[1])
	}
	if !strings.Contains(msgs[1].Content, "sensory buffer") {
		t.Fatalf("expected rendered hud content, got %q", msgs[1].Content)
	}
}

func TestRenderFitsFixedWidth(t *testing.T) {
	r := testRegistry()
	ch, _ := r.Get("config")
	lines := ch.Render(20, 5)
	if len(lines) != 5 {
		t.Fatalf("expected exactly 5 lines, got %d", len(lines))
	}
	for _, l := range lines {
		if w := runeWidthHelper(l); w != 20 {
			t.Fatalf("expected every line padded to width 20, got %q (%d)", l, w)
		}
	}
}

func runeWidthHelper(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}

func TestSwitchSlotMarkerChangesChannel(t *testing.T) {
	inner := newTestVM(t)
	s := New(inner, testRegistry(), "config", "temporal")

	clean, _ := s.ApplyMarkers("please @@hud_switch(0,'tasks')@@ switch")
	if strings.Contains(clean, "hud_switch") {
		t.Fatalf("expected hud marker stripped, got %q", clean)
	}
	s.mu.Lock()
	got := s.slots[0].channel
	s.mu.Unlock()
	if got != "tasks" {
		t.Fatalf("expected slot 0 switched to tasks, got %q", got)
	}
}

func TestCycleSlotMarkerAdvancesRegistryOrder(t *testing.T) {
	inner := newTestVM(t)
	s := New(inner, testRegistry(), "config")

	s.ApplyMarkers("@@hud_cycle@@")
	s.mu.Lock()
	first := s.slots[0].channel
	s.mu.Unlock()
	if first == "config" {
		t.Fatalf("expected slot 0 to cycle away from config, got %q", first)
	}
}

func TestResizeMarkerChangesSlotDimensions(t *testing.T) {
	inner := newTestVM(t)
	s := New(inner, testRegistry(), "config")

	s.ApplyMarkers("@@hud_resize(0,60,10)@@")
	s.mu.Lock()
	w, h := s.slots[0].width, s.slots[0].height
	s.mu.Unlock()
	if w != 60 || h != 10 {
		t.Fatalf("expected slot resized to 60x10, got %dx%d", w, h)
	}
}

func TestExpandMarkerRestoresAfterTwoPolls(t *testing.T) {
	inner := newTestVM(t)
	s := New(inner, testRegistry(), "config", "temporal")

	s.ApplyMarkers("@@hud_expand(0)@@")
	s.mu.Lock()
	expandedWidth := s.slots[0].width
	s.mu.Unlock()
	if expandedWidth <= defaultPanelWidth {
		t.Fatalf("expected slot 0 expanded beyond default width, got %d", expandedWidth)
	}

	s.Messages() // first poll after expand
	s.Messages() // second poll: auto-restore should fire

	s.mu.Lock()
	restoredWidth := s.slots[0].width
	expanded := s.slots[0].expanded
	s.mu.Unlock()
	if expanded {
		t.Fatalf("expected slot 0 no longer marked expanded")
	}
	if restoredWidth != defaultPanelWidth {
		t.Fatalf("expected slot 0 restored to default width, got %d", restoredWidth)
	}
}

func TestDelegatesStatsAndAdd(t *testing.T) {
	inner := newTestVM(t)
	s := New(inner, testRegistry())

	msg := s.Add(vm.Message{Role: "user", Content: "hi"})
	if msg.ID == "" {
		t.Fatalf("expected delegated Add to assign an id")
	}
	stats := s.GetStats()
	if stats.WorkingBudget == 0 {
		t.Fatalf("expected delegated stats to reflect inner vm config")
	}
}
