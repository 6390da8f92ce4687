package sensory

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/pagedclaw/internal/vm"
)

const (
	defaultSlotCount   = 3
	defaultPanelWidth  = 40
	defaultPanelHeight = 8
)

var (
	switchSlotRe  = regexp.MustCompile(`@@hud_switch\((\d+),'([^']*)'\)@@`)
	cycleSlotRe   = regexp.MustCompile(`@@hud_cycle@@`)
	resizeRe      = regexp.MustCompile(`@@hud_resize\((\d+),(\d+),(\d+)\)@@`)
	expandRe      = regexp.MustCompile(`@@hud_expand\((\d+)\)@@`)
	hudMarkerRe   = regexp.MustCompile(`@@hud_(switch|cycle|resize|expand)\([^)]*\)@@|@@hud_cycle@@`)
)

// AgentMemory is the subset of VirtualMemory's public surface the HUD
// decorator delegates to untouched.
type AgentMemory interface {
	Add(m vm.Message) vm.Message
	Messages() []vm.Message
	SetModel(model string)
	SetThinkingBudget(b float64)
	ProtectMessage(id string)
	UnprotectMessage(id string)
	ClearProtectedMessages()
	Ref(id string) error
	Unref(id string)
	ApplyMarkers(text string) (clean string, rebooted bool)
	CompactWithHints(lanes ...vm.Lane) error
	PreToolCompact(threshold float64) bool
	ActivePageIDs() []string
	GetStats() vm.Stats
	Save(path string) error
	Load(path string) error
}

type slot struct {
	channel string
	width   int
	height  int

	expanded     bool
	expandTurns  int // polls remaining before auto-restore, counted down
	savedChannel string
	savedWidth   int
	savedHeight  int
}

// SensoryMemory decorates an AgentMemory, injecting one synthetic system
// message rendering up to three camera slots immediately after the system
// prompt (§4.H). Every other operation is delegated straight through.
type SensoryMemory struct {
	inner    AgentMemory
	registry *Registry

	mu    sync.Mutex
	slots []slot
}

// New wraps inner with a sensory buffer. defaults assigns the initial
// channel for each of the (up to three) camera slots; missing entries are
// left unassigned (rendered blank).
func New(inner AgentMemory, registry *Registry, defaults ...string) *SensoryMemory {
	s := &SensoryMemory{inner: inner, registry: registry}
	s.slots = make([]slot, defaultSlotCount)
	for i := range s.slots {
		s.slots[i] = slot{width: defaultPanelWidth, height: defaultPanelHeight}
		if i < len(defaults) {
			s.slots[i].channel = defaults[i]
		}
	}
	return s
}

// Add delegates to the inner memory.
func (s *SensoryMemory) Add(m vm.Message) vm.Message { return s.inner.Add(m) }

// Messages returns the inner memory's assembled turn with the rendered
// sensory buffer spliced in immediately after the system prompt.
func (s *SensoryMemory) Messages() []vm.Message {
	inner := s.inner.Messages()
	hud := vm.Message{
		Role:       "system",
		Content:    s.render(),
		Provenance: "sensory-hud",
	}
	if len(inner) == 0 {
		return []vm.Message{hud}
	}
	out := make([]vm.Message, 0, len(inner)+1)
	out = append(out, inner[0], hud)
	out = append(out, inner[1:]...)
	s.advanceExpandCountdowns()
	return out
}

func (s *SensoryMemory) render() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var panels [][]string
	for _, sl := range s.slots {
		if sl.channel == "" {
			continue
		}
		ch, ok := s.registry.Get(sl.channel)
		if !ok {
			continue
		}
		panels = append(panels, ch.Render(sl.width, sl.height))
	}

	var b strings.Builder
	b.WriteString("--- sensory buffer ---\n")
	rows := 0
	for _, p := range panels {
		if len(p) > rows {
			rows = len(p)
		}
	}
	for r := 0; r < rows; r++ {
		var parts []string
		for _, p := range panels {
			if r < len(p) {
				parts = append(parts, p[r])
			}
		}
		b.WriteString(strings.Join(parts, " | "))
		b.WriteByte('\n')
	}
	b.WriteString("--- end sensory buffer ---")
	return b.String()
}

// advanceExpandCountdowns auto-restores a full-screen-expanded slot on the
// second poll after expansion, per the expand-for-one-turn control.
func (s *SensoryMemory) advanceExpandCountdowns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.slots {
		sl := &s.slots[i]
		if !sl.expanded {
			continue
		}
		sl.expandTurns--
		if sl.expandTurns <= 0 {
			sl.channel = sl.savedChannel
			sl.width = sl.savedWidth
			sl.height = sl.savedHeight
			sl.expanded = false
		}
	}
}

// ApplyMarkers delegates ref/unref/thinking/reboot handling to the inner
// memory, then applies this buffer's own hud_* control markers and strips
// them from the returned text.
func (s *SensoryMemory) ApplyMarkers(text string) (string, bool) {
	clean, rebooted := s.inner.ApplyMarkers(text)
	clean = s.applyHUDMarkers(clean)
	return clean, rebooted
}

func (s *SensoryMemory) applyHUDMarkers(text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range switchSlotRe.FindAllStringSubmatch(text, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 0 || idx >= len(s.slots) {
			continue
		}
		s.slots[idx].channel = m[2]
	}
	if cycleSlotRe.MatchString(text) && len(s.slots) > 0 {
		s.slots[0].channel = s.registry.Next(s.slots[0].channel)
	}
	for _, m := range resizeRe.FindAllStringSubmatch(text, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 0 || idx >= len(s.slots) {
			continue
		}
		w, err1 := strconv.Atoi(m[2])
		h, err2 := strconv.Atoi(m[3])
		if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
			continue
		}
		s.slots[idx].width = w
		s.slots[idx].height = h
	}
	for _, m := range expandRe.FindAllStringSubmatch(text, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 0 || idx >= len(s.slots) {
			continue
		}
		sl := &s.slots[idx]
		if sl.expanded {
			continue
		}
		sl.savedChannel, sl.savedWidth, sl.savedHeight = sl.channel, sl.width, sl.height
		sl.width = defaultPanelWidth * defaultSlotCount
		sl.height = defaultPanelHeight * 3
		sl.expanded = true
		sl.expandTurns = 2 // restores automatically on the second subsequent poll
	}

	return hudMarkerRe.ReplaceAllString(text, "")
}

func (s *SensoryMemory) SetModel(model string)       { s.inner.SetModel(model) }
func (s *SensoryMemory) SetThinkingBudget(b float64) { s.inner.SetThinkingBudget(b) }
func (s *SensoryMemory) ProtectMessage(id string)    { s.inner.ProtectMessage(id) }
func (s *SensoryMemory) UnprotectMessage(id string)  { s.inner.UnprotectMessage(id) }
func (s *SensoryMemory) ClearProtectedMessages()     { s.inner.ClearProtectedMessages() }
func (s *SensoryMemory) Ref(id string) error         { return s.inner.Ref(id) }
func (s *SensoryMemory) Unref(id string)             { s.inner.Unref(id) }
func (s *SensoryMemory) CompactWithHints(lanes ...vm.Lane) error {
	return s.inner.CompactWithHints(lanes...)
}
func (s *SensoryMemory) PreToolCompact(threshold float64) bool { return s.inner.PreToolCompact(threshold) }
func (s *SensoryMemory) ActivePageIDs() []string { return s.inner.ActivePageIDs() }
func (s *SensoryMemory) GetStats() vm.Stats      { return s.inner.GetStats() }
func (s *SensoryMemory) Save(path string) error  { return s.inner.Save(path) }
func (s *SensoryMemory) Load(path string) error  { return s.inner.Load(path) }
