// Package sensory implements the fixed-grid HUD: a decorator that injects a
// synthetic system message rendering live VirtualMemory state into every
// turn, so the agent can perceive its own context budget (§4.H).
package sensory

import (
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"
)

// Channel is one named HUD data source. Render produces exactly height
// lines, each no wider than width display columns.
type Channel interface {
	Name() string
	Render(width, height int) []string
}

// Registry holds the set of channels a slot may be switched to.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
	order    []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

// Register adds or replaces a channel under its own Name().
func (r *Registry) Register(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := ch.Name()
	if _, exists := r.channels[name]; !exists {
		r.order = append(r.order, name)
	}
	r.channels[name] = ch
}

// Get returns the channel registered under name.
func (r *Registry) Get(name string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// Names returns registered channel names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Next returns the channel name that follows current in registration order,
// wrapping around. Used by the "cycle slot" control.
func (r *Registry) Next(current string) string {
	names := r.Names()
	if len(names) == 0 {
		return current
	}
	for i, n := range names {
		if n == current {
			return names[(i+1)%len(names)]
		}
	}
	return names[0]
}

// renderPanel fits lines into an exact width x height grid: each input line
// is word-wrapped to width display columns, the result is truncated to
// height rows with an ellipsis on the final row if content overflows, and
// short output is padded with blank rows.
func renderPanel(title string, lines []string, width, height int) []string {
	var wrapped []string
	for _, l := range lines {
		wrapped = append(wrapped, wordWrap(l, width)...)
	}

	body := height - 1
	if body < 0 {
		body = 0
	}

	var out []string
	out = append(out, padLine(fmt.Sprintf("[%s]", title), width))
	for i := 0; i < body; i++ {
		if i < len(wrapped) {
			line := wrapped[i]
			if i == body-1 && len(wrapped) > body && width > 0 {
				line = runewidth.Truncate(line, width-1, "") + "…"
			}
			out = append(out, padLine(line, width))
		} else {
			out = append(out, padLine("", width))
		}
	}
	return out
}

func wordWrap(text string, width int) []string {
	if width <= 0 {
		return []string{""}
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}
	var lines []string
	var cur strings.Builder
	curWidth := 0
	for _, w := range words {
		ww := runewidth.StringWidth(w)
		if curWidth == 0 {
			cur.WriteString(w)
			curWidth = ww
			continue
		}
		if curWidth+1+ww > width {
			lines = append(lines, cur.String())
			cur.Reset()
			cur.WriteString(w)
			curWidth = ww
			continue
		}
		cur.WriteByte(' ')
		cur.WriteString(w)
		curWidth += 1 + ww
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	return lines
}

func padLine(s string, width int) string {
	s = truncateWithEllipsis(s, width)
	pad := width - runewidth.StringWidth(s)
	if pad <= 0 {
		return s
	}
	return s + strings.Repeat(" ", pad)
}

func truncateWithEllipsis(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 1 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width-1, "") + "…"
}
