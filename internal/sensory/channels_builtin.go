package sensory

import (
	"fmt"
	"time"
)

// ContextMapChannel renders VM lane/page occupancy. StatsFunc is supplied by
// the host so this package stays decoupled from internal/vm's concrete type.
type ContextMapChannel struct {
	StatsFunc func() (laneUsage map[string]int, activePages int, totalPages int)
}

func (c *ContextMapChannel) Name() string { return "context_map" }

func (c *ContextMapChannel) Render(width, height int) []string {
	var lines []string
	if c.StatsFunc == nil {
		return renderPanel(c.Name(), lines, width, height)
	}
	laneUsage, active, total := c.StatsFunc()
	lines = append(lines, fmt.Sprintf("pages loaded %d / known %d", active, total))
	for _, lane := range []string{"assistant", "user", "system", "tool"} {
		lines = append(lines, fmt.Sprintf("%-9s %d tok", lane, laneUsage[lane]))
	}
	return renderPanel(c.Name(), lines, width, height)
}

// TemporalChannel renders a wall-clock + session-age readout.
type TemporalChannel struct {
	SessionStarted time.Time
	Now            func() time.Time
}

func (c *TemporalChannel) Name() string { return "temporal" }

func (c *TemporalChannel) Render(width, height int) []string {
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	lines := []string{
		now.Format("2006-01-02 15:04:05 MST"),
	}
	if !c.SessionStarted.IsZero() {
		lines = append(lines, fmt.Sprintf("session age %s", now.Sub(c.SessionStarted).Round(time.Second)))
	}
	return renderPanel(c.Name(), lines, width, height)
}

// AwarenessChannel renders free-form self-state lines supplied by the host
// (e.g. current goal, last reflection).
type AwarenessChannel struct {
	LinesFunc func() []string
}

func (c *AwarenessChannel) Name() string { return "awareness" }

func (c *AwarenessChannel) Render(width, height int) []string {
	var lines []string
	if c.LinesFunc != nil {
		lines = c.LinesFunc()
	}
	return renderPanel(c.Name(), lines, width, height)
}

// ConfigChannel renders the active model and budget configuration.
type ConfigChannel struct {
	Model               string
	WorkingMemoryTokens int
	ThinkingBudget      float64
}

func (c *ConfigChannel) Name() string { return "config" }

func (c *ConfigChannel) Render(width, height int) []string {
	lines := []string{
		fmt.Sprintf("model %s", c.Model),
		fmt.Sprintf("wm budget %d tok", c.WorkingMemoryTokens),
		fmt.Sprintf("thinking %.2f", c.ThinkingBudget),
	}
	return renderPanel(c.Name(), lines, width, height)
}

// Task is one entry on the TasksChannel.
type Task struct {
	Label string
	Done  bool
}

// TasksChannel renders a checklist.
type TasksChannel struct {
	TasksFunc func() []Task
}

func (c *TasksChannel) Name() string { return "tasks" }

func (c *TasksChannel) Render(width, height int) []string {
	var lines []string
	if c.TasksFunc != nil {
		for _, t := range c.TasksFunc() {
			mark := " "
			if t.Done {
				mark = "x"
			}
			lines = append(lines, fmt.Sprintf("[%s] %s", mark, t.Label))
		}
	}
	return renderPanel(c.Name(), lines, width, height)
}

// SocialChannel renders the most recent external messages (chat platform
// feed, mentions, etc).
type SocialChannel struct {
	FeedFunc func() []string
}

func (c *SocialChannel) Name() string { return "social" }

func (c *SocialChannel) Render(width, height int) []string {
	var lines []string
	if c.FeedFunc != nil {
		lines = c.FeedFunc()
	}
	return renderPanel(c.Name(), lines, width, height)
}

// ViolationsChannel renders recent policy/guardrail violations.
type ViolationsChannel struct {
	ViolationsFunc func() []string
}

func (c *ViolationsChannel) Name() string { return "violations" }

func (c *ViolationsChannel) Render(width, height int) []string {
	var lines []string
	if c.ViolationsFunc != nil {
		lines = c.ViolationsFunc()
	}
	if len(lines) == 0 {
		lines = []string{"none"}
	}
	return renderPanel(c.Name(), lines, width, height)
}

// CanvasChannel renders a host-writable scratch buffer (the agent's
// self-canvas): free text the agent maintains across turns.
type CanvasChannel struct {
	ContentFunc func() string
}

func (c *CanvasChannel) Name() string { return "self_canvas" }

func (c *CanvasChannel) Render(width, height int) []string {
	var lines []string
	if c.ContentFunc != nil {
		lines = splitLines(c.ContentFunc())
	}
	return renderPanel(c.Name(), lines, width, height)
}

// SpendChannel renders token/cost accounting for the session.
type SpendChannel struct {
	StatsFunc func() (promptTokens, completionTokens int, costUSD float64)
}

func (c *SpendChannel) Name() string { return "spend" }

func (c *SpendChannel) Render(width, height int) []string {
	var lines []string
	if c.StatsFunc != nil {
		p, comp, cost := c.StatsFunc()
		lines = []string{
			fmt.Sprintf("prompt     %d tok", p),
			fmt.Sprintf("completion %d tok", comp),
			fmt.Sprintf("cost       $%.4f", cost),
		}
	}
	return renderPanel(c.Name(), lines, width, height)
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}
