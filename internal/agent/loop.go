// Package agent implements the turn loop that drives one conversation:
// semantic auto-fill, the paged VirtualMemory, and the chat driver, wired
// together the way spec §2's data-flow describes it.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/nextlevelbuilder/pagedclaw/internal/driver"
	"github.com/nextlevelbuilder/pagedclaw/internal/retrieval"
	"github.com/nextlevelbuilder/pagedclaw/internal/vm"
)

var tracer = otel.Tracer("pagedclaw/agent")

// AgentMemory is the narrow VirtualMemory surface the loop needs. Both
// *vm.VirtualMemory and internal/sensory.SensoryMemory satisfy it.
type AgentMemory interface {
	Add(m vm.Message) vm.Message
	Messages() []vm.Message
	ApplyMarkers(text string) (clean string, rebooted bool)
	PreToolCompact(threshold float64) bool
}

// Loop drives one turn: retrieval.ApplyTurn / AutoFillPageSlots, assemble
// the message window, call the driver, pass the raw output through
// ApplyTurn (or ApplyMarkers) so @@ref@@/@@unref@@ etc. take effect, then
// append the cleaned reply and return it to the caller.
type Loop struct {
	Memory    AgentMemory
	Retrieval *retrieval.Retrieval
	Driver    driver.Driver
	Model     string
}

// Turn runs one user message through the loop and returns the driver's
// cleaned reply text.
func (l *Loop) Turn(ctx context.Context, userText string) (string, error) {
	ctx, span := tracer.Start(ctx, "agent.turn")
	defer span.End()

	l.Memory.Add(vm.Message{Role: "user", Content: userText})

	if l.Retrieval != nil {
		msgs := l.Memory.Messages()
		l.Retrieval.AutoFillPageSlots(ctx, msgs)
	}

	msgs := l.Memory.Messages()
	req := driver.ChatRequest{Model: l.Model, Messages: toDriverMessages(msgs)}
	if len(msgs) > 0 && msgs[0].Role == "system" {
		req.System = msgs[0].Content
		req.Messages = toDriverMessages(msgs[1:])
	}

	resp, err := l.Driver.Chat(ctx, req)
	if err != nil {
		slog.Error("agent: chat call failed", "error", err)
		return "", fmt.Errorf("agent: chat: %w", err)
	}

	clean := resp.Content
	if l.Retrieval != nil {
		var rebooted bool
		clean, rebooted = l.Retrieval.ApplyTurn(ctx, resp.Content)
		if rebooted {
			slog.Info("agent: context reboot requested mid-turn")
		}
	} else {
		clean, _ = l.Memory.ApplyMarkers(resp.Content)
	}

	l.Memory.Add(vm.Message{Role: "assistant", Content: clean, Provenance: l.Driver.Name()})
	return clean, nil
}

// AddToolResult appends a tool-role message produced by the host's tool
// dispatch (tool execution itself is an external collaborator, per §1). It
// calls PreToolCompact first so the tool lane has headroom to receive the
// result without immediately tripping a mid-turn eviction.
func (l *Loop) AddToolResult(toolCallID, content string) {
	l.Memory.PreToolCompact(0)
	l.Memory.Add(vm.Message{Role: "tool", Content: content, ToolCallID: toolCallID, Protected: true})
}

func toDriverMessages(msgs []vm.Message) []driver.Message {
	out := make([]driver.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "system" {
			continue
		}
		out = append(out, driver.Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID})
	}
	return out
}
