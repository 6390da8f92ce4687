package agent

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/pagedclaw/internal/driver"
	"github.com/nextlevelbuilder/pagedclaw/internal/vm"
)

type stubDriver struct {
	reply string
	name  string
}

func (s stubDriver) Chat(ctx context.Context, req driver.ChatRequest) (*driver.ChatResponse, error) {
	return &driver.ChatResponse{Content: s.reply, FinishReason: "stop"}, nil
}
func (s stubDriver) Name() string         { return s.name }
func (s stubDriver) DefaultModel() string { return "stub-model" }

type fakeMemory struct {
	added    []vm.Message
	messages []vm.Message
}

func (f *fakeMemory) Add(m vm.Message) vm.Message {
	f.added = append(f.added, m)
	f.messages = append(f.messages, m)
	return m
}
func (f *fakeMemory) Messages() []vm.Message { return f.messages }
func (f *fakeMemory) ApplyMarkers(text string) (string, bool) {
	return text, false
}
func (f *fakeMemory) PreToolCompact(threshold float64) bool { return false }

func TestTurnAddsUserThenAssistantMessage(t *testing.T) {
	mem := &fakeMemory{}
	loop := &Loop{Memory: mem, Driver: stubDriver{reply: "hello back", name: "stub"}, Model: "m"}

	reply, err := loop.Turn(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if reply != "hello back" {
		t.Fatalf("expected reply %q, got %q", "hello back", reply)
	}
	if len(mem.added) != 2 {
		t.Fatalf("expected 2 messages added (user + assistant), got %d", len(mem.added))
	}
	if mem.added[0].Role != "user" || mem.added[0].Content != "hi" {
		t.Fatalf("expected first message to be the user turn, got %+v", mem.added[0])
	}
	if mem.added[1].Role != "assistant" || mem.added[1].Content != "hello back" {
		t.Fatalf("expected second message to be the assistant reply, got %+v", mem.added[1])
	}
}

type compactTrackingMemory struct {
	fakeMemory
	compactCalls []float64
}

func (f *compactTrackingMemory) PreToolCompact(threshold float64) bool {
	f.compactCalls = append(f.compactCalls, threshold)
	return true
}

func TestAddToolResultCompactsThenAppendsProtectedMessage(t *testing.T) {
	mem := &compactTrackingMemory{}
	loop := &Loop{Memory: mem, Driver: stubDriver{reply: "ignored", name: "stub"}, Model: "m"}

	loop.AddToolResult("call_1", "tool output")

	if len(mem.compactCalls) != 1 {
		t.Fatalf("expected PreToolCompact called once, got %d", len(mem.compactCalls))
	}
	if len(mem.added) != 1 {
		t.Fatalf("expected 1 message added, got %d", len(mem.added))
	}
	m := mem.added[0]
	if m.Role != "tool" || m.Content != "tool output" || m.ToolCallID != "call_1" {
		t.Fatalf("expected tool message with matching call id, got %+v", m)
	}
	if !m.Protected {
		t.Fatalf("expected tool result to be protected from eviction this turn")
	}
}

func TestTurnPropagatesChatError(t *testing.T) {
	mem := &fakeMemory{}
	loop := &Loop{Memory: mem, Driver: errorDriver{}, Model: "m"}
	if _, err := loop.Turn(context.Background(), "hi"); err == nil {
		t.Fatalf("expected error from chat call to propagate")
	}
}

type errorDriver struct{}

func (errorDriver) Chat(ctx context.Context, req driver.ChatRequest) (*driver.ChatResponse, error) {
	return nil, errChat
}
func (errorDriver) Name() string         { return "error" }
func (errorDriver) DefaultModel() string { return "m" }

var errChat = &chatError{"boom"}

type chatError struct{ msg string }

func (e *chatError) Error() string { return e.msg }
