// Package driver adapts the host LLM chat/completion client into the
// summarizer contracts internal/vm and internal/rebuild depend on. The
// Driver interface is a single non-streaming Chat call over a small
// Message/ChatRequest/ChatResponse set, not a client-specific SDK.
package driver

import "context"

// Message is one chat turn sent to or received from a driver.
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ChatRequest is the input to a non-streaming chat call.
type ChatRequest struct {
	Messages []Message
	Model    string
	System   string
}

// Usage tracks token consumption reported by the driver.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResponse is the result of a chat call.
type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        *Usage
}

// Driver is the narrow chat-completion surface the core depends on. Drivers
// are an external collaborator: the core never calls a network API beyond
// what a Driver exposes.
type Driver interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	DefaultModel() string
}

// summarizerSystemPrompt instructs the driver per the summarizer prompt
// contract: dense bullets, preserve @@important@@ lines verbatim, omit
// @@ephemeral@@ lines, a one-line STATUS opener, ~400 words, end with
// @@ref('<label>')@@.
const summarizerSystemPrompt = `You are compacting a segment of agent conversation history into a dense, durable summary.

Output format:
- Begin with a single-line STATUS summarizing the segment's outcome.
- Follow with dense bullet points capturing decisions, facts, and open threads.
- Any line tagged @@important@@ in the source must appear verbatim in your output.
- Omit any line tagged @@ephemeral@@ entirely.
- Target approximately 400 words.
- End your output with a literal @@ref('%s')@@ referencing this page.`
