package driver

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/pagedclaw/internal/markers"
	"github.com/nextlevelbuilder/pagedclaw/internal/vm"
)

// VMSummarizer implements vm.Summarizer against a Driver: called
// synchronously during an eviction pass with the page's messages still in
// hand, so it can apply @@important@@/@@ephemeral@@ line handling before
// the call is made.
type VMSummarizer struct {
	Driver Driver
	Model  string
}

func (s *VMSummarizer) Summarize(msgs []vm.Message, laneFocus, pageID string) (string, error) {
	var b strings.Builder
	for _, m := range msgs {
		body, important := markers.SplitImportantEphemeral(m.Content)
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, body)
		for _, line := range important {
			fmt.Fprintf(&b, "@@important@@ %s\n", line)
		}
	}
	return chatSummarize(s.Driver, s.Model, b.String(), laneFocus, pageID)
}

// RebuildSummarizer implements internal/rebuild.Summarizer against a
// Driver: called from the batch rebuild with only a page's raw content and
// label on hand (no per-message structure to re-split).
type RebuildSummarizer struct {
	Driver Driver
	Model  string
}

func (s *RebuildSummarizer) Summarize(content, label string) (string, error) {
	return chatSummarize(s.Driver, s.Model, content, label, "")
}

func chatSummarize(d Driver, model, content, label, pageID string) (string, error) {
	system := fmt.Sprintf(summarizerSystemPrompt, label)
	resp, err := d.Chat(context.Background(), ChatRequest{
		Model:  model,
		System: system,
		Messages: []Message{
			{Role: "user", Content: content},
		},
	})
	if err != nil {
		return "", err
	}
	out := resp.Content
	if !strings.Contains(out, "@@ref(") {
		marker := fmt.Sprintf("@@ref('%s')@@", orLabel(pageID, label))
		out = strings.TrimRight(out, "\n") + " " + marker
	}
	return out, nil
}

func orLabel(pageID, label string) string {
	if pageID != "" {
		return pageID
	}
	return label
}
