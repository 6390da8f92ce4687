// Package markers parses the stream directives a model can embed in its
// output to steer the paging engine: page refs, unrefs, importance tags,
// line-level preservation/ephemeral tags, and thinking-budget scaling.
package markers

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	refRe        = regexp.MustCompile(`@@ref\('([^']*)'\)@@`)
	unrefRe      = regexp.MustCompile(`@@unref\('([^']*)'\)@@`)
	importanceRe = regexp.MustCompile(`@@importance\('([0-9.]+)'\)@@`)
	thinkingRe   = regexp.MustCompile(`@@thinking\('([0-9.]+)'\)@@`)
	rebootRe     = regexp.MustCompile(`@@reboot@@`)

	importantLineRe = regexp.MustCompile(`(?m)^.*@@important@@.*$`)
	ephemeralLineRe = regexp.MustCompile(`(?m)^.*@@ephemeral@@.*\n?`)
)

// RefRequest is one @@ref('...')@@ occurrence. Query is set when the ref
// body starts with '?', signalling an explicit semantic search rather than
// a page-id load.
type RefRequest struct {
	Raw   string
	IDs   []string // comma-split page ids, empty if Query is set
	Query string
}

// FindRefs scans text for @@ref('...')@@ occurrences, splitting comma-joined
// id lists and distinguishing explicit queries (@@ref('?...')@@).
func FindRefs(text string) []RefRequest {
	matches := refRe.FindAllStringSubmatch(text, -1)
	out := make([]RefRequest, 0, len(matches))
	for _, m := range matches {
		body := m[1]
		if strings.HasPrefix(body, "?") {
			out = append(out, RefRequest{Raw: m[0], Query: strings.TrimPrefix(body, "?")})
			continue
		}
		ids := make([]string, 0, 1)
		for _, id := range strings.Split(body, ",") {
			id = strings.TrimSpace(id)
			if id != "" {
				ids = append(ids, id)
			}
		}
		out = append(out, RefRequest{Raw: m[0], IDs: ids})
	}
	return out
}

// FindUnrefs scans text for @@unref('id')@@ occurrences.
func FindUnrefs(text string) []string {
	matches := unrefRe.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if id := strings.TrimSpace(m[1]); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// FindImportance returns the last @@importance('0.0-1.0')@@ value in text,
// clamped to [0,1]. ok is false if no marker was present.
func FindImportance(text string) (value float64, ok bool) {
	matches := importanceRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return 0, false
	}
	last := matches[len(matches)-1]
	v, err := strconv.ParseFloat(last[1], 64)
	if err != nil {
		return 0, false
	}
	return clamp01(v), true
}

// FindThinking returns the last @@thinking('0.0-1.0')@@ value in text.
func FindThinking(text string) (value float64, ok bool) {
	matches := thinkingRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return 0, false
	}
	last := matches[len(matches)-1]
	v, err := strconv.ParseFloat(last[1], 64)
	if err != nil {
		return 0, false
	}
	return clamp01(v), true
}

// HasReboot reports whether the advisory @@reboot@@ marker is present.
func HasReboot(text string) bool {
	return rebootRe.MatchString(text)
}

// StripAll removes the ref, unref, importance, thinking and reboot markers
// from text, leaving the surrounding prose intact. The @@important@@ and
// @@ephemeral@@ line tags are left in place for SplitImportantEphemeral.
func StripAll(text string) string {
	text = refRe.ReplaceAllString(text, "")
	text = unrefRe.ReplaceAllString(text, "")
	text = importanceRe.ReplaceAllString(text, "")
	text = thinkingRe.ReplaceAllString(text, "")
	text = rebootRe.ReplaceAllString(text, "")
	return text
}

// SplitImportantEphemeral applies the two line-level tags used when
// building a page's raw content for summarization: lines tagged
// @@important@@ are returned verbatim (tag stripped) in importantLines,
// and lines tagged @@ephemeral@@ are dropped from the returned body.
func SplitImportantEphemeral(content string) (body string, importantLines []string) {
	for _, m := range importantLineRe.FindAllString(content, -1) {
		importantLines = append(importantLines, strings.TrimSpace(strings.ReplaceAll(m, "@@important@@", "")))
	}
	body = ephemeralLineRe.ReplaceAllString(content, "")
	body = strings.ReplaceAll(body, "@@important@@", "")
	return body, importantLines
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
