package store

import (
	"strings"
	"unicode/utf8"

	"github.com/augurhq/augur/internal/fences"
)

// Storage truncation tiers for persisted tool calls. The tier is chosen
// from the priority the tool declared at registration: higher-priority
// tools keep more of their arguments and results on disk.
const (
	tierMinimal  = 200
	tierStandard = 500
	tierGenerous = 1200
	tierFull     = 4000
)

// tierLimit maps a declared tool priority to its character budget.
// Priorities at or below 1 get the minimal tier; 4 and above get full.
func tierLimit(priority int) int {
	switch {
	case priority <= 1:
		return tierMinimal
	case priority == 2:
		return tierStandard
	case priority == 3:
		return tierGenerous
	default:
		return tierFull
	}
}

// truncateForStorage applies the priority tier to a tool call's
// arguments and result before the entry row is written.
func truncateForStorage(call ToolCallRecord) ToolCallRecord {
	limit := tierLimit(call.Priority)
	call.Arguments = truncateMap(call.Arguments, limit/2)
	call.Result = truncateValue(call.Result, limit)
	return call
}

// truncateValue bounds a value's string payloads to limit characters,
// recursing into nested structures with reduced budgets: map values get
// half the parent limit, slice elements a third. Non-string scalars
// pass through unchanged.
func truncateValue(v any, limit int) any {
	if limit < 16 {
		limit = 16
	}
	switch val := v.(type) {
	case string:
		return truncateString(val, limit)
	case map[string]any:
		return truncateMap(val, limit/2)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = truncateValue(e, limit/3)
		}
		return out
	default:
		return v
	}
}

func truncateMap(m map[string]any, limit int) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = truncateValue(v, limit)
	}
	return out
}

// truncMarker flags string payloads cut by storage truncation.
const truncMarker = "…[truncated]"

// truncateString shortens s to at most limit bytes, rune-safe. The
// marker is reserved within the limit, so the result never exceeds it.
func truncateString(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	marker := truncMarker
	cut := limit - len(marker)
	if cut <= 0 { // no room for the marker; hard cut
		marker = ""
		cut = limit
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + marker
}

// fenceTruncateMarker replaces code-block interiors that were cut to
// honor the note length cap.
const fenceTruncateMarker = "… (code truncated)"

// truncateNoteContent caps note content at maxLen characters. Content at
// or below the cap is returned unchanged. Oversized content is shrunk in
// two passes: first fenced code blocks are collapsed (prose and fence
// markers survive), then, only if still over, the prose tail is cut.
func truncateNoteContent(content string, maxLen int) string {
	if len(content) <= maxLen {
		return content
	}

	collapsed := fences.Collapse(content, fenceTruncateMarker)
	if len(collapsed) <= maxLen {
		return collapsed
	}

	// Still over budget: cut the tail, but never inside a fence. The
	// ellipsis is reserved within the cap so the result stays at or
	// under maxLen. If the cut point lands within a fenced block, back
	// up to just before it.
	marker := "…"
	cut := maxLen - len(marker)
	if cut <= 0 {
		marker = ""
		cut = maxLen
	}
	for _, b := range fences.Blocks(collapsed) {
		if b.ContentStart < 0 {
			continue
		}
		// Opening fence line starts at the beginning of the line that
		// precedes the content span.
		fenceOpen := openingFence(collapsed[:b.ContentStart])
		if fenceOpen >= 0 && fenceOpen < cut && b.ContentEnd >= cut {
			cut = fenceOpen
			break
		}
	}
	if cut <= 0 {
		cut = maxLen - len(marker)
	}
	for cut > 0 && !utf8.RuneStart(collapsed[cut]) {
		cut--
	}
	return strings.TrimRight(collapsed[:cut], " \n") + marker
}

// openingFence reports the start of the last fence opener in s, for
// either backtick or tilde fences, or -1 when neither appears.
func openingFence(s string) int {
	tick := strings.LastIndex(s, "```")
	tilde := strings.LastIndex(s, "~~~")
	if tilde > tick {
		return tilde
	}
	return tick
}
