package contextbuild

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/augurhq/augur/internal/llm"
	"github.com/augurhq/augur/internal/store"
)

// Tool-summary sizing. An entry at distance index from the present gets
// basePriority = exp(-index) × 3; each tool's limit scales that by its
// declared priority and shrinks with call density, so a chatty entry
// full of low-priority calls stays compact while a recent high-priority
// call keeps its detail.
const (
	summaryBaseChars  = 160
	summaryMinChars   = 40
	recentAllowance   = 1.5
	positionBoostStep = 0.1
)

// formatHistory renders chronological entries as user/assistant message
// pairs, folding stored tool-call summaries into the assistant content.
func formatHistory(entries []store.Entry) []llm.Message {
	n := len(entries)
	if n == 0 {
		return nil
	}

	messages := make([]llm.Message, 0, 2*n)
	for i, entry := range entries {
		index := n - 1 - i // distance from the present
		content := entry.Answer
		if summary := formatToolSummary(entry, index); summary != "" {
			content = strings.TrimSpace(content + "\n\n" + summary)
		}
		messages = append(messages,
			llm.Message{Role: "user", Content: entry.Prompt},
			llm.Message{Role: "assistant", Content: content},
		)
	}
	return messages
}

func formatToolSummary(entry store.Entry, index int) string {
	if entry.ToolCallsJSON == "" {
		return ""
	}
	var calls []store.ToolCallRecord
	if err := json.Unmarshal([]byte(entry.ToolCallsJSON), &calls); err != nil || len(calls) == 0 {
		return ""
	}

	basePriority := math.Exp(-float64(index)) * 3
	density := math.Max(1, float64(len(calls))/5)

	lines := make([]string, 0, len(calls)+1)
	lines = append(lines, "[tools used]")
	for pos, call := range calls {
		limit := summaryLimit(basePriority, call.Priority, density, index == 0, pos)
		lines = append(lines, formatCall(call, limit))
	}
	return strings.Join(lines, "\n")
}

// summaryLimit computes the character budget for one tool line. The
// most recent entry gets a 1.5× allowance; tools later in an entry get
// a position boost because they reflect where the work ended up.
func summaryLimit(basePriority float64, toolPriority int, density float64, mostRecent bool, pos int) int {
	limit := basePriority * float64(toolPriority+1) * summaryBaseChars / density
	if mostRecent {
		limit *= recentAllowance
	}
	limit *= 1 + positionBoostStep*float64(pos)
	if limit < summaryMinChars {
		return summaryMinChars
	}
	return int(limit)
}

func formatCall(call store.ToolCallRecord, limit int) string {
	args := compactJSON(call.Arguments, limit/2)
	result := compactJSON(call.Result, limit)
	return fmt.Sprintf("%s(%s) → %s", call.Name, args, result)
}

func compactJSON(v any, limit int) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return clip(fmt.Sprint(v), limit)
	}
	return clip(string(data), limit)
}

func clip(s string, limit int) string {
	if limit < summaryMinChars {
		limit = summaryMinChars
	}
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
