package toolcall

import (
	"encoding/json"
	"strings"

	"github.com/augurhq/augur/internal/fences"
)

// ExtractFromContent scans free text for tool requests embedded in
// fenced code blocks labeled as structured data. Every matching block
// is parsed, in document order, and the results are combined into one
// batch. A block may hold a single call object, an array of calls, or
// an object wrapping a call list under a batch alias; all go through
// the same normalization as structured calls.
func ExtractFromContent(text string) []Call {
	var calls []Call
	for _, block := range fences.Blocks(text) {
		if block.Info != "json" {
			continue
		}
		calls = append(calls, parseCallBlock(block.Content)...)
	}
	return calls
}

// parseCallBlock interprets one fenced block's content as call
// description(s).
func parseCallBlock(content string) []Call {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	// Array of calls.
	if strings.HasPrefix(content, "[") {
		var list []map[string]any
		if err := json.Unmarshal([]byte(content), &list); err != nil {
			return nil
		}
		return NormalizeBatch(list)
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		return nil
	}

	// Object wrapping a batch under an aliased key.
	if raw := batchFrom(obj); raw != nil {
		return NormalizeBatch(raw)
	}

	// Single call object.
	if c, ok := Normalize(obj); ok {
		return []Call{c}
	}
	return nil
}
