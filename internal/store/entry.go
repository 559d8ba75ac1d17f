package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/augurhq/augur/internal/fences"
)

// Entry is one recorded exchange: the user prompt, the final answer,
// and the tool calls made along the way. Entries are immutable once
// written.
type Entry struct {
	ID             string    `json:"id"`
	Prompt         string    `json:"prompt"`
	Answer         string    `json:"answer"`
	Tags           []string  `json:"tags,omitempty"`
	FilePath       string    `json:"file_path,omitempty"`
	Selection      string    `json:"selection,omitempty"`
	ElapsedSeconds float64   `json:"elapsed_seconds,omitempty"`
	ToolCallCount  int       `json:"tool_call_count"`
	ToolCallsJSON  string    `json:"tool_calls_json,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ToolCallRecord is the JSON-serializable form of one tool call made
// during an exchange. Priority is the tool's declared priority and
// selects the storage truncation tier.
type ToolCallRecord struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    any            `json:"result,omitempty"`
	Priority  int            `json:"priority,omitempty"`
}

// EntryOptions carries the optional fields of RecordEntry.
type EntryOptions struct {
	FilePath  string
	Selection string
	Elapsed   time.Duration
}

// RecordEntry persists one completed exchange and returns its id. Tool
// calls are truncated to their priority tier before serialization so a
// chatty low-priority tool cannot bloat the history table.
func (s *Store) RecordEntry(prompt, answer string, tags []string, calls []ToolCallRecord, opts EntryOptions) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}

	var callsJSON string
	if len(calls) > 0 {
		truncated := make([]ToolCallRecord, len(calls))
		for i, c := range calls {
			truncated[i] = truncateForStorage(c)
		}
		data, err := json.Marshal(truncated)
		if err != nil {
			return "", fmt.Errorf("marshal tool calls: %w", err)
		}
		callsJSON = string(data)
	}

	_, err = s.db.Exec(`
		INSERT INTO entries (id, prompt, answer, tags, file_path, selection,
			elapsed_seconds, tool_call_count, tool_calls_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id.String(), prompt, answer, strings.Join(tags, ","),
		nullable(opts.FilePath), nullable(opts.Selection),
		opts.Elapsed.Seconds(), len(calls), nullable(callsJSON), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert entry: %w", err)
	}

	return id.String(), nil
}

// historyCollapseMarker stands in for code-block interiors when an
// oversized entry is shrunk to fit the history token budget.
const historyCollapseMarker = "… (code omitted)"

// History returns up to limit recent entries in chronological order.
// When maxTokens is positive, entries are accumulated newest-first
// under that budget: an entry that would overflow is first shrunk by
// collapsing its fenced code blocks; if it still does not fit,
// accumulation stops — older, smaller entries are never pulled in past
// a too-large one. includeToolCalls controls whether the serialized
// tool-call list is carried on the returned entries (and counted
// against the budget).
func (s *Store) History(limit, maxTokens int, includeToolCalls bool) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, prompt, answer, tags, file_path, selection,
			elapsed_seconds, tool_call_count, tool_calls_json, created_at
		FROM entries
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var newest []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if !includeToolCalls {
			e.ToolCallsJSON = ""
		}
		newest = append(newest, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan entries: %w", err)
	}

	if maxTokens > 0 {
		newest = budgetEntries(newest, maxTokens)
	}

	// Reverse to chronological order (rows are newest-first).
	for i, j := 0, len(newest)-1; i < j; i, j = i+1, j-1 {
		newest[i], newest[j] = newest[j], newest[i]
	}
	return newest, nil
}

// budgetEntries walks newest-first entries and keeps a prefix whose
// total token cost stays within budget. An entry that would overflow is
// shrunk by collapsing fenced code blocks and re-measured; if it still
// overflows the walk stops.
func budgetEntries(newest []Entry, budget int) []Entry {
	var kept []Entry
	used := 0
	for _, e := range newest {
		cost := entryCost(e)
		if used+cost > budget {
			shrunk := e
			shrunk.Prompt = fences.Collapse(e.Prompt, historyCollapseMarker)
			shrunk.Answer = fences.Collapse(e.Answer, historyCollapseMarker)
			cost = entryCost(shrunk)
			if used+cost > budget {
				break
			}
			e = shrunk
		}
		kept = append(kept, e)
		used += cost
	}
	return kept
}

func entryCost(e Entry) int {
	return estimateTokens(e.Prompt) + estimateTokens(e.Answer) + estimateTokens(e.ToolCallsJSON)
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var tags string
	var filePath, selection, callsJSON sql.NullString
	if err := rows.Scan(&e.ID, &e.Prompt, &e.Answer, &tags, &filePath,
		&selection, &e.ElapsedSeconds, &e.ToolCallCount, &callsJSON,
		&e.CreatedAt); err != nil {
		return Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	e.Tags = splitCSV(tags)
	e.FilePath = filePath.String
	e.Selection = selection.String
	e.ToolCallsJSON = callsJSON.String
	return e, nil
}

// nullable converts an empty string to NULL for storage.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// splitCSV splits a comma-separated field, dropping empty elements.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
