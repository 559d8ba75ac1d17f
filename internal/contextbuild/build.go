// Package contextbuild assembles the bounded message list and extra
// context block for a divination: recent history as user/assistant
// pairs, older orientation snapshots as synthetic system messages, and
// a rendered context block (project files, attachments, orientation,
// recalled notes, manifest).
package contextbuild

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/augurhq/augur/internal/config"
	"github.com/augurhq/augur/internal/llm"
	"github.com/augurhq/augur/internal/store"
)

// Attachment is one file (optionally a selection within it) supplied by
// the caller for this divination.
type Attachment struct {
	Path      string
	Selection string
}

// Request describes what to assemble. History resolution: NoHistory
// suppresses history entirely; a non-nil History slice is reformatted
// verbatim; otherwise general history is fetched under the configured
// turn and token bounds.
type Request struct {
	Prompt   string
	Messages []llm.Message

	NoHistory bool
	History   []store.Entry

	Attachments []Attachment
	// Context is caller-supplied free-form context, injected as its own
	// section of the extra block.
	Context string
	// Env entries are rendered as key=value lines when present.
	Env map[string]string
}

// Assembled is the result of one Build: chronological history messages
// (orientation snapshots first, then user/assistant pairs) and the
// rendered extra-context block for the system prompt.
type Assembled struct {
	History      []llm.Message
	ExtraContext string
}

// Builder assembles divination context from the store and the project
// directory. Safe for concurrent use; it holds no per-request state.
type Builder struct {
	store  *store.Store
	cfg    config.ContextConfig
	logger *slog.Logger
}

// NewBuilder creates a Builder over st with cfg's bounds.
func NewBuilder(st *store.Store, cfg config.ContextConfig, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		store:  st,
		cfg:    cfg,
		logger: logger.With("component", "contextbuild"),
	}
}

// Build assembles the history messages and extra-context block for req.
// Failures reading optional sources (manifest, project files, notes)
// degrade to placeholders or omission; only store failures on the
// history path are errors.
func (b *Builder) Build(ctx context.Context, req Request) (*Assembled, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := b.resolveHistory(req)
	if err != nil {
		return nil, fmt.Errorf("resolve history: %w", err)
	}

	messages := b.orientationMessages(entries)
	messages = append(messages, formatHistory(entries)...)

	extra := b.extraContext(req)

	return &Assembled{History: messages, ExtraContext: extra}, nil
}

func (b *Builder) resolveHistory(req Request) ([]store.Entry, error) {
	if req.NoHistory {
		return nil, nil
	}
	if req.History != nil {
		return req.History, nil
	}
	return b.store.History(b.cfg.HistoryTurns, b.cfg.HistoryTokens, true)
}

// orientationMessages renders aegis snapshots older than the earliest
// history entry as system messages, newest first, under the snapshot
// token budget.
func (b *Builder) orientationMessages(entries []store.Entry) []llm.Message {
	if len(entries) == 0 || b.cfg.AegisTokens <= 0 {
		return nil
	}

	earliest := entries[0].CreatedAt
	snaps, err := b.store.AegisBefore(earliest, 10)
	if err != nil {
		b.logger.Warn("orientation snapshot lookup failed", "error", err)
		return nil
	}

	var messages []llm.Message
	used := 0
	for _, snap := range snaps {
		line := formatSnapshot(snap)
		cost := estimateTokens(line)
		if used+cost > b.cfg.AegisTokens {
			break
		}
		used += cost
		messages = append(messages, llm.Message{Role: "system", Content: line})
	}
	return messages
}

func formatSnapshot(snap store.AegisSnapshot) string {
	ts := snap.CreatedAt.Format("2006-01-02 15:04")
	if len(snap.Tags) > 0 {
		return fmt.Sprintf("Earlier orientation (%s): tags %v — %s", ts, snap.Tags, snap.Summary)
	}
	return fmt.Sprintf("Earlier orientation (%s): %s", ts, snap.Summary)
}

// estimateTokens mirrors the store's coarse heuristic: one token per
// four characters.
func estimateTokens(text string) int {
	return len(text) / 4
}
