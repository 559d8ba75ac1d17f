// Package store provides the durable persistence layer for Augur:
// conversation entries, long-term notes, hierarchical tasks, and the
// append-only aegis orientation snapshots. Every write is immediately
// durable; nothing in this package survives only in memory.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultMaxNoteLen caps note content at write time.
const DefaultMaxNoteLen = 2000

// Store is the SQLite-backed persistence store. It is safe for
// concurrent readers and appenders across sessions: WAL mode plus a
// busy timeout handle cross-process contention, and single-row updates
// are last-write-wins.
type Store struct {
	db         *sql.DB
	logger     *slog.Logger
	maxNoteLen int
}

// Open opens (creating if needed) the store at dbPath.
func Open(dbPath string, logger *slog.Logger, maxNoteLen int) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxNoteLen <= 0 {
		maxNoteLen = DefaultMaxNoteLen
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{
		db:         db,
		logger:     logger.With("component", "store"),
		maxNoteLen: maxNoteLen,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Conversation entries: one row per completed exchange. Immutable.
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		prompt TEXT NOT NULL,
		answer TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '',
		file_path TEXT,
		selection TEXT,
		elapsed_seconds REAL NOT NULL DEFAULT 0,
		tool_call_count INTEGER NOT NULL DEFAULT 0,
		tool_calls_json TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_created ON entries(created_at);

	-- Notes: long-term memory units searched by token overlap.
	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '',
		links TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- Tasks: multi-step work units, optionally nested via parent_task_id.
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		plan TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		current_step INTEGER NOT NULL DEFAULT 0,
		step_results TEXT NOT NULL DEFAULT '{}',
		tool_calls_json TEXT NOT NULL DEFAULT '{}',
		workflow_type TEXT NOT NULL DEFAULT '',
		parent_task_id TEXT,
		subtask_results TEXT NOT NULL DEFAULT '{}',
		logs TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY (parent_task_id) REFERENCES tasks(id)
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

	-- Aegis orientation snapshots: append-only, latest row is current.
	CREATE TABLE IF NOT EXISTS aegis_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tags TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		temperature REAL NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_aegis_created ON aegis_snapshots(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// estimateTokens provides a rough token count estimate.
// Rule of thumb: ~4 characters per token for English.
func estimateTokens(text string) int {
	return len(text) / 4
}
