package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTemperature is the sampling temperature used before any aegis
// snapshot has been written.
const DefaultTemperature = 0.7

// AegisSnapshot is one row of the sticky orientation state: the tags,
// summary, and sampling temperature in effect at a point in time.
// Updates append rather than mutate, so the orientation history stays
// queryable; only the newest row is current.
type AegisSnapshot struct {
	ID          int64     `json:"id"`
	Tags        []string  `json:"tags,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Temperature float64   `json:"temperature"`
	CreatedAt   time.Time `json:"created_at"`
}

// CurrentAegis returns the latest orientation snapshot. With no
// snapshots written yet it returns a zero-value snapshot carrying the
// default temperature, not an error.
func (s *Store) CurrentAegis() (*AegisSnapshot, error) {
	row := s.db.QueryRow(`
		SELECT id, tags, summary, temperature, created_at
		FROM aegis_snapshots
		ORDER BY id DESC LIMIT 1
	`)

	snap, err := scanAegis(row.Scan)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &AegisSnapshot{Temperature: DefaultTemperature}, nil
		}
		return nil, err
	}
	return snap, nil
}

// UpdateAegis appends a new orientation snapshot. Concurrent sessions
// always observe a fully written row: the insert is atomic and readers
// select by rowid.
func (s *Store) UpdateAegis(tags []string, summary string, temperature float64) error {
	_, err := s.db.Exec(`
		INSERT INTO aegis_snapshots (tags, summary, temperature, created_at)
		VALUES (?, ?, ?, ?)
	`, strings.Join(tags, ","), summary, temperature, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert aegis snapshot: %w", err)
	}
	return nil
}

// AegisBefore returns up to limit snapshots created strictly before t,
// newest first. Used to build retrospective orientation summaries for
// context older than the loaded history.
func (s *Store) AegisBefore(t time.Time, limit int) ([]AegisSnapshot, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT id, tags, summary, temperature, created_at
		FROM aegis_snapshots
		WHERE created_at < ?
		ORDER BY created_at DESC
		LIMIT ?
	`, t.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query aegis snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []AegisSnapshot
	for rows.Next() {
		snap, err := scanAegis(rows.Scan)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

func scanAegis(scan func(...any) error) (*AegisSnapshot, error) {
	var snap AegisSnapshot
	var tags string
	if err := scan(&snap.ID, &tags, &snap.Summary, &snap.Temperature, &snap.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan aegis snapshot: %w", err)
	}
	snap.Tags = splitCSV(tags)
	return &snap, nil
}
