package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Note is a unit of long-term memory. Content is capped at the store's
// configured maximum at write time; what is on disk never exceeds it.
type Note struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	Links     []string  `json:"links,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateNote stores a new note and returns its id.
func (s *Store) CreateNote(content string, tags, links []string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(`
		INSERT INTO notes (id, content, tags, links, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id.String(), truncateNoteContent(content, s.maxNoteLen),
		strings.Join(tags, ","), strings.Join(links, ","), now, now)
	if err != nil {
		return "", fmt.Errorf("insert note: %w", err)
	}

	return id.String(), nil
}

// UpdateNote replaces a note's content, tags, and links. Nil tags or
// links leave the stored values untouched.
func (s *Store) UpdateNote(id, content string, tags, links []string) error {
	existing, err := s.GetNote(id)
	if err != nil {
		return err
	}

	if tags == nil {
		tags = existing.Tags
	}
	if links == nil {
		links = existing.Links
	}

	_, err = s.db.Exec(`
		UPDATE notes SET content = ?, tags = ?, links = ?, updated_at = ?
		WHERE id = ?
	`, truncateNoteContent(content, s.maxNoteLen),
		strings.Join(tags, ","), strings.Join(links, ","), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	return nil
}

// DeleteNote removes a note. Deleting a missing note is not an error.
func (s *Store) DeleteNote(id string) error {
	if _, err := s.db.Exec(`DELETE FROM notes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

// GetNote returns a single note by id.
func (s *Store) GetNote(id string) (*Note, error) {
	row := s.db.QueryRow(`
		SELECT id, content, tags, links, created_at, updated_at
		FROM notes WHERE id = ?
	`, id)

	var n Note
	var tags, links string
	if err := row.Scan(&n.ID, &n.Content, &tags, &links, &n.CreatedAt, &n.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("note %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get note: %w", err)
	}
	n.Tags = splitCSV(tags)
	n.Links = splitCSV(links)
	return &n, nil
}
