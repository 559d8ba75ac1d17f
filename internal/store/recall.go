package store

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Scoring weights for note recall. Content matches dominate, tags and
// links follow, and a literal substring hit on the links field (usually
// a file path) earns a flat bonus.
const (
	contentWeight  = 4
	tagWeight      = 3
	linkWeight     = 2
	pathMatchBonus = 5
)

// stopwords are excluded from recall tokenization on both sides.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "by": true, "for": true, "from": true,
	"has": true, "how": true, "i": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "this": true, "to": true, "was": true, "what": true,
	"when": true, "where": true, "which": true, "with": true,
}

// ScoredNote is a recall result with its relevance score.
type ScoredNote struct {
	Note
	Score int `json:"score"`
}

// RecallNotes searches notes by token overlap against content, tags,
// and links. Zero-scoring notes are excluded; results are ordered by
// descending score and truncated to limit. When maxContentLen is
// positive, returned note content is shortened to that many characters
// for prompt inclusion (storage is untouched).
func (s *Store) RecallNotes(query string, limit, maxContentLen int) ([]ScoredNote, error) {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(`
		SELECT id, content, tags, links, created_at, updated_at FROM notes
	`)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var scored []ScoredNote
	for rows.Next() {
		var n Note
		var tags, links string
		if err := rows.Scan(&n.ID, &n.Content, &tags, &links, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		n.Tags = splitCSV(tags)
		n.Links = splitCSV(links)

		score := scoreNote(queryTokens, n.Content, tags, links)
		if score == 0 {
			continue
		}
		if maxContentLen > 0 && len(n.Content) > maxContentLen {
			n.Content = truncateString(n.Content, maxContentLen)
		}
		scored = append(scored, ScoredNote{Note: n, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan notes: %w", err)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// scoreNote computes the weighted token-overlap score of one note
// against a tokenized query.
func scoreNote(queryTokens []string, content, tags, links string) int {
	contentSet := tokenSet(content)
	tagSet := tokenSet(tags)
	linkSet := tokenSet(links)
	linksLower := strings.ToLower(links)

	score := 0
	pathHit := false
	for _, tok := range queryTokens {
		if contentSet[tok] {
			score += contentWeight
		}
		if tagSet[tok] {
			score += tagWeight
		}
		if linkSet[tok] {
			score += linkWeight
		}
		if !pathHit && linksLower != "" && strings.Contains(linksLower, tok) {
			pathHit = true
		}
	}
	if pathHit {
		score += pathMatchBonus
	}
	return score
}

// tokenize lowercases s and splits it into word tokens, dropping
// stopwords.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range tokenize(s) {
		set[t] = true
	}
	return set
}
