package contextbuild

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/augurhq/augur/internal/prompts"
)

const (
	maxProjectFiles = 200
	recallLimit     = 5
)

// extraContext renders the extra-context block: project files,
// attachments, current orientation, recalled notes, caller context,
// environment, and the manifest. Every section degrades independently;
// a missing source is omitted or replaced with a placeholder.
func (b *Builder) extraContext(req Request) string {
	var sections []string

	if files := b.projectFiles(); len(files) > 0 {
		sections = append(sections, "Project files:\n"+strings.Join(files, "\n"))
	}

	if len(req.Attachments) > 0 {
		lines := make([]string, 0, len(req.Attachments))
		for _, a := range req.Attachments {
			if a.Selection != "" {
				lines = append(lines, fmt.Sprintf("%s (selection):\n%s", a.Path, a.Selection))
			} else {
				lines = append(lines, a.Path)
			}
		}
		sections = append(sections, "Attachments:\n"+strings.Join(lines, "\n"))
	}

	aegis, err := b.store.CurrentAegis()
	if err != nil {
		b.logger.Warn("orientation read failed", "error", err)
		aegis = nil
	}
	if aegis != nil {
		sections = append(sections, orientationSection(aegis.Tags, aegis.Summary, aegis.Temperature, req.Attachments))
		if notes := b.recalledNotes(strings.Join(aegis.Tags, " ") + " " + aegis.Summary); notes != "" {
			sections = append(sections, notes)
		}
	}

	if req.Context != "" {
		sections = append(sections, "Caller context:\n"+req.Context)
	}

	if len(req.Env) > 0 {
		keys := make([]string, 0, len(req.Env))
		for k := range req.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			lines = append(lines, k+"="+req.Env[k])
		}
		sections = append(sections, "Environment:\n"+strings.Join(lines, "\n"))
	}

	sections = append(sections, "Project manifest:\n"+b.manifest())

	return strings.Join(sections, "\n\n")
}

func orientationSection(tags []string, summary string, temperature float64, attachments []Attachment) string {
	var sb strings.Builder
	sb.WriteString("Current orientation:\n")
	fmt.Fprintf(&sb, "temperature: %.2f\n", temperature)
	if len(tags) > 0 {
		fmt.Fprintf(&sb, "tags: %s\n", strings.Join(tags, ", "))
	}
	if summary != "" {
		fmt.Fprintf(&sb, "summary: %s\n", summary)
	}
	for _, a := range attachments {
		fmt.Fprintf(&sb, "touched: %s\n", a.Path)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// recalledNotes queries notes with the orientation tags and summary and
// renders the hits under the note token budget.
func (b *Builder) recalledNotes(query string) string {
	if b.cfg.NoteTokens <= 0 || strings.TrimSpace(query) == "" {
		return ""
	}

	// Cap per-note content so a single long note cannot eat the budget.
	perNote := b.cfg.NoteTokens * 4 / recallLimit
	notes, err := b.store.RecallNotes(query, recallLimit, perNote)
	if err != nil {
		b.logger.Warn("note recall failed", "error", err)
		return ""
	}
	if len(notes) == 0 {
		return ""
	}

	var lines []string
	used := 0
	for _, n := range notes {
		line := "- " + n.Content
		cost := estimateTokens(line)
		if used+cost > b.cfg.NoteTokens {
			break
		}
		used += cost
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}
	return "Relevant notes:\n" + strings.Join(lines, "\n")
}

// projectFiles lists regular files under the project directory, capped
// and sorted, skipping dot-directories. An unset or unreadable
// directory yields no section.
func (b *Builder) projectFiles() []string {
	root := b.cfg.ProjectDir
	if root == "" {
		return nil
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, keep walking
		}
		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return nil
		}
		files = append(files, rel)
		if len(files) >= maxProjectFiles {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		b.logger.Warn("project file walk failed", "error", err)
		return nil
	}
	sort.Strings(files)
	return files
}

// manifest reads the project manifest document. Any failure degrades to
// the placeholder string; a missing manifest is never an error.
func (b *Builder) manifest() string {
	if b.cfg.ProjectDir == "" || b.cfg.ManifestPath == "" {
		return prompts.ManifestPlaceholder
	}
	data, err := os.ReadFile(filepath.Join(b.cfg.ProjectDir, b.cfg.ManifestPath))
	if err != nil {
		return prompts.ManifestPlaceholder
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return prompts.ManifestPlaceholder
	}
	return text
}
