// Package fences locates fenced code blocks in markdown text. It backs
// note truncation (code structure must survive a length cap), history
// shrinking (oversized entries collapse their code blocks first), and
// fallback tool-call extraction (calls embedded in fenced json blocks).
package fences

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// Block is one fenced code block, in document order.
type Block struct {
	// Info is the fence info string (e.g. "json", "go"), lowercased.
	Info string

	// Content is the raw code between the fence markers.
	Content string

	// ContentStart and ContentEnd are byte offsets of Content within the
	// source string. Both are -1 for an empty block, which has no
	// addressable content span.
	ContentStart int
	ContentEnd   int
}

// Blocks parses src as markdown and returns its fenced code blocks in
// document order. Indented code blocks are ignored; only fenced blocks
// carry an info string and deliberate structure.
func Blocks(src string) []Block {
	if !strings.Contains(src, "```") && !strings.Contains(src, "~~~") {
		return nil
	}

	source := []byte(src)
	doc := goldmark.New().Parser().Parse(gmtext.NewReader(source))

	var blocks []Block
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fc, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		b := Block{ContentStart: -1, ContentEnd: -1}
		if fc.Info != nil {
			b.Info = strings.ToLower(strings.TrimSpace(string(fc.Info.Segment.Value(source))))
		}
		if lines := fc.Lines(); lines.Len() > 0 {
			b.ContentStart = lines.At(0).Start
			b.ContentEnd = lines.At(lines.Len() - 1).Stop
			b.Content = src[b.ContentStart:b.ContentEnd]
		}
		blocks = append(blocks, b)
		return ast.WalkSkipChildren, nil
	})

	return blocks
}

// Collapse replaces the content of every fenced code block in src with
// placeholder, preserving the fence markers and info strings. Text
// outside code blocks is untouched. Blocks with no content are left
// alone.
func Collapse(src, placeholder string) string {
	blocks := Blocks(src)
	if len(blocks) == 0 {
		return src
	}

	var sb strings.Builder
	sb.Grow(len(src))
	prev := 0
	for _, b := range blocks {
		if b.ContentStart < 0 || b.ContentStart < prev {
			continue
		}
		sb.WriteString(src[prev:b.ContentStart])
		sb.WriteString(placeholder)
		if !strings.HasSuffix(placeholder, "\n") {
			sb.WriteString("\n")
		}
		prev = b.ContentEnd
	}
	sb.WriteString(src[prev:])
	return sb.String()
}
