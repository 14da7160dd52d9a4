package goal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// PlainText renders markdown to plain text: formatting, links and fences are
// dropped, their text kept. Agents write descriptions in markdown, and
// embeddings of the raw syntax drift with formatting-only edits.
func PlainText(md string) string {
	source := []byte(md)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				b.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(source))
			}
		case *ast.AutoLink:
			b.Write(node.URL(source))
		}
		return ast.WalkContinue, nil
	})

	return strings.Join(strings.Fields(b.String()), " ")
}

// SummaryText builds the text a goal's embedding is computed from.
func SummaryText(g *Goal) string {
	var parts []string
	parts = append(parts, "Goal: "+PlainText(g.Title))
	if g.Category != nil {
		parts = append(parts, "Category: "+string(*g.Category))
	}
	if g.Description != nil && strings.TrimSpace(*g.Description) != "" {
		parts = append(parts, "Description: "+PlainText(*g.Description))
	}
	if g.Motivation != nil && strings.TrimSpace(*g.Motivation) != "" {
		parts = append(parts, "Motivation: "+PlainText(*g.Motivation))
	}
	if g.SuccessCriteria != nil && strings.TrimSpace(*g.SuccessCriteria) != "" {
		parts = append(parts, "Success criteria: "+PlainText(*g.SuccessCriteria))
	}
	return strings.Join(parts, "\n")
}

// ContentHash returns the sha256 hex digest of the normalized text.
// Equal hashes mean an existing embedding is still current.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(h[:])
}
