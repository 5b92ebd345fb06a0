package chunking

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// splitByHeadings splits markdown text into sections at top-level heading
// boundaries (lines matching ^#{1,6}\s+.+$). Non-heading-only input yields
// a single section containing the whole text. Sections preserve the
// original source bytes, including the heading line itself.
func splitByHeadings(src string) []string {
	source := []byte(src)
	reader := gmtext.NewReader(source)
	doc := goldmark.New().Parser().Parse(reader)

	var offsets []int
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			lines := h.Lines()
			if lines.Len() > 0 {
				start := lines.At(0).Start
				for start > 0 && source[start-1] != '\n' {
					start--
				}
				offsets = append(offsets, start)
			}
		}
		return ast.WalkContinue, nil
	})

	if len(offsets) == 0 {
		return []string{src}
	}

	sections := make([]string, 0, len(offsets)+1)
	if offsets[0] > 0 {
		sections = append(sections, string(source[:offsets[0]]))
	}
	for i, start := range offsets {
		end := len(source)
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		sections = append(sections, string(source[start:end]))
	}
	return sections
}

// splitParagraphs splits on blank lines, the paragraph boundary.
func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
