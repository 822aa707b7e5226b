package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// LoadPrinciples reads the user's customized coding principles markdown.
// HTML comment placeholders (the template's "<!-- add yours here -->"
// markers) are stripped out. Returns "" when no principles file exists.
func LoadPrinciples() (string, error) {
	path, err := PrinciplesPath()
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read principles: %w", err)
	}

	return StripHTMLComments(data), nil
}

// StripHTMLComments removes HTML comment blocks from markdown source.
// The markdown is parsed so that comments inside code fences survive.
func StripHTMLComments(source []byte) string {
	md := goldmark.New()
	reader := text.NewReader(source)
	doc := md.Parser().Parse(reader)

	// Collect the byte ranges of comment HTML blocks.
	type span struct{ start, stop int }
	var drops []span

	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		var lines *text.Segments
		switch node := n.(type) {
		case *ast.HTMLBlock:
			lines = node.Lines()
		case *ast.RawHTML:
			segs := node.Segments
			if segs.Len() > 0 {
				first := segs.At(0)
				last := segs.At(segs.Len() - 1)
				if isComment(source[first.Start:last.Stop]) {
					drops = append(drops, span{first.Start, last.Stop})
				}
			}
			return ast.WalkSkipChildren, nil
		default:
			return ast.WalkContinue, nil
		}

		if lines.Len() > 0 {
			first := lines.At(0)
			last := lines.At(lines.Len() - 1)
			if isComment(source[first.Start:last.Stop]) {
				drops = append(drops, span{first.Start, last.Stop})
			}
		}
		return ast.WalkSkipChildren, nil
	})

	if len(drops) == 0 {
		return strings.TrimSpace(string(source))
	}

	var sb strings.Builder
	prev := 0
	for _, d := range drops {
		if d.start > prev {
			sb.Write(source[prev:d.start])
		}
		prev = d.stop
	}
	if prev < len(source) {
		sb.Write(source[prev:])
	}

	// Collapse the blank runs left behind by removed blocks.
	cleaned := sb.String()
	for strings.Contains(cleaned, "\n\n\n") {
		cleaned = strings.ReplaceAll(cleaned, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(cleaned)
}

func isComment(b []byte) bool {
	trimmed := strings.TrimSpace(string(b))
	return strings.HasPrefix(trimmed, "<!--")
}
