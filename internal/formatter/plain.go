package formatter

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var plainMD = goldmark.New()

// PlainText renders markdown as plain text for platforms with no markup
// support. Emphasis markers are dropped, link targets are kept in
// parentheses, and code blocks are emitted verbatim.
func PlainText(src string) string {
	source := []byte(src)
	doc := plainMD.Parser().Parse(text.NewReader(source))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				b.Write(node.URL(source))
			}
			return ast.WalkSkipChildren, nil
		case *ast.Link:
			if !entering && len(node.Destination) > 0 {
				b.WriteString(" (")
				b.Write(node.Destination)
				b.WriteString(")")
			}
		case *ast.RawHTML, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(source))
				}
				endBlock(&b, n)
			}
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			if entering {
				b.WriteString("- ")
			}
		case *ast.Paragraph, *ast.Heading, *ast.TextBlock, *ast.ThematicBreak:
			if !entering {
				endBlock(&b, n)
			}
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimRight(b.String(), "\n")
}

// endBlock separates a finished block from what follows: one newline inside
// lists, a blank line elsewhere.
func endBlock(b *strings.Builder, n ast.Node) {
	out := b.String()
	if !strings.HasSuffix(out, "\n") {
		b.WriteByte('\n')
	}
	if _, inList := n.Parent().(*ast.ListItem); inList {
		return
	}
	if !strings.HasSuffix(b.String(), "\n\n") {
		b.WriteByte('\n')
	}
}
