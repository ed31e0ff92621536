package logging

import (
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/term"
)

// PreviewInstructions renders an agent WorkSpec's Markdown instructions
// (spec.md §3 WorkSpec.instructions) down to a plain-text preview suitable
// for console display before the node runs. The executor itself never
// interprets instructions (spec.md §4.2); this is purely an operator-facing
// convenience in the teacher's console-logger style of printing per-task
// detail before dispatch.
//
// Only block-level text is extracted — headings, paragraphs, and list
// items — stripped of inline emphasis/link markup, then word-wrapped to
// width. A width <= 0 falls back to TerminalWidth().
func PreviewInstructions(markdown string, width int) string {
	if width <= 0 {
		width = TerminalWidth()
	}
	src := []byte(markdown)
	root := goldmark.New().Parser().Parse(text.NewReader(src))

	var lines []string
	err := ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.(type) {
		case *ast.Paragraph, *ast.Heading, *ast.TextBlock:
			if plain := plainText(n, src); plain != "" {
				lines = append(lines, plain)
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil || len(lines) == 0 {
		return wrap(collapseWhitespace(markdown), width)
	}
	return wrap(strings.Join(lines, "\n"), width)
}

// plainText concatenates the literal text of every child text/code-span
// node under n, discarding emphasis/link/image markup.
func plainText(n ast.Node, src []byte) string {
	var sb strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		appendPlainText(c, src, &sb)
	}
	return collapseWhitespace(sb.String())
}

func appendPlainText(n ast.Node, src []byte, sb *strings.Builder) {
	switch v := n.(type) {
	case *ast.Text:
		sb.Write(v.Segment.Value(src))
		if v.SoftLineBreak() || v.HardLineBreak() {
			sb.WriteByte(' ')
		}
	default:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			appendPlainText(c, src, sb)
		}
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// wrap greedily word-wraps s to the given column width (minimum 20).
func wrap(s string, width int) string {
	if width < 20 {
		width = 20
	}
	words := strings.Fields(s)
	if len(words) == 0 {
		return ""
	}
	var out strings.Builder
	lineLen := 0
	for i, w := range words {
		if lineLen > 0 && lineLen+1+len(w) > width {
			out.WriteByte('\n')
			lineLen = 0
		} else if i > 0 && lineLen > 0 {
			out.WriteByte(' ')
			lineLen++
		}
		out.WriteString(w)
		lineLen += len(w)
	}
	return out.String()
}

// TerminalWidth reports stdout's current column width, falling back to 80
// when stdout isn't a terminal or the ioctl fails (grounded on the same
// isatty-gated pattern ConsoleLogger uses for color detection).
func TerminalWidth() int {
	if !isTerminal(os.Stdout) {
		return 80
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}
