package process

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Section is a Markdown heading and the text up to the next heading.
type Section struct {
	Heading string
	Level   int
	Body    string
}

// Sections splits markdown at its headings. Text before the first heading is
// returned as a section with an empty heading when non-blank.
func Sections(markdown string) []Section {
	source := []byte(markdown)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	type mark struct {
		heading   string
		level     int
		lineStart int
		bodyStart int
	}
	var marks []mark
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		first, last := h.Lines().At(0), h.Lines().At(h.Lines().Len()-1)
		lineStart := bytes.LastIndexByte(source[:first.Start], '\n') + 1
		bodyStart := len(source)
		if i := bytes.IndexByte(source[last.Stop:], '\n'); i >= 0 {
			bodyStart = last.Stop + i + 1
		}
		marks = append(marks, mark{
			heading:   headingText(h, source),
			level:     h.Level,
			lineStart: lineStart,
			bodyStart: bodyStart,
		})
	}

	var out []Section
	if len(marks) == 0 {
		if body := strings.TrimSpace(markdown); body != "" {
			out = append(out, Section{Body: body})
		}
		return out
	}
	if pre := strings.TrimSpace(string(source[:marks[0].lineStart])); pre != "" {
		out = append(out, Section{Body: pre})
	}
	for i, m := range marks {
		end := len(source)
		if i+1 < len(marks) {
			end = marks[i+1].lineStart
		}
		body := ""
		if m.bodyStart < end {
			body = strings.TrimSpace(string(source[m.bodyStart:end]))
		}
		out = append(out, Section{Heading: m.heading, Level: m.level, Body: body})
	}
	return out
}

// headingText concatenates the text nodes under a heading, emphasis included.
func headingText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				buf.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String())
}
