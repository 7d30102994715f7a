package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Markdown accumulates a Markdown document block by block.
type Markdown struct {
	b strings.Builder
}

// Heading writes an ATX heading, clamping level to 1-6. text is escaped.
func (m *Markdown) Heading(level int, text string) {
	if level < 1 {
		level = 1
	}
	if level > 6 {
		level = 6
	}
	fmt.Fprintf(&m.b, "%s %s\n\n", strings.Repeat("#", level), escapeInline(text))
}

// Paragraph writes text verbatim, so it may carry inline Markdown.
func (m *Markdown) Paragraph(text string) {
	m.b.WriteString(text)
	m.b.WriteString("\n\n")
}

// List writes a bullet list. Items are Markdown; newlines are folded.
func (m *Markdown) List(items ...string) {
	if len(items) == 0 {
		return
	}
	for _, it := range items {
		m.b.WriteString("- ")
		m.b.WriteString(oneLine(it))
		m.b.WriteString("\n")
	}
	m.b.WriteString("\n")
}

// Table writes a GFM pipe table. Cells are escaped; an empty row set still
// produces the header.
func (m *Markdown) Table(header []string, rows [][]string) {
	writeRow := func(cells []string) {
		m.b.WriteString("|")
		for _, c := range cells {
			m.b.WriteString(" ")
			m.b.WriteString(escapeInline(c))
			m.b.WriteString(" |")
		}
		m.b.WriteString("\n")
	}

	writeRow(header)
	m.b.WriteString("|")
	for range header {
		m.b.WriteString(" --- |")
	}
	m.b.WriteString("\n")
	for _, r := range rows {
		writeRow(r)
	}
	m.b.WriteString("\n")
}

// Image writes an image block; src is a path relative to the document.
func (m *Markdown) Image(alt, src string) {
	fmt.Fprintf(&m.b, "![%s](%s)\n\n", escapeInline(alt), src)
}

// Bytes returns the document written so far.
func (m *Markdown) Bytes() []byte {
	return []byte(m.b.String())
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var inlineEscaper = strings.NewReplacer(
	`\`, `\\`,
	"`", "\\`",
	"*", `\*`,
	"_", `\_`,
	"[", `\[`,
	"]", `\]`,
	"<", `\<`,
	">", `\>`,
	"|", `\|`,
	"~", `\~`,
	"&", `\&`,
)

// escapeInline folds s onto one line and backslash-escapes the characters
// that would otherwise become emphasis, links, code, raw HTML, entities or
// table cell breaks.
func escapeInline(s string) string {
	return inlineEscaper.Replace(oneLine(s))
}

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="fr">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        table { border-collapse: collapse; width: 100%; margin-top: 20px; }
        th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
        th { background-color: #f2f2f2; }
        img { max-width: 100%; }
    </style>
</head>
<body>
<main data-ready="true">
{{.Body}}
</main>
</body>
</html>
`))

// RenderHTML converts a Markdown document to a standalone HTML page.
// Raw HTML embedded in the Markdown is not passed through.
func RenderHTML(title string, markdown []byte) ([]byte, error) {
	var body bytes.Buffer
	if err := md.Convert(markdown, &body); err != nil {
		return nil, fmt.Errorf("report: convert markdown: %w", err)
	}

	var page bytes.Buffer
	err := pageTemplate.Execute(&page, struct {
		Title string
		Body  template.HTML
	}{
		Title: title,
		Body:  template.HTML(body.String()),
	})
	if err != nil {
		return nil, fmt.Errorf("report: render page: %w", err)
	}
	return page.Bytes(), nil
}
