package surface

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// Labels are the section headings of one rendered item.
type Labels struct {
	Source string
	Target string
}

var DefaultLabels = Labels{Source: "Original Text:", Target: "Translation:"}

const timestampLayout = "03:04 PM"

// Renderer turns records into HTML fragments. Translated text keeps its
// paragraph structure: a blank line starts a new paragraph and a single line
// break becomes <br>. Nothing in the text is interpreted as markup.
type Renderer struct {
	md     goldmark.Markdown
	labels Labels
}

func NewRenderer(labels Labels) *Renderer {
	if labels.Source == "" {
		labels.Source = DefaultLabels.Source
	}
	if labels.Target == "" {
		labels.Target = DefaultLabels.Target
	}
	return &Renderer{
		md:     goldmark.New(goldmark.WithRendererOptions(gmhtml.WithHardWraps())),
		labels: labels,
	}
}

// Text renders translated text as paragraphs.
func (r *Renderer) Text(text string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(literal(text)), &buf); err != nil {
		return "", fmt.Errorf("render text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// literal rewrites text so every character renders as itself: ASCII
// punctuation is backslash-escaped and leading indentation becomes
// non-breaking spaces, which leaves blank lines and line breaks as the only
// structure while keeping indented lines indented.
func literal(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		body := strings.TrimLeft(line, " \t")
		for _, c := range line[:len(line)-len(body)] {
			n := 1
			if c == '\t' {
				n = tabWidth
			}
			b.WriteString(strings.Repeat(nbsp, n))
		}
		for _, c := range body {
			if c < 0x80 && isASCIIPunct(byte(c)) {
				b.WriteByte('\\')
			}
			b.WriteRune(c)
		}
	}
	return b.String()
}

const (
	nbsp     = "\u00a0"
	tabWidth = 4
)

func isASCIIPunct(c byte) bool {
	return (c >= '!' && c <= '/') || (c >= ':' && c <= '@') || (c >= '[' && c <= '`') || (c >= '{' && c <= '~')
}

// sourceHTML escapes OCR text and keeps its line breaks.
func sourceHTML(text string) template.HTML {
	return template.HTML(strings.ReplaceAll(html.EscapeString(text), "\n", "<br>"))
}

var itemTemplate = template.Must(template.New("item").Parse(
	`<div class="translation-item" id="translation-{{.Number}}">
<div class="translation-header">Translation #{{.Number}} <span class="timestamp">{{.Time}}</span></div>
{{- if .Source}}
<div class="original-text"><h4>{{.Labels.Source}}</h4><div class="source-text">{{.Source}}</div></div>
{{- end}}
<div class="translated-text"><h4>{{.Labels.Target}}</h4><div class="target-text">{{.Translated}}</div></div>
</div>`))

// Item renders one numbered record.
func (r *Renderer) Item(number int, rec Record) (string, error) {
	translated, err := r.Text(rec.TranslatedText)
	if err != nil {
		return "", err
	}
	data := struct {
		Number     int
		Time       string
		Labels     Labels
		Source     template.HTML
		Translated template.HTML
	}{
		Number:     number,
		Time:       rec.Timestamp.Local().Format(timestampLayout),
		Labels:     r.labels,
		Translated: template.HTML(translated),
	}
	if strings.TrimSpace(rec.SourceText) != "" {
		data.Source = sourceHTML(rec.SourceText)
	}
	var buf bytes.Buffer
	if err := itemTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render item: %w", err)
	}
	return buf.String(), nil
}

const EmptyStateHTML = `<div class="empty-state">
<h2>No translations yet</h2>
<p>Translations from your selected images will appear here.</p>
</div>`

var documentTemplate = template.Must(template.New("document").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Translation Results</title>
<style>
:root { --translation-font-family: {{.FontFamily}}; --translation-font-size: {{.FontSize}}px; }
body { font-family: sans-serif; margin: 0 auto; max-width: 800px; padding: 16px; }
.translation-item { border-bottom: 1px solid #ddd; padding: 12px 0; }
.translation-header { font-weight: bold; color: #333; }
.timestamp { float: right; color: #888; font-weight: normal; }
.source-text { color: #555; }
.target-text { font-family: var(--translation-font-family); font-size: var(--translation-font-size); line-height: 1.6; }
.empty-state { text-align: center; color: #888; padding: 48px 0; }
</style>
</head>
<body>
<div id="translationContainer">
{{if .Items}}{{range .Items}}{{.}}
{{end}}{{else}}{{.Empty}}{{end}}
</div>
{{if .Items}}<script>document.querySelector('.translation-item:last-child').scrollIntoView();</script>{{end}}
</body>
</html>
`))

// cssValue strips characters that would let a font family escape its
// declaration. Quotes stay so multi-word family names work.
func cssValue(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ';', '{', '}', '<', '>', '\\', '\n', '\r':
			return -1
		}
		return r
	}, s)
}
