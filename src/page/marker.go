package page

import (
	"strings"

	"golang.org/x/net/html"
)

// SelectionOutline is the visual mark applied to selected images.
const SelectionOutline = "10px solid #007bff"

// OutlineMarker marks elements by editing their inline outline style.
type OutlineMarker struct{}

// Mark applies the selection outline to el.
func (OutlineMarker) Mark(el *Element) {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	setAttr(el.node, "style", setStyleProperty(attr(el.node, "style"), "outline", SelectionOutline))
}

// Unmark removes the outline. A style attribute left empty is dropped so the
// element renders exactly as before selection.
func (OutlineMarker) Unmark(el *Element) {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()
	style := removeStyleProperty(attr(el.node, "style"), "outline")
	if style == "" {
		removeAttr(el.node, "style")
		return
	}
	setAttr(el.node, "style", style)
}

// Marked reports whether el currently carries the selection outline.
func Marked(el *Element) bool {
	v, ok := styleProperty(el.Style(), "outline")
	return ok && v == SelectionOutline
}

type declaration struct{ name, value string }

func parseStyle(style string) []declaration {
	var decls []declaration
	for _, part := range splitDeclarations(style) {
		name, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		decls = append(decls, declaration{name: name, value: strings.TrimSpace(value)})
	}
	return decls
}

// splitDeclarations splits on semicolons that are outside parentheses and
// quoted strings, so values like url(data:image/png;base64,...) stay whole.
func splitDeclarations(style string) []string {
	var parts []string
	var quote byte
	depth, start := 0, 0
	for i := 0; i < len(style); i++ {
		c := style[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case c == ';' && depth == 0:
			parts = append(parts, style[start:i])
			start = i + 1
		}
	}
	return append(parts, style[start:])
}

func formatStyle(decls []declaration) string {
	parts := make([]string, 0, len(decls))
	for _, d := range decls {
		parts = append(parts, d.name+": "+d.value)
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "; ") + ";"
}

func styleProperty(style, name string) (string, bool) {
	for _, d := range parseStyle(style) {
		if d.name == name {
			return d.value, true
		}
	}
	return "", false
}

func setStyleProperty(style, name, value string) string {
	decls := parseStyle(style)
	for i := range decls {
		if decls[i].name == name {
			decls[i].value = value
			return formatStyle(decls)
		}
	}
	return formatStyle(append(decls, declaration{name: name, value: value}))
}

func removeStyleProperty(style, name string) string {
	decls := parseStyle(style)
	out := decls[:0]
	for _, d := range decls {
		if d.name != name {
			out = append(out, d)
		}
	}
	return formatStyle(out)
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}
