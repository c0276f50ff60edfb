package page

import (
	"strings"

	"golang.org/x/net/html"
)

type declaration struct {
	prop, value string
}

func parseStyle(s string) []declaration {
	var decls []declaration
	for _, part := range strings.Split(s, ";") {
		prop, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		prop = strings.ToLower(strings.TrimSpace(prop))
		if prop == "" {
			continue
		}
		decls = append(decls, declaration{prop: prop, value: strings.TrimSpace(value)})
	}
	return decls
}

func formatStyle(decls []declaration) string {
	parts := make([]string, 0, len(decls))
	for _, d := range decls {
		parts = append(parts, d.prop+": "+d.value)
	}
	return strings.Join(parts, "; ")
}

// SetStyle sets one inline style property on n, keeping the others in order.
func (p *Page) SetStyle(n *html.Node, prop, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	setStyle(n, prop, value)
}

func setStyle(n *html.Node, prop, value string) {
	prop = strings.ToLower(prop)
	decls := parseStyle(Attr(n, "style"))
	for i := range decls {
		if decls[i].prop == prop {
			decls[i].value = value
			setAttr(n, "style", formatStyle(decls))
			return
		}
	}
	setAttr(n, "style", formatStyle(append(decls, declaration{prop: prop, value: value})))
}

// Style returns the inline value of prop on n, or "" when unset.
func (p *Page) Style(n *html.Node, prop string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	prop = strings.ToLower(prop)
	for _, d := range parseStyle(Attr(n, "style")) {
		if d.prop == prop {
			return d.value
		}
	}
	return ""
}
