// Package htmlq runs simple CSS selector queries over a parsed HTML page.
//
// Supported selector parts: tag, .class, #id, tag.class, tag#id,
// tag[attr], tag[attr=val], joined by spaces (descendant combinator).
package htmlq

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// Parse parses a full page.
func Parse(page string) (*html.Node, error) {
	return html.Parse(strings.NewReader(page))
}

// All returns the nodes matching selector in document order, each once.
func All(root *html.Node, selector string) []*html.Node {
	parts := strings.Fields(selector)
	if root == nil || len(parts) == 0 {
		return nil
	}

	matches := matchUnder(root, parse(parts[0]), true)
	for _, p := range parts[1:] {
		sel := parse(p)
		seen := make(map[*html.Node]bool)
		var next []*html.Node
		for _, anc := range matches {
			for _, n := range matchUnder(anc, sel, false) {
				if !seen[n] {
					seen[n] = true
					next = append(next, n)
				}
			}
		}
		matches = next
	}
	return matches
}

// First returns the first match or nil.
func First(root *html.Node, selector string) *html.Node {
	if m := All(root, selector); len(m) > 0 {
		return m[0]
	}
	return nil
}

// Text returns the visible text under n. Cell and row boundaries become
// whitespace so adjacent cells do not run together.
func Text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style":
				return
			case "td", "th", "tr", "br", "p", "div":
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// Render returns the outer HTML of n.
func Render(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}

type selector struct {
	tag     string
	id      string
	class   string
	attrKey string
	attrVal string
}

func parse(sel string) selector {
	var s selector
	if i := strings.IndexByte(sel, '['); i >= 0 {
		attr := strings.TrimRight(sel[i+1:], "]")
		sel = sel[:i]
		if eq := strings.IndexByte(attr, '='); eq >= 0 {
			s.attrKey = attr[:eq]
			s.attrVal = strings.Trim(attr[eq+1:], `"'`)
		} else {
			s.attrKey = attr
		}
	}
	if i := strings.IndexByte(sel, '#'); i >= 0 {
		s.id = sel[i+1:]
		sel = sel[:i]
	}
	if i := strings.IndexByte(sel, '.'); i >= 0 {
		s.class = sel[i+1:]
		sel = sel[:i]
	}
	s.tag = strings.ToLower(sel)
	return s
}

func matchUnder(root *html.Node, s selector, includeRoot bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node, bool)
	walk = func(n *html.Node, self bool) {
		if self && s.matches(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, true)
		}
	}
	walk(root, includeRoot)
	return out
}

func (s selector) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.id != "" && attr(n, "id") != s.id {
		return false
	}
	if s.class != "" && !hasClass(n, s.class) {
		return false
	}
	if s.attrKey != "" {
		v, ok := lookup(n, s.attrKey)
		if !ok || (s.attrVal != "" && v != s.attrVal) {
			return false
		}
	}
	return true
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	v, _ := lookup(n, key)
	return v
}

func lookup(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
