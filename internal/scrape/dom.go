package scrape

import (
	"strings"

	"golang.org/x/net/html"
)

// Minimal CSS-ish selector engine over x/net/html trees. Supports simple
// selectors (tag, .class, #id, tag.class, [attr], [attr=value]) joined by
// descendant combinators, which covers every rule in the fallback lists.

type simpleSel struct {
	tag     string
	classes []string
	id      string
	attrKey string
	attrVal string
}

func parseSelector(sel string) []simpleSel {
	parts := strings.Fields(sel)
	out := make([]simpleSel, 0, len(parts))
	for _, p := range parts {
		out = append(out, parseSimple(p))
	}
	return out
}

func parseSimple(s string) simpleSel {
	var sel simpleSel

	// [attr=value] suffix
	if i := strings.IndexByte(s, '['); i >= 0 {
		attr := strings.TrimSuffix(s[i+1:], "]")
		if j := strings.IndexByte(attr, '='); j >= 0 {
			sel.attrKey = attr[:j]
			sel.attrVal = strings.Trim(attr[j+1:], `"'`)
		} else {
			sel.attrKey = attr
		}
		s = s[:i]
	}

	for s != "" {
		switch s[0] {
		case '.':
			rest := s[1:]
			end := nextDelim(rest)
			sel.classes = append(sel.classes, rest[:end])
			s = rest[end:]
		case '#':
			rest := s[1:]
			end := nextDelim(rest)
			sel.id = rest[:end]
			s = rest[end:]
		default:
			end := nextDelim(s)
			sel.tag = s[:end]
			s = s[end:]
		}
	}
	return sel
}

func nextDelim(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' || s[i] == '#' {
			return i
		}
	}
	return len(s)
}

func (s simpleSel) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.id != "" && nodeAttr(n, "id") != s.id {
		return false
	}
	if len(s.classes) > 0 {
		have := strings.Fields(nodeAttr(n, "class"))
		for _, want := range s.classes {
			found := false
			for _, c := range have {
				if c == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	if s.attrKey != "" {
		v, ok := lookupAttr(n, s.attrKey)
		if !ok {
			return false
		}
		if s.attrVal != "" && v != s.attrVal {
			return false
		}
	}
	return true
}

// querySelectorAll returns every node matching the selector in document
// order, capped by limit (0 = unbounded). A node matches when it satisfies
// the last simple selector and its ancestor chain covers the prefix in order.
func querySelectorAll(root *html.Node, selector string, limit int) []*html.Node {
	chain := parseSelector(selector)
	if len(chain) == 0 {
		return nil
	}
	last := chain[len(chain)-1]
	prefix := chain[:len(chain)-1]

	var out []*html.Node
	var ancestors []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if limit > 0 && len(out) >= limit {
			return
		}
		if last.matches(n) && ancestorsSatisfy(ancestors, prefix) {
			out = append(out, n)
		}
		ancestors = append(ancestors, n)
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		ancestors = ancestors[:len(ancestors)-1]
	}
	walk(root)
	return out
}

// ancestorsSatisfy checks the prefix selectors match some subsequence of the
// ancestor stack, outermost first.
func ancestorsSatisfy(ancestors []*html.Node, prefix []simpleSel) bool {
	i := 0
	for _, a := range ancestors {
		if i == len(prefix) {
			break
		}
		if prefix[i].matches(a) {
			i++
		}
	}
	return i == len(prefix)
}

// querySelector returns the first match in document order, nil when none.
func querySelector(root *html.Node, selector string) *html.Node {
	nodes := querySelectorAll(root, selector, 1)
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

func nodeAttr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// nodeText collects the visible text under a node, whitespace-collapsed.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
			return
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// forEachElement walks elements of the given tag in document order, stopping
// when fn returns false.
func forEachElement(root *html.Node, tag string, fn func(*html.Node) bool) {
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == tag {
			if !fn(n) {
				return false
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(root)
}
