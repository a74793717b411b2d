package login

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type predicate func(*html.Node) bool

func attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// find returns the first node below root, in document order, matching p.
func find(root *html.Node, p predicate) *html.Node {
	if root == nil {
		return nil
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && p(c) {
			return c
		}
		if n := find(c, p); n != nil {
			return n
		}
	}
	return nil
}

func findAll(root *html.Node, p predicate) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && p(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

func byID(id string) predicate {
	return func(n *html.Node) bool {
		return attr(n, "id") == id
	}
}

func element(a atom.Atom) predicate {
	return func(n *html.Node) bool {
		return n.DataAtom == a
	}
}

// elementWith matches tag a carrying key=val.
func elementWith(a atom.Atom, key, val string) predicate {
	return func(n *html.Node) bool {
		return n.DataAtom == a && attr(n, key) == val
	}
}

func hasClass(a atom.Atom, class string) predicate {
	return func(n *html.Node) bool {
		if n.DataAtom != a {
			return false
		}
		for _, c := range strings.Fields(attr(n, "class")) {
			if c == class {
				return true
			}
		}
		return false
	}
}

// text is the concatenated text content of n.
func text(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// collapse folds whitespace runs to their first character and trims.
func collapse(s string) string {
	var b strings.Builder
	prevSpace := false
	for _, r := range s {
		isSpace := r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f'
		if isSpace && prevSpace {
			continue
		}
		prevSpace = isSpace
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
