// Package dom provides a small parsed-document tree used by the field extractor,
// decoupled from the HTML parser that produced it.
package dom

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// NodeType distinguishes the kinds of nodes kept in the tree.
type NodeType int

// Node kinds. Comments and doctypes are dropped while converting.
const (
	DocumentNode NodeType = iota
	ElementNode
	TextNode
)

// Node is one node of the parsed document.
type Node struct {
	Type     NodeType
	Tag      string
	Attrs    map[string]string
	Data     string
	Parent   *Node
	Children []*Node
}

// Parse reads HTML markup and returns the document root.
func Parse(r io.Reader) (*Node, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return FromHTML(root), nil
}

// FromHTML converts an x/net/html tree.
func FromHTML(n *html.Node) *Node {
	out := convert(n, nil)
	if out == nil {
		return &Node{Type: DocumentNode}
	}
	return out
}

func convert(n *html.Node, parent *Node) *Node {
	var node *Node
	switch n.Type {
	case html.DocumentNode:
		node = &Node{Type: DocumentNode}
	case html.ElementNode:
		node = &Node{Type: ElementNode, Tag: strings.ToLower(n.Data), Attrs: make(map[string]string, len(n.Attr))}
		for _, a := range n.Attr {
			node.Attrs[strings.ToLower(a.Key)] = a.Val
		}
	case html.TextNode:
		return &Node{Type: TextNode, Data: n.Data, Parent: parent}
	default:
		return nil
	}
	node.Parent = parent
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if child := convert(c, node); child != nil {
			node.Children = append(node.Children, child)
		}
	}
	return node
}

// Is reports whether n is an element with one of the given tags.
func (n *Node) Is(tags ...string) bool {
	if n == nil || n.Type != ElementNode {
		return false
	}
	for _, t := range tags {
		if n.Tag == t {
			return true
		}
	}
	return false
}

// Elements returns a predicate matching elements with any of tags.
func Elements(tags ...string) func(*Node) bool {
	return func(n *Node) bool { return n.Is(tags...) }
}

// Attr returns the attribute value or "".
func (n *Node) Attr(key string) string {
	if n == nil || n.Attrs == nil {
		return ""
	}
	return n.Attrs[key]
}

// HasClass reports whether the class attribute lists class.
func (n *Node) HasClass(class string) bool {
	for _, c := range strings.Fields(n.Attr("class")) {
		if c == class {
			return true
		}
	}
	return false
}

// Walk visits n and its descendants in document order until fn returns false.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for _, c := range n.Children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// FindAll returns the descendants of n (excluding n) matching pred, in document order.
func (n *Node) FindAll(pred func(*Node) bool) []*Node {
	var out []*Node
	for _, c := range n.children() {
		c.Walk(func(d *Node) bool {
			if pred(d) {
				out = append(out, d)
			}
			return true
		})
	}
	return out
}

// Find returns the first descendant of n matching pred.
func (n *Node) Find(pred func(*Node) bool) *Node {
	var found *Node
	for _, c := range n.children() {
		c.Walk(func(d *Node) bool {
			if pred(d) {
				found = d
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	return nil
}

// Ancestor returns the nearest enclosing element with tag, excluding n itself.
func (n *Node) Ancestor(tag string) *Node {
	if n == nil {
		return nil
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Is(tag) {
			return p
		}
	}
	return nil
}

// NextSiblingElement returns the next sibling element with tag.
func (n *Node) NextSiblingElement(tag string) *Node {
	if n == nil || n.Parent == nil {
		return nil
	}
	siblings := n.Parent.Children
	for i, s := range siblings {
		if s != n {
			continue
		}
		for _, next := range siblings[i+1:] {
			if next.Is(tag) {
				return next
			}
		}
		break
	}
	return nil
}

// Text joins the trimmed, non-empty text pieces under n with sep.
func (n *Node) Text(sep string) string {
	var parts []string
	n.Walk(func(d *Node) bool {
		if d.Type == TextNode {
			if s := strings.TrimSpace(d.Data); s != "" {
				parts = append(parts, s)
			}
		}
		return true
	})
	return strings.Join(parts, sep)
}

// OwnString returns the single string an element wraps, following a chain of
// only-children down to a text node. It reports false when the element holds
// more than one child.
func (n *Node) OwnString() (string, bool) {
	cur := n
	for cur != nil {
		switch cur.Type {
		case TextNode:
			return cur.Data, true
		default:
			if len(cur.Children) != 1 {
				return "", false
			}
			cur = cur.Children[0]
		}
	}
	return "", false
}

func (n *Node) children() []*Node {
	if n == nil {
		return nil
	}
	return n.Children
}
