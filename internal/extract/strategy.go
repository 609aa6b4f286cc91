package extract

import (
	"fmt"
	"strings"

	"github.com/fliupa/cni-scrapy/internal/dom"
	"github.com/fliupa/cni-scrapy/internal/harvest"
)

// Strategy is one way of finding a field value. An empty result means "try the next one".
type Strategy struct {
	Name   string
	Lookup func(doc harvest.Document) (string, error)
}

// Selector reads the text of the first element matching sel on the rendered
// page. When the text carries prefix, only the part after its first colon is kept.
func Selector(sel, prefix string) Strategy {
	return Strategy{
		Name: "selector " + sel,
		Lookup: func(doc harvest.Document) (string, error) {
			text, err := doc.SelectText(sel)
			if err != nil {
				return "", fmt.Errorf("select %q: %w", sel, err)
			}
			text = strings.TrimSpace(text)
			if prefix != "" && strings.Contains(text, prefix) {
				text = afterColon(text)
			}
			return text, nil
		},
	}
}

// BoldLabel finds a bold element containing label and returns the text after its first colon.
func BoldLabel(label string) Strategy {
	return Strategy{
		Name: "bold label " + label,
		Lookup: func(doc harvest.Document) (string, error) {
			for _, b := range doc.Root().FindAll(dom.Elements("b")) {
				text := b.Text(" ")
				if strings.Contains(text, label) {
					if v := afterColon(text); v != "" {
						return v, nil
					}
				}
			}
			return "", nil
		},
	}
}

// TextScan scans raw text nodes for one containing label and a colon and
// returns the trimmed text after the first colon.
func TextScan(label string) Strategy {
	return Strategy{
		Name: "text scan " + label,
		Lookup: func(doc harvest.Document) (string, error) {
			var found string
			doc.Root().Walk(func(n *dom.Node) bool {
				if n.Type != dom.TextNode || !strings.Contains(n.Data, label) || !strings.Contains(n.Data, ":") {
					return true
				}
				found = afterColon(n.Data)
				return found == ""
			})
			return found, nil
		},
	}
}

// SiblingRow is the generic label lookup, see FindSiblingRowValue.
func SiblingRow(label string) Strategy {
	return Strategy{
		Name: "sibling row " + label,
		Lookup: func(doc harvest.Document) (string, error) {
			v, found := FindSiblingRowValue(doc.Root(), label)
			if found && v == "" {
				return "", ErrEmptyValue
			}
			return v, nil
		},
	}
}

// FindSiblingRowValue locates an element whose own text contains label
// (case-insensitively), moves to the row after the one enclosing it and
// returns the text of that row's general-section cell, or of its first cell.
// The first label whose next row has a cell decides the result, even when
// that cell is empty; found reports whether such a cell exists.
func FindSiblingRowValue(root *dom.Node, label string) (string, bool) {
	if root == nil || label == "" {
		return "", false
	}
	needle := strings.ToLower(label)
	for _, n := range root.FindAll(dom.Elements("b", "td", "tr")) {
		own, ok := n.OwnString()
		if !ok || !strings.Contains(strings.ToLower(own), needle) {
			continue
		}
		next := n.Ancestor("tr").NextSiblingElement("tr")
		if next == nil {
			continue
		}
		cell := next.Find(func(c *dom.Node) bool {
			return c.Is("td") && c.HasClass(generalSectionClass)
		})
		if cell == nil {
			cell = next.Find(dom.Elements("td"))
		}
		if cell == nil {
			continue
		}
		return clean(cell.Text(" ")), true
	}
	return "", false
}

// Standards handles the standards/recommendations section: the row after the
// bold label lists one citation per link, or holds plain text when it has none.
func Standards(label string) Strategy {
	return Strategy{
		Name: "standards " + label,
		Lookup: func(doc harvest.Document) (string, error) {
			for _, b := range doc.Root().FindAll(dom.Elements("b")) {
				if !strings.Contains(b.Text(""), label) {
					continue
				}
				next := b.Ancestor("tr").NextSiblingElement("tr")
				if next == nil {
					continue
				}
				var citations []string
				for _, a := range next.FindAll(dom.Elements("a")) {
					if text := a.Text(""); text != "" {
						citations = append(citations, text)
					}
				}
				if len(citations) > 0 {
					return strings.Join(citations, "\n"), nil
				}
				if v := clean(next.Text(" ")); v != "" {
					return v, nil
				}
				return "", ErrEmptyValue
			}
			return "", nil
		},
	}
}

func afterColon(s string) string {
	_, after, found := strings.Cut(s, ":")
	if !found {
		return ""
	}
	return strings.TrimSpace(after)
}

func clean(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", ""))
}
