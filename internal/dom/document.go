package dom

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Document is a static page: selector lookups run against the same markup
// the tree was parsed from.
type Document struct {
	root  *Node
	query *goquery.Document
}

// NewDocument parses markup into a Document.
func NewDocument(markup string) (*Document, error) {
	parsed, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{
		root:  FromHTML(parsed),
		query: goquery.NewDocumentFromNode(parsed),
	}, nil
}

// SelectText returns the trimmed text of the first element matching selector.
func (d *Document) SelectText(selector string) (string, error) {
	sel := d.query.Find(selector).First()
	if sel.Length() == 0 {
		return "", nil
	}
	return strings.TrimSpace(sel.Text()), nil
}

// Root returns the parsed tree.
func (d *Document) Root() *Node {
	return d.root
}
