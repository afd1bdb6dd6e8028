// Package extractor parses fetched pages once and answers CSS and meta
// field lookups against the parsed tree.
package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/use-agent/pluck/models"
)

// Parser turns a response body into a Document.
type Parser struct{}

// NewParser returns a Parser.
func NewParser() *Parser { return &Parser{} }

// Parse parses body as HTML. An empty body is a parsing error.
func (p *Parser) Parse(body []byte) (*Document, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, models.NewParsingError("empty response body", nil)
	}
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, models.NewParsingError("failed to parse HTML", err)
	}
	return &Document{doc: goquery.NewDocumentFromNode(root)}, nil
}

// Document is a parsed page. It is read-only and safe for concurrent use.
type Document struct {
	doc *goquery.Document
}

// CSS returns the whitespace-collapsed text of the first element matching
// selector.
func (d *Document) CSS(selector string) models.ExtractedField {
	sel := strings.TrimSpace(selector)
	if sel == "" {
		return models.ExtractionFailed(selector, models.FieldErrEmptySelector)
	}
	compiled, err := cascadia.Compile(sel)
	if err != nil {
		return models.ExtractionFailed(selector, fmt.Sprintf("%s: %v", models.FieldErrInvalidSyntax, err))
	}
	match := d.doc.FindMatcher(compiled).First()
	if match.Length() == 0 {
		return models.ExtractionFailed(selector, models.FieldErrNoMatch)
	}
	return models.Extracted(selector, collapse(match.Text()))
}

// Title returns the text of the document's <title> element.
func (d *Document) Title() (string, bool) {
	t := d.doc.Find("title").First()
	if t.Length() == 0 {
		return "", false
	}
	return collapse(t.Text()), true
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
