package extractor

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/pluck/models"
)

// metaKeyAttrs are the attributes a <meta> tag may be addressed by.
var metaKeyAttrs = []string{"name", "property", "itemprop", "http-equiv"}

// Meta returns the content of the first <meta> tag whose name, property,
// itemprop or http-equiv equals name, ignoring case. "title" falls back to
// the <title> element when no meta tag matches.
func (d *Document) Meta(name string) models.ExtractedField {
	key := strings.TrimSpace(name)
	if key == "" {
		return models.ExtractionFailed(name, models.FieldErrEmptySelector)
	}

	var (
		value string
		found bool
	)
	d.doc.Find("meta[content]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, attr := range metaKeyAttrs {
			if v, ok := s.Attr(attr); ok && strings.EqualFold(strings.TrimSpace(v), key) {
				value, _ = s.Attr("content")
				found = true
				return false
			}
		}
		return true
	})
	if found {
		return models.Extracted(name, strings.TrimSpace(value))
	}

	if strings.EqualFold(key, "title") {
		if t, ok := d.Title(); ok {
			return models.Extracted(name, t)
		}
	}
	return models.ExtractionFailed(name, fmt.Sprintf("%s: %s", models.FieldErrMetaNotFound, key))
}
