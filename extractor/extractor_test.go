package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/pluck/models"
)

const page = `<!DOCTYPE html>
<html>
<head>
  <title>  Example
     Domain </title>
  <meta name="Description" content="An example page.">
  <meta property="og:title" content="OG Example">
  <meta itemprop="price" content=" 9.99 ">
  <meta http-equiv="content-language" content="en">
  <meta name="robots">
</head>
<body>
  <h1>Hello,
      <em>world</em>!</h1>
  <p class="price">$10</p>
  <p class="price">$20</p>
  <span class="empty"></span>
</body>
</html>`

func parse(t *testing.T, body string) *Document {
	t.Helper()
	doc, err := NewParser().Parse([]byte(body))
	require.NoError(t, err)
	return doc
}

func TestParse_EmptyBody(t *testing.T) {
	_, err := NewParser().Parse([]byte("  \n"))
	var se *models.ScraperError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, models.KindParsing, se.Kind)
}

func TestParse_Fragment(t *testing.T) {
	doc := parse(t, "<div><b>bold</b></div>")
	f := doc.CSS("b")
	require.True(t, f.Success())
	assert.Equal(t, "bold", *f.Value)
}

func TestDocument_CSS(t *testing.T) {
	doc := parse(t, page)

	tests := []struct {
		name     string
		selector string
		want     string
		wantErr  string
	}{
		{"collapses whitespace", "h1", "Hello, world!", ""},
		{"first match", ".price", "$10", ""},
		{"empty text", "span.empty", "", ""},
		{"no match", ".missing", "", models.FieldErrNoMatch},
		{"empty selector", "  ", "", models.FieldErrEmptySelector},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := doc.CSS(tt.selector)
			assert.Equal(t, tt.selector, f.Selector)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, f.Error)
				assert.Nil(t, f.Value)
				return
			}
			require.True(t, f.Success(), f.Error)
			assert.Equal(t, tt.want, *f.Value)
		})
	}
}

func TestDocument_CSSInvalidSyntax(t *testing.T) {
	f := parse(t, page).CSS("div[")
	assert.True(t, f.Failed())
	assert.Contains(t, f.Error, models.FieldErrInvalidSyntax+": ")
}

func TestDocument_Meta(t *testing.T) {
	doc := parse(t, page)

	tests := []struct {
		name string
		key  string
		want string
	}{
		{"name attribute case-insensitive", "description", "An example page."},
		{"property", "og:title", "OG Example"},
		{"itemprop trimmed", "price", "9.99"},
		{"http-equiv", "Content-Language", "en"},
		{"title fallback", "title", "Example Domain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := doc.Meta(tt.key)
			require.True(t, f.Success(), f.Error)
			assert.Equal(t, tt.want, *f.Value)
		})
	}
}

func TestDocument_MetaNotFound(t *testing.T) {
	doc := parse(t, page)

	f := doc.Meta("keywords")
	assert.Equal(t, models.FieldErrMetaNotFound+": keywords", f.Error)

	// A meta tag without content does not count as found.
	f = doc.Meta("robots")
	assert.True(t, f.Failed())

	f = doc.Meta("")
	assert.Equal(t, models.FieldErrEmptySelector, f.Error)
}

func TestDocument_MetaPrefersMetaTitle(t *testing.T) {
	doc := parse(t, `<html><head><title>Tag</title><meta name="title" content="Meta"></head></html>`)
	f := doc.Meta("title")
	require.True(t, f.Success())
	assert.Equal(t, "Meta", *f.Value)
}
