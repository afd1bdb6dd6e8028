// Package classifier splits requested fields into CSS-selector fields and
// meta-tag fields.
package classifier

import (
	"strings"

	"github.com/use-agent/pluck/models"
)

// Classify partitions fields into css and meta sequences. It is a stable
// partition: every input appears in exactly one output, and relative order
// within each output matches the input.
//
// A field is meta when its Type is "meta" or its Name starts with "meta:".
// Prefix-derived meta fields have the prefix stripped from Name and keep the
// caller's name in OriginalName. Type is never rewritten.
func Classify(fields []models.FieldSpec) (css, meta []models.FieldSpec) {
	css = make([]models.FieldSpec, 0, len(fields))
	meta = make([]models.FieldSpec, 0)

	for _, f := range fields {
		if !IsMeta(f) {
			css = append(css, f)
			continue
		}
		if strings.HasPrefix(f.Name, models.MetaPrefix) {
			f.OriginalName = f.Name
			f.Name = strings.TrimPrefix(f.Name, models.MetaPrefix)
		}
		meta = append(meta, f)
	}
	return css, meta
}

// IsMeta reports whether a single field would be classified as meta.
func IsMeta(f models.FieldSpec) bool {
	return f.Type == models.FieldTypeMeta || strings.HasPrefix(f.Name, models.MetaPrefix)
}
