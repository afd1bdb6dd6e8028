package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Field types accepted on FieldSpec.Type.
const (
	FieldTypeCSS  = "css"
	FieldTypeMeta = "meta"
)

// MetaPrefix marks a field name as a meta-tag lookup.
const MetaPrefix = "meta:"

// FieldSpec describes one named value to pull out of the page.
type FieldSpec struct {
	// Name is the key under which the value is returned.
	Name string `json:"name"`

	// Selector is a CSS selector for css fields, or the meta tag name for
	// meta fields.
	Selector string `json:"selector"`

	// Type is "css", "meta", or empty (treated as css unless Name carries
	// the meta: prefix).
	Type string `json:"type,omitempty"`

	// OriginalName keeps the caller's name when classification rewrote it.
	OriginalName string `json:"original_name,omitempty"`
}

// Key returns the name the caller expects to see in the response.
func (f FieldSpec) Key() string {
	if f.OriginalName != "" {
		return f.OriginalName
	}
	return f.Name
}

// ExtractRequest is the payload for POST /api/v1/extract.
type ExtractRequest struct {
	// URL is the target page. Required.
	URL string `json:"url" form:"url"`

	// Fields lists what to extract. Required.
	Fields FieldList `json:"fields"`
}

// Validate checks the request shape. It does not look at the URL's
// safety; that is the url guard's job.
func (r *ExtractRequest) Validate() error {
	r.URL = strings.TrimSpace(r.URL)
	if r.URL == "" {
		return NewValidationError("url is required", nil).With("field", "url")
	}
	if len(r.Fields) == 0 {
		return NewValidationError("at least one field is required", nil).With("field", "fields")
	}
	seen := make(map[string]struct{}, len(r.Fields))
	for i, f := range r.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return NewValidationError("field name must not be empty", nil).With("index", i)
		}
		if _, dup := seen[f.Name]; dup {
			return NewValidationError(fmt.Sprintf("duplicate field name %q", f.Name), nil).With("field", f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.Type != "" && f.Type != FieldTypeCSS && f.Type != FieldTypeMeta {
			return NewValidationError(fmt.Sprintf("unsupported field type %q", f.Type), nil).With("field", f.Name)
		}
	}
	return nil
}

// FieldList is the normalized, ordered list of requested fields.
//
// It decodes from three JSON shapes:
//
//	{"title": "h1", "meta:description": "description"}
//	{"title": {"selector": "h1"}, "desc": {"selector": "description", "type": "meta"}}
//	[{"name": "title", "selector": "h1"}, {"name": "desc", "selector": "description", "type": "meta"}]
//
// Object key order is preserved.
type FieldList []FieldSpec

// UnmarshalJSON implements json.Unmarshaler.
func (l *FieldList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}

	var (
		fields []FieldSpec
		err    error
	)
	switch data[0] {
	case '{':
		fields, err = decodeFieldObject(data)
	case '[':
		fields, err = decodeFieldArray(data)
	default:
		err = NewValidationError("fields must be an object or an array", nil)
	}
	if err != nil {
		return err
	}
	*l = fields
	return nil
}

// ParseFieldList decodes the fields query parameter used by GET requests.
func ParseFieldList(raw string) (FieldList, error) {
	var l FieldList
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	if err := l.UnmarshalJSON([]byte(raw)); err != nil {
		return nil, err
	}
	return l, nil
}

func decodeFieldObject(data []byte) ([]FieldSpec, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil { // opening brace
		return nil, NewValidationError("malformed fields object", err)
	}

	var fields []FieldSpec
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, NewValidationError("malformed fields object", err)
		}
		name, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, NewValidationError("malformed fields object", err)
		}

		spec, err := fieldFromValue(name, raw)
		if err != nil {
			return nil, err
		}
		fields = append(fields, spec)
	}
	return fields, nil
}

func fieldFromValue(name string, raw json.RawMessage) (FieldSpec, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return FieldSpec{}, NewValidationError(fmt.Sprintf("field %q has no selector", name), nil)
	}

	switch raw[0] {
	case '"':
		var selector string
		if err := json.Unmarshal(raw, &selector); err != nil {
			return FieldSpec{}, NewValidationError(fmt.Sprintf("field %q: invalid selector", name), err)
		}
		return FieldSpec{Name: name, Selector: selector}, nil
	case '{':
		var v struct {
			Selector string `json:"selector"`
			Type     string `json:"type"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return FieldSpec{}, NewValidationError(fmt.Sprintf("field %q: invalid definition", name), err)
		}
		return FieldSpec{Name: name, Selector: v.Selector, Type: v.Type}, nil
	default:
		return FieldSpec{}, NewValidationError(fmt.Sprintf("field %q must be a selector string or an object", name), nil)
	}
}

func decodeFieldArray(data []byte) ([]FieldSpec, error) {
	var items []struct {
		Name     json.RawMessage `json:"name"`
		Selector string          `json:"selector"`
		Type     string          `json:"type"`
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, NewValidationError("malformed fields array", err)
	}

	fields := make([]FieldSpec, 0, len(items))
	for i, item := range items {
		name := coerceName(item.Name)
		if name == "" {
			return nil, NewValidationError("field name must not be empty", nil).With("index", i)
		}
		fields = append(fields, FieldSpec{Name: name, Selector: item.Selector, Type: item.Type})
	}
	return fields, nil
}

// coerceName turns a JSON name of any scalar type into its string form.
func coerceName(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}
