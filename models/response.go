package models

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Field-level failure causes.
const (
	FieldErrNoMatch       = "selector matched no elements"
	FieldErrInvalidSyntax = "invalid selector syntax"
	FieldErrEmptySelector = "empty selector"
	FieldErrMetaNotFound  = "meta tag not found"
)

// ExtractedField is the uniform outcome of one CSS or meta extraction.
// Exactly one of Value and Error is set. It is never modified after creation.
type ExtractedField struct {
	Selector string  `json:"selector"`
	Value    *string `json:"value,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Extracted returns a successful field.
func Extracted(selector, value string) ExtractedField {
	return ExtractedField{Selector: selector, Value: &value}
}

// ExtractionFailed returns a failed field carrying a human-readable cause.
func ExtractionFailed(selector, cause string) ExtractedField {
	return ExtractedField{Selector: selector, Error: cause}
}

// Success reports whether a value was extracted.
func (f ExtractedField) Success() bool { return f.Error == "" }

// Failed is the negation of Success.
func (f ExtractedField) Failed() bool { return !f.Success() }

// ResultEntry is one keyed slot of a ResultSet.
type ResultEntry struct {
	Key   string         `json:"key"`
	Field ExtractedField `json:"field"`
}

// ResultSet is the ordered, merged result of one extraction request.
//
// It marshals as a JSON object in insertion order. Successful slots render
// as their string value; failed slots render as {"error": "<cause>"}.
type ResultSet []ResultEntry

// Get returns the field stored under key.
func (rs ResultSet) Get(key string) (ExtractedField, bool) {
	for _, e := range rs {
		if e.Key == key {
			return e.Field, true
		}
	}
	return ExtractedField{}, false
}

// Failures counts the failed slots.
func (rs ResultSet) Failures() int {
	n := 0
	for _, e := range rs {
		if e.Field.Failed() {
			n++
		}
	}
	return n
}

// MarshalJSON implements json.Marshaler.
func (rs ResultSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range rs {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var val []byte
		if e.Field.Success() && e.Field.Value != nil {
			val, err = json.Marshal(*e.Field.Value)
		} else {
			val, err = json.Marshal(map[string]string{"error": e.Field.Error})
		}
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ExtractResult is what the pipeline hands back to the boundary layer.
type ExtractResult struct {
	URL    string
	Data   ResultSet
	Cached bool
}

// ExtractResponse is the success body for /api/v1/extract.
type ExtractResponse struct {
	Success bool      `json:"success"`
	Data    ResultSet `json:"data"`
	Cached  bool      `json:"cached"`
}

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	ErrorID         string `json:"error_id"`
	Timestamp       string `json:"timestamp"`
	RequestID       string `json:"request_id"`
	HelpURL         string `json:"help_url,omitempty"`
	RetryAfter      *int   `json:"retry_after,omitempty"`
	SuggestedAction string `json:"suggested_action,omitempty"`
}

// NewErrorDetail stamps a fresh error ID and the current UTC time.
func NewErrorDetail(code, message, requestID string) *ErrorDetail {
	return &ErrorDetail{
		Code:      code,
		Message:   message,
		ErrorID:   uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestID,
	}
}

// ErrorResponse is the failure body for every API endpoint.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}

// RateLimitResponse is the body written by the admission gate on 429.
type RateLimitResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after"`
}

// BlockedResponse is the body written by the admission gate on 422.
type BlockedResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Cache   string `json:"cache"`
	Version string `json:"version"`
}
