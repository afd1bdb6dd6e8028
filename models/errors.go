package models

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind is the closed set of failure categories shared by every pipeline stage.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindSecurity
	KindNetwork
	KindTimeout
	KindParsing
	KindRateLimit
	KindExtraction
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindSecurity:
		return "security"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindParsing:
		return "parsing"
	case KindRateLimit:
		return "rate_limit"
	case KindExtraction:
		return "extraction"
	default:
		return "unknown"
	}
}

// Error codes used in API responses and internal error handling.
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeSecurity     = "SECURITY_ERROR"
	ErrCodeNetwork      = "NETWORK_ERROR"
	ErrCodeTimeout      = "TIMEOUT_ERROR"
	ErrCodeParsing      = "PARSING_ERROR"
	ErrCodeRateLimited  = "RATE_LIMIT_EXCEEDED"
	ErrCodeExtraction   = "EXTRACTION_ERROR"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeBlocked      = "REQUEST_BLOCKED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// DefaultRetryAfter is applied to rate-limit errors created without one.
const DefaultRetryAfter = 60 * time.Second

// ScraperError is the internal error type carrying a taxonomy kind.
// It implements the error interface and supports error wrapping via Unwrap.
type ScraperError struct {
	Kind            Kind
	Code            string
	Message         string
	Context         map[string]any
	SuggestedAction string

	// RetryAfter is set for Network and RateLimit errors when known.
	RetryAfter time.Duration
	// StatusCode is the upstream HTTP status for Network errors.
	StatusCode int
	// Timeout is the configured deadline for Timeout errors.
	Timeout time.Duration

	Err error // wrapped original error
}

func (e *ScraperError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScraperError) Unwrap() error {
	return e.Err
}

// IsNetwork reports whether the error belongs to the network family.
// Timeout errors are a network subtype.
func (e *ScraperError) IsNetwork() bool {
	return e.Kind == KindNetwork || e.Kind == KindTimeout
}

// With returns the error after attaching a diagnostic key/value.
func (e *ScraperError) With(key string, value any) *ScraperError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewValidationError reports malformed caller input.
func NewValidationError(message string, err error) *ScraperError {
	return &ScraperError{
		Kind:            KindValidation,
		Code:            ErrCodeValidation,
		Message:         message,
		SuggestedAction: "Check the request parameters and try again.",
		Err:             err,
	}
}

// NewSecurityError reports a target rejected by SSRF checks.
func NewSecurityError(message string, err error) *ScraperError {
	return &ScraperError{
		Kind:            KindSecurity,
		Code:            ErrCodeSecurity,
		Message:         message,
		SuggestedAction: "Use a public http(s) URL.",
		Err:             err,
	}
}

// NewNetworkError reports a failed outbound request. statusCode is zero for
// connection-level failures.
func NewNetworkError(message string, statusCode int, retryAfter time.Duration, err error) *ScraperError {
	return &ScraperError{
		Kind:            KindNetwork,
		Code:            ErrCodeNetwork,
		Message:         message,
		SuggestedAction: "Verify the target site is reachable and try again later.",
		StatusCode:      statusCode,
		RetryAfter:      retryAfter,
		Err:             err,
	}
}

// NewTimeoutError reports an outbound request that exceeded its deadline.
func NewTimeoutError(message string, timeout time.Duration, err error) *ScraperError {
	return &ScraperError{
		Kind:            KindTimeout,
		Code:            ErrCodeTimeout,
		Message:         message,
		SuggestedAction: "The target site is slow to respond; try again later.",
		Timeout:         timeout,
		Err:             err,
	}
}

// NewParsingError reports a response body that could not be parsed.
func NewParsingError(message string, err error) *ScraperError {
	return &ScraperError{
		Kind:            KindParsing,
		Code:            ErrCodeParsing,
		Message:         message,
		SuggestedAction: "Ensure the URL returns an HTML document.",
		Err:             err,
	}
}

// NewRateLimitError reports a throttled request. A zero retryAfter falls
// back to DefaultRetryAfter.
func NewRateLimitError(message string, retryAfter time.Duration) *ScraperError {
	if retryAfter <= 0 {
		retryAfter = DefaultRetryAfter
	}
	return &ScraperError{
		Kind:            KindRateLimit,
		Code:            ErrCodeRateLimited,
		Message:         message,
		SuggestedAction: fmt.Sprintf("Wait %d seconds before retrying.", int(retryAfter.Seconds())),
		RetryAfter:      retryAfter,
	}
}

// NewExtractionError reports a failure while extracting fields.
func NewExtractionError(message string, err error) *ScraperError {
	return &ScraperError{
		Kind:            KindExtraction,
		Code:            ErrCodeExtraction,
		Message:         message,
		SuggestedAction: "Check the field selectors against the page markup.",
		Err:             err,
	}
}

// AsScraperError translates any error into the taxonomy. Errors that already
// carry a kind are returned unchanged.
func AsScraperError(err error) *ScraperError {
	if err == nil {
		return nil
	}
	var se *ScraperError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("operation timed out", 0, err)
	}
	if errors.Is(err, context.Canceled) {
		return NewNetworkError("request cancelled", 0, 0, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewTimeoutError("network timeout", 0, err)
		}
		return NewNetworkError("network failure", 0, 0, err)
	}
	return NewExtractionError("unexpected extraction failure", err)
}
