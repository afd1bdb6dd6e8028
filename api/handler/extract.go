package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/pluck/api/middleware"
	"github.com/use-agent/pluck/models"
)

// Extractor runs the extraction pipeline.
type Extractor interface {
	Extract(ctx context.Context, req models.ExtractRequest) (*models.ExtractResult, error)
}

// Options control error rendering.
type Options struct {
	// Debug exposes messages of unclassified errors.
	Debug bool
	// HelpURL, when set, is linked from every classified error as
	// HelpURL + "#" + lowercased error code.
	HelpURL string
}

// Extract returns a handler for GET and POST /api/v1/extract.
//
// GET takes url and fields query parameters, fields being the same JSON
// accepted in a POST body.
func Extract(x Extractor, opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := bindExtractRequest(c)
		if err != nil {
			respondError(c, err, opts)
			return
		}

		res, err := x.Extract(c.Request.Context(), req)
		if err != nil {
			respondError(c, err, opts)
			return
		}

		c.JSON(http.StatusOK, models.ExtractResponse{
			Success: true,
			Data:    res.Data,
			Cached:  res.Cached,
		})
	}
}

func bindExtractRequest(c *gin.Context) (models.ExtractRequest, error) {
	var req models.ExtractRequest
	if c.Request.Method == http.MethodGet {
		fields, err := models.ParseFieldList(c.Query("fields"))
		if err != nil {
			return req, err
		}
		req.URL = c.Query("url")
		req.Fields = fields
		return req, nil
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		var se *models.ScraperError
		if errors.As(err, &se) {
			return req, se
		}
		return req, &malformedBody{err: err}
	}
	return req, nil
}

// malformedBody is a request body that is not valid JSON.
type malformedBody struct{ err error }

func (e *malformedBody) Error() string { return "malformed JSON body: " + e.err.Error() }
func (e *malformedBody) Unwrap() error { return e.err }

// respondError writes the error envelope. Unclassified errors become 500
// and their message is hidden unless opts.Debug is set.
func respondError(c *gin.Context, err error, opts Options) {
	requestID := middleware.GetRequestID(c)
	_ = c.Error(err)

	var mb *malformedBody
	if errors.As(err, &mb) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: models.NewErrorDetail(models.ErrCodeInvalidInput, mb.Error(), requestID),
		})
		return
	}

	var se *models.ScraperError
	if !errors.As(err, &se) {
		msg := "internal server error"
		if opts.Debug {
			msg = err.Error()
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: models.NewErrorDetail(models.ErrCodeInternal, msg, requestID),
		})
		return
	}

	detail := models.NewErrorDetail(se.Code, se.Message, requestID)
	detail.SuggestedAction = se.SuggestedAction
	if opts.HelpURL != "" {
		detail.HelpURL = opts.HelpURL + "#" + strings.ToLower(se.Code)
	}
	if se.RetryAfter > 0 {
		secs := int(se.RetryAfter.Seconds())
		detail.RetryAfter = &secs
		if se.Kind == models.KindRateLimit {
			c.Header("Retry-After", strconv.Itoa(secs))
		}
	}
	c.JSON(StatusFor(se.Kind), models.ErrorResponse{Error: detail})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(k models.Kind) int {
	switch k {
	case models.KindValidation, models.KindParsing, models.KindExtraction:
		return http.StatusUnprocessableEntity
	case models.KindSecurity:
		return http.StatusForbidden
	case models.KindNetwork, models.KindTimeout:
		return http.StatusBadGateway
	case models.KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
