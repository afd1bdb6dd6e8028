package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/pluck/gate"
	"github.com/use-agent/pluck/metrics"
	"github.com/use-agent/pluck/models"
)

// Client-facing admission messages. They never name the matched rule.
const (
	RateLimitedMessage = "Rate limit exceeded. Please try again later."
	BlockedMessage     = "Request blocked for security reasons"
)

// maxPeekBody bounds how much of a POST body is read to find the target URL.
const maxPeekBody = 1 << 20

// Admission runs every request through the gate before any handler.
func Admission(g *gate.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := g.Check(c.Request.Context(), gate.Request{
			ClientIP:  c.ClientIP(),
			Path:      c.Request.URL.Path,
			TargetURL: targetURL(c),
		})
		metrics.RecordGateDecision(d.Rule, d.Action.String())

		switch d.Action {
		case gate.ActionBlock:
			se := models.NewSecurityError(BlockedMessage, nil).With("rule", d.Rule)
			se.Code = models.ErrCodeBlocked
			_ = c.Error(se)
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, models.BlockedResponse{
				Success: false,
				Error:   se.Message,
			})
			return
		case gate.ActionThrottle:
			se := models.NewRateLimitError(RateLimitedMessage, d.Window).With("rule", d.Rule)
			_ = c.Error(se)
			retryAfter := int(se.RetryAfter.Seconds())
			h := c.Writer.Header()
			h.Set("Retry-After", strconv.Itoa(retryAfter))
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", "0")
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.RateLimitResponse{
				Success:    false,
				Error:      se.Message,
				RetryAfter: retryAfter,
			})
			return
		}
		c.Next()
	}
}

// targetURL finds the page URL a request asks for: the url query parameter,
// or the url member of a JSON body. The body is restored for the handler.
func targetURL(c *gin.Context) string {
	if u := c.Query("url"); u != "" {
		return u
	}
	if c.Request.Body == nil || c.Request.Method == http.MethodGet {
		return ""
	}
	if !strings.Contains(c.ContentType(), "json") {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPeekBody))
	rest := c.Request.Body
	c.Request.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(body), rest), rest}
	if err != nil {
		return ""
	}

	var peek struct {
		URL any `json:"url"`
	}
	if json.Unmarshal(body, &peek) != nil {
		return ""
	}
	if s, ok := peek.URL.(string); ok {
		return s
	}
	return ""
}
