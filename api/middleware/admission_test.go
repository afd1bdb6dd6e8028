package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/pluck/gate"
	"github.com/use-agent/pluck/models"
	"github.com/use-agent/pluck/ratelimit"
)

// admissionEngine records the errors admission attaches to the context.
func admissionEngine(t *testing.T, ipLimit int) (*gin.Engine, *[]*models.ScraperError) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := ratelimit.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	g := gate.New(store, gate.Config{
		PathPrefix: "/api/v1/extract",
		HealthPath: "/api/v1/health",
		IPLimit:    ipLimit,
		IPWindow:   time.Minute,
		Production: true,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var seen []*models.ScraperError
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Next()
		for _, e := range c.Errors {
			if se, ok := e.Err.(*models.ScraperError); ok {
				seen = append(seen, se)
			}
		}
	})
	r.Use(Admission(g))
	r.POST("/api/v1/extract", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r, &seen
}

func post(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/extract", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdmission_ThrottleProducesRateLimitError(t *testing.T) {
	r, seen := admissionEngine(t, 1)

	require.Equal(t, http.StatusOK, post(r, `{"url":"https://example.com"}`).Code)
	w := post(r, `{"url":"https://example.com"}`)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t,
		`{"success":false,"error":"Rate limit exceeded. Please try again later.","retry_after":60}`,
		w.Body.String())
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	require.Len(t, *seen, 1)
	se := (*seen)[0]
	assert.Equal(t, models.KindRateLimit, se.Kind)
	assert.Equal(t, models.ErrCodeRateLimited, se.Code)
	assert.Equal(t, time.Minute, se.RetryAfter)
	assert.Equal(t, gate.RuleIP, se.Context["rule"])
}

func TestAdmission_BlockProducesSecurityError(t *testing.T) {
	r, seen := admissionEngine(t, 20)

	w := post(r, `{"url":"http://10.0.0.5/admin"}`)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, `{"success":false,"error":"Request blocked for security reasons"}`, w.Body.String())

	require.Len(t, *seen, 1)
	se := (*seen)[0]
	assert.Equal(t, models.KindSecurity, se.Kind)
	assert.Equal(t, models.ErrCodeBlocked, se.Code)
	assert.Equal(t, gate.RuleMaliciousURL, se.Context["rule"])
}
