package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/pluck/config"
	"github.com/use-agent/pluck/gate"
	"github.com/use-agent/pluck/models"
	"github.com/use-agent/pluck/ratelimit"
)

type fakeExtractor struct {
	mu    sync.Mutex
	calls []models.ExtractRequest
	res   *models.ExtractResult
	err   error
}

func (f *fakeExtractor) Extract(_ context.Context, req models.ExtractRequest) (*models.ExtractResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testConfig() *config.Config {
	cfg := config.Load()
	cfg.Server.GinMode = gin.TestMode
	cfg.Server.Mode = config.ModeProduction
	cfg.Auth.Enabled = false
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestRouter(t *testing.T, cfg *config.Config, x *fakeExtractor) *gin.Engine {
	t.Helper()
	store := ratelimit.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := gate.New(store, gate.Config{
		PathPrefix:   cfg.Gate.PathPrefix,
		HealthPath:   cfg.Gate.HealthPath,
		IPLimit:      cfg.Gate.IPLimit,
		IPWindow:     cfg.Gate.IPWindow,
		DomainLimit:  cfg.Gate.DomainLimit,
		DomainWindow: cfg.Gate.DomainWindow,
		GlobalLimit:  cfg.Gate.GlobalLimit,
		GlobalWindow: cfg.Gate.GlobalWindow,
		Production:   cfg.Server.IsProduction(),
	}, logger)

	return NewRouter(Deps{
		Config:    cfg,
		Extractor: x,
		Gate:      g,
		Logger:    logger,
		StartTime: time.Now(),
	})
}

func successResult() *models.ExtractResult {
	return &models.ExtractResult{
		URL: "https://example.com",
		Data: models.ResultSet{
			{Key: "title", Field: models.Extracted("h1", "Example Domain")},
			{Key: "price", Field: models.ExtractionFailed(".price", models.FieldErrNoMatch)},
		},
	}
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *models.ErrorDetail {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	return resp.Error
}

func TestExtract_GET(t *testing.T) {
	x := &fakeExtractor{res: successResult()}
	r := newTestRouter(t, testConfig(), x)

	q := url.Values{}
	q.Set("url", "https://example.com")
	q.Set("fields", `{"title":"h1","price":".price"}`)
	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/extract?"+q.Encode(), nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t,
		`{"success":true,"data":{"title":"Example Domain","price":{"error":"selector matched no elements"}},"cached":false}`,
		w.Body.String())
	require.Equal(t, 1, x.callCount())
	assert.Equal(t, models.FieldList{{Name: "title", Selector: "h1"}, {Name: "price", Selector: ".price"}}, x.calls[0].Fields)
}

func TestExtract_POSTBodySurvivesAdmissionPeek(t *testing.T) {
	res := successResult()
	res.Cached = true
	x := &fakeExtractor{res: res}
	r := newTestRouter(t, testConfig(), x)

	w := do(r, postJSON("/api/v1/extract",
		`{"url":"https://example.com","fields":[{"name":"title","selector":"h1"},{"name":"meta:description","selector":"description"}]}`))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"cached":true`)
	require.Equal(t, 1, x.callCount())
	assert.Equal(t, "https://example.com", x.calls[0].URL)
	assert.Len(t, x.calls[0].Fields, 2)
}

func TestAdmission_21stRequestIsThrottled(t *testing.T) {
	x := &fakeExtractor{res: successResult()}
	r := newTestRouter(t, testConfig(), x)

	for i := 1; i <= 20; i++ {
		w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/extract", nil))
		require.NotEqual(t, http.StatusTooManyRequests, w.Code, "request %d", i)
	}

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/extract", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t,
		`{"success":false,"error":"Rate limit exceeded. Please try again later.","retry_after":60}`,
		w.Body.String())
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "20", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, 20, x.callCount())

	// Health stays reachable.
	w = do(r, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdmission_DomainThrottle(t *testing.T) {
	x := &fakeExtractor{res: successResult()}
	r := newTestRouter(t, testConfig(), x)

	body := `{"url":"https://example.com/page","fields":{"t":"h1"}}`
	for i := 1; i <= 10; i++ {
		require.Equal(t, http.StatusOK, do(r, postJSON("/api/v1/extract", body)).Code, "request %d", i)
	}
	assert.Equal(t, http.StatusTooManyRequests, do(r, postJSON("/api/v1/extract", body)).Code)

	other := `{"url":"https://example.org/","fields":{"t":"h1"}}`
	assert.Equal(t, http.StatusOK, do(r, postJSON("/api/v1/extract", other)).Code)
}

func TestAdmission_BlocksMaliciousTarget(t *testing.T) {
	x := &fakeExtractor{res: successResult()}
	r := newTestRouter(t, testConfig(), x)

	for _, target := range []string{"http://127.0.0.1/", "http://192.168.1.1/admin", "file:///etc/passwd"} {
		w := do(r, postJSON("/api/v1/extract", fmt.Sprintf(`{"url":%q,"fields":{"t":"h1"}}`, target)))
		require.Equal(t, http.StatusUnprocessableEntity, w.Code, target)
		assert.Equal(t, `{"success":false,"error":"Request blocked for security reasons"}`, w.Body.String())
	}

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/extract?url="+url.QueryEscape("http://10.0.0.1/"), nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Zero(t, x.callCount())
}

func TestExtract_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"security", models.NewSecurityError("URL points to a private address", nil), http.StatusForbidden, models.ErrCodeSecurity},
		{"network", models.NewNetworkError("HTTP 404 Not Found", 404, 0, nil), http.StatusBadGateway, models.ErrCodeNetwork},
		{"timeout", models.NewTimeoutError("request timed out", 30*time.Second, nil), http.StatusBadGateway, models.ErrCodeTimeout},
		{"parsing", models.NewParsingError("empty response body", nil), http.StatusUnprocessableEntity, models.ErrCodeParsing},
		{"rate limit", models.NewRateLimitError("upstream throttled", 0), http.StatusTooManyRequests, models.ErrCodeRateLimited},
		{"extraction", models.NewExtractionError("unexpected extraction failure", nil), http.StatusUnprocessableEntity, models.ErrCodeExtraction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(t, testConfig(), &fakeExtractor{err: tt.err})
			w := do(r, postJSON("/api/v1/extract", `{"url":"https://example.com","fields":{"t":"h1"}}`))

			require.Equal(t, tt.status, w.Code)
			detail := decodeError(t, w)
			assert.Equal(t, tt.code, detail.Code)
			assert.NotEmpty(t, detail.ErrorID)
			assert.NotEmpty(t, detail.Timestamp)
			assert.NotEmpty(t, detail.SuggestedAction)
		})
	}
}

func TestExtract_RateLimitErrorCarriesRetryAfter(t *testing.T) {
	r := newTestRouter(t, testConfig(), &fakeExtractor{err: models.NewRateLimitError("slow down", 0)})
	w := do(r, postJSON("/api/v1/extract", `{"url":"https://example.com","fields":{"t":"h1"}}`))

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	detail := decodeError(t, w)
	require.NotNil(t, detail.RetryAfter)
	assert.Equal(t, 60, *detail.RetryAfter)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestExtract_UnclassifiedErrorIsHidden(t *testing.T) {
	r := newTestRouter(t, testConfig(), &fakeExtractor{err: errors.New("secret internals")})
	w := do(r, postJSON("/api/v1/extract", `{"url":"https://example.com","fields":{"t":"h1"}}`))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	detail := decodeError(t, w)
	assert.Equal(t, models.ErrCodeInternal, detail.Code)
	assert.Equal(t, "internal server error", detail.Message)
}

func TestExtract_ValidationErrors(t *testing.T) {
	r := newTestRouter(t, testConfig(), &fakeExtractor{res: successResult()})

	w := do(r, postJSON("/api/v1/extract", `{"url":"https://example.com","fields":{}}`))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, models.ErrCodeValidation, decodeError(t, w).Code)

	w = do(r, postJSON("/api/v1/extract", `{"url":"https://example.com","fields":"h1"}`))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(r, postJSON("/api/v1/extract", `{"url":`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.ErrCodeInvalidInput, decodeError(t, w).Code)

	w = do(r, httptest.NewRequest(http.MethodGet, "/api/v1/extract?url=https://example.com&fields=%7Bnope", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	r := newTestRouter(t, testConfig(), &fakeExtractor{err: models.NewSecurityError("nope", nil)})

	req := postJSON("/api/v1/extract", `{"url":"https://example.com","fields":{"t":"h1"}}`)
	req.Header.Set("X-Request-ID", "req-123")
	w := do(r, req)

	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-123", decodeError(t, w).RequestID)

	w = do(r, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)
}

func TestAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.APIKeys = []string{"k1"}
	r := newTestRouter(t, cfg, &fakeExtractor{res: successResult()})

	body := `{"url":"https://example.com","fields":{"t":"h1"}}`
	w := do(r, postJSON("/api/v1/extract", body))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, models.ErrCodeUnauthorized, decodeError(t, w).Code)

	req := postJSON("/api/v1/extract", body)
	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, do(r, req).Code)

	req = postJSON("/api/v1/extract", body)
	req.Header.Set("X-API-Key", "k1")
	assert.Equal(t, http.StatusOK, do(r, req).Code)

	assert.Equal(t, http.StatusOK, do(r, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t, testConfig(), &fakeExtractor{})

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var health models.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "memory", health.Cache)

	w = do(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pluck_gate_decisions_total")
}

func TestHealth_DegradedWhenPingFails(t *testing.T) {
	cfg := testConfig()
	store := ratelimit.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := NewRouter(Deps{
		Config:    cfg,
		Extractor: &fakeExtractor{},
		Gate:      gate.New(store, gate.Config{HealthPath: cfg.Gate.HealthPath}, logger),
		Logger:    logger,
		StartTime: time.Now(),
		Ping:      func(context.Context) error { return errors.New("redis down") },
	})

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}
