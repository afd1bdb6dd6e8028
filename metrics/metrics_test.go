package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordGateDecision(t *testing.T) {
	before := testutil.ToFloat64(gateDecisionsTotal.WithLabelValues("req/ip", "throttle"))
	RecordGateDecision("req/ip", "throttle")
	after := testutil.ToFloat64(gateDecisionsTotal.WithLabelValues("req/ip", "throttle"))
	assert.InDelta(t, 1, after-before, 1e-9)

	before = testutil.ToFloat64(gateDecisionsTotal.WithLabelValues("none", "admit"))
	RecordGateDecision("", "admit")
	assert.InDelta(t, 1, testutil.ToFloat64(gateDecisionsTotal.WithLabelValues("none", "admit"))-before, 1e-9)
}

func TestRecordField(t *testing.T) {
	before := testutil.ToFloat64(fieldsTotal.WithLabelValues("meta", "failed"))
	RecordField("meta", false)
	assert.InDelta(t, 1, testutil.ToFloat64(fieldsTotal.WithLabelValues("meta", "failed"))-before, 1e-9)
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusTeapot, "pong") })
	r.GET("/metrics", gin.WrapH(Handler()))

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/ping", "418"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusTeapot, w.Code)
	assert.InDelta(t, 1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/ping", "418"))-before, 1e-9)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pluck_http_requests_total")
}
