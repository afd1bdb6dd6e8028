package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callTool(t *testing.T, apiURL string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = "extract_fields"
	req.Params.Arguments = args

	h := handleExtractFields(apiURL, "k1", &http.Client{Timeout: 5 * time.Second})
	res, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	return tc.Text
}

func TestExtractFields_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/extract", r.URL.Path)
		assert.Equal(t, "k1", r.Header.Get("X-API-Key"))

		body, _ := io.ReadAll(r.Body)
		var req extractRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "https://example.com", req.URL)
		assert.JSONEq(t, `{"title":"h1","price":".price"}`, string(req.Fields))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"title":"Example Domain","price":{"error":"selector matched no elements"}},"cached":true}`))
	}))
	defer srv.Close()

	res := callTool(t, srv.URL, map[string]any{
		"url":    "https://example.com",
		"fields": `{"title":"h1","price":".price"}`,
	})
	assert.False(t, res.IsError)

	text := resultText(t, res)
	assert.Contains(t, text, "title: Example Domain")
	assert.Contains(t, text, "price: <error: selector matched no elements>")
	assert.Contains(t, text, "served from cache")
}

func TestFormatData_KeepsResponseOrder(t *testing.T) {
	out := formatData("https://example.com", apiResponse{
		Success: true,
		Data:    json.RawMessage(`{"zeta":"Z","alpha":{"error":"selector matched no elements"},"meta:description":"D"}`),
	})

	z := strings.Index(out, "zeta: Z")
	a := strings.Index(out, "alpha: <error: selector matched no elements>")
	m := strings.Index(out, "meta:description: D")
	require.True(t, z >= 0 && a >= 0 && m >= 0, out)
	assert.Less(t, z, a)
	assert.Less(t, a, m)
}

func TestFormatData_RejectsNonObject(t *testing.T) {
	out := formatData("https://example.com", apiResponse{Success: true, Data: json.RawMessage(`["x"]`)})
	assert.Contains(t, out, "unreadable data")
}

func TestExtractFields_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"envelope", http.StatusForbidden, `{"success":false,"error":{"code":"SECURITY_ERROR","message":"URL points to a private address"}}`, "[SECURITY_ERROR] URL points to a private address"},
		{"throttled", http.StatusTooManyRequests, `{"success":false,"error":"Rate limit exceeded. Please try again later.","retry_after":60}`, "[HTTP 429] Rate limit exceeded."},
		{"not json", http.StatusBadGateway, `oops`, "failed to parse response (HTTP 502)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			res := callTool(t, srv.URL, map[string]any{"url": "https://example.com", "fields": `{"t":"h1"}`})
			assert.True(t, res.IsError)
			assert.Contains(t, resultText(t, res), tt.want)
		})
	}
}

func TestExtractFields_InvalidArguments(t *testing.T) {
	res := callTool(t, "http://127.0.0.1:1", map[string]any{"fields": `{"t":"h1"}`})
	assert.True(t, res.IsError)

	res = callTool(t, "http://127.0.0.1:1", map[string]any{"url": "https://example.com", "fields": `{"t":`})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "valid JSON")
}

func TestExtractFieldsTool(t *testing.T) {
	tool := extractFieldsTool()
	assert.Equal(t, "extract_fields", tool.Name)
	assert.ElementsMatch(t, []string{"url", "fields"}, tool.InputSchema.Required)
}
