package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// extractRequest mirrors the pluck API request body.
type extractRequest struct {
	URL    string          `json:"url"`
	Fields json.RawMessage `json:"fields"`
}

// apiResponse covers both the success and error envelopes.
type apiResponse struct {
	Success bool                       `json:"success"`
	Data    json.RawMessage            `json:"data"`
	Cached  bool                       `json:"cached"`
	Error   json.RawMessage            `json:"error"`
}

type errorDetail struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter *int   `json:"retry_after"`
}

func main() {
	apiURL := os.Getenv("PLUCK_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("PLUCK_API_KEY")

	s := server.NewMCPServer(
		"pluck",
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	s.AddTool(extractFieldsTool(), handleExtractFields(apiURL, apiKey, &http.Client{Timeout: 180 * time.Second}))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func extractFieldsTool() mcp.Tool {
	return mcp.NewTool("extract_fields",
		mcp.WithDescription("Fetch a web page and extract named fields with CSS selectors or meta tags. Fields whose name starts with 'meta:' are looked up as <meta> tags."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Public http(s) URL of the page"),
		),
		mcp.WithString("fields",
			mcp.Required(),
			mcp.Description(`JSON object of field name to selector, e.g. {"title":"h1","meta:description":"description"}, or an array of {"name","selector","type"} objects`),
		),
	)
}

func handleExtractFields(apiURL, apiKey string, client *http.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}
		fields, err := request.RequireString("fields")
		if err != nil {
			return mcp.NewToolResultError("fields is required"), nil
		}
		if !json.Valid([]byte(fields)) {
			return mcp.NewToolResultError("fields must be valid JSON"), nil
		}

		body, err := json.Marshal(extractRequest{URL: url, Fields: json.RawMessage(fields)})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal request: %v", err)), nil
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(apiURL, "/")+"/api/v1/extract", bytes.NewReader(body))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to create request: %v", err)), nil
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if apiKey != "" {
			httpReq.Header.Set("X-API-Key", apiKey)
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("API request failed: %v", err)), nil
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read response: %v", err)), nil
		}

		var out apiResponse
		if err := json.Unmarshal(respBody, &out); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response (HTTP %d): %v", resp.StatusCode, err)), nil
		}
		if !out.Success {
			return mcp.NewToolResultError(describeError(resp.StatusCode, out.Error)), nil
		}

		return mcp.NewToolResultText(formatData(url, out)), nil
	}
}

// describeError renders either the structured envelope or the admission
// gate's plain string error.
func describeError(status int, raw json.RawMessage) string {
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil && msg != "" {
		return fmt.Sprintf("[HTTP %d] %s", status, msg)
	}
	var d errorDetail
	if err := json.Unmarshal(raw, &d); err == nil && d.Code != "" {
		s := fmt.Sprintf("[%s] %s", d.Code, d.Message)
		if d.RetryAfter != nil {
			s += fmt.Sprintf(" (retry after %ds)", *d.RetryAfter)
		}
		return s
	}
	return fmt.Sprintf("extraction failed with HTTP %d", status)
}

// dataEntry is one slot of the data object.
type dataEntry struct {
	name string
	raw  json.RawMessage
}

// decodeData walks the data object token by token so fields keep the order
// the API returned them in.
func decodeData(raw json.RawMessage) ([]dataEntry, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("data is not an object")
	}

	var entries []dataEntry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		entries = append(entries, dataEntry{name: name, raw: value})
	}
	return entries, nil
}

// formatData lists fields one per line in response order.
func formatData(url string, r apiResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s\n", url)
	if r.Cached {
		b.WriteString("(served from cache)\n")
	}
	b.WriteString("\n")

	entries, err := decodeData(r.Data)
	if err != nil {
		fmt.Fprintf(&b, "<unreadable data: %v>\n", err)
		return b.String()
	}
	for _, e := range entries {
		var value string
		if err := json.Unmarshal(e.raw, &value); err == nil {
			fmt.Fprintf(&b, "%s: %s\n", e.name, value)
			continue
		}
		var failed struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(e.raw, &failed)
		fmt.Fprintf(&b, "%s: <error: %s>\n", e.name, failed.Error)
	}
	return b.String()
}
