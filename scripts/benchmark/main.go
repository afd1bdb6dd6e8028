// Command benchmark measures end-to-end latency of the extract endpoint.
//
// The first run per URL is a cache miss; later runs show cache hits unless
// the server runs with PLUCK_CACHE_BACKEND=none. Run the server in
// development mode so loopback clients bypass the admission throttles.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"
)

var (
	apiURL = flag.String("api-url", "http://localhost:8080", "pluck API base URL")
	apiKey = flag.String("api-key", "", "API key for authenticated requests")
	runs   = flag.Int("runs", 3, "Number of runs per URL")
	output = flag.String("output", "benchmark-results.json", "JSON output file path")
)

var targets = []struct {
	Label  string
	URL    string
	Fields map[string]string
}{
	{"Static", "https://example.com", map[string]string{"title": "h1", "body": "p", "meta:description": "description"}},
	{"Blog", "https://go.dev/blog/go1.21", map[string]string{"title": "h1", "author": ".Article-author", "meta:og:title": "og:title"}},
	{"Docs", "https://go.dev/doc/effective_go", map[string]string{"title": "h1", "intro": "#introduction + p"}},
	{"News", "https://www.bbc.com/news", map[string]string{"headline": "h2", "meta:description": "description"}},
}

type extractRequest struct {
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields"`
}

type extractResponse struct {
	Success bool                       `json:"success"`
	Data    map[string]json.RawMessage `json:"data"`
	Cached  bool                       `json:"cached"`
	Error   json.RawMessage            `json:"error,omitempty"`
}

type runResult struct {
	Run          int    `json:"run"`
	LatencyMs    int64  `json:"latency_ms"`
	HTTPStatus   int    `json:"http_status"`
	Cached       bool   `json:"cached"`
	FieldsOK     int    `json:"fields_ok"`
	FieldsFailed int    `json:"fields_failed"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
}

type urlResult struct {
	URL        string      `json:"url"`
	Label      string      `json:"label"`
	Runs       []runResult `json:"runs"`
	MissMs     int64       `json:"miss_ms"`
	HitAvgMs   float64     `json:"hit_avg_ms"`
	FieldRatio float64     `json:"field_ratio"`
}

type benchmarkReport struct {
	Timestamp  string      `json:"timestamp"`
	APIURL     string      `json:"api_url"`
	RunsPerURL int         `json:"runs_per_url"`
	Results    []urlResult `json:"results"`
}

func main() {
	flag.Parse()

	fmt.Println("=== pluck benchmark ===")
	fmt.Printf("API URL:   %s\n", *apiURL)
	fmt.Printf("Runs/URL:  %d\n", *runs)
	fmt.Printf("Output:    %s\n\n", *output)

	if err := checkAPI(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		os.Exit(1)
	}

	report := benchmarkReport{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		APIURL:     *apiURL,
		RunsPerURL: *runs,
	}
	client := &http.Client{Timeout: 180 * time.Second}

	for _, t := range targets {
		fmt.Printf("Benchmarking [%s] %s ...\n", t.Label, t.URL)
		ur := urlResult{URL: t.URL, Label: t.Label}
		for i := 1; i <= *runs; i++ {
			rr := runOnce(client, t.URL, t.Fields, i)
			if rr.Success {
				fmt.Printf("  Run %d/%d  OK  %dms  cached=%v  fields %d/%d\n",
					i, *runs, rr.LatencyMs, rr.Cached, rr.FieldsOK, rr.FieldsOK+rr.FieldsFailed)
			} else {
				fmt.Printf("  Run %d/%d  FAILED (HTTP %d): %s\n", i, *runs, rr.HTTPStatus, rr.Error)
			}
			ur.Runs = append(ur.Runs, rr)
		}
		summarize(&ur)
		report.Results = append(report.Results, ur)
		fmt.Println()
	}

	printTable(report.Results)

	if err := writeJSON(*output, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

func checkAPI(baseURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/v1/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func runOnce(client *http.Client, url string, fields map[string]string, run int) runResult {
	rr := runResult{Run: run}

	body, err := json.Marshal(extractRequest{URL: url, Fields: fields})
	if err != nil {
		rr.Error = fmt.Sprintf("marshal error: %v", err)
		return rr
	}
	req, err := http.NewRequest(http.MethodPost, *apiURL+"/api/v1/extract", bytes.NewReader(body))
	if err != nil {
		rr.Error = fmt.Sprintf("request error: %v", err)
		return rr
	}
	req.Header.Set("Content-Type", "application/json")
	if *apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+*apiKey)
	}

	start := time.Now()
	resp, err := client.Do(req)
	rr.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		rr.Error = fmt.Sprintf("request failed: %v", err)
		return rr
	}
	defer resp.Body.Close()
	rr.HTTPStatus = resp.StatusCode

	var er extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		rr.Error = fmt.Sprintf("decode error: %v", err)
		return rr
	}
	rr.Success = er.Success
	rr.Cached = er.Cached
	if !er.Success {
		rr.Error = strings.TrimSpace(string(er.Error))
		return rr
	}
	for _, v := range er.Data {
		if len(v) > 0 && v[0] == '"' {
			rr.FieldsOK++
		} else {
			rr.FieldsFailed++
		}
	}
	return rr
}

func summarize(ur *urlResult) {
	var hits []int64
	ok, total := 0, 0
	for _, r := range ur.Runs {
		if !r.Success {
			continue
		}
		if r.Cached {
			hits = append(hits, r.LatencyMs)
		} else if ur.MissMs == 0 {
			ur.MissMs = r.LatencyMs
		}
		ok += r.FieldsOK
		total += r.FieldsOK + r.FieldsFailed
	}
	if len(hits) > 0 {
		var sum int64
		for _, h := range hits {
			sum += h
		}
		ur.HitAvgMs = float64(sum) / float64(len(hits))
	}
	if total > 0 {
		ur.FieldRatio = float64(ok) / float64(total)
	}
}

func printTable(results []urlResult) {
	sorted := append([]urlResult(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MissMs < sorted[j].MissMs })

	fmt.Println(strings.Repeat("─", 80))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "URL\tMiss\tHit (avg)\tFields OK\n")
	fmt.Fprintf(w, "───\t────\t─────────\t─────────\n")
	for _, r := range sorted {
		if r.MissMs == 0 && r.HitAvgMs == 0 {
			fmt.Fprintf(w, "%s\tFAILED\t-\t-\n", truncateURL(r.URL, 40))
			continue
		}
		fmt.Fprintf(w, "%s\t%dms\t%.1fms\t%.0f%%\n",
			truncateURL(r.URL, 40), r.MissMs, r.HitAvgMs, r.FieldRatio*100)
	}
	w.Flush()
	fmt.Println(strings.Repeat("─", 80))
}

func truncateURL(u string, max int) string {
	if len(u) <= max {
		return u
	}
	return u[:max-3] + "..."
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
