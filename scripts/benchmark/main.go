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
	"sync"
	"text/tabwriter"
	"time"
)

// CLI flags
var (
	apiURL      = flag.String("api-url", "http://localhost:8080", "rendergate API base URL")
	apiKey      = flag.String("api-key", "", "API key for authenticated requests")
	runs        = flag.Int("runs", 3, "Number of runs per URL")
	concurrency = flag.Int("concurrency", 1, "Requests in flight per URL (persistent mode serializes them)")
	timeoutMs   = flag.Int("timeout-ms", 0, "Per-request timeout_ms (0 uses the server default)")
	output      = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// Test URLs covering static, JS-heavy and app-shell pages.
var testURLs = []struct {
	Label string
	URL   string
}{
	{"Static", "https://example.com"},
	{"Docs", "https://go.dev/doc/effective_go"},
	{"News", "https://www.bbc.com/news"},
	{"SPA", "https://github.com/go-rod/rod"},
}

// --- Request / Response types (mirrors models package) ---

type fetchRequest struct {
	URL       string `json:"url"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

type fetchResponse struct {
	Success    bool         `json:"success"`
	StatusCode int          `json:"status_code"`
	HTML       string       `json:"html"`
	Route      string       `json:"route"`
	Attempts   int          `json:"attempts"`
	Timing     timingInfo   `json:"timing"`
	Error      *errorDetail `json:"error,omitempty"`
}

type timingInfo struct {
	TotalMs int64 `json:"total_ms"`
	FetchMs int64 `json:"fetch_ms"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- Benchmark result types ---

type runResult struct {
	Run        int    `json:"run"`
	WallMs     int64  `json:"wall_ms"`
	FetchMs    int64  `json:"fetch_ms"`
	HTMLLength int    `json:"html_length"`
	StatusCode int    `json:"status_code"`
	Route      string `json:"route"`
	Attempts   int    `json:"attempts"`
	Success    bool   `json:"success"`
	ErrorCode  string `json:"error_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

type urlSummary struct {
	Successes  int     `json:"successes"`
	P50Ms      int64   `json:"p50_ms"`
	P95Ms      int64   `json:"p95_ms"`
	AvgTries   float64 `json:"avg_attempts"`
	HTMLLength float64 `json:"avg_html_length"`
}

type urlResult struct {
	URL     string         `json:"url"`
	Label   string         `json:"label"`
	Runs    []runResult    `json:"runs"`
	Summary *urlSummary    `json:"summary,omitempty"`
	Errors  map[string]int `json:"errors,omitempty"`
}

type benchmarkReport struct {
	Timestamp   string      `json:"timestamp"`
	APIURL      string      `json:"api_url"`
	Mode        string      `json:"mode"`
	RunsPerURL  int         `json:"runs_per_url"`
	Concurrency int         `json:"concurrency"`
	Results     []urlResult `json:"results"`
}

func main() {
	flag.Parse()
	if *concurrency < 1 {
		*concurrency = 1
	}

	fmt.Println("=== rendergate Benchmark Suite ===")
	fmt.Printf("API URL:      %s\n", *apiURL)
	fmt.Printf("Runs/URL:     %d\n", *runs)
	fmt.Printf("Concurrency:  %d\n", *concurrency)
	fmt.Printf("Output:       %s\n", *output)

	mode, err := checkAPI(*apiURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		fmt.Fprintf(os.Stderr, "Make sure rendergate is running (e.g. make run)\n")
		os.Exit(1)
	}
	fmt.Printf("Server mode:  %s\n\n", mode)

	report := benchmarkReport{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		APIURL:      *apiURL,
		Mode:        mode,
		RunsPerURL:  *runs,
		Concurrency: *concurrency,
	}

	client := &http.Client{Timeout: 6 * time.Minute}
	for _, t := range testURLs {
		fmt.Printf("Benchmarking [%s] %s ...\n", t.Label, t.URL)
		ur := urlResult{URL: t.URL, Label: t.Label, Errors: map[string]int{}}
		ur.Runs = runAll(client, t.URL)

		for _, rr := range ur.Runs {
			if rr.Success {
				fmt.Printf("  Run %d: OK  %dms  route=%s attempts=%d\n", rr.Run, rr.WallMs, rr.Route, rr.Attempts)
			} else {
				fmt.Printf("  Run %d: FAILED [%s] %s\n", rr.Run, rr.ErrorCode, rr.Error)
				ur.Errors[rr.ErrorCode]++
			}
		}
		ur.Summary = summarize(ur.Runs)
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

func checkAPI(baseURL string) (string, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/v1/health")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var h struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return "", fmt.Errorf("decode health: %w", err)
	}
	return h.Mode, nil
}

// runAll issues *runs requests for url with at most *concurrency in flight.
func runAll(client *http.Client, url string) []runResult {
	results := make([]runResult, *runs)
	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup
	for i := 0; i < *runs; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = benchmarkURL(client, url, i+1)
		}(i)
	}
	wg.Wait()
	return results
}

func benchmarkURL(client *http.Client, url string, run int) runResult {
	rr := runResult{Run: run}

	bodyBytes, err := json.Marshal(fetchRequest{URL: url, TimeoutMs: *timeoutMs})
	if err != nil {
		rr.Error = fmt.Sprintf("marshal error: %v", err)
		return rr
	}

	req, err := http.NewRequest(http.MethodPost, *apiURL+"/api/v1/fetch", bytes.NewReader(bodyBytes))
	if err != nil {
		rr.Error = fmt.Sprintf("request error: %v", err)
		return rr
	}
	req.Header.Set("Content-Type", "application/json")
	if *apiKey != "" {
		req.Header.Set("X-API-Key", *apiKey)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		rr.ErrorCode = "CLIENT"
		rr.Error = fmt.Sprintf("request failed: %v", err)
		return rr
	}
	defer resp.Body.Close()

	var fr fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		rr.ErrorCode = "DECODE"
		rr.Error = fmt.Sprintf("decode error: %v", err)
		return rr
	}
	rr.WallMs = time.Since(start).Milliseconds()

	rr.Success = fr.Success
	rr.StatusCode = fr.StatusCode
	rr.FetchMs = fr.Timing.FetchMs
	rr.HTMLLength = len(fr.HTML)
	rr.Route = fr.Route
	rr.Attempts = fr.Attempts
	if fr.Error != nil {
		rr.ErrorCode = fr.Error.Code
		rr.Error = fr.Error.Message
	}
	return rr
}

func summarize(runs []runResult) *urlSummary {
	var (
		sum       urlSummary
		latencies []int64
	)
	for _, r := range runs {
		if !r.Success {
			continue
		}
		sum.Successes++
		latencies = append(latencies, r.WallMs)
		sum.AvgTries += float64(r.Attempts)
		sum.HTMLLength += float64(r.HTMLLength)
	}
	if sum.Successes == 0 {
		return nil
	}

	n := float64(sum.Successes)
	sum.AvgTries /= n
	sum.HTMLLength /= n
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	sum.P50Ms = percentile(latencies, 0.50)
	sum.P95Ms = percentile(latencies, 0.95)
	return &sum
}

// percentile uses nearest-rank on sorted values.
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted))*p+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func printTable(results []urlResult) {
	fmt.Println(strings.Repeat("─", 85))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "URL\tOK\tp50\tp95\tAttempts\tHTML Len\n")
	fmt.Fprintf(w, "───\t──\t───\t───\t────────\t────────\n")

	for _, r := range results {
		if r.Summary == nil {
			fmt.Fprintf(w, "%s\t0/%d\t-\t-\t-\t-\n", truncateURL(r.URL, 40), len(r.Runs))
			continue
		}
		fmt.Fprintf(w, "%s\t%d/%d\t%dms\t%dms\t%.1f\t%s\n",
			truncateURL(r.URL, 40),
			r.Summary.Successes, len(r.Runs),
			r.Summary.P50Ms,
			r.Summary.P95Ms,
			r.Summary.AvgTries,
			formatInt(int(r.Summary.HTMLLength)),
		)
	}

	w.Flush()
	fmt.Println(strings.Repeat("─", 85))
}

func truncateURL(u string, max int) string {
	if len(u) <= max {
		return u
	}
	return u[:max-3] + "..."
}

func formatInt(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var result []byte
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
