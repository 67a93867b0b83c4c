package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// fetchRequest mirrors the rendergate API request model.
type fetchRequest struct {
	URL          string `json:"url"`
	WaitSelector string `json:"wait_selector,omitempty"`
	TimeoutMs    int    `json:"timeout_ms,omitempty"`
	ForceReset   bool   `json:"force_reset,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// fetchResponse mirrors the rendergate API response model.
type fetchResponse struct {
	Success    bool      `json:"success"`
	RequestID  string    `json:"request_id"`
	StatusCode int       `json:"status_code"`
	FinalURL   string    `json:"final_url"`
	HTML       string    `json:"html"`
	Route      string    `json:"route"`
	Attempts   int       `json:"attempts"`
	Error      *apiError `json:"error"`
}

// healthResponse mirrors the rendergate health response.
type healthResponse struct {
	Status     string `json:"status"`
	Timestamp  int64  `json:"timestamp"`
	Mode       string `json:"mode"`
	PoolActive bool   `json:"pool_active"`
	Uptime     string `json:"uptime"`
	Version    string `json:"version"`
}

func main() {
	apiURL := os.Getenv("RENDERGATE_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("RENDERGATE_API_KEY")

	s := server.NewMCPServer(
		"rendergate",
		"0.1.0",
		server.WithToolCapabilities(false),
	)

	fetchPageTool := mcp.NewTool("fetch_page",
		mcp.WithDescription("Render a web page in a real headless browser and return the final HTML after JavaScript ran. Handles bot-challenge interstitials on configured hosts."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Absolute http(s) URL of the page to render"),
		),
		mcp.WithString("wait_selector",
			mcp.Description("CSS selector that must appear before the DOM is captured"),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("Overall timeout in milliseconds (default 30000, 45000 for challenge hosts)"),
		),
		mcp.WithBoolean("force_reset",
			mcp.Description("Discard the shared browser pool before fetching (persistent mode only)"),
		),
	)
	s.AddTool(fetchPageTool, handleFetchPage(apiURL, apiKey))

	healthTool := mcp.NewTool("health",
		mcp.WithDescription("Report whether the rendergate service is up and which lifecycle mode it runs in."),
	)
	s.AddTool(healthTool, handleHealth(apiURL))

	resetTool := mcp.NewTool("reset_pool",
		mcp.WithDescription("Tear down and recreate the shared browser pool. Only available when the service runs in persistent mode."),
	)
	s.AddTool(resetTool, handleResetPool(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

// apiDo sends a JSON request to the rendergate API and returns the body.
func apiDo(ctx context.Context, client *http.Client, method, url, apiKey string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func handleFetchPage(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 330 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		reqBody := fetchRequest{
			URL:          url,
			WaitSelector: request.GetString("wait_selector", ""),
			TimeoutMs:    int(request.GetFloat("timeout_ms", 0)),
			ForceReset:   request.GetBool("force_reset", false),
		}

		respBody, err := apiDo(ctx, client, http.MethodPost, apiURL+"/api/v1/fetch", apiKey, reqBody)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var fetchResp fetchResponse
		if err := json.Unmarshal(respBody, &fetchResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		if !fetchResp.Success {
			errMsg := "fetch failed"
			if fetchResp.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", fetchResp.Error.Code, fetchResp.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}

		result := fmt.Sprintf("Status: %d\nFinal URL: %s\nRoute: %s (attempts: %d)\n\n",
			fetchResp.StatusCode, fetchResp.FinalURL, fetchResp.Route, fetchResp.Attempts)
		result += fetchResp.HTML

		return mcp.NewToolResultText(result), nil
	}
}

func handleHealth(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 10 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		respBody, err := apiDo(ctx, client, http.MethodGet, apiURL+"/api/v1/health", "", nil)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var h healthResponse
		if err := json.Unmarshal(respBody, &h); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse health response: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("status=%s mode=%s pool_active=%t uptime=%s version=%s",
			h.Status, h.Mode, h.PoolActive, h.Uptime, h.Version)), nil
	}
}

func handleResetPool(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 120 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		respBody, err := apiDo(ctx, client, http.MethodPost, apiURL+"/api/v1/admin/reset", apiKey, nil)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var resetResp fetchResponse
		if err := json.Unmarshal(respBody, &resetResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse reset response: %v", err)), nil
		}
		if !resetResp.Success {
			errMsg := "reset failed"
			if resetResp.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", resetResp.Error.Code, resetResp.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}
		return mcp.NewToolResultText("browser pool reset"), nil
	}
}
