package models

// FetchResponse is the response for POST /api/v1/fetch.
type FetchResponse struct {
	// Success indicates whether the fetch completed without errors.
	Success bool `json:"success"`

	// RequestID identifies the submission.
	RequestID string `json:"request_id,omitempty"`

	// StatusCode is the HTTP status of the rendered page. Defaults to 200
	// when the browser cannot report one.
	StatusCode int `json:"status_code,omitempty"`

	// FinalURL is the URL after following all redirects.
	FinalURL string `json:"final_url,omitempty"`

	// HTML is the rendered DOM serialized as text.
	HTML string `json:"html,omitempty"`

	// Route names the handler that produced the result ("default", "challenge").
	Route string `json:"route,omitempty"`

	// Attempts is the number of Running entries the fetch task needed.
	Attempts int `json:"attempts,omitempty"`

	// Timing provides duration breakdowns for the operation.
	Timing TimingInfo `json:"timing"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// TimingInfo breaks down the time spent in each phase.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`

	// FetchMs is the time spent inside the orchestrator.
	FetchMs int64 `json:"fetch_ms"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status     string `json:"status"` // always "ok"
	Timestamp  int64  `json:"timestamp"`
	Mode       string `json:"mode"`
	PoolActive bool   `json:"pool_active"`
	Uptime     string `json:"uptime"`
	Version    string `json:"version"`
}

// ResetResponse is the response for POST /api/v1/admin/reset.
type ResetResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// PoolStats reports the state of the session pool.
type PoolStats struct {
	MaxSessions    int `json:"max_sessions"`
	LiveSessions   int `json:"live_sessions"`
	ActiveSessions int `json:"active_sessions"`
}
