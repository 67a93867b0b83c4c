package models

// FetchRequest is the payload for POST /api/v1/fetch.
type FetchRequest struct {
	// URL is the target page to render. Required; must be an absolute URI.
	// A missing URL is reported as INVALID_URL, not INVALID_INPUT.
	URL string `json:"url"`

	// WaitSelector is an optional CSS selector the page must show before
	// the DOM is captured. Waiting for it is best-effort: a selector that
	// never appears does not fail the fetch.
	WaitSelector string `json:"wait_selector,omitempty"`

	// TimeoutMs is the overall deadline for the fetch in milliseconds.
	// Default: 45000 for challenge-routed hosts, 30000 otherwise. Values
	// above the server's RENDERGATE_MAX_TIMEOUT are rejected.
	TimeoutMs int `json:"timeout_ms,omitempty" binding:"omitempty,min=1"`

	// ForceReset discards any shared session pool before the run.
	// Only meaningful in persistent mode.
	ForceReset bool `json:"force_reset,omitempty"`
}
