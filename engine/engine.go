// Package engine drives browser-backed fetches: session pooling, the fetch
// task state machine, the challenge resolution loop and the orchestrator
// lifecycle shared across requests.
package engine

import (
	"context"
	"time"

	"github.com/use-agent/rendergate/identity"
	"github.com/use-agent/rendergate/proxy"
)

// Browser is one running browser process. Implementations must be safe for
// concurrent use.
type Browser interface {
	// NewContext creates an isolated browsing context (own cookies, cache
	// and proxy) that wears the given identity.
	NewContext(ctx context.Context, id identity.Identity, ep *proxy.Endpoint) (BrowserContext, error)

	// Close terminates the browser process and every context in it.
	Close() error
}

// BrowserContext is an isolated browsing context owned by one session.
type BrowserContext interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Launcher starts browser processes. A pool owns exactly one Browser.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context) (Browser, error)

func (f LauncherFunc) Launch(ctx context.Context) (Browser, error) { return f(ctx) }

// Page is a single tab. Every method honours ctx for cancellation.
type Page interface {
	// SetExtraHeaders sets request headers sent with every navigation.
	SetExtraHeaders(ctx context.Context, headers map[string]string) error

	// Navigate loads url. With waitLoad the call returns after the load
	// event instead of the initial response.
	Navigate(ctx context.Context, url string, waitLoad bool) error

	// WaitDOMContentLoaded blocks until the document is no longer loading.
	WaitDOMContentLoaded(ctx context.Context) error

	// WaitNetworkIdle blocks until network activity quiesces.
	WaitNetworkIdle(ctx context.Context) error

	// WaitSelector blocks until an element matching selector exists.
	WaitSelector(ctx context.Context, selector string) error

	// Click clicks the first element matching selector.
	Click(ctx context.Context, selector string) error

	// HTML serializes the current DOM.
	HTML(ctx context.Context) (string, error)

	// Title returns document.title.
	Title(ctx context.Context) (string, error)

	// URL returns the current location.
	URL(ctx context.Context) (string, error)

	// StatusCode reports the main document's HTTP status; ok is false when
	// the browser cannot tell.
	StatusCode(ctx context.Context) (code int, ok bool)

	Close() error
}

// FetchRequest contains everything the engine needs to fetch a page.
type FetchRequest struct {
	ID           string
	URL          string
	WaitSelector string
	Timeout      time.Duration
	ForceReset   bool
}

// FetchResult is the output of a successful fetch.
type FetchResult struct {
	RequestID  string
	FinalURL   string
	HTML       string
	StatusCode int
	Route      string
	Attempts   int
	Duration   time.Duration
}

// Outcome is what one navigation produced.
type Outcome struct {
	FinalURL   string
	HTML       string
	StatusCode int
}
