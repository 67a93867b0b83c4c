package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/rendergate/identity"
	"github.com/use-agent/rendergate/models"
	"github.com/use-agent/rendergate/proxy"
)

// Session retirement defaults.
const (
	DefaultMaxUsage      = 50
	DefaultMaxErrorScore = 3
)

// Session wraps one browser context bound to one identity and optional
// proxy, with health tracking that decides when the pool retires it.
type Session struct {
	ID       int64
	Identity identity.Identity
	Proxy    *proxy.Endpoint
	Policy   string

	bctx      BrowserContext
	created   time.Time
	closeOnce sync.Once

	mu            sync.Mutex
	usageCount    int
	errorScore    int
	maxUsage      int
	maxErrorScore int
}

func newSession(id int64, policy string, ident identity.Identity, ep *proxy.Endpoint, bctx BrowserContext, maxUsage, maxErrorScore int) *Session {
	if maxUsage <= 0 {
		maxUsage = DefaultMaxUsage
	}
	if maxErrorScore <= 0 {
		maxErrorScore = DefaultMaxErrorScore
	}
	return &Session{
		ID:            id,
		Identity:      ident,
		Proxy:         ep,
		Policy:        policy,
		bctx:          bctx,
		created:       time.Now(),
		maxUsage:      maxUsage,
		maxErrorScore: maxErrorScore,
	}
}

// RecordSuccess counts one completed navigation.
func (s *Session) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usageCount++
}

// RecordFailure counts one failed navigation.
func (s *Session) RecordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorScore++
}

// IsRetireable reports whether the session hit its usage or error limit.
func (s *Session) IsRetireable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usageCount >= s.maxUsage || s.errorScore >= s.maxErrorScore
}

// Counters returns the current usage count and error score.
func (s *Session) Counters() (usage, errScore int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usageCount, s.errorScore
}

// VisitOptions controls how Visit loads the target.
type VisitOptions struct {
	// Timeout bounds the navigation itself. Zero means the ctx deadline.
	Timeout time.Duration

	// WaitLoad waits for the load event rather than the initial response.
	WaitLoad bool

	// Headers are sent with the navigation and every sub-request.
	Headers map[string]string
}

// Step runs against a loaded tab and produces the outcome.
type Step func(ctx context.Context, page Page) (*Outcome, error)

// Visit opens a fresh tab, navigates to rawURL and hands the loaded tab to
// step. A navigation failure is returned as NAVIGATION_FAILED without
// calling step. The overall result is recorded against the session.
func (s *Session) Visit(ctx context.Context, rawURL string, opts VisitOptions, step Step) (*Outcome, error) {
	page, err := s.bctx.NewPage(ctx)
	if err != nil {
		s.RecordFailure()
		return nil, models.NewFetchError(models.ErrCodeNavigation, "failed to open tab", err)
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			slog.Debug("session: closing tab failed", "session", s.ID, "error", closeErr)
		}
	}()

	if len(opts.Headers) > 0 {
		if hdrErr := page.SetExtraHeaders(ctx, opts.Headers); hdrErr != nil {
			slog.Warn("session: setting extra headers failed, continuing", "session", s.ID, "error", hdrErr)
		}
	}

	navCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if err := page.Navigate(navCtx, rawURL, opts.WaitLoad); err != nil {
		s.RecordFailure()
		return nil, models.NewFetchError(models.ErrCodeNavigation,
			fmt.Sprintf("navigation to %s failed", rawURL), err)
	}

	out, err := step(ctx, page)
	if err != nil {
		s.RecordFailure()
		return nil, err
	}
	s.RecordSuccess()
	return out, nil
}

// Open navigates to rawURL, waits for the load event and captures the
// rendered DOM.
func (s *Session) Open(ctx context.Context, rawURL string, timeout time.Duration) (*Outcome, error) {
	return s.Visit(ctx, rawURL, VisitOptions{Timeout: timeout, WaitLoad: true}, func(ctx context.Context, page Page) (*Outcome, error) {
		return Capture(ctx, page, rawURL)
	})
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		if s.bctx == nil {
			return
		}
		if err := s.bctx.Close(); err != nil {
			slog.Debug("session: closing browser context failed", "session", s.ID, "error", err)
		}
	})
}

// Capture reads the DOM, final URL and status from page. DOM extraction is
// retried exactly once; a missing status code defaults to 200.
func Capture(ctx context.Context, page Page, requestedURL string) (*Outcome, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, models.NewFetchError(models.ErrCodeExtraction, "failed to extract page HTML", err)
		}
		slog.Debug("capture: HTML extraction failed, retrying once", "url", requestedURL, "error", err)
		html, err = page.HTML(ctx)
		if err != nil {
			return nil, models.NewFetchError(models.ErrCodeExtraction, "failed to extract page HTML", err)
		}
	}

	status, ok := page.StatusCode(ctx)
	if !ok || status <= 0 {
		status = 200
	}

	finalURL, urlErr := page.URL(ctx)
	if urlErr != nil || finalURL == "" {
		finalURL = requestedURL
	}

	return &Outcome{FinalURL: finalURL, HTML: html, StatusCode: status}, nil
}

// errNotRetryable marks failures caused by the caller's context.
func errNotRetryable(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrPoolClosed)
}
