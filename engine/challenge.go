package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/use-agent/rendergate/detector"
	"github.com/use-agent/rendergate/models"
)

// ChallengeConfig bounds each phase of the challenge resolution loop.
type ChallengeConfig struct {
	LoadWait      time.Duration // DOMContentLoaded
	IdleWait      time.Duration // network idle after load
	PollTimeout   time.Duration // waiting for challenge indicators to clear
	PollInterval  time.Duration
	SelectorWait  time.Duration // per content selector
	FinalIdleWait time.Duration

	// FallbackSelectors are tried in order when the request names no
	// selector of its own.
	FallbackSelectors []string

	// OverlayCloseSelectors are clicked in order until one is present.
	OverlayCloseSelectors []string
	OverlayWait           time.Duration
}

// DefaultChallengeConfig returns the default phase budgets.
func DefaultChallengeConfig() ChallengeConfig {
	return ChallengeConfig{
		LoadWait:          15 * time.Second,
		IdleWait:          15 * time.Second,
		PollTimeout:       20 * time.Second,
		PollInterval:      time.Second,
		SelectorWait:      3 * time.Second,
		FinalIdleWait:     5 * time.Second,
		FallbackSelectors: []string{"main", "#content", "article", "[role=main]", "body"},
		OverlayCloseSelectors: []string{
			"[aria-label='Close']",
			"[aria-label='close']",
			"button.close",
			".modal-close",
			"#onetrust-accept-btn-handler",
			".cookie-consent button",
		},
		OverlayWait: 500 * time.Millisecond,
	}
}

// ChallengeHandler fetches hosts guarded by an anti-bot interstitial. Every
// wait is best-effort: the DOM is captured whatever state the page is in
// once the budgets run out.
type ChallengeHandler struct {
	cfg    ChallengeConfig
	detect func(detector.Signals) (detector.Indicator, bool)
}

// NewChallengeHandler creates a ChallengeHandler with the given budgets.
func NewChallengeHandler(cfg ChallengeConfig) *ChallengeHandler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &ChallengeHandler{cfg: cfg, detect: detector.Detect}
}

func (h *ChallengeHandler) Name() string { return RouteChallenge }

func (h *ChallengeHandler) Handle(ctx context.Context, s *Session, req *FetchRequest) (*Outcome, error) {
	opts := VisitOptions{
		WaitLoad: true,
		Headers:  map[string]string{"Accept-Language": s.Identity.AcceptLanguage()},
	}
	out, err := s.Visit(ctx, req.URL, opts, func(ctx context.Context, page Page) (*Outcome, error) {
		return h.resolve(ctx, page, req)
	})
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeChallengeResolution, "no DOM captured from "+req.URL, err)
	}
	return out, nil
}

func (h *ChallengeHandler) resolve(ctx context.Context, page Page, req *FetchRequest) (*Outcome, error) {
	TryWithTimeout(ctx, "dom-content-loaded", h.cfg.LoadWait, page.WaitDOMContentLoaded)
	TryWithTimeout(ctx, "network-idle", h.cfg.IdleWait, page.WaitNetworkIdle)

	start := time.Now()
	cleared := pollUntil(ctx, h.cfg.PollTimeout, h.cfg.PollInterval, func(ctx context.Context) bool {
		return !h.challengePresent(ctx, page, req)
	})
	if cleared {
		slog.Debug("challenge: page clear", "request_id", req.ID, "elapsed", time.Since(start))
	} else if ctx.Err() == nil {
		slog.Warn("challenge: indicators still present, capturing anyway", "request_id", req.ID, "url", req.URL, "waited", time.Since(start))
	}

	h.waitForContent(ctx, page, req.WaitSelector)
	h.dismissOverlay(ctx, page)
	TryWithTimeout(ctx, "final-network-idle", h.cfg.FinalIdleWait, page.WaitNetworkIdle)

	return Capture(ctx, page, req.URL)
}

// challengePresent reports whether the page still shows an interstitial. A
// page that cannot be read counts as still challenged.
func (h *ChallengeHandler) challengePresent(ctx context.Context, page Page, req *FetchRequest) bool {
	title, _ := page.Title(ctx)
	html, err := page.HTML(ctx)
	if err != nil {
		return true
	}
	ind, ok := h.detect(detector.Signals{Title: title, HTML: html})
	if ok {
		slog.Debug("challenge: indicator present", "request_id", req.ID, "vendor", ind.Vendor, "kind", ind.Kind, "match", ind.Match)
	}
	return ok
}

func (h *ChallengeHandler) waitForContent(ctx context.Context, page Page, selector string) {
	if selector != "" {
		TryWithTimeout(ctx, "wait-selector", h.cfg.SelectorWait, func(c context.Context) error {
			return page.WaitSelector(c, selector)
		})
		return
	}
	for _, sel := range h.cfg.FallbackSelectors {
		out := TryWithTimeout(ctx, "fallback-selector", h.cfg.SelectorWait, func(c context.Context) error {
			return page.WaitSelector(c, sel)
		})
		if out.OK() || ctx.Err() != nil {
			return
		}
	}
}

func (h *ChallengeHandler) dismissOverlay(ctx context.Context, page Page) {
	for _, sel := range h.cfg.OverlayCloseSelectors {
		out := TryWithTimeout(ctx, "overlay-close", h.cfg.OverlayWait, func(c context.Context) error {
			return page.Click(c, sel)
		})
		if out.OK() {
			slog.Debug("challenge: overlay dismissed", "selector", sel)
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}
