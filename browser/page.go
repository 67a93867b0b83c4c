package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/use-agent/rendergate/engine"
)

// Page is one tab. Every call binds ctx to the rod page so deadlines
// propagate to the underlying CDP calls.
type Page struct {
	rod           *rod.Page
	stopIntercept func()

	// Request-idle tracking armed by Navigate, consumed by WaitNetworkIdle.
	idleWait   func()
	idleCancel context.CancelFunc
}

const requestIdleWindow = 500 * time.Millisecond

var _ engine.Page = (*Page)(nil)

// SetExtraHeaders sets headers sent with every request of the tab.
func (p *Page) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	return proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(headers)}.Call(p.rod.Context(ctx))
}

// Navigate loads url and optionally waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string, waitLoad bool) error {
	page := p.rod.Context(ctx)
	if p.stopIntercept == nil {
		p.armIdle(ctx)
	}
	if err := page.Navigate(url); err != nil {
		p.disarmIdle()
		return err
	}
	if waitLoad {
		return page.WaitLoad()
	}
	return nil
}

// WaitDOMContentLoaded waits until document.readyState leaves "loading".
func (p *Page) WaitDOMContentLoaded(ctx context.Context) error {
	return p.rod.Context(ctx).Wait(rod.Eval(`() => document.readyState !== 'loading'`))
}

// WaitNetworkIdle waits for the network to quiesce. With request
// interception mounted, request-idle tracking conflicts with the Fetch
// domain on recent Chromium, so DOM stability is used instead.
func (p *Page) WaitNetworkIdle(ctx context.Context) error {
	page := p.rod.Context(ctx)
	if p.stopIntercept != nil {
		return page.WaitDOMStable(300*time.Millisecond, 0.1)
	}

	wait, cancel := p.idleWait, p.idleCancel
	p.idleWait, p.idleCancel = nil, nil
	if wait == nil {
		// Nothing armed: only requests starting from now are tracked.
		var idleCtx context.Context
		idleCtx, cancel = context.WithCancel(ctx)
		wait = p.rod.Context(idleCtx).WaitRequestIdle(requestIdleWindow, nil, nil, nil)
	}
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		cancel()
		<-done
	}
	return ctx.Err()
}

// armIdle subscribes to network events before navigation so the idle wait
// also counts requests already in flight when it starts.
func (p *Page) armIdle(ctx context.Context) {
	p.disarmIdle()
	idleCtx, cancel := context.WithCancel(ctx)
	p.idleWait = p.rod.Context(idleCtx).WaitRequestIdle(requestIdleWindow, nil, nil, nil)
	p.idleCancel = cancel
}

func (p *Page) disarmIdle() {
	if p.idleCancel != nil {
		p.idleCancel()
	}
	p.idleWait, p.idleCancel = nil, nil
}

// WaitSelector waits until an element matching selector exists.
func (p *Page) WaitSelector(ctx context.Context, selector string) error {
	_, err := p.rod.Context(ctx).Element(selector)
	return err
}

// Click clicks the first element matching selector, failing immediately
// when there is none.
func (p *Page) Click(ctx context.Context, selector string) error {
	page := p.rod.Context(ctx)
	has, el, err := page.Has(selector)
	if err != nil {
		return err
	}
	if !has {
		return fmt.Errorf("browser: no element matches %q", selector)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// HTML serializes the current DOM.
func (p *Page) HTML(ctx context.Context) (string, error) {
	return p.rod.Context(ctx).HTML()
}

// Title returns document.title.
func (p *Page) Title(ctx context.Context) (string, error) {
	return p.evalString(ctx, `() => document.title`)
}

// URL returns window.location.href.
func (p *Page) URL(ctx context.Context) (string, error) {
	return p.evalString(ctx, `() => window.location.href`)
}

// StatusCode reads the main document's status from the Navigation Timing
// API, which needs no Network-domain listener.
func (p *Page) StatusCode(ctx context.Context) (int, bool) {
	res, err := p.rod.Context(ctx).Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch(e) {}
		return 0;
	}`)
	if err != nil {
		return 0, false
	}
	code := res.Value.Int()
	return code, code > 0
}

// Close stops interception and closes the tab.
func (p *Page) Close() error {
	p.disarmIdle()
	if p.stopIntercept != nil {
		p.stopIntercept()
	}
	if err := p.rod.Close(); err != nil {
		slog.Debug("browser: closing tab failed", "error", err)
		return err
	}
	return nil
}

func (p *Page) evalString(ctx context.Context, js string) (string, error) {
	res, err := p.rod.Context(ctx).Eval(js)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
