package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/use-agent/rendergate/engine"
	"github.com/use-agent/rendergate/identity"
	"github.com/use-agent/rendergate/proxy"
)

// Browser is one running Chromium process.
type Browser struct {
	rod    *rod.Browser
	lnch   *launcher.Launcher // nil when connected to a remote browser
	cfg    Config
	blocks *blockList

	closeOnce sync.Once
	closeErr  error
}

var _ engine.Browser = (*Browser)(nil)

// NewContext creates an incognito browser context, routed through ep when
// non-nil. Each context has its own cookies, cache and proxy.
func (b *Browser) NewContext(ctx context.Context, id identity.Identity, ep *proxy.Endpoint) (engine.BrowserContext, error) {
	req := proto.TargetCreateBrowserContext{DisposeOnDetach: true}
	if ep != nil {
		req.ProxyServer = ep.Server()
	}
	res, err := req.Call(b.rod.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("browser: create context: %w", err)
	}

	bc := &browserContext{
		browser:  b,
		id:       res.BrowserContextID,
		identity: id,
	}
	if ep != nil {
		if user, pass, ok := ep.Credentials(); ok {
			bc.auth = &proxyAuth{username: user, password: pass}
		}
	}
	return bc, nil
}

// Close disconnects from the browser and, when this process launched it,
// kills Chromium and removes its profile directory.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.rod.Close()
		if b.lnch != nil {
			b.lnch.Kill()
			b.lnch.Cleanup()
		}
	})
	return b.closeErr
}

type proxyAuth struct {
	username string
	password string
}

// browserContext is the isolated context owned by one session.
type browserContext struct {
	browser  *Browser
	id       proto.BrowserBrowserContextID
	identity identity.Identity
	auth     *proxyAuth
}

// NewPage opens a tab in the context and prepares it before any navigation:
// identity overrides, stealth script and request interception must be in
// place first or the initial document escapes them.
func (c *browserContext) NewPage(ctx context.Context) (engine.Page, error) {
	page, err := c.browser.rod.Context(ctx).Page(proto.TargetCreateTarget{
		URL:              "about:blank",
		BrowserContextID: c.id,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: open tab: %w", err)
	}

	if err := applyIdentity(page, c.identity); err != nil {
		slog.Warn("browser: identity override failed, continuing", "identity", c.identity.String(), "error", err)
	}

	if c.browser.cfg.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			slog.Warn("browser: stealth injection failed, proceeding without stealth", "error", err)
		}
	}

	p := &Page{rod: page}
	switch {
	case c.auth != nil:
		p.stopIntercept = interceptWithAuth(page, c.browser.blocks, c.auth)
	case c.browser.blocks.active():
		p.stopIntercept = hijack(page, c.browser.blocks)
	}
	return p, nil
}

// Close disposes the context and every tab in it.
func (c *browserContext) Close() error {
	err := proto.TargetDisposeBrowserContext{BrowserContextID: c.id}.Call(c.browser.rod)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("browser: dispose context: %w", err)
	}
	return nil
}

// applyIdentity makes the tab report the identity's user agent, platform,
// languages and screen.
func applyIdentity(page *rod.Page, id identity.Identity) error {
	if err := (proto.NetworkSetUserAgentOverride{
		UserAgent:      id.UserAgent(),
		AcceptLanguage: id.AcceptLanguage(),
		Platform:       id.Platform(),
	}).Call(page); err != nil {
		return fmt.Errorf("user agent override: %w", err)
	}

	vp := id.Viewport()
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: vp.ScaleFactor,
		Mobile:            vp.Mobile,
	}); err != nil {
		return fmt.Errorf("viewport override: %w", err)
	}

	if id.Locale != "" {
		if err := (proto.EmulationSetLocaleOverride{Locale: id.Locale}).Call(page); err != nil {
			return fmt.Errorf("locale override: %w", err)
		}
	}
	return nil
}
