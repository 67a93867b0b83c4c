// Package browser adapts go-rod to the engine's browser capability: one
// Chromium process per pool, one incognito browser context per session and
// one tab per navigation.
package browser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"

	"github.com/use-agent/rendergate/engine"
)

// Config controls how Chromium is launched and how tabs are prepared.
type Config struct {
	// Headless controls whether the browser runs headless.
	Headless bool

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool

	// Bin overrides the Chromium binary path.
	Bin string

	// RemoteURL connects to an already running browser's DevTools endpoint
	// instead of launching one. Close then only disconnects.
	RemoteURL string

	// Stealth injects go-rod/stealth into every new document.
	Stealth bool

	// BlockedResourceTypes lists resource types to block ("Image", "Font", ...).
	BlockedResourceTypes []string

	// BlockAds blocks requests to well-known ad and tracking domains.
	BlockAds bool
}

// Launcher starts Chromium processes for session pools.
type Launcher struct {
	cfg Config
}

var _ engine.Launcher = (*Launcher)(nil)

// NewLauncher creates a Launcher.
func NewLauncher(cfg Config) *Launcher {
	return &Launcher{cfg: cfg}
}

// Launch starts a browser (or connects to RemoteURL) and returns it. ctx
// only gates the start: the process outlives it and ends with Close.
func (l *Launcher) Launch(ctx context.Context) (engine.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	controlURL := l.cfg.RemoteURL
	var lnch *launcher.Launcher

	if controlURL == "" {
		lnch = newChromiumLauncher(l.cfg)
		u, err := lnch.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		controlURL = u
		slog.Debug("browser launched", "controlURL", controlURL)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		if lnch != nil {
			lnch.Kill()
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	return &Browser{
		rod:    b,
		lnch:   lnch,
		cfg:    l.cfg,
		blocks: newBlockList(l.cfg.BlockedResourceTypes, l.cfg.BlockAds),
	}, nil
}

// newChromiumLauncher builds a launcher with the anti-automation flags.
func newChromiumLauncher(cfg Config) *launcher.Launcher {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox).
		Leakless(true)

	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-prompt-on-repost"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))
	return l
}
