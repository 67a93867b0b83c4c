// Package app assembles the orchestrator and its collaborators from
// configuration. Both binaries build their engine through it.
package app

import (
	"log/slog"
	"os"

	"github.com/use-agent/rendergate/browser"
	"github.com/use-agent/rendergate/config"
	"github.com/use-agent/rendergate/engine"
	"github.com/use-agent/rendergate/identity"
	"github.com/use-agent/rendergate/proxy"
)

// NewOrchestrator builds an orchestrator that launches real browsers.
func NewOrchestrator(cfg *config.Config) *engine.Orchestrator {
	return NewOrchestratorWithLauncher(cfg, browser.NewLauncher(BrowserConfig(cfg.Browser)))
}

// NewOrchestratorWithLauncher builds an orchestrator around launcher.
func NewOrchestratorWithLauncher(cfg *config.Config, launcher engine.Launcher) *engine.Orchestrator {
	endpoints := proxy.Load(cfg.Proxy.List, cfg.Proxy.File)
	if len(endpoints) == 0 {
		slog.Info("no proxies configured, fetching from the host network")
	} else {
		slog.Info("proxy rotation enabled", "proxies", len(endpoints))
	}

	routes := engine.DefaultRoutes(RouteOptions(cfg))
	runner := engine.NewRunner(routes, engine.RetryPolicy{
		Budget:    cfg.Fetch.RetryBudget,
		BaseDelay: cfg.Fetch.RetryBaseDelay,
		MaxDelay:  cfg.Fetch.RetryMaxDelay,
	})

	mode := engine.ModeEphemeral
	if cfg.Lifecycle.Persistent {
		mode = engine.ModePersistent
	}

	return engine.NewOrchestrator(engine.OrchestratorConfig{
		Mode: mode,
		Pool: engine.PoolConfig{
			MaxSessions:   cfg.Session.MaxSessions,
			MaxUsage:      cfg.Session.MaxUsage,
			MaxErrorScore: cfg.Session.MaxErrorScore,
		},
		MaxTimeout:      cfg.Fetch.MaxTimeout,
		FallbackTimeout: cfg.Fetch.DefaultTimeout,
		ResultsMax:      cfg.Results.MaxEntries,
		ResultsTTL:      cfg.Results.TTL,
	}, launcher, runner, proxy.NewRotator(endpoints), identity.NewSampler(nil))
}

// RouteOptions maps the fetch and challenge sections onto the route table.
func RouteOptions(cfg *config.Config) engine.RouteOptions {
	ch := engine.DefaultChallengeConfig()
	ch.LoadWait = cfg.Challenge.LoadWait
	ch.IdleWait = cfg.Challenge.IdleWait
	ch.PollTimeout = cfg.Challenge.PollTimeout
	ch.PollInterval = cfg.Challenge.PollInterval
	ch.SelectorWait = cfg.Challenge.SelectorWait
	ch.FinalIdleWait = cfg.Challenge.FinalIdleWait
	if len(cfg.Challenge.FallbackSelectors) > 0 {
		ch.FallbackSelectors = cfg.Challenge.FallbackSelectors
	}

	return engine.RouteOptions{
		ChallengeHosts:   cfg.Challenge.Hosts,
		RegionalLocales:  cfg.Challenge.Locales,
		Challenge:        ch,
		DefaultTimeout:   cfg.Fetch.DefaultTimeout,
		ChallengeTimeout: cfg.Fetch.ChallengeTimeout,
		Settle:           cfg.Fetch.Settle,
		SelectorWait:     cfg.Challenge.SelectorWait,
		LearnTTL:         cfg.Challenge.LearnTTL,
	}
}

// BrowserConfig maps the browser section onto the rod launcher config.
func BrowserConfig(cfg config.BrowserConfig) browser.Config {
	return browser.Config{
		Headless:             cfg.Headless,
		NoSandbox:            cfg.NoSandbox,
		Bin:                  cfg.BrowserBin,
		RemoteURL:            cfg.RemoteURL,
		Stealth:              cfg.Stealth,
		BlockedResourceTypes: cfg.BlockedResourceTypes,
		BlockAds:             cfg.BlockAds,
	}
}

// InitLogger configures slog based on the LogConfig. Output goes to stderr
// so the one-shot CLI can write HTML to stdout.
func InitLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
