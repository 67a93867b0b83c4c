package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/rendergate/api"
	"github.com/use-agent/rendergate/app"
	"github.com/use-agent/rendergate/config"
	"github.com/use-agent/rendergate/metrics"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	app.InitLogger(cfg.Log)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("rendergate starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"lifecycle", cfg.LifecycleMode(),
		"maxSessions", cfg.Session.MaxSessions,
		"challengeHosts", len(cfg.Challenge.Hosts),
	)

	if cfg.Server.MetricsEnabled {
		metrics.Init()
	}

	// ── 3. Initialise orchestrator (browsers launch lazily) ─────────
	orch := app.NewOrchestrator(cfg)
	defer orch.Close()

	// ── 4. Setup router ─────────────────────────────────────────────
	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()
	router := api.NewRouter(rootCtx, orch, cfg)

	// ── 5. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 6. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// In-flight fetches may hold a browser for up to their own timeout.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Fetch.DefaultTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// orch.Close() runs via defer: tears down the shared pool and kills Chrome.
	slog.Info("rendergate stopped")
}
