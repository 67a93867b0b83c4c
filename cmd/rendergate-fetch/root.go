package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/use-agent/rendergate/app"
	"github.com/use-agent/rendergate/config"
	"github.com/use-agent/rendergate/engine"
	"github.com/use-agent/rendergate/models"
)

// fetcher is the part of the orchestrator the command drives.
type fetcher interface {
	Submit(ctx context.Context, req engine.FetchRequest) (*engine.FetchResult, error)
	Close() error
}

// buildFetcher is replaced in tests.
var buildFetcher = func(cfg *config.Config) fetcher {
	return app.NewOrchestrator(cfg)
}

// NewRootCmd creates the rendergate-fetch command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rendergate-fetch <url>",
		Short: "Render a URL in a headless browser and print its final DOM",
		Long: `rendergate-fetch drives a real headless Chromium to the given URL, waits for
JavaScript to settle (resolving bot-challenge interstitials on configured
challenge hosts), and writes the rendered HTML to stdout or a file.

Examples:
  rendergate-fetch https://example.com
  rendergate-fetch --selector '#listing' --timeout 45s https://shop.example.es/item/1
  rendergate-fetch --proxy proxy1:8000,proxy2:8000 --output page.html https://example.com`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runFetch,
	}

	cmd.Flags().StringP("selector", "s", "", "CSS selector to wait for before capturing the DOM")
	cmd.Flags().DurationP("timeout", "t", 0, "Overall fetch timeout (default depends on the host)")
	cmd.Flags().StringSlice("proxy", nil, "Proxies to rotate through (comma separated or repeated)")
	cmd.Flags().String("proxy-file", "", "Line-delimited proxy file")
	cmd.Flags().StringSlice("challenge-host", nil, "Hosts routed through the challenge resolution loop")
	cmd.Flags().Int("retries", -1, "Extra attempts after a failed navigation (default from environment)")
	cmd.Flags().StringP("output", "o", "", "Write HTML to this file instead of stdout")
	cmd.Flags().Bool("headful", false, "Show the browser window")
	cmd.Flags().BoolP("verbose", "v", false, "Enable debug logging")

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return err
	}
	app.InitLogger(cfg.Log)

	selector, _ := cmd.Flags().GetString("selector")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	output, _ := cmd.Flags().GetString("output")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f := buildFetcher(cfg)
	defer f.Close()

	res, err := f.Submit(ctx, engine.FetchRequest{
		URL:          args[0],
		WaitSelector: selector,
		Timeout:      timeout,
	})
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if output != "" {
		file, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer file.Close()
		w = file
	}
	if _, err := io.WriteString(w, res.HTML); err != nil {
		return fmt.Errorf("write html: %w", err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "status=%d final_url=%s route=%s attempts=%d elapsed=%s\n",
		res.StatusCode, res.FinalURL, res.Route, res.Attempts, res.Duration.Round(time.Millisecond))
	return nil
}

// configFromFlags loads the environment configuration and applies flag
// overrides. A one-shot fetch always runs in ephemeral mode.
func configFromFlags(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Load()
	cfg.Lifecycle.Persistent = false
	cfg.Log.Format = "text"

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Log.Level = "debug"
	} else if os.Getenv("RENDERGATE_LOG_LEVEL") == "" {
		cfg.Log.Level = "warn"
	}
	if proxies, _ := cmd.Flags().GetStringSlice("proxy"); len(proxies) > 0 {
		cfg.Proxy.List = strings.Join(proxies, ",")
	}
	if file, _ := cmd.Flags().GetString("proxy-file"); file != "" {
		cfg.Proxy.File = file
	}
	if hosts, _ := cmd.Flags().GetStringSlice("challenge-host"); len(hosts) > 0 {
		cfg.Challenge.Hosts = hosts
	}
	if retries, _ := cmd.Flags().GetInt("retries"); retries >= 0 {
		cfg.Fetch.RetryBudget = retries
	}
	if headful, _ := cmd.Flags().GetBool("headful"); headful {
		cfg.Browser.Headless = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// exitCode distinguishes caller mistakes (2) from fetch failures (1).
func exitCode(err error) int {
	var fe *models.FetchError
	if errors.As(err, &fe) && fe.Kind == models.ErrCodeInvalidURL {
		return 2
	}
	return 1
}
