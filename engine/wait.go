package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// WaitOutcome reports how a best-effort wait ended.
type WaitOutcome struct {
	Name     string
	Err      error // nil when the operation completed in budget
	TimedOut bool
	Elapsed  time.Duration
}

// OK reports whether the wait completed.
func (w WaitOutcome) OK() bool { return w.Err == nil }

// TryWithTimeout runs op with its own deadline of budget (further bounded by
// ctx) and reports the outcome. It never returns an error and recovers
// panics from op, so it can be composed freely where a missed wait is only
// a missed optimization.
func TryWithTimeout(ctx context.Context, name string, budget time.Duration, op func(ctx context.Context) error) (out WaitOutcome) {
	start := time.Now()
	out.Name = name

	opCtx := ctx
	if budget > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("%s: panic: %v", name, r)
		}
		out.Elapsed = time.Since(start)
		if out.Err != nil {
			out.TimedOut = errors.Is(out.Err, context.DeadlineExceeded) || opCtx.Err() != nil
			slog.Debug("best-effort wait missed", "wait", name, "elapsed", out.Elapsed, "timedOut", out.TimedOut, "error", out.Err)
		}
	}()

	out.Err = op(opCtx)
	return out
}

// pollUntil evaluates done every interval until it returns true, ctx ends
// or budget elapses. It reports whether done returned true.
func pollUntil(ctx context.Context, budget, interval time.Duration, done func(ctx context.Context) bool) bool {
	if interval <= 0 {
		interval = time.Second
	}
	pollCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if done(pollCtx) {
			return true
		}
		select {
		case <-pollCtx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// sleepContext sleeps for d or until ctx ends. It reports whether the full
// duration elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
