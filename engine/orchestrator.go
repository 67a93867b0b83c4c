package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/rendergate/cache"
	"github.com/use-agent/rendergate/identity"
	"github.com/use-agent/rendergate/metrics"
	"github.com/use-agent/rendergate/models"
	"github.com/use-agent/rendergate/proxy"
)

// Mode selects how the orchestrator manages browser pools.
type Mode string

const (
	// ModeEphemeral launches a fresh pool per request.
	ModeEphemeral Mode = "ephemeral"
	// ModePersistent serializes requests through one pool at a time.
	ModePersistent Mode = "persistent"
)

// DefaultMaxTimeout caps caller supplied timeouts.
const DefaultMaxTimeout = 5 * time.Minute

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	Mode       Mode
	Pool       PoolConfig
	MaxTimeout time.Duration

	// FallbackTimeout applies when neither the request nor its route sets one.
	FallbackTimeout time.Duration

	ResultsMax int
	ResultsTTL time.Duration
}

type runResult struct {
	res *FetchResult
	err error
}

// Orchestrator accepts fetch requests and owns the pool lifecycle around
// each run.
type Orchestrator struct {
	cfg      OrchestratorConfig
	launcher Launcher
	runner   *Runner
	rotator  *proxy.Rotator
	sampler  *identity.Sampler

	token   *RunToken
	results *cache.Results[runResult]
	started time.Time

	mu          sync.Mutex
	pool        *Pool // persistent mode only
	activePools atomic.Int32
	closed      atomic.Bool
}

// NewOrchestrator creates an orchestrator. No browser is launched until
// the first request.
func NewOrchestrator(cfg OrchestratorConfig, launcher Launcher, runner *Runner, rotator *proxy.Rotator, sampler *identity.Sampler) *Orchestrator {
	if cfg.Mode == "" {
		cfg.Mode = ModeEphemeral
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = DefaultMaxTimeout
	}
	if cfg.FallbackTimeout <= 0 {
		cfg.FallbackTimeout = 30 * time.Second
	}
	if sampler == nil {
		sampler = identity.NewSampler(nil)
	}
	return &Orchestrator{
		cfg:      cfg,
		launcher: launcher,
		runner:   runner,
		rotator:  rotator,
		sampler:  sampler,
		token:    NewRunToken(),
		results:  cache.New[runResult](cfg.ResultsMax, cfg.ResultsTTL),
		started:  time.Now(),
	}
}

// Mode returns the configured mode.
func (o *Orchestrator) Mode() Mode { return o.cfg.Mode }

// ValidateURL accepts absolute http(s) URLs with a host.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeInvalidURL, "malformed URL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, models.NewFetchError(models.ErrCodeInvalidURL, "URL must use http or https", nil)
	}
	if u.Host == "" || u.Hostname() == "" {
		return nil, models.NewFetchError(models.ErrCodeInvalidURL, "URL must include a host", nil)
	}
	return u, nil
}

// Submit fetches req according to the configured mode. Exactly one of the
// result and the error is non-nil.
func (o *Orchestrator) Submit(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	if o.closed.Load() {
		return nil, models.NewFetchError(models.ErrCodeInternal, "orchestrator closed", ErrPoolClosed)
	}
	u, err := ValidateURL(req.URL)
	if err != nil {
		return nil, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	route := o.runner.Routes().Resolve(u)
	req.Timeout = o.effectiveTimeout(req.Timeout, route)
	task := NewTask(&req, route)

	slog.Info("fetch submitted",
		"request_id", req.ID,
		"url", req.URL,
		"route", route.Name,
		"mode", string(o.cfg.Mode),
		"timeout", req.Timeout,
	)

	start := time.Now()
	var res *FetchResult
	if o.cfg.Mode == ModePersistent {
		res, err = o.submitPersistent(ctx, task)
	} else {
		res, err = o.submitEphemeral(ctx, task)
	}

	if err != nil {
		metrics.ObserveFetch(route.Name, models.KindOf(err), task.Attempts(), time.Since(start))
		return nil, err
	}
	metrics.ObserveFetch(route.Name, "ok", res.Attempts, time.Since(start))
	return res, nil
}

func (o *Orchestrator) effectiveTimeout(requested time.Duration, route Route) time.Duration {
	t := requested
	if t <= 0 {
		t = route.DefaultTimeout
	}
	if t <= 0 {
		t = o.cfg.FallbackTimeout
	}
	if t > o.cfg.MaxTimeout {
		t = o.cfg.MaxTimeout
	}
	return t
}

func (o *Orchestrator) submitEphemeral(ctx context.Context, task *Task) (*FetchResult, error) {
	return o.run(ctx, task, o.newPool, o.closePool, nil)
}

func (o *Orchestrator) submitPersistent(ctx context.Context, task *Task) (*FetchResult, error) {
	if err := o.token.Acquire(ctx); err != nil {
		return nil, models.NewFetchError(models.ErrCodeTimeout, "request abandoned while queued", err)
	}

	if task.Request.ForceReset {
		slog.Info("fetch: force reset requested", "request_id", task.Request.ID)
		o.teardownShared()
	}
	return o.run(ctx, task, o.sharedPool, func(*Pool) { o.teardownShared() }, o.token.Release)
}

// run executes task in the background under its own timeout. release is
// called exactly once with the pool the run obtained (nil if none yet),
// then after is called: before run returns on timeout, otherwise when the
// background run ends. A pool obtained after a timeout is closed at once.
func (o *Orchestrator) run(ctx context.Context, task *Task, obtain func(context.Context) (*Pool, error), release func(*Pool), after func()) (*FetchResult, error) {
	req := task.Request
	start := time.Now()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), req.Timeout)

	var (
		mu       sync.Mutex
		current  *Pool
		tornDown bool
	)
	finish := sync.OnceFunc(func() {
		cancel()
		mu.Lock()
		p := current
		current = nil
		tornDown = true
		mu.Unlock()
		release(p)
		if after != nil {
			after()
		}
	})

	done := make(chan struct{})
	go func() {
		defer finish()
		var rr runResult
		pool, err := obtain(runCtx)
		if err == nil {
			mu.Lock()
			if tornDown {
				mu.Unlock()
				o.closePool(pool)
				err = ErrPoolClosed
			} else {
				current = pool
				mu.Unlock()
			}
		}
		if err != nil {
			rr.err = err
		} else {
			rr.res, rr.err = o.runner.Execute(runCtx, pool, task)
		}
		if !o.results.Put(req.ID, rr) {
			slog.Debug("fetch: dropping late result", "request_id", req.ID, "error", rr.err)
		}
		close(done)
	}()

	select {
	case <-done:
		return o.collect(runCtx, req, start, finish)
	case <-runCtx.Done():
		select {
		case <-done:
			return o.collect(runCtx, req, start, finish)
		default:
		}
		o.results.Abandon(req.ID)
		finish()
		slog.Warn("fetch timed out", "request_id", req.ID, "url", req.URL, "timeout", req.Timeout)
		return nil, timeoutError(req)
	case <-ctx.Done():
		o.results.Abandon(req.ID)
		slog.Info("fetch: caller gone, abandoning result", "request_id", req.ID, "error", ctx.Err())
		return nil, models.NewFetchError(models.ErrCodeTimeout, "request abandoned by caller", ctx.Err())
	}
}

func (o *Orchestrator) collect(runCtx context.Context, req *FetchRequest, start time.Time, finish func()) (*FetchResult, error) {
	finish()
	rr, ok := o.results.Take(req.ID)
	if !ok {
		return nil, models.NewFetchError(models.ErrCodeInternal, "fetch result lost", nil)
	}
	if rr.err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, timeoutError(req)
		}
		return nil, rr.err
	}
	rr.res.Duration = time.Since(start)
	return rr.res, nil
}

func timeoutError(req *FetchRequest) error {
	return models.NewFetchError(models.ErrCodeTimeout,
		fmt.Sprintf("fetch of %s exceeded %s", req.URL, req.Timeout), context.DeadlineExceeded)
}

// sharedPool returns the persistent pool, creating it on first use. The
// caller must hold the run token. A pool launched after ctx ended is never
// published, so a teardown that follows a timeout leaves no shared pool.
func (o *Orchestrator) sharedPool(ctx context.Context) (*Pool, error) {
	o.mu.Lock()
	p := o.pool
	o.mu.Unlock()
	if p != nil {
		return p, nil
	}

	p, err := o.newPool(ctx)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	if ctx.Err() != nil {
		o.mu.Unlock()
		o.closePool(p)
		return nil, ctx.Err()
	}
	o.pool = p
	o.mu.Unlock()
	return p, nil
}

func (o *Orchestrator) teardownShared() {
	o.mu.Lock()
	p := o.pool
	o.pool = nil
	o.mu.Unlock()
	o.closePool(p)
}

func (o *Orchestrator) newPool(ctx context.Context) (*Pool, error) {
	p, err := NewPool(ctx, o.launcher, o.cfg.Pool, o.rotator, o.sampler)
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeInternal, "browser launch failed", err)
	}
	o.activePools.Add(1)
	metrics.PoolStarted()
	slog.Debug("orchestrator: pool started", "mode", string(o.cfg.Mode))
	return p, nil
}

func (o *Orchestrator) closePool(p *Pool) {
	if p == nil {
		return
	}
	closed, err := p.shutdown()
	if !closed {
		return
	}
	o.activePools.Add(-1)
	metrics.PoolTornDown()
	if err != nil {
		slog.Warn("orchestrator: pool teardown failed", "error", err)
		return
	}
	slog.Debug("orchestrator: pool torn down", "mode", string(o.cfg.Mode))
}

// Reset tears down the persistent pool and eagerly creates a fresh one.
func (o *Orchestrator) Reset(ctx context.Context) error {
	if o.cfg.Mode != ModePersistent {
		return models.NewFetchError(models.ErrCodeNotApplicable, "reset is only available in persistent mode", nil)
	}
	if err := o.token.Acquire(ctx); err != nil {
		return models.NewFetchError(models.ErrCodeTimeout, "reset abandoned while queued", err)
	}
	defer o.token.Release()

	o.teardownShared()
	if _, err := o.sharedPool(ctx); err != nil {
		return err
	}
	slog.Info("orchestrator: pool reset")
	return nil
}

// PoolActive reports whether any browser pool is currently alive.
func (o *Orchestrator) PoolActive() bool { return o.activePools.Load() > 0 }

// PoolStats reports the persistent pool's sessions, if one is alive.
func (o *Orchestrator) PoolStats() (models.PoolStats, bool) {
	o.mu.Lock()
	p := o.pool
	o.mu.Unlock()
	if p == nil {
		return models.PoolStats{}, false
	}
	return p.Stats(), true
}

// Health returns a liveness snapshot.
func (o *Orchestrator) Health() models.HealthResponse {
	return models.HealthResponse{
		Status:     "ok",
		Timestamp:  time.Now().Unix(),
		Mode:       string(o.cfg.Mode),
		PoolActive: o.PoolActive(),
		Uptime:     time.Since(o.started).Round(time.Second).String(),
	}
}

// Close tears down the persistent pool and stops the background sweeps.
// Ephemeral runs still in flight tear down their own pools.
func (o *Orchestrator) Close() error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	o.teardownShared()
	o.results.Close()
	o.runner.Routes().Close()
	return nil
}
