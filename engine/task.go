package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/use-agent/rendergate/detector"
	"github.com/use-agent/rendergate/identity"
	"github.com/use-agent/rendergate/models"
)

// State is a fetch task state.
type State int

const (
	StateQueued State = iota
	StateRunning
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionSource hands out sessions for one fetch at a time.
type SessionSource interface {
	Acquire(ctx context.Context, policy identity.Policy) (*Session, error)
	Release(s *Session)
	Discard(s *Session)
}

// Task tracks one request through Queued → Running → Succeeded/Failed.
type Task struct {
	Request *FetchRequest
	Route   Route

	mu       sync.Mutex
	state    State
	history  []State
	attempts int
}

// NewTask creates a queued task.
func NewTask(req *FetchRequest, route Route) *Task {
	return &Task{Request: req, Route: route, state: StateQueued, history: []State{StateQueued}}
}

func (t *Task) transition(to State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if to == StateRunning {
		t.attempts++
	}
	slog.Debug("task: transition", "request_id", t.Request.ID, "from", t.state.String(), "to", to.String(), "attempt", t.attempts)
	t.state = to
	t.history = append(t.history, to)
}

// State returns the current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// History returns every state the task has entered, in order.
func (t *Task) History() []State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]State(nil), t.history...)
}

// Attempts returns the number of Running entries so far.
func (t *Task) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Runner executes fetch tasks with a retry policy over a route table.
type Runner struct {
	routes *Routes
	retry  RetryPolicy
}

// NewRunner creates a Runner.
func NewRunner(routes *Routes, retry RetryPolicy) *Runner {
	if retry.Budget < 0 {
		retry.Budget = 0
	}
	return &Runner{routes: routes, retry: retry}
}

// Routes returns the runner's route table.
func (r *Runner) Routes() *Routes { return r.routes }

// Run resolves the route for req and executes a new task for it.
func (r *Runner) Run(ctx context.Context, src SessionSource, req *FetchRequest) (*FetchResult, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeInvalidURL, "invalid target URL", err)
	}
	return r.Execute(ctx, src, NewTask(req, r.routes.Resolve(u)))
}

// Execute drives t to a terminal state. The first attempt plus up to
// RetryPolicy.Budget retries each check out a session; a cancelled ctx
// stops retrying.
func (r *Runner) Execute(ctx context.Context, src SessionSource, t *Task) (*FetchResult, error) {
	start := time.Now()
	req := t.Request

	var lastErr error
	for attempt := 0; attempt <= r.retry.Budget; attempt++ {
		if attempt > 0 {
			if !sleepContext(ctx, r.retry.Backoff(attempt)) {
				break
			}
		}

		t.transition(StateRunning)
		out, err := r.attempt(ctx, src, t)
		if err == nil {
			r.maybeEscalate(t, out)
			t.transition(StateSucceeded)
			slog.Info("fetch succeeded",
				"request_id", req.ID,
				"url", req.URL,
				"route", t.Route.Name,
				"attempts", t.Attempts(),
				"status", out.StatusCode,
			)
			return &FetchResult{
				RequestID:  req.ID,
				FinalURL:   out.FinalURL,
				HTML:       out.HTML,
				StatusCode: out.StatusCode,
				Route:      t.Route.Name,
				Attempts:   t.Attempts(),
				Duration:   time.Since(start),
			}, nil
		}

		lastErr = err
		slog.Warn("fetch attempt failed",
			"request_id", req.ID,
			"url", req.URL,
			"route", t.Route.Name,
			"attempt", attempt+1,
			"remaining", r.retry.Budget-attempt,
			"error", err,
		)
		if errNotRetryable(ctx, err) {
			break
		}
	}

	t.transition(StateFailed)
	return nil, models.NewFetchError(models.ErrCodeFetchFailed,
		fmt.Sprintf("fetch of %s failed after %d attempt(s)", req.URL, t.Attempts()), lastErr)
}

// maybeEscalate remembers hosts whose plain-route capture still shows a
// challenge, so their next request goes through the challenge loop.
func (r *Runner) maybeEscalate(t *Task, out *Outcome) {
	if t.Route.Name != RouteDefault || !r.routes.Learning() {
		return
	}
	ind, ok := detector.Detect(detector.Signals{HTML: out.HTML})
	if !ok {
		return
	}
	u, err := url.Parse(t.Request.URL)
	if err != nil {
		return
	}
	if r.routes.Escalate(u, RouteChallenge) {
		slog.Info("host served a challenge on the plain route, escalating",
			"request_id", t.Request.ID,
			"host", u.Hostname(),
			"vendor", ind.Vendor,
			"match", ind.Match,
		)
	}
}

func (r *Runner) attempt(ctx context.Context, src SessionSource, t *Task) (*Outcome, error) {
	s, err := src.Acquire(ctx, t.Route.Policy)
	if err != nil {
		return nil, err
	}

	out, err := t.Route.Handler.Handle(ctx, s, t.Request)
	if err != nil {
		// Failed sessions never serve the retry.
		src.Discard(s)
		return nil, err
	}
	src.Release(s)
	return out, nil
}
