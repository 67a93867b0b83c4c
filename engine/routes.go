package engine

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/rendergate/identity"
)

// Handler performs one fetch attempt against a checked-out session.
type Handler interface {
	// Name returns the handler identifier (e.g. "default", "challenge").
	Name() string

	// Handle navigates and captures the page for req.
	Handle(ctx context.Context, s *Session, req *FetchRequest) (*Outcome, error)
}

// Route binds a URL predicate to the handler, identity policy and default
// timeout used for matching requests.
type Route struct {
	Name           string
	Match          func(u *url.URL) bool
	Handler        Handler
	Policy         identity.Policy
	DefaultTimeout time.Duration
}

// Routes is an ordered strategy table: the first matching route wins and
// the fallback serves everything else. A host escalated through Escalate
// resolves to its remembered route first. It is safe for concurrent use.
type Routes struct {
	mu       sync.RWMutex
	routes   []Route
	fallback Route
	memory   *HostMemory
}

// NewRoutes creates a table with the given fallback and routes in priority order.
func NewRoutes(fallback Route, routes ...Route) *Routes {
	return &Routes{routes: append([]Route(nil), routes...), fallback: fallback}
}

// Add appends a route after the existing ones, ahead of the fallback.
func (r *Routes) Add(route Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

// Remember enables host escalation backed by mem.
func (r *Routes) Remember(mem *HostMemory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memory = mem
}

// Learning reports whether host escalation is enabled.
func (r *Routes) Learning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.memory != nil
}

// Escalate routes u's host through the named route until the memory entry
// expires. It reports false when escalation is disabled or no such route
// exists.
func (r *Routes) Escalate(u *url.URL, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.memory == nil || u.Hostname() == "" {
		return false
	}
	if _, ok := r.byNameLocked(name); !ok {
		return false
	}
	r.memory.Record(u.Hostname(), name)
	return true
}

// Close stops the host memory, if any.
func (r *Routes) Close() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.memory != nil {
		r.memory.Stop()
	}
}

func (r *Routes) byNameLocked(name string) (Route, bool) {
	for _, route := range r.routes {
		if route.Name == name {
			return route, true
		}
	}
	return Route{}, false
}

// Resolve returns the route serving u.
func (r *Routes) Resolve(u *url.URL) Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.memory != nil {
		if name, ok := r.memory.Route(u.Hostname()); ok {
			if route, ok := r.byNameLocked(name); ok {
				return route
			}
		}
	}
	for _, route := range r.routes {
		if route.Match != nil && route.Match(u) {
			return route
		}
	}
	return r.fallback
}

// HostSuffixes matches hosts equal to, or subdomains of, any of hosts.
func HostSuffixes(hosts ...string) func(u *url.URL) bool {
	normalized := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.Trim(strings.TrimSpace(h), "."))
		if h != "" {
			normalized = append(normalized, h)
		}
	}
	return func(u *url.URL) bool {
		host := strings.ToLower(u.Hostname())
		for _, h := range normalized {
			if host == h || strings.HasSuffix(host, "."+h) {
				return true
			}
		}
		return false
	}
}

// PlainHandler is the happy-path handler: navigate to the load event,
// let the DOM settle, capture.
type PlainHandler struct {
	// Settle bounds the best-effort wait for the page to quiesce.
	Settle time.Duration

	// SelectorWait bounds the best-effort wait for a caller selector.
	SelectorWait time.Duration
}

func (h *PlainHandler) Name() string { return RouteDefault }

func (h *PlainHandler) Handle(ctx context.Context, s *Session, req *FetchRequest) (*Outcome, error) {
	if h.Settle <= 0 && req.WaitSelector == "" {
		return s.Open(ctx, req.URL, 0)
	}
	return s.Visit(ctx, req.URL, VisitOptions{WaitLoad: true}, func(ctx context.Context, page Page) (*Outcome, error) {
		if h.Settle > 0 {
			TryWithTimeout(ctx, "dom-settle", h.Settle, page.WaitNetworkIdle)
		}
		if req.WaitSelector != "" {
			TryWithTimeout(ctx, "wait-selector", h.SelectorWait, func(c context.Context) error {
				return page.WaitSelector(c, req.WaitSelector)
			})
		}
		return Capture(ctx, page, req.URL)
	})
}

// Route names.
const (
	RouteDefault   = "default"
	RouteChallenge = "challenge"
)

// RouteOptions configures the standard route table.
type RouteOptions struct {
	ChallengeHosts   []string
	RegionalLocales  []string
	Challenge        ChallengeConfig
	DefaultTimeout   time.Duration // default 30s
	ChallengeTimeout time.Duration // default 45s
	Settle           time.Duration
	SelectorWait     time.Duration

	// LearnTTL enables escalating hosts that serve a challenge page on the
	// plain route. Zero disables.
	LearnTTL time.Duration
}

// DefaultRoutes builds the table used by the server: challenge hosts get
// the challenge handler with a regional identity, everything else the
// plain handler with a general identity.
func DefaultRoutes(opts RouteOptions) *Routes {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.ChallengeTimeout <= 0 {
		opts.ChallengeTimeout = 45 * time.Second
	}
	if opts.SelectorWait <= 0 {
		opts.SelectorWait = opts.Challenge.SelectorWait
	}

	fallback := Route{
		Name:           RouteDefault,
		Handler:        &PlainHandler{Settle: opts.Settle, SelectorWait: opts.SelectorWait},
		Policy:         identity.General(),
		DefaultTimeout: opts.DefaultTimeout,
	}
	routes := NewRoutes(fallback)
	if len(opts.ChallengeHosts) > 0 || opts.LearnTTL > 0 {
		routes.Add(Route{
			Name:           RouteChallenge,
			Match:          HostSuffixes(opts.ChallengeHosts...),
			Handler:        NewChallengeHandler(opts.Challenge),
			Policy:         identity.Regional(opts.RegionalLocales...),
			DefaultTimeout: opts.ChallengeTimeout,
		})
	}
	if opts.LearnTTL > 0 {
		routes.Remember(NewHostMemory(opts.LearnTTL))
	}
	return routes
}
