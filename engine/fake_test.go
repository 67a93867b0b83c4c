package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/rendergate/identity"
	"github.com/use-agent/rendergate/proxy"
)

var errFakeNavigation = errors.New("fake: net::ERR_CONNECTION_RESET")

// fakeSite scripts what every page opened against it sees.
type fakeSite struct {
	mu sync.Mutex

	html      string
	title     string
	status    int
	finalURL  string
	navDelay  time.Duration
	navFails  int // first N navigations fail
	htmlFails int // first N HTML calls fail
	selectors map[string]bool
	clickable map[string]bool

	navigations int
	waitLoads   []bool // waitLoad argument of each Navigate
	htmlCalls   int
	inflight    int
	maxInflight int
	headers     []map[string]string
	waitedFor   []string
	clicked     []string
	events      []string
}

func newFakeSite(html string) *fakeSite {
	return &fakeSite{
		html:      html,
		status:    200,
		selectors: map[string]bool{},
		clickable: map[string]bool{},
	}
}

func (s *fakeSite) record(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *fakeSite) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *fakeSite) Navigations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navigations
}

func (s *fakeSite) WaitLoads() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.waitLoads...)
}

func (s *fakeSite) MaxInflight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInflight
}

func (s *fakeSite) SetHTML(html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.html = html
}

// fakeLauncher hands out fake browsers serving one site.
type fakeLauncher struct {
	site      *fakeSite
	launchErr error

	launches atomic.Int32
	live     atomic.Int32

	mu         sync.Mutex
	identities []identity.Identity
	proxies    []*proxy.Endpoint
}

func newFakeLauncher(site *fakeSite) *fakeLauncher {
	return &fakeLauncher{site: site}
}

func (l *fakeLauncher) Launch(ctx context.Context) (Browser, error) {
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.launches.Add(1)
	l.live.Add(1)
	l.site.record("launch")
	return &fakeBrowser{l: l}, nil
}

func (l *fakeLauncher) Identities() []identity.Identity {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]identity.Identity(nil), l.identities...)
}

func (l *fakeLauncher) Proxies() []*proxy.Endpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*proxy.Endpoint(nil), l.proxies...)
}

type fakeBrowser struct {
	l      *fakeLauncher
	closed atomic.Bool
}

func (b *fakeBrowser) NewContext(_ context.Context, id identity.Identity, ep *proxy.Endpoint) (BrowserContext, error) {
	if b.closed.Load() {
		return nil, errors.New("fake: browser closed")
	}
	b.l.mu.Lock()
	b.l.identities = append(b.l.identities, id)
	b.l.proxies = append(b.l.proxies, ep)
	b.l.mu.Unlock()
	return &fakeContext{b: b}, nil
}

func (b *fakeBrowser) Close() error {
	if b.closed.CompareAndSwap(false, true) {
		b.l.live.Add(-1)
		b.l.site.record("close")
	}
	return nil
}

type fakeContext struct {
	b      *fakeBrowser
	closed atomic.Bool
}

func (c *fakeContext) NewPage(context.Context) (Page, error) {
	if c.closed.Load() || c.b.closed.Load() {
		return nil, errors.New("fake: context closed")
	}
	return &fakePage{site: c.b.l.site}, nil
}

func (c *fakeContext) Close() error {
	c.closed.Store(true)
	return nil
}

type fakePage struct {
	site *fakeSite
	url  string
}

func (p *fakePage) SetExtraHeaders(_ context.Context, headers map[string]string) error {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	p.site.headers = append(p.site.headers, headers)
	return nil
}

func (p *fakePage) Navigate(ctx context.Context, url string, waitLoad bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := p.site
	s.mu.Lock()
	s.navigations++
	s.waitLoads = append(s.waitLoads, waitLoad)
	n := s.navigations
	s.inflight++
	if s.inflight > s.maxInflight {
		s.maxInflight = s.inflight
	}
	delay := s.navDelay
	fail := n <= s.navFails
	s.events = append(s.events, "nav-start")
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inflight--
		s.events = append(s.events, "nav-end")
		s.mu.Unlock()
	}()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return errFakeNavigation
	}
	p.url = url
	return nil
}

func (p *fakePage) WaitDOMContentLoaded(context.Context) error {
	p.site.record("dom-content-loaded")
	return nil
}

func (p *fakePage) WaitNetworkIdle(context.Context) error {
	p.site.record("network-idle")
	return nil
}

func (p *fakePage) WaitSelector(ctx context.Context, selector string) error {
	s := p.site
	s.mu.Lock()
	s.waitedFor = append(s.waitedFor, selector)
	present := s.selectors[selector]
	s.mu.Unlock()
	if present {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (p *fakePage) Click(_ context.Context, selector string) error {
	s := p.site
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.clickable[selector] {
		return errors.New("fake: element not found")
	}
	s.clicked = append(s.clicked, selector)
	return nil
}

func (p *fakePage) HTML(context.Context) (string, error) {
	s := p.site
	s.mu.Lock()
	defer s.mu.Unlock()
	s.htmlCalls++
	if s.htmlFails > 0 {
		s.htmlFails--
		return "", errors.New("fake: execution context was destroyed")
	}
	return s.html, nil
}

func (p *fakePage) Title(context.Context) (string, error) {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	return p.site.title, nil
}

func (p *fakePage) URL(context.Context) (string, error) {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	if p.site.finalURL != "" {
		return p.site.finalURL, nil
	}
	return p.url, nil
}

func (p *fakePage) StatusCode(context.Context) (int, bool) {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	return p.site.status, p.site.status > 0
}

func (p *fakePage) Close() error { return nil }

// quickChallengeConfig keeps challenge loop tests fast.
func quickChallengeConfig() ChallengeConfig {
	cfg := DefaultChallengeConfig()
	cfg.LoadWait = 50 * time.Millisecond
	cfg.IdleWait = 50 * time.Millisecond
	cfg.PollTimeout = 60 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond
	cfg.SelectorWait = 10 * time.Millisecond
	cfg.FinalIdleWait = 50 * time.Millisecond
	cfg.OverlayWait = 10 * time.Millisecond
	return cfg
}

func noBackoff(budget int) RetryPolicy {
	return RetryPolicy{Budget: budget}
}
