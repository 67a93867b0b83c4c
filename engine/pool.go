package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/use-agent/rendergate/identity"
	"github.com/use-agent/rendergate/models"
	"github.com/use-agent/rendergate/proxy"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("engine: session pool closed")

// maxIdentityDraws bounds resampling when a drawn identity is already live.
const maxIdentityDraws = 16

// PoolConfig holds configuration for the session pool.
type PoolConfig struct {
	MaxSessions   int // concurrent checkouts and live sessions; default 4
	MaxUsage      int // default 50
	MaxErrorScore int // default 3
}

// Pool owns one browser process and the sessions created in it. Sessions
// are created lazily and checked out exclusively.
type Pool struct {
	cfg     PoolConfig
	browser Browser
	rotator *proxy.Rotator
	sampler *identity.Sampler

	slots chan struct{} // one token per checked-out session

	mu      sync.Mutex
	idle    map[string][]*Session // policy name -> idle sessions
	all     map[int64]*Session
	idents  map[identity.Identity]int64
	pending int
	closed  bool
	nextID  atomic.Int64
	active  atomic.Int32
}

// NewPool launches a browser and returns an empty pool around it.
func NewPool(ctx context.Context, launcher Launcher, cfg PoolConfig, rotator *proxy.Rotator, sampler *identity.Sampler) (*Pool, error) {
	if cfg.MaxSessions < 1 {
		cfg.MaxSessions = 4
	}
	if sampler == nil {
		sampler = identity.NewSampler(nil)
	}

	b, err := launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool: launch browser: %w", err)
	}

	return &Pool{
		cfg:     cfg,
		browser: b,
		rotator: rotator,
		sampler: sampler,
		slots:   make(chan struct{}, cfg.MaxSessions),
		idle:    make(map[string][]*Session),
		all:     make(map[int64]*Session),
		idents:  make(map[identity.Identity]int64),
	}, nil
}

// Acquire checks out a session wearing an identity from policy. It reuses
// an idle session created for the same policy, otherwise creates one. It
// blocks while MaxSessions sessions are checked out.
func (p *Pool) Acquire(ctx context.Context, policy identity.Policy) (*Session, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return nil, ErrPoolClosed
	}
	if list := p.idle[policy.Name]; len(list) > 0 {
		s := list[len(list)-1]
		p.idle[policy.Name] = list[:len(list)-1]
		p.mu.Unlock()
		p.active.Add(1)
		return s, nil
	}

	var victim *Session
	if len(p.all)+p.pending >= p.cfg.MaxSessions {
		victim = p.evictIdleLocked()
	}
	ident := p.uniqueIdentityLocked(policy)
	id := p.nextID.Add(1)
	p.idents[ident] = id
	p.pending++
	p.mu.Unlock()

	if victim != nil {
		slog.Debug("pool: evicting idle session for another policy", "session", victim.ID, "policy", victim.Policy)
		victim.close()
	}

	ep := p.rotator.Next()
	bctx, err := p.browser.NewContext(ctx, ident, ep)

	p.mu.Lock()
	p.pending--
	if err != nil {
		delete(p.idents, ident)
		p.mu.Unlock()
		<-p.slots
		return nil, models.NewFetchError(models.ErrCodeNavigation, "failed to create browser context", err)
	}
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		_ = bctx.Close()
		return nil, ErrPoolClosed
	}
	s := newSession(id, policy.Name, ident, ep, bctx, p.cfg.MaxUsage, p.cfg.MaxErrorScore)
	p.all[id] = s
	p.mu.Unlock()

	p.active.Add(1)
	slog.Debug("pool: session created", "session", id, "identity", ident.String(), "proxy", proxyLabel(ep))
	return s, nil
}

// Release returns a session to the pool. Retireable sessions are closed
// and forgotten; the next Acquire creates a replacement lazily.
func (p *Pool) Release(s *Session) {
	p.active.Add(-1)
	defer func() { <-p.slots }()

	p.mu.Lock()
	if p.closed || s.IsRetireable() {
		p.forgetLocked(s)
		closed := p.closed
		p.mu.Unlock()
		if !closed {
			usage, errScore := s.Counters()
			slog.Debug("pool: retiring session", "session", s.ID, "usage", usage, "errScore", errScore)
		}
		s.close()
		return
	}
	p.idle[s.Policy] = append(p.idle[s.Policy], s)
	p.mu.Unlock()
}

// Discard closes a checked-out session regardless of its health. The
// next Acquire builds a replacement with a fresh identity and the next
// proxy from the rotator.
func (p *Pool) Discard(s *Session) {
	p.active.Add(-1)
	defer func() { <-p.slots }()

	p.mu.Lock()
	p.forgetLocked(s)
	p.mu.Unlock()

	slog.Debug("pool: discarding session", "session", s.ID, "proxy", proxyLabel(s.Proxy))
	s.close()
}

// forgetLocked drops s from the live set. Caller must hold p.mu.
func (p *Pool) forgetLocked(s *Session) {
	delete(p.all, s.ID)
	if p.idents[s.Identity] == s.ID {
		delete(p.idents, s.Identity)
	}
}

// Close destroys every session and terminates the browser. It is safe to
// call more than once.
func (p *Pool) Close() error {
	_, err := p.shutdown()
	return err
}

// shutdown closes the pool and reports whether this call did so.
func (p *Pool) shutdown() (bool, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false, nil
	}
	p.closed = true
	sessions := make([]*Session, 0, len(p.all))
	for _, s := range p.all {
		sessions = append(sessions, s)
	}
	p.all = make(map[int64]*Session)
	p.idle = make(map[string][]*Session)
	p.idents = make(map[identity.Identity]int64)
	p.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	return true, p.browser.Close()
}

// Stats returns a snapshot of the pool's current state.
func (p *Pool) Stats() models.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return models.PoolStats{
		MaxSessions:    p.cfg.MaxSessions,
		LiveSessions:   len(p.all),
		ActiveSessions: int(p.active.Load()),
	}
}

// evictIdleLocked removes one idle session of any policy. Caller must hold p.mu.
func (p *Pool) evictIdleLocked() *Session {
	for name, list := range p.idle {
		if len(list) == 0 {
			continue
		}
		victim := list[0]
		p.idle[name] = list[1:]
		delete(p.all, victim.ID)
		delete(p.idents, victim.Identity)
		return victim
	}
	return nil
}

// uniqueIdentityLocked samples until the identity is not live in the pool.
// Caller must hold p.mu.
func (p *Pool) uniqueIdentityLocked(policy identity.Policy) identity.Identity {
	var ident identity.Identity
	for i := 0; i < maxIdentityDraws; i++ {
		ident = p.sampler.Sample(policy)
		if _, taken := p.idents[ident]; !taken {
			return ident
		}
	}
	slog.Warn("pool: identity space exhausted, reusing a live identity", "policy", policy.Name, "identity", ident.String())
	return ident
}

func proxyLabel(ep *proxy.Endpoint) string {
	if ep == nil {
		return "direct"
	}
	return ep.Server()
}
