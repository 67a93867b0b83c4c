package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/rendergate/identity"
	"github.com/use-agent/rendergate/proxy"
)

func TestPool_CheckoutIsExclusive(t *testing.T) {
	p := newTestPool(t, newFakeLauncher(newFakeSite("")), PoolConfig{MaxSessions: 2})
	ctx := context.Background()

	a, err := p.Acquire(ctx, identity.General())
	require.NoError(t, err)
	b, err := p.Acquire(ctx, identity.General())
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	blocked, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(blocked, identity.General())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.Release(a)
	c, err := p.Acquire(ctx, identity.General())
	require.NoError(t, err)
	assert.Equal(t, a.ID, c.ID, "idle session should be reused")

	stats := p.Stats()
	assert.Equal(t, 2, stats.LiveSessions)
	assert.Equal(t, 2, stats.ActiveSessions)
}

func TestPool_ConcurrentCheckoutsNeverShareSession(t *testing.T) {
	p := newTestPool(t, newFakeLauncher(newFakeSite("")), PoolConfig{MaxSessions: 3})

	var (
		mu    sync.Mutex
		inUse = map[int64]bool{}
		clash bool
		wg    sync.WaitGroup
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := p.Acquire(context.Background(), identity.General())
			if err != nil {
				return
			}
			mu.Lock()
			if inUse[s.ID] {
				clash = true
			}
			inUse[s.ID] = true
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			delete(inUse, s.ID)
			mu.Unlock()
			p.Release(s)
		}()
	}
	wg.Wait()
	assert.False(t, clash)
}

func TestPool_LiveIdentitiesAreUnique(t *testing.T) {
	l := newFakeLauncher(newFakeSite(""))
	p := newTestPool(t, l, PoolConfig{MaxSessions: 8})

	seen := map[identity.Identity]bool{}
	for i := 0; i < 8; i++ {
		s, err := p.Acquire(context.Background(), identity.General())
		require.NoError(t, err)
		assert.False(t, seen[s.Identity], "identity %v handed out twice", s.Identity)
		seen[s.Identity] = true
	}
	assert.Len(t, l.Identities(), 8)
}

func TestPool_RetiresExhaustedSessions(t *testing.T) {
	site := newFakeSite("<html></html>")
	p := newTestPool(t, newFakeLauncher(site), PoolConfig{MaxSessions: 1, MaxUsage: 2})
	ctx := context.Background()

	s, err := p.Acquire(ctx, identity.General())
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := s.Open(ctx, "https://example.com", 0)
		require.NoError(t, err)
	}
	require.True(t, s.IsRetireable())
	p.Release(s)
	assert.Zero(t, p.Stats().LiveSessions)

	next, err := p.Acquire(ctx, identity.General())
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, next.ID)

	_, err = s.bctx.NewPage(ctx)
	assert.Error(t, err, "retired session's context should be closed")
}

func TestPool_RotatesProxies(t *testing.T) {
	l := newFakeLauncher(newFakeSite(""))
	rot := proxy.NewRotator(proxy.Resolve([]string{"proxy1:8000", "proxy2:8000"}))
	p, err := NewPool(context.Background(), l, PoolConfig{MaxSessions: 3}, rot, nil)
	require.NoError(t, err)
	defer p.Close()

	for i := 0; i < 3; i++ {
		_, err := p.Acquire(context.Background(), identity.General())
		require.NoError(t, err)
	}
	got := l.Proxies()
	require.Len(t, got, 3)
	assert.Equal(t, "http://proxy1:8000", got[0].String())
	assert.Equal(t, "http://proxy2:8000", got[1].String())
	assert.Equal(t, "http://proxy1:8000", got[2].String())
}

func TestPool_EvictsIdleSessionOfOtherPolicy(t *testing.T) {
	p := newTestPool(t, newFakeLauncher(newFakeSite("")), PoolConfig{MaxSessions: 1})
	ctx := context.Background()

	general, err := p.Acquire(ctx, identity.General())
	require.NoError(t, err)
	p.Release(general)

	regional, err := p.Acquire(ctx, identity.Regional())
	require.NoError(t, err)
	assert.NotEqual(t, general.ID, regional.ID)
	assert.Equal(t, identity.ProfileRegional, regional.Policy)
	assert.Equal(t, 1, p.Stats().LiveSessions)
}

func TestPool_CloseTerminatesBrowser(t *testing.T) {
	l := newFakeLauncher(newFakeSite(""))
	p, err := NewPool(context.Background(), l, PoolConfig{}, nil, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, l.live.Load())

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Zero(t, l.live.Load())

	_, err = p.Acquire(context.Background(), identity.General())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestNewPool_LaunchFailure(t *testing.T) {
	l := newFakeLauncher(newFakeSite(""))
	l.launchErr = errors.New("chromium not found")

	_, err := NewPool(context.Background(), l, PoolConfig{}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chromium not found")
}

func TestPool_DiscardClosesHealthySession(t *testing.T) {
	l := newFakeLauncher(newFakeSite(""))
	rot := proxy.NewRotator(proxy.Resolve([]string{"proxy1:8000", "proxy2:8000"}))
	p, err := NewPool(context.Background(), l, PoolConfig{MaxSessions: 1}, rot, nil)
	require.NoError(t, err)
	defer p.Close()
	ctx := context.Background()

	s, err := p.Acquire(ctx, identity.General())
	require.NoError(t, err)
	require.False(t, s.IsRetireable())
	p.Discard(s)
	assert.Zero(t, p.Stats().LiveSessions)
	assert.Zero(t, p.Stats().ActiveSessions)

	_, err = s.bctx.NewPage(ctx)
	assert.Error(t, err, "discarded session's context should be closed")

	next, err := p.Acquire(ctx, identity.General())
	require.NoError(t, err, "discard must free the checkout slot")
	assert.NotEqual(t, s.ID, next.ID)
	assert.Equal(t, "http://proxy2:8000", next.Proxy.String())
}
