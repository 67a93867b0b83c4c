package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time { return c.t }
func (c *stepClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestHostMemory_RecordAndExpire(t *testing.T) {
	clock := &stepClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := newHostMemory(time.Minute, clock.now)

	_, ok := m.Route("shop.example.es")
	assert.False(t, ok)

	assert.Equal(t, 1, m.Record("Shop.Example.ES", RouteChallenge))
	route, ok := m.Route("shop.example.es")
	require.True(t, ok)
	assert.Equal(t, RouteChallenge, route)

	clock.advance(59 * time.Second)
	assert.Equal(t, 2, m.Record("shop.example.es", RouteChallenge), "repeat sighting extends the escalation")
	clock.advance(59 * time.Second)
	_, ok = m.Route("shop.example.es")
	assert.True(t, ok)

	clock.advance(2 * time.Second)
	_, ok = m.Route("shop.example.es")
	assert.False(t, ok)
	assert.Equal(t, 1, m.Record("shop.example.es", RouteChallenge), "sightings restart after expiry")

	m.Forget("SHOP.example.es")
	assert.Zero(t, m.Len())
}

func TestHostMemory_SweepDropsExpiredHosts(t *testing.T) {
	clock := &stepClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := newHostMemory(time.Minute, clock.now)
	m.Record("a.example.org", RouteChallenge)
	clock.advance(30 * time.Second)
	m.Record("b.example.org", RouteChallenge)

	clock.advance(45 * time.Second)
	m.sweep()
	assert.Equal(t, 1, m.Len())
	_, ok := m.Route("b.example.org")
	assert.True(t, ok)
}

func TestSweepInterval(t *testing.T) {
	assert.Equal(t, time.Second, sweepInterval(time.Second))
	assert.Equal(t, 15*time.Second, sweepInterval(time.Minute))
	assert.Equal(t, 10*time.Minute, sweepInterval(24*time.Hour))
}

func TestHostMemory_StopIsIdempotent(t *testing.T) {
	m := NewHostMemory(time.Hour)
	m.Stop()
	m.Stop()
}

func TestRoutes_EscalateRequiresMemoryAndRoute(t *testing.T) {
	u := mustParse(t, "https://news.example.org/")

	plainOnly := NewRoutes(plainRoute())
	assert.False(t, plainOnly.Learning())
	assert.False(t, plainOnly.Escalate(u, RouteChallenge))

	plainOnly.Remember(NewHostMemory(time.Hour))
	defer plainOnly.Close()
	assert.False(t, plainOnly.Escalate(u, RouteChallenge), "no challenge route to escalate to")
}

func TestRunner_EscalatesHostAfterPlainRouteChallenge(t *testing.T) {
	site := newFakeSite(interstitial)
	p := newTestPool(t, newFakeLauncher(site), PoolConfig{MaxSessions: 2})

	routes := DefaultRoutes(RouteOptions{Challenge: quickChallengeConfig(), LearnTTL: time.Hour})
	defer routes.Close()
	r := NewRunner(routes, noBackoff(0))

	first, err := r.Run(context.Background(), p, &FetchRequest{ID: "e1", URL: "https://news.example.org/a"})
	require.NoError(t, err)
	assert.Equal(t, RouteDefault, first.Route, "escalation only affects later requests")

	second, err := r.Run(context.Background(), p, &FetchRequest{ID: "e2", URL: "https://news.example.org/b"})
	require.NoError(t, err)
	assert.Equal(t, RouteChallenge, second.Route)

	other, err := r.Run(context.Background(), p, &FetchRequest{ID: "e3", URL: "https://other.example.org/"})
	require.NoError(t, err)
	assert.Equal(t, RouteDefault, other.Route)
}

func TestRunner_NoEscalationWhenDisabled(t *testing.T) {
	site := newFakeSite(interstitial)
	p := newTestPool(t, newFakeLauncher(site), PoolConfig{MaxSessions: 1})
	r := NewRunner(DefaultRoutes(RouteOptions{}), noBackoff(0))

	for i := 0; i < 2; i++ {
		res, err := r.Run(context.Background(), p, &FetchRequest{URL: "https://news.example.org/"})
		require.NoError(t, err)
		assert.Equal(t, RouteDefault, res.Route)
	}
}
