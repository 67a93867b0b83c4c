package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/rendergate/identity"
	"github.com/use-agent/rendergate/models"
)

func newTestPool(t *testing.T, l Launcher, cfg PoolConfig) *Pool {
	t.Helper()
	p, err := NewPool(context.Background(), l, cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func acquireSession(t *testing.T, site *fakeSite) *Session {
	t.Helper()
	p := newTestPool(t, newFakeLauncher(site), PoolConfig{MaxSessions: 1})
	s, err := p.Acquire(context.Background(), identity.General())
	require.NoError(t, err)
	return s
}

func TestSession_RetireableAfterMaxUsage(t *testing.T) {
	s := acquireSession(t, newFakeSite("<html><body>ok</body></html>"))
	ctx := context.Background()

	for i := 0; i < DefaultMaxUsage-1; i++ {
		_, err := s.Open(ctx, "https://example.com", 0)
		require.NoError(t, err)
	}
	assert.False(t, s.IsRetireable())

	_, err := s.Open(ctx, "https://example.com", 0)
	require.NoError(t, err)
	assert.True(t, s.IsRetireable())
}

func TestSession_RetireableAfterMaxErrors(t *testing.T) {
	site := newFakeSite("<html></html>")
	site.navFails = 3
	s := acquireSession(t, site)

	for i := 0; i < 3; i++ {
		_, err := s.Open(context.Background(), "https://example.com", 0)
		require.Error(t, err)
		assert.True(t, models.IsKind(err, models.ErrCodeNavigation))
	}
	usage, errScore := s.Counters()
	assert.Zero(t, usage)
	assert.Equal(t, 3, errScore)
	assert.True(t, s.IsRetireable())
}

func TestSession_NotRetireableBelowLimits(t *testing.T) {
	site := newFakeSite("<html></html>")
	site.navFails = 2
	s := acquireSession(t, site)

	for i := 0; i < 51; i++ {
		_, _ = s.Open(context.Background(), "https://example.com", 0)
	}
	usage, errScore := s.Counters()
	assert.Equal(t, 49, usage)
	assert.Equal(t, 2, errScore)
	assert.False(t, s.IsRetireable())
}

func TestSession_OpenCapturesOutcome(t *testing.T) {
	site := newFakeSite("<html><body>listing</body></html>")
	site.status = 404
	site.finalURL = "https://example.com/landing"
	s := acquireSession(t, site)

	out, err := s.Open(context.Background(), "https://example.com", 0)
	require.NoError(t, err)
	assert.Equal(t, "<html><body>listing</body></html>", out.HTML)
	assert.Equal(t, 404, out.StatusCode)
	assert.Equal(t, "https://example.com/landing", out.FinalURL)
}

func TestCapture_DefaultsStatusTo200(t *testing.T) {
	site := newFakeSite("<html></html>")
	site.status = 0

	out, err := Capture(context.Background(), &fakePage{site: site, url: "https://example.com/x"}, "https://example.com/x")
	require.NoError(t, err)
	assert.Equal(t, 200, out.StatusCode)
	assert.Equal(t, "https://example.com/x", out.FinalURL)
}

func TestCapture_RetriesExtractionOnce(t *testing.T) {
	site := newFakeSite("<html>late</html>")
	site.htmlFails = 1

	out, err := Capture(context.Background(), &fakePage{site: site}, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "<html>late</html>", out.HTML)
	assert.Equal(t, 2, site.htmlCalls)
	assert.Equal(t, "https://example.com", out.FinalURL)
}

func TestCapture_FailsAfterSecondExtractionError(t *testing.T) {
	site := newFakeSite("<html></html>")
	site.htmlFails = 2

	_, err := Capture(context.Background(), &fakePage{site: site}, "https://example.com")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrCodeExtraction))
	assert.Equal(t, 2, site.htmlCalls)
}
