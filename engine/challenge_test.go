package engine

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/rendergate/detector"
	"github.com/use-agent/rendergate/identity"
	"github.com/use-agent/rendergate/models"
)

const interstitial = `<html><head><title>Just a moment...</title></head>
<body><div id="challenge-running">Checking your browser before accessing the site.</div></body></html>`

func regionalSession(t *testing.T, site *fakeSite) *Session {
	t.Helper()
	p := newTestPool(t, newFakeLauncher(site), PoolConfig{MaxSessions: 1})
	s, err := p.Acquire(context.Background(), identity.Regional("es-ES", "es"))
	require.NoError(t, err)
	return s
}

func TestChallenge_CapturesEvenWhenIndicatorsNeverClear(t *testing.T) {
	site := newFakeSite(interstitial)
	site.title = "Just a moment..."
	s := regionalSession(t, site)
	h := NewChallengeHandler(quickChallengeConfig())

	start := time.Now()
	out, err := h.Handle(context.Background(), s, &FetchRequest{ID: "c1", URL: "https://shop.example.es/"})
	require.NoError(t, err)
	assert.Equal(t, interstitial, out.HTML)
	assert.Equal(t, 200, out.StatusCode)
	assert.GreaterOrEqual(t, time.Since(start), quickChallengeConfig().PollTimeout)
}

func TestChallenge_StopsPollingOnceClear(t *testing.T) {
	site := newFakeSite("<html><main>prices</main></html>")
	site.selectors["main"] = true
	s := regionalSession(t, site)

	cfg := quickChallengeConfig()
	cfg.PollTimeout = 5 * time.Second
	h := NewChallengeHandler(cfg)
	var calls atomic.Int32
	h.detect = func(detector.Signals) (detector.Indicator, bool) {
		n := calls.Add(1)
		return detector.Indicator{Vendor: "generic"}, n < 3
	}

	start := time.Now()
	out, err := h.Handle(context.Background(), s, &FetchRequest{ID: "c2", URL: "https://shop.example.es/"})
	require.NoError(t, err)
	assert.Equal(t, "<html><main>prices</main></html>", out.HTML)
	assert.EqualValues(t, 3, calls.Load())
	assert.Less(t, time.Since(start), cfg.PollTimeout)
}

func TestChallenge_NavigationFailureIsResolutionFailure(t *testing.T) {
	site := newFakeSite(interstitial)
	site.navFails = 1
	s := regionalSession(t, site)
	h := NewChallengeHandler(quickChallengeConfig())

	_, err := h.Handle(context.Background(), s, &FetchRequest{ID: "c3", URL: "https://shop.example.es/"})
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeChallengeResolution, models.KindOf(err))
	assert.True(t, models.IsKind(err, models.ErrCodeNavigation))
	_, errScore := s.Counters()
	assert.Equal(t, 1, errScore)
}

func TestChallenge_SendsRegionalAcceptLanguage(t *testing.T) {
	site := newFakeSite("<html><body>ok</body></html>")
	site.selectors["body"] = true
	s := regionalSession(t, site)
	h := NewChallengeHandler(quickChallengeConfig())

	_, err := h.Handle(context.Background(), s, &FetchRequest{ID: "c4", URL: "https://shop.example.es/"})
	require.NoError(t, err)

	require.Len(t, site.headers, 1)
	lang := site.headers[0]["Accept-Language"]
	assert.True(t, strings.HasPrefix(lang, "es"), "Accept-Language %q", lang)
}

func TestChallenge_FallbackSelectorsInOrder(t *testing.T) {
	site := newFakeSite("<html><article>story</article></html>")
	site.selectors["article"] = true
	s := regionalSession(t, site)
	h := NewChallengeHandler(quickChallengeConfig())

	_, err := h.Handle(context.Background(), s, &FetchRequest{ID: "c5", URL: "https://shop.example.es/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "#content", "article"}, site.waitedFor)
}

func TestChallenge_CallerSelectorReplacesFallbacks(t *testing.T) {
	site := newFakeSite("<html><div id=listing></div></html>")
	s := regionalSession(t, site)
	h := NewChallengeHandler(quickChallengeConfig())

	out, err := h.Handle(context.Background(), s, &FetchRequest{ID: "c6", URL: "https://shop.example.es/", WaitSelector: "#listing .price"})
	require.NoError(t, err, "a selector that never appears is not fatal")
	assert.NotEmpty(t, out.HTML)
	assert.Equal(t, []string{"#listing .price"}, site.waitedFor)
}

func TestChallenge_DismissesOverlay(t *testing.T) {
	site := newFakeSite("<html><main>x</main></html>")
	site.selectors["main"] = true
	site.clickable["button.close"] = true
	site.clickable[".modal-close"] = true
	s := regionalSession(t, site)
	h := NewChallengeHandler(quickChallengeConfig())

	_, err := h.Handle(context.Background(), s, &FetchRequest{ID: "c7", URL: "https://shop.example.es/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"button.close"}, site.clicked)
}

func TestChallenge_WaitsInPhaseOrder(t *testing.T) {
	site := newFakeSite("<html><main>x</main></html>")
	site.selectors["main"] = true
	s := regionalSession(t, site)
	h := NewChallengeHandler(quickChallengeConfig())

	_, err := h.Handle(context.Background(), s, &FetchRequest{ID: "c8", URL: "https://shop.example.es/"})
	require.NoError(t, err)

	var waits []string
	for _, e := range site.Events() {
		if e == "dom-content-loaded" || e == "network-idle" {
			waits = append(waits, e)
		}
	}
	assert.Equal(t, []string{"dom-content-loaded", "network-idle", "network-idle"}, waits)
}
