package identity

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampler_ReachesEveryCombination(t *testing.T) {
	for _, p := range []Policy{General(), Regional("de-DE", "de")} {
		t.Run(p.Name, func(t *testing.T) {
			want := make(map[Identity]bool)
			for _, id := range p.Combinations() {
				want[id] = false
			}
			require.NotEmpty(t, want)

			s := NewSampler(rand.New(rand.NewPCG(1, 2)))
			remaining := len(want)
			for i := 0; i < 200000 && remaining > 0; i++ {
				id := s.Sample(p)
				seen, ok := want[id]
				require.True(t, ok, "sampled undeclared identity %v", id)
				if !seen {
					want[id] = true
					remaining--
				}
			}
			assert.Zero(t, remaining, "some declared combinations were never sampled")
		})
	}
}

func TestRegional_NarrowerThanGeneral(t *testing.T) {
	r := Regional()
	assert.Equal(t, ProfileRegional, r.Name)
	assert.Equal(t, []string{"es-ES", "es"}, r.Locales)
	require.Len(t, r.Browsers, 1)
	assert.Equal(t, Chrome, r.Browsers[0].Family)
	assert.Less(t, len(r.Combinations()), len(General().Combinations()))
}

func TestAcceptLanguage(t *testing.T) {
	tests := []struct {
		locale string
		want   string
	}{
		{"es-ES", "es-ES,es;q=0.9,en;q=0.8"},
		{"es", "es,en;q=0.9"},
		{"en-GB", "en-GB,en;q=0.9"},
		{"", "en-US,en;q=0.9"},
	}
	for _, tt := range tests {
		t.Run(tt.locale, func(t *testing.T) {
			assert.Equal(t, tt.want, Identity{Locale: tt.locale}.AcceptLanguage())
		})
	}
}

func TestUserAgent(t *testing.T) {
	chrome := Identity{BrowserFamily: Chrome, BrowserVersion: 128, OSFamily: MacOS, DeviceClass: Desktop}
	assert.Contains(t, chrome.UserAgent(), "Chrome/128.0.0.0 Safari")
	assert.Contains(t, chrome.UserAgent(), "Macintosh")
	assert.Equal(t, "MacIntel", chrome.Platform())

	mobile := Identity{BrowserFamily: Chrome, BrowserVersion: 125, OSFamily: Android, DeviceClass: Mobile}
	assert.Contains(t, mobile.UserAgent(), "Mobile Safari")
	assert.True(t, mobile.Viewport().Mobile)

	ff := Identity{BrowserFamily: Firefox, BrowserVersion: 120, OSFamily: Linux, DeviceClass: Desktop}
	assert.True(t, strings.HasSuffix(ff.UserAgent(), "Firefox/120.0"))
	assert.False(t, ff.Viewport().Mobile)
}

func TestUserAgent_IOSBrowsersUseWebKit(t *testing.T) {
	ff := Identity{BrowserFamily: Firefox, BrowserVersion: 126, OSFamily: IOS, DeviceClass: Mobile}
	ua := ff.UserAgent()
	assert.Contains(t, ua, "FxiOS/126.0")
	assert.Contains(t, ua, "AppleWebKit/605.1.15")
	assert.NotContains(t, ua, "Gecko/20100101")
	assert.NotContains(t, ua, "rv:")

	chrome := Identity{BrowserFamily: Chrome, BrowserVersion: 128, OSFamily: IOS, DeviceClass: Mobile}
	ua = chrome.UserAgent()
	assert.Contains(t, ua, "CriOS/128.0.0.0")
	assert.Contains(t, ua, "iPhone")
	assert.NotContains(t, ua, "Chrome/")
}
