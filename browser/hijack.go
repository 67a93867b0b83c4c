package browser

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// configToProto maps human-readable config strings to Rod protocol resource types.
var configToProto = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
}

// adDomains is a set of well-known ad and tracking domains to block
// when BlockAds is enabled.
var adDomains = map[string]struct{}{
	"doubleclick.net":       {},
	"googlesyndication.com": {},
	"googleadservices.com":  {},
	"google-analytics.com":  {},
	"googletagmanager.com":  {},
	"googletagservices.com": {},
	"connect.facebook.net":  {},
	"adnxs.com":             {},
	"adsrvr.org":            {},
	"amazon-adsystem.com":   {},
	"criteo.com":            {},
	"criteo.net":            {},
	"outbrain.com":          {},
	"taboola.com":           {},
	"moatads.com":           {},
	"pubmatic.com":          {},
	"rubiconproject.com":    {},
	"scorecardresearch.com": {},
	"quantserve.com":        {},
	"hotjar.com":            {},
	"mixpanel.com":          {},
	"segment.io":            {},
	"chartbeat.com":         {},
	"openx.net":             {},
	"casalemedia.com":       {},
	"demdex.net":            {},
	"krxd.net":              {},
	"bluekai.com":           {},
	"rlcdn.com":             {},
	"addthis.com":           {},
}

// Scripts are never blocked: challenge pages and client-rendered content
// both depend on them.

// blockList decides which intercepted requests fail.
type blockList struct {
	types map[proto.NetworkResourceType]struct{}
	ads   bool
}

func newBlockList(resourceTypes []string, blockAds bool) *blockList {
	bl := &blockList{types: make(map[proto.NetworkResourceType]struct{}, len(resourceTypes)), ads: blockAds}
	for _, name := range resourceTypes {
		if rt, ok := configToProto[name]; ok {
			bl.types[rt] = struct{}{}
		} else {
			slog.Warn("browser: ignoring unknown blocked resource type", "type", name)
		}
	}
	return bl
}

func (bl *blockList) active() bool {
	return bl != nil && (len(bl.types) > 0 || bl.ads)
}

// blocks reports whether a request of the given type to rawURL is dropped.
func (bl *blockList) blocks(rt proto.NetworkResourceType, rawURL string) bool {
	if bl == nil {
		return false
	}
	if _, ok := bl.types[rt]; ok {
		return true
	}
	if bl.ads {
		if u, err := url.Parse(rawURL); err == nil && isAdDomain(u.Hostname()) {
			return true
		}
	}
	return false
}

// isAdDomain checks if a hostname (or any parent domain) is in the ad blocklist.
func isAdDomain(host string) bool {
	host = strings.ToLower(host)
	if _, ok := adDomains[host]; ok {
		return true
	}
	for {
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			return false
		}
		host = host[idx+1:]
		if _, ok := adDomains[host]; ok {
			return true
		}
	}
}

// hijack mounts a request router that fails blocked requests. It returns
// the function that stops the router.
func hijack(page *rod.Page, bl *blockList) func() {
	router := page.HijackRequests()
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		if bl.blocks(ctx.Request.Type(), ctx.Request.URL().String()) {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// router.Run() blocks until Stop is called.
	go router.Run()
	return func() { _ = router.Stop() }
}

// interceptWithAuth pauses every request of the tab to answer proxy
// authentication challenges with the context's credentials and to apply the
// block list. The hijack router cannot answer auth challenges, so the Fetch
// domain is driven directly here.
func interceptWithAuth(page *rod.Page, bl *blockList, auth *proxyAuth) func() {
	p, cancel := page.WithCancel()

	wait := p.EachEvent(
		func(e *proto.FetchRequestPaused) {
			if bl.blocks(e.ResourceType, e.Request.URL) {
				_ = proto.FetchFailRequest{RequestID: e.RequestID, ErrorReason: proto.NetworkErrorReasonBlockedByClient}.Call(p)
				return
			}
			_ = proto.FetchContinueRequest{RequestID: e.RequestID}.Call(p)
		},
		func(e *proto.FetchAuthRequired) {
			_ = proto.FetchContinueWithAuth{
				RequestID: e.RequestID,
				AuthChallengeResponse: &proto.FetchAuthChallengeResponse{
					Response: proto.FetchAuthChallengeResponseResponseProvideCredentials,
					Username: auth.username,
					Password: auth.password,
				},
			}.Call(p)
		},
	)

	// EachEvent enabled the Fetch domain without auth handling; re-enable
	// it so auth challenges are paused too.
	if err := (proto.FetchEnable{
		Patterns:           []*proto.FetchRequestPattern{{URLPattern: "*"}},
		HandleAuthRequests: true,
	}).Call(p); err != nil {
		slog.Warn("browser: enabling proxy auth interception failed", "error", err)
	}

	go wait()
	return cancel
}
