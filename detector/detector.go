// Package detector recognises bot-challenge and interstitial pages from
// their title and markup.
package detector

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Signals is a snapshot of what the page currently shows.
type Signals struct {
	Title string
	HTML  string
}

// Indicator describes the first challenge marker that matched.
type Indicator struct {
	Vendor string // "generic", "cloudflare", "datadome", ...
	Kind   string // "title", "text", "selector", "script"
	Match  string
}

// marker is one vendor signature.
type marker struct {
	vendor    string
	titles    []string
	texts     []string
	selectors []string
	scripts   []string
}

var markers = []marker{
	{
		vendor: "generic",
		titles: []string{"just a moment", "checking your browser", "please wait", "attention required", "access denied", "are you a robot"},
		texts: []string{
			"checking your browser",
			"checking if the site connection is secure",
			"verify you are human",
			"verifying you are human",
			"enable javascript and cookies to continue",
			"please enable js and disable any ad blocker",
			"press & hold",
		},
	},
	{
		vendor:    "cloudflare",
		selectors: []string{"#cf-challenge-running", "#challenge-running", "#challenge-stage", "#challenge-form", "#cf-wrapper", "#turnstile-wrapper", ".cf-turnstile", "#cf-spinner-please-wait"},
		scripts:   []string{"/cdn-cgi/challenge-platform/", "challenges.cloudflare.com"},
	},
	{
		vendor:    "datadome",
		selectors: []string{"iframe[src*='captcha-delivery.com']", "#ddv1-captcha-container"},
		scripts:   []string{"captcha-delivery.com", "js.datadome.co"},
	},
	{
		vendor:    "perimeterx",
		selectors: []string{"#px-captcha", "#px-captcha-wrapper", "div[class^='px-captcha']"},
		scripts:   []string{"/captcha/captcha.js", "px-cdn.net", "px-cloud.net"},
	},
	{
		vendor:    "imperva",
		selectors: []string{"iframe[src*='_Incapsula_Resource']", "#main-iframe[src*='Incapsula']"},
		texts:     []string{"incapsula incident id"},
		scripts:   []string{"_Incapsula_Resource"},
	},
	{
		vendor:    "akamai",
		selectors: []string{"#sec-if-cpt-container", "#sec-cpt-if"},
		scripts:   []string{"/_sec/cp_challenge/"},
	},
	{
		vendor:    "ddos-guard",
		titles:    []string{"ddos-guard"},
		selectors: []string{"#ddg-captcha", "#ddg-l10n-title"},
		scripts:   []string{"ddos-guard.net/"},
	},
}

type compiledSelector struct {
	vendor string
	raw    string
	sel    cascadia.Selector
}

var compiledSelectors = compileSelectors()

func compileSelectors() []compiledSelector {
	var out []compiledSelector
	for _, m := range markers {
		for _, s := range m.selectors {
			out = append(out, compiledSelector{vendor: m.vendor, raw: s, sel: cascadia.MustCompile(s)})
		}
	}
	return out
}

// Detect evaluates the composite challenge predicate. It reports the first
// matching indicator and true while the page still looks like a challenge.
func Detect(sig Signals) (Indicator, bool) {
	title := strings.ToLower(strings.TrimSpace(sig.Title))

	doc, err := parse(sig.HTML)
	if err == nil && title == "" {
		title = strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	}

	for _, m := range markers {
		for _, t := range m.titles {
			if title != "" && strings.Contains(title, t) {
				return Indicator{Vendor: m.vendor, Kind: "title", Match: t}, true
			}
		}
	}

	if err != nil {
		// Unparseable markup: fall back to substring checks over the raw body.
		lower := strings.ToLower(sig.HTML)
		for _, m := range markers {
			for _, t := range m.texts {
				if strings.Contains(lower, t) {
					return Indicator{Vendor: m.vendor, Kind: "text", Match: t}, true
				}
			}
		}
		return Indicator{}, false
	}

	text := VisibleText(doc)
	for _, m := range markers {
		for _, t := range m.texts {
			if strings.Contains(text, t) {
				return Indicator{Vendor: m.vendor, Kind: "text", Match: t}, true
			}
		}
	}

	for _, cs := range compiledSelectors {
		if doc.FindMatcher(cs.sel).Length() > 0 {
			return Indicator{Vendor: cs.vendor, Kind: "selector", Match: cs.raw}, true
		}
	}

	if ind, ok := matchScripts(doc); ok {
		return ind, true
	}
	return Indicator{}, false
}

// IsChallenge is the boolean form of Detect.
func IsChallenge(sig Signals) bool {
	_, ok := Detect(sig)
	return ok
}

func matchScripts(doc *goquery.Document) (Indicator, bool) {
	var (
		found Indicator
		ok    bool
	)
	doc.Find("script[src], iframe[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		for _, m := range markers {
			for _, frag := range m.scripts {
				if strings.Contains(src, frag) {
					found, ok = Indicator{Vendor: m.vendor, Kind: "script", Match: frag}, true
					return false
				}
			}
		}
		return true
	})
	return found, ok
}

func parse(markup string) (*goquery.Document, error) {
	node, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromNode(node), nil
}

// VisibleText returns the lower-cased, whitespace-collapsed text of <body>
// with script, style and noscript content removed.
func VisibleText(doc *goquery.Document) string {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return strings.ToLower(strings.Join(strings.Fields(body.Text()), " "))
}
