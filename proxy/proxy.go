// Package proxy resolves raw proxy strings into a normalized, deduplicated
// endpoint list and rotates through it.
package proxy

import (
	"bufio"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
)

// Endpoint is a normalized proxy URI. The zero value is not valid; build
// endpoints through Resolve.
type Endpoint struct {
	raw string
	u   *url.URL
}

// String returns the normalized URI used for deduplication.
func (e Endpoint) String() string { return e.raw }

// Scheme returns the proxy scheme (http, https, socks5, ...).
func (e Endpoint) Scheme() string { return e.u.Scheme }

// Server returns scheme://host[:port] without credentials, the form Chromium
// expects for a browser context proxy.
func (e Endpoint) Server() string {
	return e.u.Scheme + "://" + e.u.Host
}

// Credentials returns the userinfo of the endpoint, if any.
func (e Endpoint) Credentials() (username, password string, ok bool) {
	if e.u.User == nil {
		return "", "", false
	}
	pw, _ := e.u.User.Password()
	return e.u.User.Username(), pw, true
}

// Resolve merges any number of raw sources into an ordered endpoint list.
//
// Each entry is trimmed; empty entries and entries starting with '#' are
// dropped; entries without "scheme://" get "http://" prepended; entries that
// do not parse as a URI with a host are logged and skipped. The first
// occurrence of each normalized URI wins.
func Resolve(sources ...[]string) []Endpoint {
	seen := make(map[string]struct{})
	var out []Endpoint
	for _, src := range sources {
		for _, raw := range src {
			ep, ok := normalize(raw)
			if !ok {
				continue
			}
			if _, dup := seen[ep.raw]; dup {
				continue
			}
			seen[ep.raw] = struct{}{}
			out = append(out, ep)
		}
	}
	return out
}

func normalize(raw string) (Endpoint, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.HasPrefix(s, "#") {
		return Endpoint{}, false
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		slog.Warn("proxy: skipping malformed entry", "entry", raw, "error", err)
		return Endpoint{}, false
	}
	if u.Host == "" || u.Hostname() == "" {
		slog.Warn("proxy: skipping entry without host", "entry", raw)
		return Endpoint{}, false
	}
	return Endpoint{raw: s, u: u}, true
}

// SplitList splits a comma-delimited list. Blank items are kept so Resolve
// applies the same filtering to every source.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// ReadFile reads a line-delimited proxy file.
func ReadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("proxy: open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("proxy: read %s: %w", path, err)
	}
	return lines, nil
}

// Load resolves the comma list and, when path is non-empty, the proxy file.
// An unreadable file is logged and ignored so a bad path never blocks startup.
func Load(list, path string) []Endpoint {
	sources := [][]string{SplitList(list)}
	if path != "" {
		lines, err := ReadFile(path)
		if err != nil {
			slog.Warn("proxy: ignoring proxy file", "path", path, "error", err)
		} else {
			sources = append(sources, lines)
		}
	}
	return Resolve(sources...)
}
