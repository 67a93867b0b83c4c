// Package identity describes the simulated browser identities sessions wear
// and samples them from named policy profiles.
package identity

import (
	"fmt"
	"strings"
)

// Browser families.
const (
	Chrome  = "chrome"
	Firefox = "firefox"
)

// Device classes.
const (
	Desktop = "desktop"
	Mobile  = "mobile"
)

// Operating system families.
const (
	Windows = "windows"
	MacOS   = "macos"
	Linux   = "linux"
	Android = "android"
	IOS     = "ios"
)

// Identity is one sampled point of a Policy. It is bound to a session at
// creation and never mutated.
type Identity struct {
	BrowserFamily  string
	BrowserVersion int
	OSFamily       string
	DeviceClass    string
	Locale         string
}

// String is a compact label for logs.
func (id Identity) String() string {
	return fmt.Sprintf("%s/%d %s %s %s", id.BrowserFamily, id.BrowserVersion, id.OSFamily, id.DeviceClass, id.Locale)
}

// UserAgent renders the navigator.userAgent string for the identity.
func (id Identity) UserAgent() string {
	v := id.BrowserVersion
	if id.OSFamily == IOS {
		return iosUserAgent(id.BrowserFamily, v)
	}
	switch id.BrowserFamily {
	case Firefox:
		return fmt.Sprintf("Mozilla/5.0 (%s; rv:%d.0) Gecko/20100101 Firefox/%d.0", firefoxPlatformToken(id.OSFamily), v, v)
	default:
		mobile := ""
		if id.DeviceClass == Mobile {
			mobile = " Mobile"
		}
		return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0%s Safari/537.36", chromePlatformToken(id.OSFamily), v, mobile)
	}
}

// iosUserAgent renders iOS browsers, which all run on WebKit.
func iosUserAgent(family string, v int) string {
	const prefix = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko)"
	if family == Firefox {
		return fmt.Sprintf("%s FxiOS/%d.0 Mobile/15E148 Safari/605.1.15", prefix, v)
	}
	return fmt.Sprintf("%s CriOS/%d.0.0.0 Mobile/15E148 Safari/604.1", prefix, v)
}

func chromePlatformToken(os string) string {
	switch os {
	case MacOS:
		return "Macintosh; Intel Mac OS X 10_15_7"
	case Linux:
		return "X11; Linux x86_64"
	case Android:
		return "Linux; Android 10; K"
	default:
		return "Windows NT 10.0; Win64; x64"
	}
}

func firefoxPlatformToken(os string) string {
	switch os {
	case MacOS:
		return "Macintosh; Intel Mac OS X 10.15"
	case Linux:
		return "X11; Linux x86_64"
	case Android:
		return "Android 14; Mobile"
	default:
		return "Windows NT 10.0; Win64; x64"
	}
}

// Platform returns the navigator.platform value for the identity's OS.
func (id Identity) Platform() string {
	switch id.OSFamily {
	case MacOS:
		return "MacIntel"
	case Linux, Android:
		return "Linux x86_64"
	case IOS:
		return "iPhone"
	default:
		return "Win32"
	}
}

// AcceptLanguage builds a q-weighted Accept-Language header preferring the
// identity's locale, then its bare language, then English.
func (id Identity) AcceptLanguage() string {
	locale := id.Locale
	if locale == "" {
		locale = "en-US"
	}
	parts := []string{locale}
	lang, _, hasRegion := strings.Cut(locale, "-")
	q := 9
	if hasRegion {
		parts = append(parts, fmt.Sprintf("%s;q=0.%d", lang, q))
		q--
	}
	if lang != "en" {
		parts = append(parts, fmt.Sprintf("en;q=0.%d", q))
	}
	return strings.Join(parts, ",")
}

// Viewport is the emulated screen for an identity.
type Viewport struct {
	Width, Height int
	ScaleFactor   float64
	Mobile        bool
}

// Viewport returns the screen size emulated for the identity's device class.
func (id Identity) Viewport() Viewport {
	if id.DeviceClass == Mobile {
		return Viewport{Width: 412, Height: 915, ScaleFactor: 2.625, Mobile: true}
	}
	return Viewport{Width: 1920, Height: 1080, ScaleFactor: 1}
}
