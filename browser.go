package error_telemetry

import (
	"regexp"
	"strconv"
	"strings"
)

// UnknownBrowser is the sentinel used when no signature matches; name
// and version are never left empty.
const UnknownBrowser = "Unknown"

// BrowserInfo is the best-effort browser descriptor attached to every
// record's metadata.
type BrowserInfo struct {
	Name           string `json:"name"`
	Version        string `json:"version"`
	Platform       string `json:"platform"`
	Language       string `json:"language"`
	CookiesEnabled bool   `json:"cookiesEnabled"`
}

// asMap returns the descriptor as a generic tree so the snake-case pass
// can rewrite its keys along with the rest of the payload.
func (b BrowserInfo) asMap() map[string]any {
	return map[string]any{
		"name":           b.Name,
		"version":        b.Version,
		"platform":       b.Platform,
		"language":       b.Language,
		"cookiesEnabled": b.CookiesEnabled,
	}
}

type browserRule struct {
	name string
	re   *regexp.Regexp
}

// browserRules is checked in order. Chromium forks carrying their own
// token come first (their user agents also contain "Chrome/"), then the
// iOS wrapper tokens, then generic WebView, then the plain families.
var browserRules = []browserRule{
	{"Edge", regexp.MustCompile(`Edg(?:e|A|iOS)?/([0-9.]+)`)},
	{"Opera", regexp.MustCompile(`(?:OPR|Opera)/([0-9.]+)`)},
	{"Vivaldi", regexp.MustCompile(`Vivaldi/([0-9.]+)`)},
	{"Whale", regexp.MustCompile(`Whale/([0-9.]+)`)},
	{"Yandex", regexp.MustCompile(`YaBrowser/([0-9.]+)`)},
	{"Samsung Internet", regexp.MustCompile(`SamsungBrowser/([0-9.]+)`)},
	{"UC Browser", regexp.MustCompile(`UCBrowser/([0-9.]+)`)},
	{"Chrome iOS", regexp.MustCompile(`CriOS/([0-9.]+)`)},
	{"Firefox iOS", regexp.MustCompile(`FxiOS/([0-9.]+)`)},
	{"Android WebView", regexp.MustCompile(`; wv\).*Chrome/([0-9.]+)`)},
	{"Chrome", regexp.MustCompile(`Chrome/([0-9.]+)`)},
	{"Firefox", regexp.MustCompile(`Firefox/([0-9.]+)`)},
	{"Safari", regexp.MustCompile(`Version/([0-9.]+).*Safari/`)},
	{"Internet Explorer", regexp.MustCompile(`(?:MSIE |Trident/.*rv:)([0-9.]+)`)},
}

// ParseUserAgent resolves browser name and version from a user-agent
// string against the ordered signature table.
func ParseUserAgent(ua string) (name, version string) {
	for _, rule := range browserRules {
		if m := rule.re.FindStringSubmatch(ua); m != nil {
			return rule.name, m[1]
		}
	}
	return UnknownBrowser, UnknownBrowser
}

// ExtractBrowserInfo builds the full descriptor from the environment.
// The regex pass over the user agent runs first; the structured brand
// hints, when exposed, fill in only the fields that stayed unresolved.
func ExtractBrowserInfo(env Environment) BrowserInfo {
	info := BrowserInfo{
		Name:    UnknownBrowser,
		Version: UnknownBrowser,
	}
	if env == nil {
		return info
	}

	info.Name, info.Version = ParseUserAgent(env.UserAgent())
	info.Platform = env.Platform()
	info.Language = env.Language()
	info.CookiesEnabled = env.CookiesEnabled()

	if info.Name == UnknownBrowser || info.Version == UnknownBrowser {
		if hint, ok := pickBrandHint(env.Brands()); ok {
			if info.Name == UnknownBrowser {
				info.Name = hint.Brand
			}
			if info.Version == UnknownBrowser && hint.Version != "" {
				info.Version = hint.Version
			}
		}
	}
	return info
}

// pickBrandHint returns the first brand that is neither the GREASE
// placeholder nor the generic Chromium entry.
func pickBrandHint(brands []BrandHint) (BrandHint, bool) {
	for _, b := range brands {
		if b.Brand == "" || b.Brand == "Chromium" || strings.Contains(b.Brand, "Not") {
			continue
		}
		return b, true
	}
	return BrandHint{}, false
}

// StackPosition is a source coordinate recovered from stack trace text.
type StackPosition struct {
	File string
	Line int
	Col  int
}

// Matches both the parenthesized form "at fn (http://h/a.js:10:5)" and
// the bare form "at http://h/a.js:10:5".
var stackPosRe = regexp.MustCompile(`\(?([^\s()]+):(\d+):(\d+)\)?`)

// ExtractPositionFromStack scans stack-trace lines for the first
// file:line:col token. Used to backfill coordinates for manually
// captured errors that lack browser-supplied ones.
func ExtractPositionFromStack(lines []string) (StackPosition, bool) {
	for _, line := range lines {
		m := stackPosRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lineNo, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		colNo, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}
		return StackPosition{File: m[1], Line: lineNo, Col: colNo}, true
	}
	return StackPosition{}, false
}
