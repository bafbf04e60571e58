package error_telemetry

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pattern is a denylist entry: either a literal substring or a compiled
// regular expression. The zero Pattern matches nothing.
type Pattern struct {
	literal string
	re      *regexp.Regexp
}

// Literal returns a pattern matching any text containing s.
func Literal(s string) Pattern {
	return Pattern{literal: s}
}

// Regex returns a pattern matching any text the expression matches.
func Regex(re *regexp.Regexp) Pattern {
	return Pattern{re: re}
}

// Matches reports whether the pattern matches text: substring
// containment for literals, regexp match otherwise.
func (p Pattern) Matches(text string) bool {
	if p.re != nil {
		return p.re.MatchString(text)
	}
	if p.literal == "" {
		return false
	}
	return strings.Contains(text, p.literal)
}

func (p Pattern) String() string {
	if p.re != nil {
		return "re:" + p.re.String()
	}
	return p.literal
}

// UnmarshalText parses the textual form used in configuration files: an
// "re:" prefix compiles the remainder as a regular expression, anything
// else is a literal substring.
func (p *Pattern) UnmarshalText(text []byte) error {
	s := string(text)
	if rest, ok := strings.CutPrefix(s, "re:"); ok {
		re, err := regexp.Compile(rest)
		if err != nil {
			return err
		}
		*p = Regex(re)
		return nil
	}
	*p = Literal(s)
	return nil
}

func (p *Pattern) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return p.UnmarshalText([]byte(s))
}

func (p Pattern) MarshalYAML() (any, error) {
	return p.String(), nil
}

// DefaultIgnoredMessages is the built-in message denylist: known-noisy
// browser-internal messages that carry no actionable signal.
func DefaultIgnoredMessages() []Pattern {
	return []Pattern{
		Literal("Script error."),
		Literal("Script error"),
		Literal("ResizeObserver loop limit exceeded"),
		Literal("ResizeObserver loop completed with undelivered notifications."),
		Literal("Non-Error promise rejection captured"),
		Literal("Object Not Found Matching Id"),
	}
}

// DefaultIgnoredURLs is the built-in source-URL denylist: extension
// schemes and common third-party tag/analytics hosts.
func DefaultIgnoredURLs() []Pattern {
	return []Pattern{
		Literal("chrome-extension://"),
		Literal("moz-extension://"),
		Literal("safari-extension://"),
		Literal("googletagmanager.com"),
		Literal("google-analytics.com"),
	}
}

// meaninglessMessages are dropped on exact match only; a message merely
// containing one of these strings is kept.
var meaninglessMessages = map[string]struct{}{
	"{}":              {},
	"[object Object]": {},
	"[object Error]":  {},
	"undefined":       {},
	"null":            {},
}

// shouldIgnore decides whether a raw signal is noise. It runs before
// formatting and before the policy gate; ignored signals never reach
// the sinks or the user callback.
func shouldIgnore(cfg *Config, message, source string) bool {
	if _, ok := meaninglessMessages[message]; ok {
		return true
	}
	for _, p := range cfg.IgnoredMessages {
		if p.Matches(message) {
			return true
		}
	}
	if source != "" {
		for _, p := range cfg.IgnoredURLs {
			if p.Matches(source) {
				return true
			}
		}
	}
	return false
}
