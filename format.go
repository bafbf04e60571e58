package error_telemetry

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// unserializableMessage replaces the message of a capture whose error
// value could not be stringified at all.
const unserializableMessage = "Unknown error (unserializable value)"

// Formatter converts raw capture signals into canonical records.
type Formatter struct {
	ids    *IdentityProvider
	env    Environment
	logger *zap.Logger
	now    func() time.Time
}

func NewFormatter(ids *IdentityProvider, env Environment, logger *zap.Logger) *Formatter {
	return &Formatter{
		ids:    ids,
		env:    env,
		logger: logger,
		now:    time.Now,
	}
}

// resolveMessage applies the message resolution chain: explicit message
// field, error's message, the error value itself when already a string,
// best-effort JSON serialization, and finally the fixed sentinel. The
// result is never empty.
func resolveMessage(sig CaptureSignal) string {
	if sig.Message != "" {
		return sig.Message
	}
	switch v := sig.Error.(type) {
	case error:
		if msg := v.Error(); msg != "" {
			return msg
		}
	case string:
		if v != "" {
			return v
		}
	}
	if data, err := json.Marshal(sig.Error); err == nil && len(data) > 0 {
		return string(data)
	}
	return unserializableMessage
}

// resolveStack returns the raw stack text for a signal, or "" when the
// error value exposes none.
func resolveStack(sig CaptureSignal) string {
	if sig.Stack != "" {
		return sig.Stack
	}
	if st, ok := sig.Error.(StackTracer); ok {
		return st.StackTrace()
	}
	return ""
}

// Format builds the canonical record for a signal. It never fails: any
// internal fault degrades to sentinel values instead of propagating.
func (f *Formatter) Format(sig CaptureSignal, cfg *Config) *ErrorRecord {
	now := f.now().UTC()

	message := resolveMessage(sig)
	stack := resolveStack(sig)

	if cfg.MaxStackLength > 0 && len(stack) > cfg.MaxStackLength {
		// Back off to a rune boundary so the cut never splits a
		// multi-byte character.
		cut := cfg.MaxStackLength
		for cut > 0 && !utf8.RuneStart(stack[cut]) {
			cut--
		}
		stack = stack[:cut] + "..."
	}

	lineNo, colNo := sig.Line, sig.Column
	if sig.Type == TypeManual && stack != "" && (lineNo == 0 || colNo == 0) {
		if pos, ok := ExtractPositionFromStack(strings.Split(stack, "\n")); ok {
			if lineNo == 0 {
				lineNo = pos.Line
			}
			if colNo == 0 {
				colNo = pos.Col
			}
		}
	}

	meta := map[string]any{
		"source":    sig.Source,
		"lineno":    lineNo,
		"colno":     colNo,
		"stack":     stack,
		"browser":   ExtractBrowserInfo(f.env).asMap(),
		"timestamp": now.Format(time.RFC3339),
	}
	if f.env != nil {
		meta["userAgent"] = f.env.UserAgent()
		meta["url"] = f.env.URL()
		meta["referrer"] = f.env.Referrer()
	}

	// Caller-supplied keys win on collision, on purpose.
	for k, v := range sig.AdditionalInfo {
		meta[k] = v
	}

	return &ErrorRecord{
		DeviceID:    f.ids.DeviceID(cfg.RespectDoNotTrack),
		EventID:     f.ids.EventID(),
		Message:     message,
		Level:       LevelError,
		Timestamp:   now.Format(time.RFC3339),
		Type:        sig.Type,
		AppName:     cfg.AppName,
		AppVersion:  cfg.AppVersion,
		Environment: cfg.Environment,
		Meta:        meta,
	}
}
