package error_telemetry

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFormatter(env Environment) *Formatter {
	ids := NewIdentityProvider(env, NewMemoryStore(), nil, nil, zap.NewNop())
	f := NewFormatter(ids, env, zap.NewNop())
	f.now = func() time.Time { return time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC) }
	return f
}

type stackedError struct {
	msg   string
	stack string
}

func (e stackedError) Error() string      { return e.msg }
func (e stackedError) StackTrace() string { return e.stack }

func TestResolveMessage(t *testing.T) {
	tests := []struct {
		name string
		sig  CaptureSignal
		want string
	}{
		{"explicit message wins", CaptureSignal{Message: "explicit", Error: errors.New("ignored")}, "explicit"},
		{"error message", CaptureSignal{Error: errors.New("boom")}, "boom"},
		{"string value", CaptureSignal{Error: "just a string"}, "just a string"},
		{"serializable value", CaptureSignal{Error: map[string]any{"code": 7}}, `{"code":7}`},
		{"nil value serializes to null", CaptureSignal{}, "null"},
		{"unserializable value", CaptureSignal{Error: make(chan int)}, unserializableMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveMessage(tt.sig))
		})
	}
}

func TestFormatRecordFields(t *testing.T) {
	env := StaticEnvironment{
		Agent:   "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		OS:      "Linux x86_64",
		Lang:    "en-US",
		PageURL: "https://example.com/checkout",
		PageRef: "https://example.com/cart",
		Cookies: true,
	}
	f := newTestFormatter(env)

	cfg := DefaultConfig()
	cfg.AppName = "shop"
	cfg.AppVersion = "1.4.2"
	cfg.Environment = "staging"

	rec := f.Format(CaptureSignal{
		Type:    TypeUncaught,
		Error:   errors.New("boom"),
		Source:  "https://example.com/app.js",
		Line:    12,
		Column:  34,
		AdditionalInfo: map[string]any{
			"additionalInfo": "checkout-flow",
			"url":            "overridden-on-purpose",
		},
	}, &cfg)

	assert.Equal(t, "boom", rec.Message)
	assert.Equal(t, LevelError, rec.Level)
	assert.Equal(t, TypeUncaught, rec.Type)
	assert.Equal(t, "shop", rec.AppName)
	assert.Equal(t, "1.4.2", rec.AppVersion)
	assert.Equal(t, "staging", rec.Environment)
	assert.Equal(t, "2025-03-14T09:26:53Z", rec.Timestamp)
	assert.Equal(t, rec.Timestamp, rec.Meta["timestamp"], "record and metadata timestamps come from the same instant")

	assert.True(t, strings.HasPrefix(rec.DeviceID, "device-"))
	assert.NotEmpty(t, rec.EventID)

	assert.Equal(t, "https://example.com/app.js", rec.Meta["source"])
	assert.Equal(t, 12, rec.Meta["lineno"])
	assert.Equal(t, 34, rec.Meta["colno"])
	assert.Equal(t, env.Agent, rec.Meta["userAgent"])
	assert.Equal(t, "https://example.com/cart", rec.Meta["referrer"])

	// Caller-supplied keys win on collision.
	assert.Equal(t, "overridden-on-purpose", rec.Meta["url"])
	assert.Equal(t, "checkout-flow", rec.Meta["additionalInfo"])

	browser, ok := rec.Meta["browser"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Chrome", browser["name"])
	assert.Equal(t, "en-US", browser["language"])
	assert.Equal(t, true, browser["cookiesEnabled"])
}

func TestFormatStackTruncation(t *testing.T) {
	f := newTestFormatter(StaticEnvironment{})

	cfg := DefaultConfig()
	cfg.MaxStackLength = 10

	rec := f.Format(CaptureSignal{
		Type:  TypeUncaught,
		Error: stackedError{msg: "boom", stack: "0123456789ABCDEF"},
	}, &cfg)
	assert.Equal(t, "0123456789...", rec.Meta["stack"])

	// Zero or negative disables truncation.
	cfg.MaxStackLength = 0
	rec = f.Format(CaptureSignal{
		Type:  TypeUncaught,
		Error: stackedError{msg: "boom", stack: "0123456789ABCDEF"},
	}, &cfg)
	assert.Equal(t, "0123456789ABCDEF", rec.Meta["stack"])
}

func TestFormatStackTruncationKeepsValidUTF8(t *testing.T) {
	f := newTestFormatter(StaticEnvironment{})

	cfg := DefaultConfig()
	cfg.MaxStackLength = 5

	// "€" is three bytes; a byte cut at 5 would land inside it.
	rec := f.Format(CaptureSignal{
		Type:  TypeUncaught,
		Error: stackedError{msg: "boom", stack: "abcd€xyz"},
	}, &cfg)

	stack := rec.Meta["stack"].(string)
	assert.Equal(t, "abcd...", stack)
	assert.True(t, utf8.ValidString(stack))
}

func TestFormatManualPositionBackfill(t *testing.T) {
	f := newTestFormatter(StaticEnvironment{})
	cfg := DefaultConfig()

	stack := "Error: boom\n    at run (https://example.com/app.js:42:17)"

	rec := f.Format(CaptureSignal{
		Type:  TypeManual,
		Error: stackedError{msg: "boom", stack: stack},
	}, &cfg)
	assert.Equal(t, 42, rec.Meta["lineno"])
	assert.Equal(t, 17, rec.Meta["colno"])

	// Explicit coordinates take precedence; only unset fields are filled.
	rec = f.Format(CaptureSignal{
		Type:  TypeManual,
		Error: stackedError{msg: "boom", stack: stack},
		Line:  5,
	}, &cfg)
	assert.Equal(t, 5, rec.Meta["lineno"])
	assert.Equal(t, 17, rec.Meta["colno"])

	// Non-manual captures are never backfilled.
	rec = f.Format(CaptureSignal{
		Type:  TypeUncaught,
		Error: stackedError{msg: "boom", stack: stack},
	}, &cfg)
	assert.Equal(t, 0, rec.Meta["lineno"])
	assert.Equal(t, 0, rec.Meta["colno"])
}

func TestFormatExplicitStackFieldWins(t *testing.T) {
	f := newTestFormatter(StaticEnvironment{})
	cfg := DefaultConfig()

	rec := f.Format(CaptureSignal{
		Type:  TypeManual,
		Error: stackedError{msg: "boom", stack: "from-error"},
		Stack: "from-signal",
	}, &cfg)
	assert.Equal(t, "from-signal", rec.Meta["stack"])
}
