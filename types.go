package error_telemetry

import (
	"time"
)

// CaptureType identifies how an error occurrence entered the pipeline.
type CaptureType string

const (
	TypeUncaught           CaptureType = "uncaught"
	TypeUnhandledRejection CaptureType = "unhandledrejection"
	TypeManual             CaptureType = "manual"
)

// Level is the severity attached to a record. Captured exceptions are
// always emitted at LevelError; the other levels exist for the wire
// contract and manual producers.
type Level string

const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

// CaptureSignal is the raw input describing an error occurrence, before
// normalization. Producers fill whatever fields they have; the formatter
// resolves the rest.
type CaptureSignal struct {
	Type    CaptureType `json:"type"`
	Message string      `json:"message,omitempty"`

	// Error is the original error value: an error, a string, or any
	// other value a producer hands over. It is never transmitted as-is.
	Error any `json:"error,omitempty"`

	Source string `json:"source,omitempty"`
	Line   int    `json:"lineno,omitempty"`
	Column int    `json:"colno,omitempty"`

	// Stack is the raw stack trace text when the producer already has
	// one (e.g. a browser bridge submitting over RPC). When empty, the
	// formatter asks the error value itself via StackTracer.
	Stack string `json:"stack,omitempty"`

	AdditionalInfo map[string]any `json:"additionalInfo,omitempty"`
}

// StackTracer is implemented by error values that carry their own stack
// trace text.
type StackTracer interface {
	StackTrace() string
}

// ErrorRecord is the canonical normalized representation of a captured
// error. It is immutable after formatting; the delivery payload is built
// fresh from it on every send attempt.
type ErrorRecord struct {
	DeviceID    string         `json:"id"`
	EventID     string         `json:"eventId"`
	Message     string         `json:"message"`
	Level       Level          `json:"level"`
	Timestamp   string         `json:"timestamp"`
	Type        CaptureType    `json:"type"`
	AppName     string         `json:"appName"`
	AppVersion  string         `json:"appVersion"`
	Environment string         `json:"environment"`
	Meta        map[string]any `json:"meta"`
}

// asTree projects the record into a generic key-value tree for the
// payload shaping passes. The metadata is deep-cloned so a transform
// hook can never reach back into the canonical record.
func (r *ErrorRecord) asTree() map[string]any {
	return map[string]any{
		"id":          r.DeviceID,
		"eventId":     r.EventID,
		"message":     r.Message,
		"level":       string(r.Level),
		"timestamp":   r.Timestamp,
		"type":        string(r.Type),
		"appName":     r.AppName,
		"appVersion":  r.AppVersion,
		"environment": r.Environment,
		"meta":        cloneTree(r.Meta),
	}
}

// QueuedEvent wraps a record in the delivery queue together with its
// retry bookkeeping.
type QueuedEvent struct {
	Record      *ErrorRecord
	Attempts    int
	LastAttempt time.Time
	NextRetry   time.Time
}

// SendResult represents the outcome of a single delivery attempt.
type SendResult struct {
	Success    bool   `json:"success"`
	EventID    string `json:"event_id"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CaptureResult is the per-signal acknowledgement returned over RPC.
type CaptureResult struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// DiscardReason classifies why a captured signal or record never reached
// the collector.
type DiscardReason string

const (
	// ReasonFiltered indicates the signal matched a denylist entry or a
	// meaningless-message sentinel.
	ReasonFiltered DiscardReason = "filtered"

	// ReasonSampleRate indicates the record lost the sampling draw.
	ReasonSampleRate DiscardReason = "sample_rate"

	// ReasonThrottled indicates the record arrived inside the throttle
	// window of the previously accepted record.
	ReasonThrottled DiscardReason = "throttled"

	// ReasonTransformVeto indicates a transform hook returned nil.
	ReasonTransformVeto DiscardReason = "before_send"

	// ReasonMaxAttempts indicates delivery failed until the attempt
	// budget was exhausted.
	ReasonMaxAttempts DiscardReason = "max_attempts"

	// ReasonQueueClosed indicates the client was closed with the record
	// still pending.
	ReasonQueueClosed DiscardReason = "queue_closed"
)
