package error_telemetry

import (
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// reservedFields are top-level payload keys the receiving schema
// disallows. They are stripped at the top level only; nested objects
// may legitimately contain keys with these names.
var reservedFields = []string{"tag", "service"}

// buildPayload produces the wire tree for one delivery attempt. It is
// rebuilt fresh from the canonical record on every attempt, including
// retries, so a mid-flight config change never corrupts an in-flight
// payload's source of truth.
//
// Order matters: the transform hook runs first, schema/auth stamping
// and reserved-field stripping next, and the snake_case rewrite last so
// it also covers keys the transform added. A false return means the
// transform vetoed the delivery.
func buildPayload(record *ErrorRecord, cfg *Config, logger *zap.Logger) (map[string]any, bool) {
	payload := record.asTree()

	if cfg.TransformRequest != nil {
		transformed, ok := runTransform(cfg.TransformRequest, payload, record, logger)
		if !ok {
			return nil, false
		}
		payload = transformed
	}

	if cfg.SchemaName != "" {
		payload["schemaName"] = cfg.SchemaName
	}
	if cfg.SchemaVersion != "" {
		payload["schemaVersion"] = cfg.SchemaVersion
	}
	if cfg.AuthKey != "" {
		payload["authKey"] = cfg.AuthKey
	}

	if cfg.ProtectReservedFields {
		for _, key := range reservedFields {
			delete(payload, key)
		}
	}

	if cfg.ConvertToSnakeCase {
		payload = snakeTree(payload)
	}
	return payload, true
}

// runTransform isolates the user hook: a panic is caught and logged and
// the pre-transform payload is kept; a nil return is the veto.
func runTransform(fn TransformFunc, payload map[string]any, record *ErrorRecord, logger *zap.Logger) (result map[string]any, deliver bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("transform hook panicked, keeping original payload",
				zap.String("event_id", record.EventID),
				zap.Any("panic", r))
			result, deliver = payload, true
		}
	}()

	transformed := fn(payload)
	if transformed == nil {
		return nil, false
	}
	return transformed, true
}

// snakeTree rewrites every object key in the tree from camel-style to
// snake-style naming, recursing through maps and slices.
func snakeTree(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[camelToSnake(k)] = snakeValue(v)
	}
	return out
}

func snakeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return snakeTree(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = snakeValue(e)
		}
		return out
	default:
		return v
	}
}

// camelToSnake keeps acronym runs as one segment: "requestURL" becomes
// "request_url", not "request_u_r_l".
func camelToSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevUpper := i > 0 && unicode.IsUpper(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if i > 0 && (!prevUpper || nextLower) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// cloneTree deep-copies a generic key-value tree. Scalars are copied by
// value; maps and slices are rebuilt.
func cloneTree(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneTree(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
