package audit

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxListItems bounds how many elements of a list argument are kept.
const maxListItems = 10

// NewEvent creates a new audit event.
func NewEvent(toolName string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		ToolName:  toolName,
	}
}

// WithToolkit adds toolkit information to the event.
func (e *Event) WithToolkit(kind, name string) *Event {
	e.ToolkitKind = kind
	e.ToolkitName = name
	return e
}

// WithRoute records the execution path the router chose.
func (e *Event) WithRoute(route string) *Event {
	e.Route = route
	return e
}

// WithReadOnly marks the call as made in read-only mode.
func (e *Event) WithReadOnly(readOnly bool) *Event {
	e.ReadOnly = readOnly
	return e
}

// WithParameters adds parameters to the event.
func (e *Event) WithParameters(params map[string]any) *Event {
	e.Parameters = params
	return e
}

// WithResult adds result information to the event.
func (e *Event) WithResult(success bool, errorMsg string, durationMS int64) *Event {
	e.Success = success
	e.ErrorMessage = errorMsg
	e.DurationMS = durationMS
	return e
}

// WithRequestID adds a request ID to the event.
func (e *Event) WithRequestID(requestID string) *Event {
	e.RequestID = requestID
	return e
}

// WithResponseSize records the size of the rendered tool result.
func (e *Event) WithResponseSize(chars int) *Event {
	e.ResponseChars = chars
	return e
}

// sensitiveKeys are redacted wherever they appear, case-insensitively.
var sensitiveKeys = map[string]bool{
	"password":       true,
	"secret":         true,
	"client_secret":  true,
	"token":          true,
	"access_token":   true,
	"refresh_token":  true,
	"security_token": true,
	"private_key":    true,
	"api_key":        true,
	"authorization":  true,
	"credentials":    true,
}

// SanitizeParameters redacts sensitive keys, including inside nested
// records, and truncates long lists such as bulk record payloads.
func SanitizeParameters(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	sanitized := make(map[string]any, len(params))
	for k, v := range params {
		if sensitiveKeys[strings.ToLower(k)] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = sanitizeValue(v)
	}
	return sanitized
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return SanitizeParameters(val)
	case []any:
		n := min(len(val), maxListItems)
		out := make([]any, 0, n+1)
		for _, item := range val[:n] {
			out = append(out, sanitizeValue(item))
		}
		if len(val) > n {
			out = append(out, map[string]any{"truncated": len(val) - n})
		}
		return out
	default:
		return v
	}
}
