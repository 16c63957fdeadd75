// Package audit records tool calls made against the connected org.
package audit

import (
	"context"
	"time"
)

// Logger defines the interface for audit logging.
type Logger interface {
	// Log records an audit event.
	Log(ctx context.Context, event Event) error

	// Close releases resources.
	Close() error
}

// Event represents an auditable tool call.
type Event struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	DurationMS   int64          `json:"duration_ms"`
	RequestID    string         `json:"request_id"`
	ToolName     string         `json:"tool_name"`
	ToolkitKind  string         `json:"toolkit_kind,omitempty"`
	ToolkitName  string         `json:"toolkit_name,omitempty"`
	Route        string         `json:"route,omitempty"`
	ReadOnly     bool           `json:"read_only,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`

	ResponseChars int `json:"response_chars,omitempty"`
}

// Config configures audit logging.
type Config struct {
	Enabled bool `yaml:"enabled"`
	// LogParameters includes sanitized tool arguments in each event.
	LogParameters bool `yaml:"log_parameters"`
}
