// Package middleware provides MCP protocol-level middleware for tool calls.
package middleware

import (
	"context"
	"time"
)

// contextKey is a private type for context keys.
type contextKey int

const (
	platformContextKey contextKey = iota
)

// PlatformContext holds per-call state shared by the middleware and the
// toolkit handling the call.
type PlatformContext struct {
	// Request identification
	RequestID string
	SessionID string
	StartTime time.Time

	// Tool information
	ToolName    string
	ToolkitKind string
	ToolkitName string

	// ReadOnly is set when mutating tools are refused.
	ReadOnly bool

	// Transport metadata
	Transport string // "stdio"

	// Route is the execution path the router chose, set by the toolkit.
	Route string

	// Results (populated after handler)
	Success       bool
	ErrorMessage  string
	Duration      time.Duration
	ResponseChars int
}

// NewPlatformContext creates a new platform context.
func NewPlatformContext(requestID string) *PlatformContext {
	return &PlatformContext{
		RequestID: requestID,
		StartTime: time.Now(),
	}
}

// WithPlatformContext adds platform context to the context.
func WithPlatformContext(ctx context.Context, pc *PlatformContext) context.Context {
	return context.WithValue(ctx, platformContextKey, pc)
}

// GetPlatformContext retrieves platform context from the context.
func GetPlatformContext(ctx context.Context) *PlatformContext {
	if pc, ok := ctx.Value(platformContextKey).(*PlatformContext); ok {
		return pc
	}
	return nil
}

// SetRoute records the execution path on the call's platform context, if any.
func SetRoute(ctx context.Context, route string) {
	if pc := GetPlatformContext(ctx); pc != nil {
		pc.Route = route
	}
}
