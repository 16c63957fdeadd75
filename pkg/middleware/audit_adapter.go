package middleware

import (
	"context"

	"github.com/txn2/mcp-salesforce/pkg/audit"
)

// auditLoggerAdapter adapts an audit.Logger to the middleware.AuditLogger interface.
type auditLoggerAdapter struct {
	logger audit.Logger
}

var _ AuditLogger = (*auditLoggerAdapter)(nil)

// NewAuditLoggerAdapter creates an AuditLogger that writes to an audit.Logger.
func NewAuditLoggerAdapter(logger audit.Logger) AuditLogger {
	return &auditLoggerAdapter{logger: logger}
}

// Log records an audit event by converting from middleware.AuditEvent to audit.Event.
func (a *auditLoggerAdapter) Log(ctx context.Context, event AuditEvent) error {
	auditEvent := audit.NewEvent(event.ToolName).
		WithRequestID(event.RequestID).
		WithToolkit(event.ToolkitKind, event.ToolkitName).
		WithRoute(event.Route).
		WithReadOnly(event.ReadOnly).
		WithParameters(audit.SanitizeParameters(event.Parameters)).
		WithResult(event.Success, event.ErrorMessage, event.DurationMS).
		WithResponseSize(event.ResponseChars)

	// keep the call's start time rather than the conversion time
	auditEvent.Timestamp = event.Timestamp

	return a.logger.Log(ctx, *auditEvent)
}
