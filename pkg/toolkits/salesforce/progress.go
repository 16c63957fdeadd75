package salesforce

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-salesforce/pkg/jobs"
	"github.com/txn2/mcp-salesforce/pkg/mcpcontext"
)

// mcpProgressNotifier adapts *mcp.ServerSession to jobs.ProgressNotifier.
// It bridges the call's MCP session and progress token to the job poller.
type mcpProgressNotifier struct {
	session *mcp.ServerSession
	token   any
}

// Notify sends a progress notification to the MCP client via the server session.
func (n *mcpProgressNotifier) Notify(ctx context.Context, progress, total float64, message string) error {
	//nolint:wrapcheck // MCP SDK session error returned as-is; wrapping would break protocol handling
	return n.session.NotifyProgress(ctx, &mcp.ProgressNotificationParams{
		ProgressToken: n.token,
		Progress:      progress,
		Total:         total,
		Message:       message,
	})
}

// injectProgress reads the server session and progress token stored in
// context by MCPToolCallMiddleware and, if both are present, stores a
// notifier for the job poller.
func injectProgress(ctx context.Context) context.Context {
	session := mcpcontext.GetServerSession(ctx)
	token := mcpcontext.GetProgressToken(ctx)
	if session == nil || token == nil {
		return ctx
	}
	return jobs.WithProgressNotifier(ctx, &mcpProgressNotifier{session: session, token: token})
}
