package salesforce

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-salesforce/pkg/envelope"
	"github.com/txn2/mcp-salesforce/pkg/mcpcontext"
	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

// respond renders an operation outcome as an envelope. On failure a
// non-nil partial result travels as the error's details.
func respond[T any](ctx context.Context, op string, data *T, err error) (*mcp.CallToolResult, any, error) {
	requestID := mcpcontext.GetRequestID(ctx)
	if err != nil {
		slog.Debug("tool call failed", "tool", op, "request_id", requestID, "kind", sferr.KindOf(err), "error", err)
		var details any
		if data != nil {
			details = data
		}
		return envelope.Failure(op, requestID, err, details).ToolResult(), nil, nil //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError
	}
	return envelope.Success(op, requestID, data).ToolResult(), nil, nil
}
