package middleware

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-salesforce/pkg/envelope"
	"github.com/txn2/mcp-salesforce/pkg/mcpcontext"
	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

const methodToolsCall = "tools/call"

// Readiness reports whether tool calls may proceed.
type Readiness interface {
	Ready() error
}

// ToolkitLookup resolves the toolkit that provides a tool.
type ToolkitLookup interface {
	GetToolkitForTool(toolName string) (kind, name string, found bool)
}

// ToolCallConfig configures MCPToolCallMiddleware.
type ToolCallConfig struct {
	Readiness Readiness
	Toolkits  ToolkitLookup
	ReadOnly  bool
	Transport string
}

// MCPToolCallMiddleware creates MCP protocol-level middleware that intercepts
// tools/call requests before they reach tool handlers. For each call it:
//  1. Extracts the tool name from the request
//  2. Creates a PlatformContext with a fresh request id and toolkit info
//  3. Stores the server session, progress token and read-only flag in context
//  4. Refuses the call while the server is not ready
func MCPToolCallMiddleware(cfg ToolCallConfig) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != methodToolsCall {
				return next(ctx, method, req)
			}

			requestID := uuid.NewString()
			toolName, err := extractToolName(req)
			if err != nil {
				return envelope.Failure(toolName, requestID,
					sferr.NewValidationError("name", err.Error()), nil).ToolResult(), nil
			}

			pc := NewPlatformContext(requestID)
			pc.ToolName = toolName
			pc.ReadOnly = cfg.ReadOnly
			pc.Transport = cfg.Transport
			if cfg.Toolkits != nil {
				if kind, name, found := cfg.Toolkits.GetToolkitForTool(toolName); found {
					pc.ToolkitKind, pc.ToolkitName = kind, name
				}
			}

			ctx = WithPlatformContext(ctx, pc)
			ctx = mcpcontext.WithRequestID(ctx, requestID)
			ctx = mcpcontext.WithReadOnlyEnforced(ctx, cfg.ReadOnly)
			if ss, ok := req.GetSession().(*mcp.ServerSession); ok && ss != nil {
				pc.SessionID = ss.ID()
				ctx = mcpcontext.WithServerSession(ctx, ss)
			}
			if token := extractProgressToken(req); token != nil {
				ctx = mcpcontext.WithProgressToken(ctx, token)
			}

			if cfg.Readiness != nil {
				if err := cfg.Readiness.Ready(); err != nil {
					return envelope.Failure(toolName, requestID,
						&sferr.ConnectionError{Op: "accept tool call", Err: err}, nil).ToolResult(), nil
				}
			}

			return next(ctx, method, req)
		}
	}
}

// extractToolName extracts the tool name from a tools/call request.
func extractToolName(req mcp.Request) (string, error) {
	if req == nil {
		return "", fmt.Errorf("missing params")
	}
	params := req.GetParams()
	if params == nil {
		return "", fmt.Errorf("missing params")
	}

	callParams, ok := params.(*mcp.CallToolParamsRaw)
	if !ok {
		return "", fmt.Errorf("unexpected params type: %T", params)
	}

	// a typed nil pointer passes the assertion above
	if callParams == nil {
		return "", fmt.Errorf("missing params")
	}

	if callParams.Name == "" {
		return "", fmt.Errorf("missing tool name")
	}

	return callParams.Name, nil
}

// extractProgressToken returns the client's progress token, or nil.
func extractProgressToken(req mcp.Request) any {
	p, ok := req.GetParams().(interface{ GetProgressToken() any })
	if !ok || p == nil {
		return nil
	}
	if raw, ok := p.(*mcp.CallToolParamsRaw); ok && raw == nil {
		return nil
	}
	return p.GetProgressToken()
}
