package middleware

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-salesforce/pkg/mcpcontext"
)

// sessionLogger abstracts the ServerSession.Log method for testability.
type sessionLogger interface {
	Log(ctx context.Context, params *mcp.LoggingMessageParams) error
}

// ClientLoggingConfig configures server-to-client logging middleware.
type ClientLoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Logger  string `yaml:"logger"`
}

// MCPClientLoggingMiddleware creates MCP protocol-level middleware that tells
// the client which execution path a tool call took, via ServerSession.Log().
// The client only receives the log if it has previously called
// logging/setLevel; otherwise ServerSession.Log() is a silent no-op.
func MCPClientLoggingMiddleware(cfg ClientLoggingConfig) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		if !cfg.Enabled {
			return next
		}

		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != methodToolsCall {
				return next(ctx, method, req)
			}

			result, err := next(ctx, method, req)

			sendClientLog(ctx, cfg, err)

			return result, err
		}
	}
}

// sendClientLog sends a log notification when the toolkit recorded a route
// and a server session is available. Logging is best-effort.
func sendClientLog(ctx context.Context, cfg ClientLoggingConfig, handlerErr error) {
	if handlerErr != nil {
		return
	}

	pc := GetPlatformContext(ctx)
	if pc == nil || pc.Route == "" {
		return
	}

	session := mcpcontext.GetServerSession(ctx)
	if session == nil {
		return
	}

	emitClientLog(ctx, session, cfg, pc)
}

// emitClientLog builds and sends a log notification to the client.
func emitClientLog(ctx context.Context, logger sessionLogger, cfg ClientLoggingConfig, pc *PlatformContext) {
	name := cfg.Logger
	if name == "" {
		name = "mcp-salesforce"
	}
	msg := fmt.Sprintf("%s routed via %s (%dms)", pc.ToolName, pc.Route, pc.Duration.Milliseconds())

	if err := logger.Log(ctx, &mcp.LoggingMessageParams{
		Level:  "info",
		Logger: name,
		Data:   msg,
	}); err != nil {
		slog.Debug("client logging: failed to send log notification", "error", err)
	}
}
