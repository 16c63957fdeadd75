package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPAuditMiddleware creates MCP protocol-level middleware that logs tool calls
// for auditing purposes.
//
// This middleware intercepts tools/call requests and:
//  1. Records the start time
//  2. Executes the tool handler
//  3. Records the outcome on the PlatformContext set by MCPToolCallMiddleware
//  4. Logs asynchronously so the response is not delayed
func MCPAuditMiddleware(logger AuditLogger) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != methodToolsCall {
				return next(ctx, method, req)
			}

			startTime := time.Now()
			result, err := next(ctx, method, req)
			duration := time.Since(startTime)

			pc := GetPlatformContext(ctx)
			if pc == nil {
				// MCPToolCallMiddleware did not run; nothing to attribute the call to
				return result, err
			}

			event := buildMCPAuditEvent(pc, req, result, err, startTime, duration)

			go func() {
				_ = logger.Log(context.Background(), event)
			}()

			return result, err
		}
	}
}

// buildMCPAuditEvent records the outcome on pc and builds an audit event.
func buildMCPAuditEvent(
	pc *PlatformContext,
	req mcp.Request,
	result mcp.Result,
	err error,
	startTime time.Time,
	duration time.Duration,
) AuditEvent {
	success := err == nil
	errorMsg := ""
	chars := 0
	if err != nil {
		errorMsg = err.Error()
	} else if callResult, ok := result.(*mcp.CallToolResult); ok && callResult != nil {
		chars = responseChars(callResult)
		if callResult.IsError {
			success = false
			errorMsg = extractMCPErrorMessage(callResult)
		}
	}

	pc.Success = success
	pc.ErrorMessage = errorMsg
	pc.Duration = duration
	pc.ResponseChars = chars

	return AuditEvent{
		Timestamp:     startTime,
		RequestID:     pc.RequestID,
		SessionID:     pc.SessionID,
		ToolName:      pc.ToolName,
		ToolkitKind:   pc.ToolkitKind,
		ToolkitName:   pc.ToolkitName,
		Route:         pc.Route,
		ReadOnly:      pc.ReadOnly,
		Parameters:    extractMCPParameters(req),
		Success:       success,
		ErrorMessage:  errorMsg,
		DurationMS:    duration.Milliseconds(),
		ResponseChars: chars,
	}
}

// extractMCPParameters extracts parameters from an MCP request.
func extractMCPParameters(req mcp.Request) map[string]any {
	if req == nil {
		return nil
	}
	params := req.GetParams()
	if params == nil {
		return nil
	}

	callParams, ok := params.(*mcp.CallToolParamsRaw)
	if !ok || callParams == nil || len(callParams.Arguments) == 0 {
		return nil
	}

	var args map[string]any
	if err := json.Unmarshal(callParams.Arguments, &args); err != nil {
		return nil
	}
	return args
}

// extractMCPErrorMessage extracts the error message from an MCP
// CallToolResult. Envelope results yield "kind: message"; any other text is
// returned as is.
func extractMCPErrorMessage(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	textContent, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		return ""
	}

	var env struct {
		Error *struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(textContent.Text), &env); err == nil && env.Error != nil {
		return env.Error.Kind + ": " + env.Error.Message
	}
	return textContent.Text
}

// responseChars counts the characters of text content in a result.
func responseChars(result *mcp.CallToolResult) int {
	n := 0
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			n += len(tc.Text)
		}
	}
	return n
}
