package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSessionLogger struct {
	params []*mcp.LoggingMessageParams
	err    error
}

func (l *testSessionLogger) Log(_ context.Context, params *mcp.LoggingMessageParams) error {
	l.params = append(l.params, params)
	return l.err
}

func TestMCPClientLoggingMiddleware_PassesThrough(t *testing.T) {
	want := &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "ok"}}}
	base := func(context.Context, string, mcp.Request) (mcp.Result, error) {
		return want, nil
	}

	for _, cfg := range []ClientLoggingConfig{{Enabled: false}, {Enabled: true}} {
		handler := MCPClientLoggingMiddleware(cfg)(base)
		for _, method := range []string{methodToolsCall, "tools/list"} {
			ctx, pc := withTestPlatformContext()
			pc.Route = "bulk"
			got, err := handler(ctx, method, nil)
			require.NoError(t, err)
			assert.Same(t, want, got)
		}
	}
}

func TestMCPClientLoggingMiddleware_HandlerErrorSkipsLog(t *testing.T) {
	base := func(context.Context, string, mcp.Request) (mcp.Result, error) {
		return nil, errors.New("boom")
	}
	_, err := MCPClientLoggingMiddleware(ClientLoggingConfig{Enabled: true})(base)(context.Background(), methodToolsCall, nil)
	assert.Error(t, err)
}

func TestEmitClientLog(t *testing.T) {
	pc := NewPlatformContext("req-1")
	pc.ToolName = "salesforce_create"
	pc.Route = "bulk"
	pc.Duration = 1500 * time.Millisecond

	logger := &testSessionLogger{}
	emitClientLog(context.Background(), logger, ClientLoggingConfig{Enabled: true}, pc)

	require.Len(t, logger.params, 1)
	got := logger.params[0]
	assert.Equal(t, mcp.LoggingLevel("info"), got.Level)
	assert.Equal(t, "mcp-salesforce", got.Logger)
	assert.Equal(t, "salesforce_create routed via bulk (1500ms)", got.Data)
}

func TestEmitClientLog_CustomLoggerAndError(t *testing.T) {
	pc := NewPlatformContext("req-1")
	pc.ToolName = testToolName
	pc.Route = "direct"

	logger := &testSessionLogger{err: errors.New("closed")}
	emitClientLog(context.Background(), logger, ClientLoggingConfig{Enabled: true, Logger: "sf"}, pc)

	require.Len(t, logger.params, 1)
	assert.Equal(t, "sf", logger.params[0].Logger)
}
