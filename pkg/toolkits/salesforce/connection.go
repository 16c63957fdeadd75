package salesforce

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-salesforce/pkg/session"
)

type connectionInfoInput struct {
	Verify bool `json:"verify,omitempty" jsonschema:"validate the session with a round trip, reconnecting if needed"`
}

// ConnectionInfo describes the connection and the server's routing setup.
type ConnectionInfo struct {
	Session            session.Status `json:"session"`
	Verified           bool           `json:"verified,omitempty"`
	Strategies         []string       `json:"strategies,omitempty"`
	Readiness          string         `json:"readiness,omitempty"`
	ReadySince         time.Time      `json:"ready_since,omitzero"`
	ReadOnly           bool           `json:"read_only"`
	DMLBulkThreshold   int            `json:"dml_bulk_threshold"`
	QueryBulkThreshold int            `json:"query_bulk_threshold"`
	CachedDescribes    []string       `json:"cached_describes"`
}

func (t *Toolkit) registerConnectionTool(s *mcp.Server) {
	mcp.AddTool(s, &mcp.Tool{
		Name: ToolConnectionInfo,
		Description: t.description(ToolConnectionInfo, "Report the connected org, user and authentication strategy, "+
			"when the session was last checked, and the routing thresholds. Call this first to confirm the connection."),
		Annotations: readOnlyAnnotations("Connection info"),
	}, tool(t, ToolConnectionInfo, t.handleConnectionInfo))
}

func (t *Toolkit) handleConnectionInfo(ctx context.Context, in connectionInfoInput) (*mcp.CallToolResult, any, error) {
	cfg := t.ops.Config()
	info := &ConnectionInfo{
		Strategies:         t.strategies,
		ReadOnly:           t.config.ReadOnly,
		DMLBulkThreshold:   cfg.DMLBulkThreshold,
		QueryBulkThreshold: cfg.QueryBulkThreshold,
		CachedDescribes:    t.ops.CachedObjects(),
	}
	if info.CachedDescribes == nil {
		info.CachedDescribes = []string{}
	}
	if t.readiness != nil {
		info.Readiness = t.readiness.State()
		info.ReadySince = t.readiness.Since()
	}
	if t.sessions != nil {
		if in.Verify {
			if _, err := t.sessions.EnsureHealthySession(ctx); err != nil {
				return respond(ctx, ToolConnectionInfo, info, err)
			}
			info.Verified = true
		}
		info.Session = t.sessions.Status()
	}
	return respond(ctx, ToolConnectionInfo, info, nil)
}
