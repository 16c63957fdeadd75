// Package salesforce exposes the operation router as MCP tools.
package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-salesforce/pkg/registry"
	"github.com/txn2/mcp-salesforce/pkg/router"
	"github.com/txn2/mcp-salesforce/pkg/session"
	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

// Kind is the toolkit kind.
const Kind = "salesforce"

// Tool names.
const (
	ToolQuery              = "salesforce_query"
	ToolSearch             = "salesforce_search"
	ToolCreate             = "salesforce_create"
	ToolUpdate             = "salesforce_update"
	ToolDelete             = "salesforce_delete"
	ToolUpsert             = "salesforce_upsert"
	ToolDescribe           = "salesforce_describe"
	ToolListObjects        = "salesforce_list_objects"
	ToolClearDescribeCache = "salesforce_clear_describe_cache"
	ToolExecuteApex        = "salesforce_execute_apex"
	ToolRunTests           = "salesforce_run_tests"
	ToolDeployMetadata     = "salesforce_deploy_metadata"
	ToolRetrieveMetadata   = "salesforce_retrieve_metadata"
	ToolConnectionInfo     = "salesforce_connection_info"
)

// allTools lists every tool in registration order.
var allTools = []string{
	ToolQuery, ToolSearch,
	ToolCreate, ToolUpdate, ToolDelete, ToolUpsert,
	ToolDescribe, ToolListObjects, ToolClearDescribeCache,
	ToolExecuteApex, ToolRunTests,
	ToolDeployMetadata, ToolRetrieveMetadata,
	ToolConnectionInfo,
}

// Operations is the router surface the tools call.
type Operations interface {
	Query(ctx context.Context, req router.QueryRequest) (*router.QueryResult, error)
	Search(ctx context.Context, sosl string) (*router.SearchResult, error)
	Mutate(ctx context.Context, req router.DMLRequest) (*router.DMLResult, error)
	Describe(ctx context.Context, object string) (*router.DescribeResult, error)
	ListObjects(ctx context.Context, req router.ListObjectsRequest) (*router.ListObjectsResult, error)
	ClearDescribeCache(object string) int
	CachedObjects() []string
	ExecuteApex(ctx context.Context, req router.ExecuteRequest) (*router.ExecuteResult, error)
	RunTests(ctx context.Context, req router.TestRunRequest) (*router.TestRunResult, error)
	Deploy(ctx context.Context, req router.DeployRequest) (*router.DeployResult, error)
	Retrieve(ctx context.Context, req router.RetrieveRequest) (*router.RetrieveResult, error)
	Config() router.Config
}

var (
	_ Operations       = (*router.Router)(nil)
	_ registry.Toolkit = (*Toolkit)(nil)
)

// SessionInfo reports on the cached session.
type SessionInfo interface {
	Status() session.Status
	EnsureHealthySession(ctx context.Context) (*session.Session, error)
}

// Readiness reports the server's readiness state.
type Readiness interface {
	State() string
	Since() time.Time
}

// Config holds toolkit configuration.
type Config struct {
	// ReadOnly hides and refuses every tool that changes the org.
	ReadOnly bool `yaml:"read_only"`
	// Resources registers the describe resource template.
	Resources bool `yaml:"resources"`
	// Descriptions overrides tool descriptions by tool name.
	Descriptions map[string]string `yaml:"descriptions"`
}

// Option configures a Toolkit.
type Option func(*Toolkit)

// WithSessionInfo supplies session state for salesforce_connection_info.
func WithSessionInfo(s SessionInfo) Option {
	return func(t *Toolkit) { t.sessions = s }
}

// WithReadiness supplies readiness state for salesforce_connection_info.
func WithReadiness(r Readiness) Option {
	return func(t *Toolkit) { t.readiness = r }
}

// WithStrategies names the configured authentication strategies.
func WithStrategies(names []string) Option {
	return func(t *Toolkit) { t.strategies = names }
}

// Toolkit registers the Salesforce tools.
type Toolkit struct {
	name       string
	config     Config
	ops        Operations
	sessions   SessionInfo
	readiness  Readiness
	strategies []string
}

// New creates a toolkit over ops.
func New(name string, cfg Config, ops Operations, opts ...Option) *Toolkit {
	t := &Toolkit{name: name, config: cfg, ops: ops}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Kind returns the toolkit kind.
func (*Toolkit) Kind() string {
	return Kind
}

// Name returns the toolkit instance name.
func (t *Toolkit) Name() string {
	return t.name
}

// Tools returns the names of the tools this toolkit registers. Mutating
// tools are omitted in read-only mode.
func (t *Toolkit) Tools() []string {
	tools := make([]string, 0, len(allTools))
	for _, name := range allTools {
		if t.config.ReadOnly && isMutating(name) {
			continue
		}
		tools = append(tools, name)
	}
	return tools
}

// RegisterTools registers the tools, and the describe resource template
// when enabled, with the MCP server.
func (t *Toolkit) RegisterTools(s *mcp.Server) {
	t.registerReadTools(s)
	if !t.config.ReadOnly {
		t.registerDMLTools(s)
		t.registerDevTools(s)
	}
	t.registerMetadataReadTools(s)
	t.registerConnectionTool(s)
	if t.config.Resources {
		t.registerResourceTemplates(s)
	}
}

// Close releases resources.
func (*Toolkit) Close() error {
	return nil
}

// description returns the configured description for tool, or def.
func (t *Toolkit) description(tool, def string) string {
	if d, ok := t.config.Descriptions[tool]; ok && d != "" {
		return d
	}
	return def
}

// tool builds an MCP handler that applies the read-only guard and the
// progress bridge before calling fn.
func tool[In any](t *Toolkit, name string, fn func(ctx context.Context, in In) (*mcp.CallToolResult, any, error)) mcp.ToolHandlerFor[In, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		if err := t.guard(ctx, name); err != nil {
			return respond[struct{}](ctx, name, nil, err)
		}
		return fn(injectProgress(ctx), in)
	}
}

// addExactTool registers a tool whose arguments are decoded with json.Number
// in place of float64, so integer field values keep every digit. The input
// schema is inferred from In as mcp.AddTool would.
func addExactTool[In any](s *mcp.Server, t *Toolkit, meta *mcp.Tool, fn func(ctx context.Context, in In) (*mcp.CallToolResult, any, error)) {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		panic(fmt.Errorf("AddTool %q: inferring input schema: %w", meta.Name, err))
	}
	meta.InputSchema = schema

	h := tool(t, meta.Name, fn)
	s.AddTool(meta, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var raw json.RawMessage
		if req != nil && req.Params != nil {
			raw = req.Params.Arguments
		}
		in, err := decodeExact[In](raw)
		if err != nil {
			res, _, _ := respond[struct{}](ctx, meta.Name, nil, sferr.NewValidationError("arguments", err.Error()))
			return res, nil
		}
		res, _, err := h(ctx, req, in)
		return res, err
	})
}

// decodeExact decodes tool arguments keeping numbers as json.Number and
// rejecting unknown fields.
func decodeExact[In any](raw json.RawMessage) (In, error) {
	var in In
	if len(bytes.TrimSpace(raw)) == 0 {
		return in, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return in, err
	}
	return in, nil
}
