package salesforce

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-salesforce/pkg/middleware"
	"github.com/txn2/mcp-salesforce/pkg/router"
)

type queryInput struct {
	SOQL       string `json:"soql" jsonschema:"SOQL query to run"`
	Mode       string `json:"mode,omitempty" jsonschema:"auto (default) picks direct or paginated from the LIMIT; direct or paginated force a path"`
	MaxRecords int    `json:"max_records,omitempty" jsonschema:"stop a paginated fetch after this many records"`
}

type searchInput struct {
	SOSL string `json:"sosl" jsonschema:"SOSL search, e.g. FIND {Acme} IN NAME FIELDS RETURNING Account(Id, Name)"`
}

type describeInput struct {
	Object string `json:"object" jsonschema:"sObject API name, e.g. Account or Invoice__c"`
}

type listObjectsInput struct {
	Pattern    string `json:"pattern,omitempty" jsonschema:"case-insensitive substring of the object name or label"`
	CustomOnly bool   `json:"custom_only,omitempty" jsonschema:"only list custom objects"`
}

type clearDescribeCacheInput struct {
	Object string `json:"object,omitempty" jsonschema:"object to evict; omit to clear every cached describe"`
}

type clearDescribeCacheOutput struct {
	Cleared   int      `json:"cleared"`
	Remaining []string `json:"remaining"`
}

func readOnlyAnnotations(title string) *mcp.ToolAnnotations {
	return &mcp.ToolAnnotations{Title: title, ReadOnlyHint: true, IdempotentHint: true}
}

func (t *Toolkit) registerReadTools(s *mcp.Server) {
	mcp.AddTool(s, &mcp.Tool{
		Name: ToolQuery,
		Description: t.description(ToolQuery, "Run a SOQL query. Queries without a LIMIT, or with a LIMIT above the "+
			"pagination threshold, follow every result page and return the concatenated records."),
		Annotations: readOnlyAnnotations("SOQL query"),
	}, tool(t, ToolQuery, t.handleQuery))

	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolSearch,
		Description: t.description(ToolSearch, "Run a SOSL full-text search across objects."),
		Annotations: readOnlyAnnotations("SOSL search"),
	}, tool(t, ToolSearch, t.handleSearch))

	mcp.AddTool(s, &mcp.Tool{
		Name: ToolDescribe,
		Description: t.description(ToolDescribe, "Describe an sObject: fields, types, relationships and picklist values. "+
			"Results are cached for an hour; the response says whether it came from cache."),
		Annotations: readOnlyAnnotations("Describe object"),
	}, tool(t, ToolDescribe, t.handleDescribe))

	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolListObjects,
		Description: t.description(ToolListObjects, "List the sObjects available in the org, optionally filtered."),
		Annotations: readOnlyAnnotations("List objects"),
	}, tool(t, ToolListObjects, t.handleListObjects))

	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolClearDescribeCache,
		Description: t.description(ToolClearDescribeCache, "Evict cached describe results so the next describe fetches fresh metadata."),
		Annotations: &mcp.ToolAnnotations{Title: "Clear describe cache", IdempotentHint: true},
	}, tool(t, ToolClearDescribeCache, t.handleClearDescribeCache))
}

func (t *Toolkit) handleQuery(ctx context.Context, in queryInput) (*mcp.CallToolResult, any, error) {
	res, err := t.ops.Query(ctx, router.QueryRequest{
		SOQL:       in.SOQL,
		Mode:       router.QueryMode(in.Mode),
		MaxRecords: in.MaxRecords,
	})
	if res != nil {
		middleware.SetRoute(ctx, string(res.Path))
	}
	return respond(ctx, ToolQuery, res, err)
}

func (t *Toolkit) handleSearch(ctx context.Context, in searchInput) (*mcp.CallToolResult, any, error) {
	res, err := t.ops.Search(ctx, in.SOSL)
	return respond(ctx, ToolSearch, res, err)
}

func (t *Toolkit) handleDescribe(ctx context.Context, in describeInput) (*mcp.CallToolResult, any, error) {
	res, err := t.ops.Describe(ctx, in.Object)
	return respond(ctx, ToolDescribe, res, err)
}

func (t *Toolkit) handleListObjects(ctx context.Context, in listObjectsInput) (*mcp.CallToolResult, any, error) {
	res, err := t.ops.ListObjects(ctx, router.ListObjectsRequest{Pattern: in.Pattern, CustomOnly: in.CustomOnly})
	return respond(ctx, ToolListObjects, res, err)
}

func (t *Toolkit) handleClearDescribeCache(ctx context.Context, in clearDescribeCacheInput) (*mcp.CallToolResult, any, error) {
	out := &clearDescribeCacheOutput{Cleared: t.ops.ClearDescribeCache(in.Object)}
	out.Remaining = t.ops.CachedObjects()
	if out.Remaining == nil {
		out.Remaining = []string{}
	}
	return respond(ctx, ToolClearDescribeCache, out, nil)
}
