package salesforce

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-salesforce/pkg/middleware"
	"github.com/txn2/mcp-salesforce/pkg/router"
)

type executeApexInput struct {
	Code       string `json:"code" jsonschema:"anonymous Apex to execute"`
	CaptureLog bool   `json:"capture_log,omitempty" jsonschema:"capture and return the debug log of the execution"`
}

type runTestsInput struct {
	ClassNames      []string `json:"class_names,omitempty" jsonschema:"test classes to run; omit to run every class whose name contains Test"`
	IncludeCoverage bool     `json:"include_coverage,omitempty" jsonschema:"report per-class code coverage"`
}

type deployMetadataInput struct {
	Type      string         `json:"type" jsonschema:"metadata type, e.g. ApexClass, ApexTrigger, CustomObject"`
	FullName  string         `json:"full_name,omitempty" jsonschema:"component name; defaults to the file name for code types"`
	FilePath  string         `json:"file_path,omitempty" jsonschema:"local source file (code) or JSON/YAML payload (declarative types)"`
	Content   string         `json:"content,omitempty" jsonschema:"inline source for code types"`
	Metadata  map[string]any `json:"metadata,omitempty" jsonschema:"inline payload for declarative types"`
	CheckOnly bool           `json:"check_only,omitempty" jsonschema:"validate and look up the component without changing the org"`
}

func (t *Toolkit) registerDevTools(s *mcp.Server) {
	mcp.AddTool(s, &mcp.Tool{
		Name: ToolExecuteApex,
		Description: t.description(ToolExecuteApex, "Execute anonymous Apex. Compile problems and uncaught exceptions are "+
			"reported as errors; the debug log is returned when capture_log is set."),
		Annotations: &mcp.ToolAnnotations{Title: "Execute anonymous Apex"},
	}, tool(t, ToolExecuteApex, t.handleExecuteApex))

	mcp.AddTool(s, &mcp.Tool{
		Name: ToolRunTests,
		Description: t.description(ToolRunTests, "Run Apex test classes asynchronously and wait for the results, "+
			"optionally with code coverage."),
		Annotations: &mcp.ToolAnnotations{Title: "Run Apex tests"},
	}, tool(t, ToolRunTests, t.handleRunTests))

	mcp.AddTool(s, &mcp.Tool{
		Name: ToolDeployMetadata,
		Description: t.description(ToolDeployMetadata, "Deploy one metadata component. Apex classes, triggers, pages and "+
			"components deploy through the Tooling API; other types are upserted through the Metadata API."),
		Annotations: &mcp.ToolAnnotations{Title: "Deploy metadata", IdempotentHint: true},
	}, tool(t, ToolDeployMetadata, t.handleDeployMetadata))
}

func (t *Toolkit) handleExecuteApex(ctx context.Context, in executeApexInput) (*mcp.CallToolResult, any, error) {
	res, err := t.ops.ExecuteApex(ctx, router.ExecuteRequest{Code: in.Code, CaptureLog: in.CaptureLog})
	return respond(ctx, ToolExecuteApex, res, err)
}

func (t *Toolkit) handleRunTests(ctx context.Context, in runTestsInput) (*mcp.CallToolResult, any, error) {
	res, err := t.ops.RunTests(ctx, router.TestRunRequest{ClassNames: in.ClassNames, IncludeCoverage: in.IncludeCoverage})
	return respond(ctx, ToolRunTests, res, err)
}

func (t *Toolkit) handleDeployMetadata(ctx context.Context, in deployMetadataInput) (*mcp.CallToolResult, any, error) {
	res, err := t.ops.Deploy(ctx, router.DeployRequest{
		Type:      in.Type,
		FullName:  in.FullName,
		FilePath:  in.FilePath,
		Content:   in.Content,
		Metadata:  in.Metadata,
		CheckOnly: in.CheckOnly,
	})
	if res != nil {
		middleware.SetRoute(ctx, string(res.Path))
	}
	return respond(ctx, ToolDeployMetadata, res, err)
}
