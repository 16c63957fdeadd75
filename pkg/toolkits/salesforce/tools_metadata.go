package salesforce

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-salesforce/pkg/middleware"
	"github.com/txn2/mcp-salesforce/pkg/router"
)

type retrieveMetadataInput struct {
	Type      string   `json:"type" jsonschema:"metadata type, e.g. ApexClass or CustomObject"`
	FullNames []string `json:"full_names" jsonschema:"component names to retrieve"`
	OutputDir string   `json:"output_dir,omitempty" jsonschema:"directory to write one file per retrieved component"`
}

func (t *Toolkit) registerMetadataReadTools(s *mcp.Server) {
	mcp.AddTool(s, &mcp.Tool{
		Name: ToolRetrieveMetadata,
		Description: t.description(ToolRetrieveMetadata, "Retrieve metadata components by name. Code types return their "+
			"source; declarative types return their metadata payload. Names that do not exist are listed as missing."),
		Annotations: &mcp.ToolAnnotations{Title: "Retrieve metadata", ReadOnlyHint: true},
	}, tool(t, ToolRetrieveMetadata, t.handleRetrieveMetadata))
}

func (t *Toolkit) handleRetrieveMetadata(ctx context.Context, in retrieveMetadataInput) (*mcp.CallToolResult, any, error) {
	res, err := t.ops.Retrieve(ctx, router.RetrieveRequest{Type: in.Type, FullNames: in.FullNames, OutputDir: in.OutputDir})
	if res != nil {
		middleware.SetRoute(ctx, string(res.Path))
	}
	return respond(ctx, ToolRetrieveMetadata, res, err)
}
