package salesforce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/yosida95/uritemplate/v3"

	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

// describeTemplateURI addresses the cached describe of one object.
const describeTemplateURI = "salesforce://sobjects/{object}/describe"

func (t *Toolkit) registerResourceTemplates(s *mcp.Server) {
	s.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: describeTemplateURI,
		Name:        "sObject Describe",
		Description: "Fields, types, relationships and picklist values of an sObject",
		MIMEType:    "application/json",
	}, t.handleDescribeResource)
}

// parseTemplateVars extracts named variables from a URI using a URI template.
func parseTemplateVars(templateStr, uri string) (map[string]string, error) {
	tmpl, err := uritemplate.New(templateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid template %q: %w", templateStr, err)
	}

	match := tmpl.Match(uri)
	if match == nil {
		return nil, fmt.Errorf("uri %q does not match template %q", uri, templateStr)
	}

	result := make(map[string]string)
	for _, name := range tmpl.Varnames() {
		result[name] = match.Get(name).String()
	}
	return result, nil
}

// handleDescribeResource handles salesforce://sobjects/{object}/describe reads.
func (t *Toolkit) handleDescribeResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	vars, err := parseTemplateVars(describeTemplateURI, uri)
	if err != nil || vars["object"] == "" {
		return nil, mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error returned as-is for SDK type matching
	}

	res, err := t.ops.Describe(ctx, vars["object"])
	if err != nil {
		var remote *sferr.RemoteOperationError
		if sferr.KindOf(err) == sferr.KindValidation || (errors.As(err, &remote) && remote.StatusCode == 404) {
			return nil, mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error returned as-is for SDK type matching
		}
		return nil, fmt.Errorf("describe %s: %w", vars["object"], err)
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling resource %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
