package salesforce

import (
	"context"

	"github.com/txn2/mcp-salesforce/pkg/mcpcontext"
	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

// mutatingTools change data, code or configuration in the org.
var mutatingTools = map[string]bool{
	ToolCreate:         true,
	ToolUpdate:         true,
	ToolDelete:         true,
	ToolUpsert:         true,
	ToolExecuteApex:    true,
	ToolRunTests:       true,
	ToolDeployMetadata: true,
}

func isMutating(tool string) bool {
	return mutatingTools[tool]
}

// guard refuses mutating tools when read-only mode applies, either from
// toolkit configuration or from the call context.
func (t *Toolkit) guard(ctx context.Context, tool string) error {
	if !isMutating(tool) {
		return nil
	}
	if t.config.ReadOnly || mcpcontext.IsReadOnlyEnforced(ctx) {
		return sferr.NewValidationError("tool", tool+" is not allowed in read-only mode")
	}
	return nil
}
