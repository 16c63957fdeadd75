package salesforce

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-salesforce/pkg/middleware"
	"github.com/txn2/mcp-salesforce/pkg/router"
	sfclient "github.com/txn2/mcp-salesforce/pkg/salesforce"
	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

type dmlOptions struct {
	AllOrNone          bool
	StopOnFirstFailure bool
}

type createInput struct {
	Object             string `json:"object" jsonschema:"sObject API name"`
	Records            any    `json:"records" jsonschema:"one record object or a list of record objects"`
	AllOrNone          bool   `json:"all_or_none,omitempty" jsonschema:"roll back every record when any record fails (up to the bulk threshold)"`
	StopOnFirstFailure bool   `json:"stop_on_first_failure,omitempty" jsonschema:"report the first failed record as the error instead of collecting failures"`
}

type updateInput struct {
	Object             string `json:"object" jsonschema:"sObject API name"`
	Records            any    `json:"records" jsonschema:"one record or a list of records; every record needs an Id"`
	AllOrNone          bool   `json:"all_or_none,omitempty" jsonschema:"roll back every record when any record fails (up to the bulk threshold)"`
	StopOnFirstFailure bool   `json:"stop_on_first_failure,omitempty" jsonschema:"report the first failed record as the error instead of collecting failures"`
}

type upsertInput struct {
	Object             string `json:"object" jsonschema:"sObject API name"`
	ExternalIDField    string `json:"external_id_field" jsonschema:"external id field matched against existing records"`
	Records            any    `json:"records" jsonschema:"one record or a list of records; every record needs the external id field"`
	AllOrNone          bool   `json:"all_or_none,omitempty" jsonschema:"roll back every record when any record fails (up to the bulk threshold)"`
	StopOnFirstFailure bool   `json:"stop_on_first_failure,omitempty" jsonschema:"report the first failed record as the error instead of collecting failures"`
}

type deleteInput struct {
	Object             string `json:"object" jsonschema:"sObject API name"`
	IDs                any    `json:"ids" jsonschema:"one record Id or a list of record Ids"`
	AllOrNone          bool   `json:"all_or_none,omitempty" jsonschema:"roll back every record when any record fails (up to the bulk threshold)"`
	StopOnFirstFailure bool   `json:"stop_on_first_failure,omitempty" jsonschema:"report the first failed record as the error instead of collecting failures"`
}

// registerDMLTools registers the record mutation tools. Their records are
// decoded with exact numbers so large numeric field values reach the org
// unchanged.
func (t *Toolkit) registerDMLTools(s *mcp.Server) {
	destructive := true
	addExactTool(s, t, &mcp.Tool{
		Name: ToolCreate,
		Description: t.description(ToolCreate, "Create records. Accepts one record or a list; lists above the bulk "+
			"threshold run as a Bulk API job and report per-record results."),
		Annotations: &mcp.ToolAnnotations{Title: "Create records"},
	}, t.handleCreate)

	addExactTool(s, t, &mcp.Tool{
		Name:        ToolUpdate,
		Description: t.description(ToolUpdate, "Update records by Id. Accepts one record or a list; every record must carry an Id."),
		Annotations: &mcp.ToolAnnotations{Title: "Update records", IdempotentHint: true},
	}, t.handleUpdate)

	addExactTool(s, t, &mcp.Tool{
		Name:        ToolDelete,
		Description: t.description(ToolDelete, "Delete records by Id. Accepts one Id or a list."),
		Annotations: &mcp.ToolAnnotations{Title: "Delete records", DestructiveHint: &destructive},
	}, t.handleDelete)

	addExactTool(s, t, &mcp.Tool{
		Name:        ToolUpsert,
		Description: t.description(ToolUpsert, "Insert or update records matched on an external id field."),
		Annotations: &mcp.ToolAnnotations{Title: "Upsert records", IdempotentHint: true},
	}, t.handleUpsert)
}

func (t *Toolkit) handleCreate(ctx context.Context, in createInput) (*mcp.CallToolResult, any, error) {
	return t.mutate(ctx, ToolCreate, router.DMLCreate, in.Object, "", in.Records, dmlOptions{in.AllOrNone, in.StopOnFirstFailure})
}

func (t *Toolkit) handleUpdate(ctx context.Context, in updateInput) (*mcp.CallToolResult, any, error) {
	return t.mutate(ctx, ToolUpdate, router.DMLUpdate, in.Object, "", in.Records, dmlOptions{in.AllOrNone, in.StopOnFirstFailure})
}

func (t *Toolkit) handleUpsert(ctx context.Context, in upsertInput) (*mcp.CallToolResult, any, error) {
	return t.mutate(ctx, ToolUpsert, router.DMLUpsert, in.Object, in.ExternalIDField, in.Records, dmlOptions{in.AllOrNone, in.StopOnFirstFailure})
}

func (t *Toolkit) handleDelete(ctx context.Context, in deleteInput) (*mcp.CallToolResult, any, error) {
	return t.mutate(ctx, ToolDelete, router.DMLDelete, in.Object, "", in.IDs, dmlOptions{in.AllOrNone, in.StopOnFirstFailure})
}

func (t *Toolkit) mutate(ctx context.Context, tool string, op router.DMLOperation, object, externalID string, payload any, opts dmlOptions) (*mcp.CallToolResult, any, error) {
	records, err := normalizeRecords(payload, op == router.DMLDelete)
	if err != nil {
		return respond[router.DMLResult](ctx, tool, nil, err)
	}
	res, err := t.ops.Mutate(ctx, router.DMLRequest{
		Operation:          op,
		Object:             object,
		Records:            records,
		ExternalIDField:    externalID,
		AllOrNone:          opts.AllOrNone,
		StopOnFirstFailure: opts.StopOnFirstFailure,
	})
	if res != nil {
		middleware.SetRoute(ctx, string(res.Path))
	}
	return respond(ctx, tool, res, err)
}

// normalizeRecords turns a lone record into a one-element list. When ids is
// set, bare strings are accepted as record Ids.
func normalizeRecords(payload any, ids bool) ([]sfclient.Record, error) {
	switch v := payload.(type) {
	case nil:
		return nil, sferr.NewValidationError("records", "is required")
	case []any:
		out := make([]sfclient.Record, 0, len(v))
		for i, item := range v {
			rec, err := toRecord(item, ids)
			if err != nil {
				return nil, &sferr.ValidationError{Field: "records", Index: i, Message: err.Error()}
			}
			out = append(out, rec)
		}
		return out, nil
	default:
		rec, err := toRecord(v, ids)
		if err != nil {
			return nil, sferr.NewValidationError("records", err.Error())
		}
		return []sfclient.Record{rec}, nil
	}
}

func toRecord(item any, ids bool) (sfclient.Record, error) {
	switch v := item.(type) {
	case map[string]any:
		return sfclient.Record(v), nil
	case string:
		if ids {
			return sfclient.Record{"Id": v}, nil
		}
	}
	if ids {
		return nil, fmt.Errorf("expected a record Id or an object with Id, got %T", item)
	}
	return nil, fmt.Errorf("expected an object, got %T", item)
}
