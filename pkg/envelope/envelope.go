// Package envelope normalizes every tool outcome into one of two shapes: a
// success carrying data, or an error carrying a classified error detail.
// Both carry the operation name and a timestamp.
package envelope

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

// Context identifies the call an envelope answers.
type Context struct {
	Operation string    `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// ErrorDetail describes a failure. Remote codes and messages are carried
// verbatim.
type ErrorDetail struct {
	Kind       sferr.Kind `json:"kind"`
	Message    string     `json:"message"`
	Code       string     `json:"code,omitempty"`
	StatusCode int        `json:"status_code,omitempty"`
	Fields     []string   `json:"fields,omitempty"`
	Strategy   string     `json:"strategy,omitempty"`
	Category   string     `json:"category,omitempty"`
	Hint       string     `json:"hint,omitempty"`
	Missing    []string   `json:"missing,omitempty"`
	Field      string     `json:"field,omitempty"`
	Index      *int       `json:"index,omitempty"`
	JobID      string     `json:"job_id,omitempty"`
	Attempts   int        `json:"attempts,omitempty"`
	// Details holds a partial result, such as compile problems or a debug
	// log, that accompanies the failure.
	Details any `json:"details,omitempty"`
}

// Envelope is the tagged union returned by every tool. Exactly one of Data
// and Error is meaningful, selected by Success.
type Envelope struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
	Context Context      `json:"context"`
}

// Clock returns the envelope timestamp. Tests may replace it.
var Clock = func() time.Time { return time.Now().UTC() }

// Success wraps data.
func Success(operation, requestID string, data any) *Envelope {
	return &Envelope{
		Success: true,
		Data:    data,
		Context: Context{Operation: operation, Timestamp: Clock(), RequestID: requestID},
	}
}

// Failure wraps err. details, when not nil, is attached to the error detail.
func Failure(operation, requestID string, err error, details any) *Envelope {
	detail := Describe(err)
	detail.Details = details
	return &Envelope{
		Error:   detail,
		Context: Context{Operation: operation, Timestamp: Clock(), RequestID: requestID},
	}
}

// Describe classifies err and extracts the fields each kind carries.
func Describe(err error) *ErrorDetail {
	if err == nil {
		return &ErrorDetail{Kind: sferr.KindInternal, Message: "unknown error"}
	}
	d := &ErrorDetail{Kind: sferr.KindOf(err), Message: err.Error()}

	var (
		cfgErr     *sferr.ConfigurationError
		authErr    *sferr.AuthenticationError
		remoteErr  *sferr.RemoteOperationError
		timeoutErr *sferr.TimeoutError
		valErr     *sferr.ValidationError
	)
	switch d.Kind {
	case sferr.KindValidation:
		if errors.As(err, &valErr) {
			d.Message, d.Field = valErr.Error(), valErr.Field
			if valErr.Index >= 0 {
				idx := valErr.Index
				d.Index = &idx
			}
		}
	case sferr.KindConfiguration:
		if errors.As(err, &cfgErr) {
			d.Missing = cfgErr.Missing
		}
	case sferr.KindAuthentication:
		if errors.As(err, &authErr) {
			d.Strategy, d.Category, d.Hint = authErr.Strategy, string(authErr.Category), authErr.Hint
		}
	case sferr.KindTimeout:
		if errors.As(err, &timeoutErr) {
			d.JobID, d.Attempts = timeoutErr.JobID, timeoutErr.Attempts
		}
	case sferr.KindRemoteOperation:
		if errors.As(err, &remoteErr) {
			d.Code, d.StatusCode, d.Fields = remoteErr.Code, remoteErr.StatusCode, remoteErr.Fields
		}
	}
	return d
}

// ToolResult renders the envelope as an MCP tool result. Error envelopes
// set IsError so the client sees a tool failure rather than a protocol
// error.
func (e *Envelope) ToolResult() *mcp.CallToolResult {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		fallback := Failure(e.Context.Operation, e.Context.RequestID, err, nil)
		data, _ = json.Marshal(fallback)
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}, IsError: true}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: !e.Success,
	}
}
