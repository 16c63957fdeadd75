package salesforce

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// ExecuteAnonymous implements API.
func (c *Connection) ExecuteAnonymous(ctx context.Context, body string) (*ExecuteAnonymousResult, error) {
	var out ExecuteAnonymousResult
	path := c.toolingPath("executeAnonymous") + "/"
	if err := c.getJSON(ctx, "execute_anonymous", path, url.Values{"anonymousBody": {body}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ToolingQuery implements API.
func (c *Connection) ToolingQuery(ctx context.Context, soql string) (*QueryResult, error) {
	var out QueryResult
	if err := c.getJSON(ctx, "tooling_query", c.toolingPath("query"), url.Values{"q": {soql}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ToolingCreate implements API.
func (c *Connection) ToolingCreate(ctx context.Context, object string, fields Record) (*SaveResult, error) {
	var out SaveResult
	if _, err := c.sendJSON(ctx, "tooling_create", http.MethodPost, c.toolingPath("sobjects", object), fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ToolingRecord implements API.
func (c *Connection) ToolingRecord(ctx context.Context, object, id string) (Record, error) {
	var out Record
	if err := c.getJSON(ctx, "tooling_get", c.toolingPath("sobjects", object, id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ApexLogBody implements API.
func (c *Connection) ApexLogBody(ctx context.Context, id string) (string, error) {
	resp, err := c.do(ctx, &request{
		op:     "apex_log",
		method: http.MethodGet,
		path:   c.toolingPath("sobjects", "ApexLog", id, "Body"),
		accept: "text/plain",
	})
	if err != nil {
		return "", err
	}
	return string(resp.body), nil
}

// RunTestsAsynchronous implements API and returns the AsyncApexJob id.
func (c *Connection) RunTestsAsynchronous(ctx context.Context, classIDs []string) (string, error) {
	var jobID string
	body := map[string]string{"classids": strings.Join(classIDs, ",")}
	if _, err := c.sendJSON(ctx, "run_tests", http.MethodPost, c.toolingPath("runTestsAsynchronous")+"/", body, &jobID); err != nil {
		return "", err
	}
	return jobID, nil
}
