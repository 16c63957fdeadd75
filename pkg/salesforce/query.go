package salesforce

import (
	"context"
	"net/url"
)

// Query implements API. It returns the first page only.
func (c *Connection) Query(ctx context.Context, soql string) (*QueryResult, error) {
	var out QueryResult
	if err := c.getJSON(ctx, "query", c.dataPath("query"), url.Values{"q": {soql}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueryMore implements API. nextRecordsURL is the locator returned with the
// previous page.
func (c *Connection) QueryMore(ctx context.Context, nextRecordsURL string) (*QueryResult, error) {
	var out QueryResult
	if err := c.getJSON(ctx, "query", nextRecordsURL, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search implements API.
func (c *Connection) Search(ctx context.Context, sosl string) (*SearchResult, error) {
	var out SearchResult
	if err := c.getJSON(ctx, "search", c.dataPath("search"), url.Values{"q": {sosl}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
