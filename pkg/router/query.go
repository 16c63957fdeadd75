package router

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/txn2/mcp-salesforce/pkg/salesforce"
	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

// QueryMode is the caller's choice of query path.
type QueryMode string

// Query modes.
const (
	QueryModeAuto      QueryMode = "auto"
	QueryModeDirect    QueryMode = "direct"
	QueryModePaginated QueryMode = "paginated"
)

// QueryPath is the path a query was executed on.
type QueryPath string

// Query paths.
const (
	QueryPathDirect    QueryPath = "direct"
	QueryPathPaginated QueryPath = "paginated"
)

// QueryRequest is a SOQL query.
type QueryRequest struct {
	SOQL string
	Mode QueryMode
	// MaxRecords stops a paginated fetch once this many rows are held.
	// Zero means no cap.
	MaxRecords int
}

// QueryResult is the outcome of a query.
type QueryResult struct {
	TotalSize      int                 `json:"totalSize"`
	Done           bool                `json:"done"`
	Records        []salesforce.Record `json:"records"`
	NextRecordsURL string              `json:"nextRecordsUrl,omitempty"`
	Path           QueryPath           `json:"path"`
	Pages          int                 `json:"pages"`
	Truncated      bool                `json:"truncated,omitempty"`
	Fallback       string              `json:"fallback,omitempty"`
}

// SelectQueryPath decides how an auto-mode query runs: paginated when the
// query has no LIMIT or its LIMIT exceeds threshold, direct otherwise.
func SelectQueryPath(soql string, threshold int) QueryPath {
	limit, ok := soqlLimit(soql)
	if !ok || limit > threshold {
		return QueryPathPaginated
	}
	return QueryPathDirect
}

// soqlLimit returns the outer LIMIT of soql. The SQL parser handles the
// common subset; SOQL-only syntax falls back to a regex on the query with
// parenthesised subqueries removed.
func soqlLimit(soql string) (int, bool) {
	if stmt, err := sqlparser.Parse(soql); err == nil {
		sel, ok := stmt.(*sqlparser.Select)
		if !ok {
			return 0, false
		}
		if sel.Limit == nil || sel.Limit.Rowcount == nil {
			return 0, false
		}
		val, ok := sel.Limit.Rowcount.(*sqlparser.SQLVal)
		if !ok || val.Type != sqlparser.IntVal {
			return 0, false
		}
		n, err := strconv.Atoi(string(val.Val))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return limitFromText(soql)
}

var (
	literalPattern  = regexp.MustCompile(`'(?:[^'\\]|\\.)*'`)
	subqueryPattern = regexp.MustCompile(`\([^()]*\)`)
	limitPattern    = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)\b`)
)

// limitFromText finds the outer LIMIT once string literals and subqueries
// are blanked out.
func limitFromText(soql string) (int, bool) {
	outer := literalPattern.ReplaceAllString(soql, "''")
	for {
		stripped := subqueryPattern.ReplaceAllString(outer, " ")
		if stripped == outer {
			break
		}
		outer = stripped
	}
	m := limitPattern.FindStringSubmatch(outer)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Query runs a SOQL query on the path chosen by mode and query text.
func (r *Router) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	soql := strings.TrimSpace(req.SOQL)
	if soql == "" {
		return nil, sferr.NewValidationError("query", "is required")
	}
	if req.MaxRecords < 0 {
		return nil, sferr.NewValidationError("max_records", "must not be negative")
	}

	path := QueryPathDirect
	switch req.Mode {
	case "", QueryModeAuto:
		path = SelectQueryPath(soql, r.cfg.QueryBulkThreshold)
	case QueryModeDirect:
	case QueryModePaginated:
		path = QueryPathPaginated
	default:
		return nil, sferr.NewValidationError("mode", "must be auto, direct or paginated")
	}

	sess, err := r.session(ctx)
	if err != nil {
		return nil, err
	}

	if path == QueryPathDirect {
		return queryDirect(ctx, sess.API, soql)
	}

	res, err := queryPaginated(ctx, sess.API, soql, req.MaxRecords)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil || isSessionFailure(err) {
		return nil, err
	}
	slog.Warn("paginated query failed, retrying as a single fetch", "error", err)
	res, ferr := queryDirect(ctx, sess.API, soql)
	if ferr != nil {
		return nil, ferr
	}
	res.Fallback = err.Error()
	return res, nil
}

func queryDirect(ctx context.Context, api salesforce.API, soql string) (*QueryResult, error) {
	page, err := api.Query(ctx, soql)
	if err != nil {
		return nil, err //nolint:wrapcheck // remote errors are reported verbatim
	}
	return &QueryResult{
		TotalSize:      page.TotalSize,
		Done:           page.Done,
		Records:        nonNil(page.Records),
		NextRecordsURL: page.NextRecordsURL,
		Path:           QueryPathDirect,
		Pages:          1,
	}, nil
}

func queryPaginated(ctx context.Context, api salesforce.API, soql string, maxRecords int) (*QueryResult, error) {
	page, err := api.Query(ctx, soql)
	if err != nil {
		return nil, err //nolint:wrapcheck // remote errors are reported verbatim
	}
	remoteTotal := page.TotalSize
	records := append([]salesforce.Record(nil), page.Records...)
	pages := 1

	for !page.Done && page.NextRecordsURL != "" {
		if maxRecords > 0 && len(records) >= maxRecords {
			break
		}
		page, err = api.QueryMore(ctx, page.NextRecordsURL)
		if err != nil {
			return nil, err //nolint:wrapcheck // remote errors are reported verbatim
		}
		records = append(records, page.Records...)
		pages++
	}

	res := &QueryResult{
		TotalSize: max(remoteTotal, len(records)),
		Done:      page.Done,
		Path:      QueryPathPaginated,
		Pages:     pages,
	}
	if maxRecords > 0 && len(records) > maxRecords {
		records = records[:maxRecords]
		res.Done = false
	}
	if !page.Done {
		res.Truncated = true
		res.NextRecordsURL = page.NextRecordsURL
	}
	res.Records = nonNil(records)
	return res, nil
}

// isSessionFailure reports errors a retry on the same session cannot fix.
func isSessionFailure(err error) bool {
	var connErr *sferr.ConnectionError
	var authErr *sferr.AuthenticationError
	return salesforce.IsStaleToken(err) || errors.As(err, &connErr) || errors.As(err, &authErr)
}

func nonNil(records []salesforce.Record) []salesforce.Record {
	if records == nil {
		return []salesforce.Record{}
	}
	return records
}

// SearchResult is the outcome of a SOSL search.
type SearchResult struct {
	Records []salesforce.Record `json:"records"`
	Count   int                 `json:"count"`
}

// Search runs a SOSL search in one round trip.
func (r *Router) Search(ctx context.Context, sosl string) (*SearchResult, error) {
	sosl = strings.TrimSpace(sosl)
	if sosl == "" {
		return nil, sferr.NewValidationError("search", "is required")
	}
	sess, err := r.session(ctx)
	if err != nil {
		return nil, err
	}
	res, err := sess.API.Search(ctx, sosl)
	if err != nil {
		return nil, err //nolint:wrapcheck // remote errors are reported verbatim
	}
	return &SearchResult{Records: nonNil(res.SearchRecords), Count: len(res.SearchRecords)}, nil
}
