package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-salesforce/pkg/jobs"
	"github.com/txn2/mcp-salesforce/pkg/salesforce"
	"github.com/txn2/mcp-salesforce/pkg/session"
	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

const (
	testUserID  = "005000000000001AAA"
	testNextURL = "/services/data/v62.0/query/01gxx0000000001-1500"
)

// fakeAPI records every call. Methods without a hook panic through the nil
// embedded interface, which flags unexpected remote calls.
type fakeAPI struct {
	salesforce.API

	mu    sync.Mutex
	calls []string

	query         func(soql string) (*salesforce.QueryResult, error)
	queryMore     func(next string) (*salesforce.QueryResult, error)
	toolingQuery  func(soql string) (*salesforce.QueryResult, error)
	toolingCreate func(object string, fields salesforce.Record) (*salesforce.SaveResult, error)
	toolingRecord func(object, id string) (salesforce.Record, error)
	describe      func(object string) (*salesforce.DescribeResult, error)
	createOne     func(object string, rec salesforce.Record) (*salesforce.SaveResult, error)
	collection    func(op string, records []salesforce.Record) ([]salesforce.SaveResult, error)
	ingestStatus  func() (*salesforce.IngestJob, error)
	ingestResults func(kind salesforce.IngestResultKind) ([]map[string]string, error)
	execute       func(body string) (*salesforce.ExecuteAnonymousResult, error)
	logBody       func(id string) (string, error)
	runTests      func(ids []string) (string, error)
	upsertMeta    func(typ string, comps []salesforce.MetadataComponent) ([]salesforce.MetadataSaveResult, error)
	readMeta      func(typ string, names []string) ([]salesforce.Record, error)

	uploaded []byte
	jobReq   salesforce.IngestJobRequest
}

func (f *fakeAPI) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeAPI) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeAPI) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAPI) Identity(context.Context) (*salesforce.Identity, error) {
	f.record("Identity")
	return &salesforce.Identity{UserID: testUserID}, nil
}

func (f *fakeAPI) Query(_ context.Context, soql string) (*salesforce.QueryResult, error) {
	f.record("Query")
	return f.query(soql)
}

func (f *fakeAPI) QueryMore(_ context.Context, next string) (*salesforce.QueryResult, error) {
	f.record("QueryMore")
	return f.queryMore(next)
}

func (f *fakeAPI) Search(_ context.Context, _ string) (*salesforce.SearchResult, error) {
	f.record("Search")
	return &salesforce.SearchResult{SearchRecords: []salesforce.Record{{"Id": "001000000000001"}}}, nil
}

func (f *fakeAPI) CreateRecord(_ context.Context, object string, rec salesforce.Record) (*salesforce.SaveResult, error) {
	f.record("CreateRecord")
	return f.createOne(object, rec)
}

func (f *fakeAPI) UpdateRecord(context.Context, string, string, salesforce.Record) error {
	f.record("UpdateRecord")
	return nil
}

func (f *fakeAPI) DeleteRecord(context.Context, string, string) error {
	f.record("DeleteRecord")
	return nil
}

func (f *fakeAPI) CreateCollection(_ context.Context, _ string, records []salesforce.Record, _ bool) ([]salesforce.SaveResult, error) {
	f.record("CreateCollection")
	return f.collection("create", records)
}

func (f *fakeAPI) UpdateCollection(_ context.Context, _ string, records []salesforce.Record, _ bool) ([]salesforce.SaveResult, error) {
	f.record("UpdateCollection")
	return f.collection("update", records)
}

func (f *fakeAPI) DeleteCollection(_ context.Context, ids []string, _ bool) ([]salesforce.SaveResult, error) {
	f.record("DeleteCollection")
	records := make([]salesforce.Record, len(ids))
	for i, id := range ids {
		records[i] = salesforce.Record{"Id": id}
	}
	return f.collection("delete", records)
}

func (f *fakeAPI) CreateIngestJob(_ context.Context, req salesforce.IngestJobRequest) (*salesforce.IngestJob, error) {
	f.record("CreateIngestJob")
	f.jobReq = req
	return &salesforce.IngestJob{ID: "750000000000001AAA", State: salesforce.IngestStateOpen}, nil
}

func (f *fakeAPI) UploadIngestData(_ context.Context, _ string, data []byte) error {
	f.record("UploadIngestData")
	f.uploaded = data
	return nil
}

func (f *fakeAPI) CloseIngestJob(context.Context, string) (*salesforce.IngestJob, error) {
	f.record("CloseIngestJob")
	return &salesforce.IngestJob{State: salesforce.IngestStateUploadComplete}, nil
}

func (f *fakeAPI) IngestJobStatus(context.Context, string) (*salesforce.IngestJob, error) {
	f.record("IngestJobStatus")
	return f.ingestStatus()
}

func (f *fakeAPI) IngestJobResults(_ context.Context, _ string, kind salesforce.IngestResultKind) ([]map[string]string, error) {
	f.record("IngestJobResults")
	return f.ingestResults(kind)
}

func (f *fakeAPI) Describe(_ context.Context, object string) (*salesforce.DescribeResult, error) {
	f.record("Describe")
	return f.describe(object)
}

func (f *fakeAPI) DescribeGlobal(context.Context) (*salesforce.DescribeGlobalResult, error) {
	f.record("DescribeGlobal")
	return &salesforce.DescribeGlobalResult{SObjects: []salesforce.GlobalObject{
		{Name: "Account", Label: "Account"},
		{Name: "Invoice__c", Label: "Invoice", Custom: true},
		{Name: "Contact", Label: "Contact"},
	}}, nil
}

func (f *fakeAPI) ExecuteAnonymous(_ context.Context, body string) (*salesforce.ExecuteAnonymousResult, error) {
	f.record("ExecuteAnonymous")
	return f.execute(body)
}

func (f *fakeAPI) ToolingQuery(_ context.Context, soql string) (*salesforce.QueryResult, error) {
	f.record("ToolingQuery")
	return f.toolingQuery(soql)
}

func (f *fakeAPI) ToolingCreate(_ context.Context, object string, fields salesforce.Record) (*salesforce.SaveResult, error) {
	f.record("ToolingCreate:" + object)
	return f.toolingCreate(object, fields)
}

func (f *fakeAPI) ToolingRecord(_ context.Context, object, id string) (salesforce.Record, error) {
	f.record("ToolingRecord")
	return f.toolingRecord(object, id)
}

func (f *fakeAPI) ApexLogBody(_ context.Context, id string) (string, error) {
	f.record("ApexLogBody")
	return f.logBody(id)
}

func (f *fakeAPI) RunTestsAsynchronous(_ context.Context, ids []string) (string, error) {
	f.record("RunTestsAsynchronous")
	return f.runTests(ids)
}

func (f *fakeAPI) UpsertMetadata(_ context.Context, typ string, comps []salesforce.MetadataComponent) ([]salesforce.MetadataSaveResult, error) {
	f.record("UpsertMetadata")
	return f.upsertMeta(typ, comps)
}

func (f *fakeAPI) ReadMetadata(_ context.Context, typ string, names []string) ([]salesforce.Record, error) {
	f.record("ReadMetadata")
	return f.readMeta(typ, names)
}

type fakeSessions struct {
	api   *fakeAPI
	err   error
	calls int
}

func (f *fakeSessions) GetSession(context.Context) (*session.Session, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &session.Session{API: f.api, Strategy: "token_refresh", Identity: &salesforce.Identity{UserID: testUserID}}, nil
}

func instantPoller() *jobs.Poller {
	return &jobs.Poller{
		Interval:    jobs.PollInterval,
		MaxAttempts: jobs.MaxPollAttempts,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

func newTestRouter(api *fakeAPI, opts ...Option) (*Router, *fakeSessions) {
	sessions := &fakeSessions{api: api}
	opts = append([]Option{WithPoller(instantPoller())}, opts...)
	return New(sessions, Config{}, opts...), sessions
}

func makeRecords(n int, prefix string) []salesforce.Record {
	out := make([]salesforce.Record, n)
	for i := range out {
		out[i] = salesforce.Record{"Id": fmt.Sprintf("%s%012d", prefix, i), "Name": fmt.Sprintf("Row %d", i)}
	}
	return out
}

func TestNew_Defaults(t *testing.T) {
	r := New(&fakeSessions{}, Config{})
	cfg := r.Config()
	assert.Equal(t, 200, cfg.DMLBulkThreshold)
	assert.Equal(t, 2000, cfg.QueryBulkThreshold)
	assert.Equal(t, time.Hour, cfg.DescribeCacheTTL)

	custom := New(&fakeSessions{}, Config{DMLBulkThreshold: 50, QueryBulkThreshold: 10})
	assert.Equal(t, 50, custom.Config().DMLBulkThreshold)
	assert.Equal(t, 10, custom.Config().QueryBulkThreshold)
}

func TestSelectQueryPath(t *testing.T) {
	tests := []struct {
		name string
		soql string
		want QueryPath
	}{
		{"no limit", "SELECT Id FROM Account", QueryPathPaginated},
		{"small limit", "SELECT Id FROM Account LIMIT 10", QueryPathDirect},
		{"limit at threshold", "SELECT Id FROM Account LIMIT 2000", QueryPathDirect},
		{"limit above threshold", "SELECT Id FROM Account LIMIT 2001", QueryPathPaginated},
		{"lowercase", "select id from account limit 5", QueryPathDirect},
		{"limit inside literal", "SELECT Name FROM Account WHERE Name = 'limit 5'", QueryPathPaginated},
		{"subquery limit only", "SELECT Id, (SELECT Id FROM Contacts LIMIT 5) FROM Account", QueryPathPaginated},
		{"date literal", "SELECT Id FROM Lead WHERE CreatedDate = LAST_N_DAYS:30 LIMIT 50", QueryPathDirect},
		{"soql clause", "SELECT Id FROM Account WITH SECURITY_ENFORCED LIMIT 3000", QueryPathPaginated},
		{"soql clause small", "SELECT Id FROM Account WITH SECURITY_ENFORCED LIMIT 30", QueryPathDirect},
		{"limit inside literal with date literal", "SELECT Id FROM Account WHERE Name = 'LIMIT 5' AND CreatedDate = LAST_N_DAYS:7", QueryPathPaginated},
		{"escaped quote in literal", `SELECT Id FROM Account WHERE Name = 'O\'Brien LIMIT 5' AND CreatedDate = LAST_N_DAYS:7 LIMIT 20`, QueryPathDirect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectQueryPath(tt.soql, DefaultQueryBulkThreshold))
		})
	}
}

func TestLimitFromText_IgnoresLiterals(t *testing.T) {
	_, ok := limitFromText("SELECT Id FROM Account WHERE Name = 'LIMIT 5' AND CreatedDate = LAST_N_DAYS:7")
	assert.False(t, ok)

	n, ok := limitFromText("SELECT Id FROM Account WHERE Name = '(LIMIT 9' AND CreatedDate = LAST_N_DAYS:7 LIMIT 40")
	require.True(t, ok)
	assert.Equal(t, 40, n)
}

func TestRouter_Query_PaginatesAndReportsTotal(t *testing.T) {
	api := &fakeAPI{
		query: func(string) (*salesforce.QueryResult, error) {
			return &salesforce.QueryResult{TotalSize: 2000, NextRecordsURL: testNextURL, Records: makeRecords(1500, "001")}, nil
		},
		queryMore: func(next string) (*salesforce.QueryResult, error) {
			if next != testNextURL {
				return nil, errors.New("unexpected cursor " + next)
			}
			return &salesforce.QueryResult{TotalSize: 2000, Done: true, Records: makeRecords(500, "002")}, nil
		},
	}
	r, _ := newTestRouter(api)

	res, err := r.Query(context.Background(), QueryRequest{SOQL: "SELECT Id, Name FROM Account"})
	require.NoError(t, err)
	assert.Equal(t, QueryPathPaginated, res.Path)
	assert.Equal(t, 2000, res.TotalSize)
	assert.True(t, res.Done)
	assert.Len(t, res.Records, 2000)
	assert.Equal(t, 2, res.Pages)
	assert.Empty(t, res.NextRecordsURL)
	assert.Equal(t, 1, api.count("Query"))
	assert.Equal(t, 1, api.count("QueryMore"))
}

func TestRouter_Query_TotalNeverBelowFetched(t *testing.T) {
	api := &fakeAPI{
		query: func(string) (*salesforce.QueryResult, error) {
			return &salesforce.QueryResult{TotalSize: 3, Done: true, Records: makeRecords(5, "001")}, nil
		},
	}
	r, _ := newTestRouter(api)

	res, err := r.Query(context.Background(), QueryRequest{SOQL: "SELECT Id FROM Account", Mode: QueryModePaginated})
	require.NoError(t, err)
	assert.Equal(t, 5, res.TotalSize)
}

func TestRouter_Query_DirectMakesOneCall(t *testing.T) {
	api := &fakeAPI{
		query: func(string) (*salesforce.QueryResult, error) {
			return &salesforce.QueryResult{TotalSize: 10, Done: true, Records: makeRecords(10, "001")}, nil
		},
	}
	r, _ := newTestRouter(api)

	res, err := r.Query(context.Background(), QueryRequest{SOQL: "SELECT Id FROM Account LIMIT 10"})
	require.NoError(t, err)
	assert.Equal(t, QueryPathDirect, res.Path)
	assert.Len(t, res.Records, 10)
	assert.Equal(t, 1, api.total())
}

func TestRouter_Query_MaxRecordsStopsEarly(t *testing.T) {
	api := &fakeAPI{
		query: func(string) (*salesforce.QueryResult, error) {
			return &salesforce.QueryResult{TotalSize: 4000, NextRecordsURL: testNextURL, Records: makeRecords(1500, "001")}, nil
		},
	}
	r, _ := newTestRouter(api)

	res, err := r.Query(context.Background(), QueryRequest{SOQL: "SELECT Id FROM Account", MaxRecords: 1000})
	require.NoError(t, err)
	assert.Len(t, res.Records, 1000)
	assert.False(t, res.Done)
	assert.True(t, res.Truncated)
	assert.Equal(t, 4000, res.TotalSize)
	assert.Equal(t, 0, api.count("QueryMore"))
}

func TestRouter_Query_FallsBackToSingleFetch(t *testing.T) {
	api := &fakeAPI{
		query: func(string) (*salesforce.QueryResult, error) {
			return &salesforce.QueryResult{TotalSize: 2500, NextRecordsURL: testNextURL, Records: makeRecords(2000, "001")}, nil
		},
		queryMore: func(string) (*salesforce.QueryResult, error) {
			return nil, &sferr.RemoteOperationError{Operation: "query_more", StatusCode: 400, Code: "INVALID_QUERY_LOCATOR", Message: "invalid query locator"}
		},
	}
	r, _ := newTestRouter(api)

	res, err := r.Query(context.Background(), QueryRequest{SOQL: "SELECT Id FROM Account"})
	require.NoError(t, err)
	assert.Equal(t, QueryPathDirect, res.Path)
	assert.Contains(t, res.Fallback, "INVALID_QUERY_LOCATOR")
	assert.Len(t, res.Records, 2000)
	assert.Equal(t, 2, api.count("Query"))
}

func TestRouter_Query_StaleSessionIsNotRetried(t *testing.T) {
	stale := &sferr.RemoteOperationError{Operation: "query", StatusCode: 401, Code: "INVALID_SESSION_ID", Message: "Session expired or invalid"}
	api := &fakeAPI{
		query: func(string) (*salesforce.QueryResult, error) { return nil, stale },
	}
	r, _ := newTestRouter(api)

	_, err := r.Query(context.Background(), QueryRequest{SOQL: "SELECT Id FROM Account"})
	require.ErrorIs(t, err, stale)
	assert.Equal(t, 1, api.count("Query"))
}

func TestRouter_Query_Validation(t *testing.T) {
	api := &fakeAPI{}
	r, sessions := newTestRouter(api)

	_, err := r.Query(context.Background(), QueryRequest{SOQL: "  "})
	assert.Equal(t, sferr.KindValidation, sferr.KindOf(err))

	_, err = r.Query(context.Background(), QueryRequest{SOQL: "SELECT Id FROM Account", Mode: "bulk"})
	assert.Equal(t, sferr.KindValidation, sferr.KindOf(err))

	assert.Equal(t, 0, sessions.calls)
	assert.Equal(t, 0, api.total())
}

func TestRouter_Query_SessionErrorPropagates(t *testing.T) {
	sessions := &fakeSessions{err: &sferr.AuthenticationError{Strategy: "all", Category: sferr.CategoryAllStrategiesFailed}}
	r := New(sessions, Config{})

	_, err := r.Query(context.Background(), QueryRequest{SOQL: "SELECT Id FROM Account"})
	assert.Equal(t, sferr.KindAuthentication, sferr.KindOf(err))
}

func TestRouter_Search(t *testing.T) {
	api := &fakeAPI{}
	r, _ := newTestRouter(api)

	res, err := r.Search(context.Background(), "FIND {Acme} IN NAME FIELDS RETURNING Account(Id)")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)

	_, err = r.Search(context.Background(), "")
	assert.Equal(t, sferr.KindValidation, sferr.KindOf(err))
	assert.Equal(t, 1, api.count("Search"))
}

func TestRouter_Describe_CachesForTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		describe: func(object string) (*salesforce.DescribeResult, error) {
			return &salesforce.DescribeResult{Name: "Account", Label: "Account", Fields: []salesforce.DescribeField{{Name: "Id"}}}, nil
		},
	}
	r, _ := newTestRouter(api, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	first, err := r.Describe(ctx, "Account")
	require.NoError(t, err)
	assert.False(t, first.Cached)

	now = now.Add(30 * time.Minute)
	second, err := r.Describe(ctx, "account")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.DescribeResult, second.DescribeResult)
	assert.Equal(t, 1, api.count("Describe"))

	now = now.Add(31 * time.Minute)
	third, err := r.Describe(ctx, "ACCOUNT")
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, 2, api.count("Describe"))
	assert.Equal(t, []string{"Account"}, r.CachedObjects())
}

func TestRouter_ClearDescribeCache(t *testing.T) {
	api := &fakeAPI{
		describe: func(object string) (*salesforce.DescribeResult, error) {
			return &salesforce.DescribeResult{Name: object}, nil
		},
	}
	r, _ := newTestRouter(api)
	ctx := context.Background()

	_, err := r.Describe(ctx, "Account")
	require.NoError(t, err)
	_, err = r.Describe(ctx, "Contact")
	require.NoError(t, err)

	assert.Equal(t, 1, r.ClearDescribeCache("contact"))
	assert.Equal(t, 0, r.ClearDescribeCache("Contact"))
	assert.Equal(t, 1, r.ClearDescribeCache(""))

	res, err := r.Describe(ctx, "Account")
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 3, api.count("Describe"))
}

func TestRouter_Describe_RejectsBadName(t *testing.T) {
	api := &fakeAPI{}
	r, _ := newTestRouter(api)

	_, err := r.Describe(context.Background(), "Account; DROP")
	assert.Equal(t, sferr.KindValidation, sferr.KindOf(err))
	assert.Equal(t, 0, api.total())
}

func TestRouter_ListObjects(t *testing.T) {
	api := &fakeAPI{}
	r, _ := newTestRouter(api)
	ctx := context.Background()

	all, err := r.ListObjects(ctx, ListObjectsRequest{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Count)

	custom, err := r.ListObjects(ctx, ListObjectsRequest{CustomOnly: true})
	require.NoError(t, err)
	require.Len(t, custom.Objects, 1)
	assert.Equal(t, "Invoice__c", custom.Objects[0].Name)

	matched, err := r.ListObjects(ctx, ListObjectsRequest{Pattern: "CONT"})
	require.NoError(t, err)
	require.Len(t, matched.Objects, 1)
	assert.Equal(t, "Contact", matched.Objects[0].Name)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `'O\'Brien'`, quote("O'Brien"))
	assert.Equal(t, `'a\\b'`, quote(`a\b`))
	assert.Equal(t, `('A', 'B')`, quoteList([]string{"A", "B"}))
}
