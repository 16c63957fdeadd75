// Package salesforce is the boundary to the remote Salesforce platform: a
// small REST/SOAP client bound to one access token and instance URL. Callers
// depend on the API interface so the routing core can be exercised with fakes.
package salesforce

import (
	"context"
	"time"
)

// Record is a single sObject row or payload.
type Record = map[string]any

// API is the set of remote operations the adapter consumes.
type API interface {
	// Identity is the trial round-trip used to confirm a session is usable.
	Identity(ctx context.Context) (*Identity, error)
	// Refresh forces a credential refresh and updates the connection in place.
	Refresh(ctx context.Context) error
	// Subscribe registers refresh and error handlers. The returned func removes them.
	Subscribe(l Listener) func()
	// Info describes the connection without exposing the access token.
	Info() ConnectionInfo

	Query(ctx context.Context, soql string) (*QueryResult, error)
	QueryMore(ctx context.Context, nextRecordsURL string) (*QueryResult, error)
	Search(ctx context.Context, sosl string) (*SearchResult, error)

	CreateRecord(ctx context.Context, object string, record Record) (*SaveResult, error)
	UpdateRecord(ctx context.Context, object, id string, record Record) error
	DeleteRecord(ctx context.Context, object, id string) error
	UpsertRecord(ctx context.Context, object, externalIDField, externalID string, record Record) (*SaveResult, error)
	CreateCollection(ctx context.Context, object string, records []Record, allOrNone bool) ([]SaveResult, error)
	UpdateCollection(ctx context.Context, object string, records []Record, allOrNone bool) ([]SaveResult, error)
	DeleteCollection(ctx context.Context, ids []string, allOrNone bool) ([]SaveResult, error)
	UpsertCollection(ctx context.Context, object, externalIDField string, records []Record, allOrNone bool) ([]SaveResult, error)

	CreateIngestJob(ctx context.Context, req IngestJobRequest) (*IngestJob, error)
	UploadIngestData(ctx context.Context, jobID string, csvData []byte) error
	CloseIngestJob(ctx context.Context, jobID string) (*IngestJob, error)
	IngestJobStatus(ctx context.Context, jobID string) (*IngestJob, error)
	IngestJobResults(ctx context.Context, jobID string, kind IngestResultKind) ([]map[string]string, error)

	Describe(ctx context.Context, object string) (*DescribeResult, error)
	DescribeGlobal(ctx context.Context) (*DescribeGlobalResult, error)

	ExecuteAnonymous(ctx context.Context, body string) (*ExecuteAnonymousResult, error)
	ToolingQuery(ctx context.Context, soql string) (*QueryResult, error)
	ToolingCreate(ctx context.Context, object string, fields Record) (*SaveResult, error)
	ToolingRecord(ctx context.Context, object, id string) (Record, error)
	ApexLogBody(ctx context.Context, id string) (string, error)
	RunTestsAsynchronous(ctx context.Context, classIDs []string) (string, error)

	UpsertMetadata(ctx context.Context, metadataType string, components []MetadataComponent) ([]MetadataSaveResult, error)
	ReadMetadata(ctx context.Context, metadataType string, fullNames []string) ([]Record, error)
}

// Listener receives connection events. Either func may be nil.
type Listener struct {
	OnRefresh func(info ConnectionInfo)
	OnError   func(err error)
}

// Token is the result of a credential refresh.
type Token struct {
	AccessToken string
	InstanceURL string
}

// Refresher obtains a fresh access token for an existing connection.
type Refresher func(ctx context.Context) (*Token, error)

// ConnectionInfo is the non-secret description of a connection.
type ConnectionInfo struct {
	InstanceURL string    `json:"instance_url"`
	APIVersion  string    `json:"api_version"`
	RefreshedAt time.Time `json:"refreshed_at,omitempty"`
}

// Identity is the user behind a session.
type Identity struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Username       string `json:"preferred_username"`
	Name           string `json:"name,omitempty"`
	Email          string `json:"email,omitempty"`
}

// QueryResult is one page of a SOQL query.
type QueryResult struct {
	TotalSize      int      `json:"totalSize"`
	Done           bool     `json:"done"`
	NextRecordsURL string   `json:"nextRecordsUrl,omitempty"`
	Records        []Record `json:"records"`
}

// SearchResult is a SOSL response.
type SearchResult struct {
	SearchRecords []Record `json:"searchRecords"`
}

// RecordError is one remote error attached to a record.
type RecordError struct {
	StatusCode string   `json:"statusCode" xml:"statusCode"`
	Message    string   `json:"message" xml:"message"`
	Fields     []string `json:"fields,omitempty" xml:"fields"`
}

// SaveResult is the per-record outcome of a write.
type SaveResult struct {
	ID      string        `json:"id,omitempty"`
	Success bool          `json:"success"`
	Created bool          `json:"created,omitempty"`
	Errors  []RecordError `json:"errors,omitempty"`
}

// IngestOperation is a Bulk API 2.0 ingest operation.
type IngestOperation string

// Ingest operations.
const (
	IngestInsert IngestOperation = "insert"
	IngestUpdate IngestOperation = "update"
	IngestDelete IngestOperation = "delete"
	IngestUpsert IngestOperation = "upsert"
)

// IngestJobRequest opens a Bulk API 2.0 ingest job.
type IngestJobRequest struct {
	Object              string          `json:"object"`
	Operation           IngestOperation `json:"operation"`
	ExternalIDFieldName string          `json:"externalIdFieldName,omitempty"`
	ContentType         string          `json:"contentType"`
	LineEnding          string          `json:"lineEnding"`
}

// Bulk API 2.0 ingest job states.
const (
	IngestStateOpen           = "Open"
	IngestStateUploadComplete = "UploadComplete"
	IngestStateInProgress     = "InProgress"
	IngestStateJobComplete    = "JobComplete"
	IngestStateFailed         = "Failed"
	IngestStateAborted        = "Aborted"
)

// IngestJob is the state of a Bulk API 2.0 ingest job.
type IngestJob struct {
	ID                     string `json:"id"`
	Object                 string `json:"object"`
	Operation              string `json:"operation"`
	State                  string `json:"state"`
	NumberRecordsProcessed int    `json:"numberRecordsProcessed"`
	NumberRecordsFailed    int    `json:"numberRecordsFailed"`
	ErrorMessage           string `json:"errorMessage,omitempty"`
}

// IngestResultKind selects one of the three result sets of an ingest job.
type IngestResultKind string

// Ingest result sets.
const (
	IngestSuccessful  IngestResultKind = "successfulResults"
	IngestFailed      IngestResultKind = "failedResults"
	IngestUnprocessed IngestResultKind = "unprocessedrecords"
)

// DescribeField is the subset of field metadata the adapter surfaces.
type DescribeField struct {
	Name           string          `json:"name"`
	Label          string          `json:"label"`
	Type           string          `json:"type"`
	Length         int             `json:"length,omitempty"`
	Nillable       bool            `json:"nillable"`
	Createable     bool            `json:"createable"`
	Updateable     bool            `json:"updateable"`
	Custom         bool            `json:"custom"`
	ExternalID     bool            `json:"externalId"`
	ReferenceTo    []string        `json:"referenceTo,omitempty"`
	PicklistValues []PicklistValue `json:"picklistValues,omitempty"`
}

// PicklistValue is one entry of a picklist field.
type PicklistValue struct {
	Value  string `json:"value"`
	Label  string `json:"label"`
	Active bool   `json:"active"`
}

// ChildRelationship links an object to a child object.
type ChildRelationship struct {
	ChildSObject     string `json:"childSObject"`
	Field            string `json:"field"`
	RelationshipName string `json:"relationshipName,omitempty"`
}

// DescribeResult is an sObject describe.
type DescribeResult struct {
	Name               string              `json:"name"`
	Label              string              `json:"label"`
	KeyPrefix          string              `json:"keyPrefix,omitempty"`
	Custom             bool                `json:"custom"`
	Createable         bool                `json:"createable"`
	Updateable         bool                `json:"updateable"`
	Deletable          bool                `json:"deletable"`
	Queryable          bool                `json:"queryable"`
	Fields             []DescribeField     `json:"fields"`
	ChildRelationships []ChildRelationship `json:"childRelationships,omitempty"`
}

// GlobalObject is one entry of a describe-global response.
type GlobalObject struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	Custom    bool   `json:"custom"`
	Queryable bool   `json:"queryable"`
	KeyPrefix string `json:"keyPrefix,omitempty"`
}

// DescribeGlobalResult lists the objects available to the session user.
type DescribeGlobalResult struct {
	Encoding     string         `json:"encoding"`
	MaxBatchSize int            `json:"maxBatchSize"`
	SObjects     []GlobalObject `json:"sobjects"`
}

// ExecuteAnonymousResult is the outcome of an anonymous Apex execution.
type ExecuteAnonymousResult struct {
	Line                int    `json:"line"`
	Column              int    `json:"column"`
	Compiled            bool   `json:"compiled"`
	Success             bool   `json:"success"`
	CompileProblem      string `json:"compileProblem,omitempty"`
	ExceptionMessage    string `json:"exceptionMessage,omitempty"`
	ExceptionStackTrace string `json:"exceptionStackTrace,omitempty"`
}

// MetadataComponent is one declarative metadata component to write.
type MetadataComponent struct {
	FullName string
	Fields   map[string]any
}

// MetadataSaveResult is the per-component outcome of a metadata write.
type MetadataSaveResult struct {
	FullName string        `json:"fullName" xml:"fullName"`
	Success  bool          `json:"success" xml:"success"`
	Created  bool          `json:"created" xml:"created"`
	Errors   []RecordError `json:"errors,omitempty" xml:"errors"`
}
