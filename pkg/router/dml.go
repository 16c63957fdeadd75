package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/txn2/mcp-salesforce/pkg/jobs"
	"github.com/txn2/mcp-salesforce/pkg/salesforce"
	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

// DMLOperation is a record mutation.
type DMLOperation string

// DML operations.
const (
	DMLCreate DMLOperation = "create"
	DMLUpdate DMLOperation = "update"
	DMLDelete DMLOperation = "delete"
	DMLUpsert DMLOperation = "upsert"
)

// DMLPath is the execution path a mutation was routed to.
type DMLPath string

// DML paths.
const (
	DMLPathSingle     DMLPath = "single"
	DMLPathCollection DMLPath = "collection"
	DMLPathBulk       DMLPath = "bulk"
)

// SelectDMLPath routes n records: one record goes to the single-record
// endpoint, more than threshold to a bulk job, the rest to collections.
func SelectDMLPath(n, threshold int) DMLPath {
	switch {
	case n > threshold:
		return DMLPathBulk
	case n == 1:
		return DMLPathSingle
	default:
		return DMLPathCollection
	}
}

// DMLRequest is a batch of record mutations against one object.
type DMLRequest struct {
	Operation       DMLOperation
	Object          string
	Records         []salesforce.Record
	ExternalIDField string
	// AllOrNone asks the remote side to roll back the whole batch when
	// any record fails. It applies to the collection path only.
	AllOrNone bool
	// StopOnFirstFailure turns the first per-record failure into the
	// operation's error. It controls reporting only: the collection and
	// bulk paths still submit every record, and records that succeeded
	// stay committed.
	StopOnFirstFailure bool
}

// RecordResult is the outcome of one record.
type RecordResult struct {
	// Index is the record's position in the request, or -1 when the
	// remote side does not preserve order.
	Index   int                      `json:"index"`
	ID      string                   `json:"id,omitempty"`
	Success bool                     `json:"success"`
	Created bool                     `json:"created,omitempty"`
	Errors  []salesforce.RecordError `json:"errors,omitempty"`
	Record  map[string]string        `json:"record,omitempty"`
}

// DMLResult is the outcome of a mutation batch.
type DMLResult struct {
	Operation   DMLOperation   `json:"operation"`
	Object      string         `json:"object"`
	Path        DMLPath        `json:"path"`
	Total       int            `json:"total"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	Unprocessed int            `json:"unprocessed,omitempty"`
	Results     []RecordResult `json:"results"`
	Job         *jobs.Outcome  `json:"job,omitempty"`
}

var recordIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{15}([A-Za-z0-9]{3})?$`)

// ValidRecordID reports whether id has the shape of a 15 or 18 character
// record id.
func ValidRecordID(id string) bool {
	return recordIDPattern.MatchString(id)
}

// RecordID returns the record's Id field, accepting either case.
func RecordID(rec salesforce.Record) string {
	if id, ok := rec["Id"].(string); ok {
		return id
	}
	id, _ := rec["id"].(string)
	return id
}

// ValidateDML runs the local pre-flight checks. No remote call is made.
func ValidateDML(req DMLRequest) error {
	switch req.Operation {
	case DMLCreate, DMLUpdate, DMLDelete, DMLUpsert:
	default:
		return sferr.NewValidationError("operation", "must be create, update, delete or upsert")
	}
	if err := validateAPIName("object", req.Object); err != nil {
		return err
	}
	if len(req.Records) == 0 {
		return sferr.NewValidationError("records", "at least one record is required")
	}
	if req.Operation == DMLUpsert {
		if err := validateAPIName("external_id_field", req.ExternalIDField); err != nil {
			return err
		}
	}

	for i, rec := range req.Records {
		if rec == nil {
			return &sferr.ValidationError{Index: i, Message: "record is empty"}
		}
		switch req.Operation {
		case DMLUpdate, DMLDelete:
			id := RecordID(rec)
			if id == "" {
				return &sferr.ValidationError{Field: "Id", Index: i, Message: "is required"}
			}
			if !ValidRecordID(id) {
				return &sferr.ValidationError{Field: "Id", Index: i, Message: "must be a 15 or 18 character record id"}
			}
		case DMLUpsert:
			if externalIDValue(rec, req.ExternalIDField) == "" {
				return &sferr.ValidationError{Field: req.ExternalIDField, Index: i, Message: "external id value is required"}
			}
		case DMLCreate:
			if len(rec) == 0 {
				return &sferr.ValidationError{Index: i, Message: "record has no fields"}
			}
		}
	}
	return nil
}

func externalIDValue(rec salesforce.Record, fieldName string) string {
	switch v := rec[fieldName].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Mutate validates the batch, routes it by size and collects per-record
// outcomes.
func (r *Router) Mutate(ctx context.Context, req DMLRequest) (*DMLResult, error) {
	if err := ValidateDML(req); err != nil {
		return nil, err
	}

	sess, err := r.session(ctx)
	if err != nil {
		return nil, err
	}

	res := &DMLResult{
		Operation: req.Operation,
		Object:    req.Object,
		Path:      SelectDMLPath(len(req.Records), r.cfg.DMLBulkThreshold),
		Total:     len(req.Records),
	}
	slog.Debug("routing mutation", "operation", req.Operation, "object", req.Object, "records", res.Total, "path", res.Path)

	switch res.Path {
	case DMLPathSingle:
		err = r.mutateSingle(ctx, sess.API, req, res)
	case DMLPathCollection:
		err = r.mutateCollection(ctx, sess.API, req, res)
	default:
		err = r.mutateBulk(ctx, sess.API, req, res)
	}
	if err != nil {
		return nil, err
	}

	res.tally()
	if req.StopOnFirstFailure {
		if ferr := res.firstFailure(); ferr != nil {
			return nil, ferr
		}
	}
	return res, nil
}

func (r *Router) mutateSingle(ctx context.Context, api salesforce.API, req DMLRequest, res *DMLResult) error {
	rec := req.Records[0]
	out := RecordResult{Index: 0}

	var err error
	switch req.Operation {
	case DMLCreate:
		var sr *salesforce.SaveResult
		if sr, err = api.CreateRecord(ctx, req.Object, rec); err == nil {
			out.ID, out.Success, out.Created, out.Errors = sr.ID, sr.Success, true, sr.Errors
		}
	case DMLUpdate:
		id := RecordID(rec)
		body := maps.Clone(rec)
		delete(body, "Id")
		delete(body, "id")
		if err = api.UpdateRecord(ctx, req.Object, id, body); err == nil {
			out.ID, out.Success = id, true
		}
	case DMLDelete:
		id := RecordID(rec)
		if err = api.DeleteRecord(ctx, req.Object, id); err == nil {
			out.ID, out.Success = id, true
		}
	case DMLUpsert:
		var sr *salesforce.SaveResult
		extID := externalIDValue(rec, req.ExternalIDField)
		if sr, err = api.UpsertRecord(ctx, req.Object, req.ExternalIDField, extID, rec); err == nil {
			out.ID, out.Success, out.Created, out.Errors = sr.ID, sr.Success, sr.Created, sr.Errors
		}
	}

	if err != nil {
		recErr, ok := recordFailure(err)
		if !ok {
			return err
		}
		out.Success = false
		out.Errors = []salesforce.RecordError{recErr}
	}
	res.Results = []RecordResult{out}
	return nil
}

// recordFailure turns a remote rejection of one record into a collected
// failure. Session and transport errors are not record failures.
func recordFailure(err error) (salesforce.RecordError, bool) {
	var remote *sferr.RemoteOperationError
	if !errors.As(err, &remote) || salesforce.IsStaleToken(err) {
		return salesforce.RecordError{}, false
	}
	if remote.StatusCode >= 500 || remote.StatusCode == 429 {
		return salesforce.RecordError{}, false
	}
	return salesforce.RecordError{StatusCode: remote.Code, Message: remote.Message, Fields: remote.Fields}, true
}

func (r *Router) mutateCollection(ctx context.Context, api salesforce.API, req DMLRequest, res *DMLResult) error {
	var (
		saved []salesforce.SaveResult
		err   error
	)
	switch req.Operation {
	case DMLCreate:
		saved, err = api.CreateCollection(ctx, req.Object, req.Records, req.AllOrNone)
	case DMLUpdate:
		saved, err = api.UpdateCollection(ctx, req.Object, req.Records, req.AllOrNone)
	case DMLDelete:
		ids := make([]string, len(req.Records))
		for i, rec := range req.Records {
			ids[i] = RecordID(rec)
		}
		saved, err = api.DeleteCollection(ctx, ids, req.AllOrNone)
	case DMLUpsert:
		saved, err = api.UpsertCollection(ctx, req.Object, req.ExternalIDField, req.Records, req.AllOrNone)
	}
	if err != nil {
		return err //nolint:wrapcheck // remote errors are reported verbatim
	}

	res.Results = make([]RecordResult, len(saved))
	for i, sr := range saved {
		res.Results[i] = RecordResult{
			Index:   i,
			ID:      sr.ID,
			Success: sr.Success,
			Created: sr.Created || (req.Operation == DMLCreate && sr.Success),
			Errors:  sr.Errors,
		}
	}
	return nil
}

var ingestOperations = map[DMLOperation]salesforce.IngestOperation{
	DMLCreate: salesforce.IngestInsert,
	DMLUpdate: salesforce.IngestUpdate,
	DMLDelete: salesforce.IngestDelete,
	DMLUpsert: salesforce.IngestUpsert,
}

func (r *Router) mutateBulk(ctx context.Context, api salesforce.API, req DMLRequest, res *DMLResult) error {
	records := req.Records
	if req.Operation == DMLDelete {
		records = make([]salesforce.Record, len(req.Records))
		for i, rec := range req.Records {
			records[i] = salesforce.Record{"Id": RecordID(rec)}
		}
	}
	data, err := salesforce.EncodeCSV(records)
	if err != nil {
		return sferr.NewValidationError("records", err.Error())
	}

	jobReq := salesforce.IngestJobRequest{Object: req.Object, Operation: ingestOperations[req.Operation]}
	if req.Operation == DMLUpsert {
		jobReq.ExternalIDFieldName = req.ExternalIDField
	}
	job, err := api.CreateIngestJob(ctx, jobReq)
	if err != nil {
		return err //nolint:wrapcheck // remote errors are reported verbatim
	}
	submitted := r.now()
	if err := api.UploadIngestData(ctx, job.ID, data); err != nil {
		return err //nolint:wrapcheck // remote errors are reported verbatim
	}
	if _, err := api.CloseIngestJob(ctx, job.ID); err != nil {
		return err //nolint:wrapcheck // remote errors are reported verbatim
	}
	slog.Info("bulk job submitted", "job_id", job.ID, "object", req.Object, "operation", jobReq.Operation, "records", len(records))

	total := len(records)
	outcome, err := r.poller.Await(ctx, jobs.Handle{ID: job.ID, SubmittedAt: submitted}, func(ctx context.Context) (*jobs.Status, error) {
		st, err := api.IngestJobStatus(ctx, job.ID)
		if err != nil {
			return nil, err //nolint:wrapcheck // remote errors are reported verbatim
		}
		return &jobs.Status{State: st.State, Processed: st.NumberRecordsProcessed, Total: total, Message: st.ErrorMessage}, nil
	})
	if err != nil {
		return err //nolint:wrapcheck // poll errors already name the job
	}
	res.Job = outcome
	if !outcome.Succeeded() {
		msg := outcome.Message
		if msg == "" {
			msg = "bulk job ended in state " + outcome.RemoteState
		}
		return &sferr.RemoteOperationError{Operation: "bulk_" + string(jobReq.Operation), Code: outcome.RemoteState, Message: msg}
	}

	results, err := fetchIngestResults(ctx, api, job.ID)
	if err != nil {
		return err
	}
	res.Results = results
	return nil
}

// fetchIngestResults downloads the three result sets of a finished job in
// parallel. The remote side does not preserve input order.
func fetchIngestResults(ctx context.Context, api salesforce.API, jobID string) ([]RecordResult, error) {
	kinds := []salesforce.IngestResultKind{salesforce.IngestSuccessful, salesforce.IngestFailed, salesforce.IngestUnprocessed}
	rows := make([][]map[string]string, len(kinds))

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			got, err := api.IngestJobResults(gctx, jobID, kind)
			if err != nil {
				return fmt.Errorf("fetch %s for job %s: %w", kind, jobID, err)
			}
			rows[i] = got
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err //nolint:wrapcheck // already wrapped above
	}

	var results []RecordResult
	for _, row := range rows[0] {
		results = append(results, RecordResult{
			Index:   -1,
			ID:      row["sf__Id"],
			Success: true,
			Created: strings.EqualFold(row["sf__Created"], "true"),
			Record:  userColumns(row),
		})
	}
	for _, row := range rows[1] {
		results = append(results, RecordResult{
			Index:  -1,
			ID:     row["sf__Id"],
			Errors: []salesforce.RecordError{parseBulkError(row["sf__Error"])},
			Record: userColumns(row),
		})
	}
	for _, row := range rows[2] {
		results = append(results, RecordResult{
			Index:  -1,
			ID:     row["Id"],
			Errors: []salesforce.RecordError{{StatusCode: "UNPROCESSED", Message: "record was not processed"}},
			Record: userColumns(row),
		})
	}
	return results, nil
}

func userColumns(row map[string]string) map[string]string {
	out := make(map[string]string, len(row))
	for k, v := range row {
		if !strings.HasPrefix(k, "sf__") {
			out[k] = v
		}
	}
	return out
}

// parseBulkError splits "CODE:message:fields" as reported in the failed
// results CSV.
func parseBulkError(s string) salesforce.RecordError {
	code, rest, ok := strings.Cut(s, ":")
	if !ok || code == "" || strings.ContainsAny(code, " \t") {
		return salesforce.RecordError{StatusCode: "UNKNOWN_ERROR", Message: s}
	}
	msg := rest
	var fieldNames []string
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		msg = rest[:i]
		for _, f := range strings.Split(strings.TrimSuffix(strings.TrimSpace(rest[i+1:]), "--"), ",") {
			if f = strings.TrimSpace(f); f != "" {
				fieldNames = append(fieldNames, f)
			}
		}
	}
	return salesforce.RecordError{StatusCode: code, Message: strings.TrimSpace(msg), Fields: fieldNames}
}

func (res *DMLResult) tally() {
	if res.Results == nil {
		res.Results = []RecordResult{}
	}
	res.Succeeded, res.Failed, res.Unprocessed = 0, 0, 0
	for _, rr := range res.Results {
		switch {
		case rr.Success:
			res.Succeeded++
		case len(rr.Errors) == 1 && rr.Errors[0].StatusCode == "UNPROCESSED":
			res.Unprocessed++
		default:
			res.Failed++
		}
	}
}

func (res *DMLResult) firstFailure() error {
	for _, rr := range res.Results {
		if rr.Success {
			continue
		}
		ferr := &sferr.RemoteOperationError{Operation: string(res.Operation), Message: "record failed"}
		if len(rr.Errors) > 0 {
			ferr.Code, ferr.Message, ferr.Fields = rr.Errors[0].StatusCode, rr.Errors[0].Message, rr.Errors[0].Fields
		}
		if rr.Index >= 0 {
			ferr.Message = fmt.Sprintf("record %d: %s", rr.Index, ferr.Message)
		}
		return ferr
	}
	return nil
}
