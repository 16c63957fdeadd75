package salesforce

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
)

// NullValue is the Bulk API 2.0 marker that sets a field to null.
const NullValue = "#N/A"

// CreateIngestJob implements API.
func (c *Connection) CreateIngestJob(ctx context.Context, req IngestJobRequest) (*IngestJob, error) {
	if req.ContentType == "" {
		req.ContentType = "CSV"
	}
	if req.LineEnding == "" {
		req.LineEnding = "LF"
	}
	var out IngestJob
	if _, err := c.sendJSON(ctx, "bulk_create_job", http.MethodPost, c.dataPath("jobs", "ingest"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadIngestData implements API.
func (c *Connection) UploadIngestData(ctx context.Context, jobID string, csvData []byte) error {
	_, err := c.do(ctx, &request{
		op:          "bulk_upload",
		method:      http.MethodPut,
		path:        c.dataPath("jobs", "ingest", jobID, "batches"),
		body:        csvData,
		contentType: "text/csv",
	})
	return err
}

// CloseIngestJob implements API. The job is queued for processing.
func (c *Connection) CloseIngestJob(ctx context.Context, jobID string) (*IngestJob, error) {
	var out IngestJob
	body := map[string]string{"state": IngestStateUploadComplete}
	if _, err := c.sendJSON(ctx, "bulk_close_job", http.MethodPatch, c.dataPath("jobs", "ingest", jobID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IngestJobStatus implements API.
func (c *Connection) IngestJobStatus(ctx context.Context, jobID string) (*IngestJob, error) {
	var out IngestJob
	if err := c.getJSON(ctx, "bulk_job_status", c.dataPath("jobs", "ingest", jobID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IngestJobResults implements API.
func (c *Connection) IngestJobResults(ctx context.Context, jobID string, kind IngestResultKind) ([]map[string]string, error) {
	resp, err := c.do(ctx, &request{
		op:     "bulk_results",
		method: http.MethodGet,
		path:   c.dataPath("jobs", "ingest", jobID, string(kind)) + "/",
		accept: "text/csv",
	})
	if err != nil {
		return nil, err
	}
	return DecodeCSV(resp.body)
}

// EncodeCSV renders records as ingest CSV. The header is the sorted union of
// all keys; nested objects become dotted relationship columns. A nil value
// is sent as NullValue, a missing key as an empty cell.
func EncodeCSV(records []Record) ([]byte, error) {
	flat := make([]map[string]string, 0, len(records))
	columns := make(map[string]struct{})
	for _, r := range records {
		row := make(map[string]string)
		flatten("", stripAttributes(r), row)
		for k := range row {
			columns[k] = struct{}{}
		}
		flat = append(flat, row)
	}

	header := make([]string, 0, len(columns))
	for k := range columns {
		header = append(header, k)
	}
	sort.Strings(header)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}
	line := make([]string, len(header))
	for _, row := range flat {
		for i, col := range header {
			line[i] = row[col]
		}
		if err := w.Write(line); err != nil {
			return nil, fmt.Errorf("encode csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}
	return buf.Bytes(), nil
}

func flatten(prefix string, r map[string]any, out map[string]string) {
	for k, v := range r {
		if k == "attributes" {
			continue
		}
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = csvValue(v)
	}
}

func csvValue(v any) string {
	switch t := v.(type) {
	case nil:
		return NullValue
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// DecodeCSV parses a result CSV into one map per row keyed by header.
func DecodeCSV(data []byte) ([]map[string]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return []map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode csv: %w", err)
	}

	var rows []map[string]string
	for {
		line, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode csv: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(line) {
				row[col] = line[i]
			}
		}
		rows = append(rows, row)
	}
	if rows == nil {
		rows = []map[string]string{}
	}
	return rows, nil
}
