package salesforce

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCSV(t *testing.T) {
	data, err := EncodeCSV([]Record{
		{"Name": "Acme, Inc.", "NumberOfEmployees": float64(12), "attributes": map[string]any{"type": "Account"}},
		{"Name": "Globex", "Active__c": true, "Parent": map[string]any{"Ext__c": "P-1"}},
		{"Name": "Initech", "Description": nil},
	})
	require.NoError(t, err)

	want := "Active__c,Description,Name,NumberOfEmployees,Parent.Ext__c\n" +
		",,\"Acme, Inc.\",12,\n" +
		"true,,Globex,,P-1\n" +
		",#N/A,Initech,,\n"
	assert.Equal(t, want, string(data))
}

func TestEncodeCSV_KeepsExactNumbers(t *testing.T) {
	data, err := EncodeCSV([]Record{{"Legacy_Id__c": json.Number("12345678901234567890")}})
	require.NoError(t, err)
	assert.Equal(t, "Legacy_Id__c\n12345678901234567890\n", string(data))
}

func TestDecodeCSV(t *testing.T) {
	rows, err := DecodeCSV([]byte("\"sf__Id\",\"sf__Created\",Name\n001A,true,Acme\n001B,false,\"Globex, Ltd\"\n"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "001A", rows[0]["sf__Id"])
	assert.Equal(t, "Globex, Ltd", rows[1]["Name"])

	rows, err = DecodeCSV(nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestConnection_IngestJobLifecycle(t *testing.T) {
	var uploaded string
	conn, _ := newTestConnection(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == testDataPrefix+"jobs/ingest":
			var req IngestJobRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, IngestUpsert, req.Operation)
			assert.Equal(t, "Ext__c", req.ExternalIDFieldName)
			assert.Equal(t, "CSV", req.ContentType)
			writeJSON(t, w, http.StatusOK, IngestJob{ID: "750J", State: IngestStateOpen})
		case r.Method == http.MethodPut && r.URL.Path == testDataPrefix+"jobs/ingest/750J/batches":
			assert.Equal(t, "text/csv", r.Header.Get("Content-Type"))
			b, _ := io.ReadAll(r.Body)
			uploaded = string(b)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPatch && r.URL.Path == testDataPrefix+"jobs/ingest/750J":
			writeJSON(t, w, http.StatusOK, IngestJob{ID: "750J", State: IngestStateUploadComplete})
		case r.Method == http.MethodGet && r.URL.Path == testDataPrefix+"jobs/ingest/750J":
			writeJSON(t, w, http.StatusOK, IngestJob{ID: "750J", State: IngestStateJobComplete, NumberRecordsProcessed: 1})
		case r.Method == http.MethodGet && r.URL.Path == testDataPrefix+"jobs/ingest/750J/successfulResults/":
			assert.Equal(t, "text/csv", r.Header.Get("Accept"))
			_, _ = io.WriteString(w, "sf__Id,sf__Created,Ext__c\n001A,true,E1\n")
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	ctx := context.Background()
	job, err := conn.CreateIngestJob(ctx, IngestJobRequest{Object: "Account", Operation: IngestUpsert, ExternalIDFieldName: "Ext__c"})
	require.NoError(t, err)
	require.NoError(t, conn.UploadIngestData(ctx, job.ID, []byte("Ext__c\nE1\n")))
	assert.Equal(t, "Ext__c\nE1\n", uploaded)

	closed, err := conn.CloseIngestJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, IngestStateUploadComplete, closed.State)

	status, err := conn.IngestJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, IngestStateJobComplete, status.State)

	rows, err := conn.IngestJobResults(ctx, job.ID, IngestSuccessful)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "true", rows[0]["sf__Created"])
}
