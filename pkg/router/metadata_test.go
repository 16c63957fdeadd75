package router

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-salesforce/pkg/salesforce"
	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

const (
	testClassID   = "01p000000000010AAA"
	testRequestID = "1dr000000000001AAA"
	accountClass  = "public with sharing class AccountService {\n    public static Integer answer() { return 42; }\n}\n"
)

type toolingOrg struct {
	existing map[string]string
	states   []string
	polls    int
	failure  salesforce.Record
	created  []string
	fields   map[string]salesforce.Record
}

func (o *toolingOrg) toolingQuery(soql string) (*salesforce.QueryResult, error) {
	for name, id := range o.existing {
		if strings.Contains(soql, "'"+name+"'") {
			return &salesforce.QueryResult{Done: true, Records: []salesforce.Record{{"Id": id, "Name": name, "Body": accountClass}}}, nil
		}
	}
	return &salesforce.QueryResult{Done: true, Records: []salesforce.Record{}}, nil
}

func (o *toolingOrg) toolingCreate(object string, fields salesforce.Record) (*salesforce.SaveResult, error) {
	o.created = append(o.created, object)
	if o.fields == nil {
		o.fields = map[string]salesforce.Record{}
	}
	o.fields[object] = fields
	if object == "ContainerAsyncRequest" {
		return &salesforce.SaveResult{ID: testRequestID, Success: true}, nil
	}
	return &salesforce.SaveResult{ID: "1dc000000000001AAA", Success: true}, nil
}

func (o *toolingOrg) toolingRecord(object, id string) (salesforce.Record, error) {
	state := o.states[min(o.polls, len(o.states)-1)]
	o.polls++
	rec := salesforce.Record{"Id": id, "State": state}
	if state == "Failed" && o.failure != nil {
		rec["DeployDetails"] = o.failure
	}
	return rec, nil
}

func (o *toolingOrg) api() *fakeAPI {
	return &fakeAPI{toolingQuery: o.toolingQuery, toolingCreate: o.toolingCreate, toolingRecord: o.toolingRecord}
}

func TestRouter_Deploy_CheckOnlyDoesNotMutate(t *testing.T) {
	org := &toolingOrg{existing: map[string]string{"AccountService": testClassID}}
	api := org.api()
	r, _ := newTestRouter(api)

	res, err := r.Deploy(context.Background(), DeployRequest{Type: "ApexClass", FullName: "AccountService", Content: accountClass, CheckOnly: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.CheckOnly)
	assert.True(t, res.Exists)
	assert.Equal(t, ActionUpdate, res.Action)
	assert.Equal(t, testClassID, res.ID)
	assert.Empty(t, org.created)
	assert.Equal(t, 1, api.total())
}

func TestRouter_Deploy_LocalValidation(t *testing.T) {
	tests := []struct {
		name string
		req  DeployRequest
	}{
		{"missing type", DeployRequest{FullName: "A", Content: "x"}},
		{"no source", DeployRequest{Type: "ApexClass", FullName: "A"}},
		{"both sources", DeployRequest{Type: "ApexClass", FullName: "A", Content: "x", FilePath: "/tmp/A.cls"}},
		{"class name mismatch", DeployRequest{Type: "ApexClass", FullName: "Other", Content: accountClass, CheckOnly: true}},
		{"trigger without object", DeployRequest{Type: "ApexTrigger", FullName: "T", Content: "trigger T (before insert) {}"}},
		{"page markup", DeployRequest{Type: "ApexPage", FullName: "P", Content: "<html></html>"}},
		{"declarative without payload", DeployRequest{Type: "CustomField", FullName: "Account.X__c", Content: "x"}},
		{"declarative without name", DeployRequest{Type: "CustomField", Metadata: map[string]any{"label": "X"}}},
		{"missing file", DeployRequest{Type: "ApexClass", FilePath: "/nonexistent/AccountService.cls"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{}
			r, sessions := newTestRouter(api)

			_, err := r.Deploy(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, sferr.KindValidation, sferr.KindOf(err))
			assert.Equal(t, 0, sessions.calls)
			assert.Equal(t, 0, api.total())
		})
	}
}

func TestRouter_Deploy_NewClassIsCreatedDirectly(t *testing.T) {
	org := &toolingOrg{}
	r, _ := newTestRouter(org.api())

	dir := t.TempDir()
	path := filepath.Join(dir, "AccountService.cls")
	require.NoError(t, os.WriteFile(path, []byte(accountClass), 0o600))

	res, err := r.Deploy(context.Background(), DeployRequest{Type: "ApexClass", FilePath: path})
	require.NoError(t, err)
	assert.Equal(t, "AccountService", res.FullName)
	assert.Equal(t, ActionCreate, res.Action)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"ApexClass"}, org.created)
	assert.Equal(t, accountClass, org.fields["ApexClass"]["Body"])
}

func TestRouter_Deploy_NewTriggerCarriesObject(t *testing.T) {
	org := &toolingOrg{}
	r, _ := newTestRouter(org.api())

	body := "trigger AccountAudit on Account (after update) {\n}\n"
	_, err := r.Deploy(context.Background(), DeployRequest{Type: "ApexTrigger", FullName: "AccountAudit", Content: body})
	require.NoError(t, err)
	assert.Equal(t, "Account", org.fields["ApexTrigger"]["TableEnumOrId"])
}

func TestRouter_Deploy_ExistingClassUsesContainer(t *testing.T) {
	org := &toolingOrg{
		existing: map[string]string{"AccountService": testClassID},
		states:   []string{"Queued", "Completed"},
	}
	r, _ := newTestRouter(org.api())

	res, err := r.Deploy(context.Background(), DeployRequest{Type: "ApexClass", FullName: "AccountService", Content: accountClass})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, ActionUpdate, res.Action)
	assert.Equal(t, []string{"MetadataContainer", "ApexClassMember", "ContainerAsyncRequest"}, org.created)
	assert.Equal(t, testClassID, org.fields["ApexClassMember"]["ContentEntityId"])
	assert.Equal(t, false, org.fields["ContainerAsyncRequest"]["IsCheckOnly"])
	assert.LessOrEqual(t, len(org.fields["MetadataContainer"]["Name"].(string)), 32)
	require.NotNil(t, res.Job)
	assert.Equal(t, 2, res.Job.Attempts)
	assert.Equal(t, testRequestID, res.Job.JobID)
}

func TestRouter_Deploy_CompileFailureReturnsProblems(t *testing.T) {
	org := &toolingOrg{
		existing: map[string]string{"AccountService": testClassID},
		states:   []string{"Failed"},
		failure: salesforce.Record{"componentFailures": []any{
			map[string]any{"fullName": "AccountService", "problem": "Variable does not exist: x", "lineNumber": float64(2), "columnNumber": float64(5)},
		}},
	}
	r, _ := newTestRouter(org.api())

	res, err := r.Deploy(context.Background(), DeployRequest{Type: "ApexClass", FullName: "AccountService", Content: accountClass})
	var remote *sferr.RemoteOperationError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "Failed", remote.Code)
	assert.Equal(t, "Variable does not exist: x", remote.Message)

	require.NotNil(t, res)
	assert.False(t, res.Success)
	require.Len(t, res.Problems, 1)
	assert.Equal(t, 2, res.Problems[0].Line)
	assert.Equal(t, 5, res.Problems[0].Column)
}

func TestRouter_Deploy_DeclarativeFromYAML(t *testing.T) {
	var got []salesforce.MetadataComponent
	api := &fakeAPI{
		readMeta: func(string, []string) ([]salesforce.Record, error) { return []salesforce.Record{}, nil },
		upsertMeta: func(typ string, comps []salesforce.MetadataComponent) ([]salesforce.MetadataSaveResult, error) {
			assert.Equal(t, "CustomField", typ)
			got = comps
			return []salesforce.MetadataSaveResult{{FullName: comps[0].FullName, Success: true, Created: true}}, nil
		},
	}
	r, _ := newTestRouter(api)

	path := filepath.Join(t.TempDir(), "region.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fullName: Account.Region__c\nlabel: Region\ntype: Text\nlength: 80\n"), 0o600))

	res, err := r.Deploy(context.Background(), DeployRequest{Type: "CustomField", FilePath: path})
	require.NoError(t, err)
	assert.Equal(t, DeployPathMetadata, res.Path)
	assert.Equal(t, "Account.Region__c", res.FullName)
	assert.Equal(t, ActionCreate, res.Action)
	require.Len(t, got, 1)
	assert.Equal(t, "Account.Region__c", got[0].FullName)
	assert.Equal(t, "Region", got[0].Fields["label"])
	assert.NotContains(t, got[0].Fields, "fullName")
}

func TestRouter_Deploy_DeclarativeCheckOnly(t *testing.T) {
	api := &fakeAPI{
		readMeta: func(_ string, names []string) ([]salesforce.Record, error) {
			return []salesforce.Record{{"fullName": names[0]}}, nil
		},
	}
	r, _ := newTestRouter(api)
	payload := map[string]any{"label": "Region", "type": "Text"}

	res, err := r.Deploy(context.Background(), DeployRequest{Type: "CustomField", FullName: "Account.Region__c", Metadata: payload, CheckOnly: true})
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, ActionUpdate, res.Action)
	assert.Equal(t, 0, api.count("UpsertMetadata"))
	assert.Len(t, payload, 2)
}

func TestRouter_Deploy_DeclarativeRejected(t *testing.T) {
	api := &fakeAPI{
		readMeta: func(string, []string) ([]salesforce.Record, error) { return nil, nil },
		upsertMeta: func(string, []salesforce.MetadataComponent) ([]salesforce.MetadataSaveResult, error) {
			return []salesforce.MetadataSaveResult{{FullName: "Account.Region__c", Errors: []salesforce.RecordError{
				{StatusCode: "FIELD_INTEGRITY_EXCEPTION", Message: "Length must be set"},
			}}}, nil
		},
	}
	r, _ := newTestRouter(api)

	res, err := r.Deploy(context.Background(), DeployRequest{Type: "CustomField", FullName: "Account.Region__c", Metadata: map[string]any{"type": "Text"}})
	var remote *sferr.RemoteOperationError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "FIELD_INTEGRITY_EXCEPTION", remote.Code)
	require.NotNil(t, res)
	assert.Equal(t, "Length must be set", res.Problems[0].Problem)
}

func TestRouter_Retrieve_ExecutableToDisk(t *testing.T) {
	org := &toolingOrg{existing: map[string]string{"AccountService": testClassID}}
	r, _ := newTestRouter(org.api())
	dir := filepath.Join(t.TempDir(), "src")

	res, err := r.Retrieve(context.Background(), RetrieveRequest{Type: "ApexClass", FullNames: []string{"AccountService", "Missing"}, OutputDir: dir})
	require.NoError(t, err)
	require.Len(t, res.Components, 1)
	assert.Equal(t, []string{"Missing"}, res.Missing)

	c := res.Components[0]
	assert.Equal(t, filepath.Join(dir, "AccountService.cls"), c.File)
	data, err := os.ReadFile(c.File)
	require.NoError(t, err)
	assert.Equal(t, accountClass, string(data))
}

func TestRouter_Retrieve_DeclarativeToYAML(t *testing.T) {
	api := &fakeAPI{
		readMeta: func(_ string, names []string) ([]salesforce.Record, error) {
			return []salesforce.Record{{"fullName": "Account-Account Layout", "layoutSections": map[string]any{"label": "Information"}}}, nil
		},
	}
	r, _ := newTestRouter(api)
	dir := t.TempDir()

	res, err := r.Retrieve(context.Background(), RetrieveRequest{Type: "Layout", FullNames: []string{"Account-Account Layout"}, OutputDir: dir})
	require.NoError(t, err)
	assert.Empty(t, res.Missing)
	require.Len(t, res.Components, 1)

	data, err := os.ReadFile(filepath.Join(dir, "Account-Account Layout.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "fullName: Account-Account Layout")
	assert.Contains(t, string(data), "label: Information")
}

func TestRouter_Retrieve_Validation(t *testing.T) {
	api := &fakeAPI{}
	r, _ := newTestRouter(api)

	_, err := r.Retrieve(context.Background(), RetrieveRequest{Type: "ApexClass"})
	assert.Equal(t, sferr.KindValidation, sferr.KindOf(err))

	_, err = r.Retrieve(context.Background(), RetrieveRequest{Type: "ApexClass", FullNames: []string{"Bad Name"}})
	assert.Equal(t, sferr.KindValidation, sferr.KindOf(err))
	assert.Equal(t, 0, api.total())
}

func TestFileStem(t *testing.T) {
	assert.Equal(t, "Account-Account Layout", fileStem("Account-Account Layout"))
	assert.Equal(t, "reports_Q1", fileStem("reports/Q1"))
	assert.Equal(t, "_x", fileStem("../x"))
	assert.Equal(t, "component", fileStem(""))
}
