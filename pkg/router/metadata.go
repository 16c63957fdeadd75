package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/txn2/mcp-salesforce/pkg/jobs"
	"github.com/txn2/mcp-salesforce/pkg/salesforce"
	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

// DeployPath is the API a component was deployed through.
type DeployPath string

// Deploy paths.
const (
	DeployPathTooling  DeployPath = "tooling"
	DeployPathMetadata DeployPath = "metadata"
)

// Deploy actions.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

type executableType struct {
	sourceField string
	extension   string
}

// executableTypes are compiled on the server and deployed through the
// tooling container flow.
var executableTypes = map[string]executableType{
	"ApexClass":     {sourceField: "Body", extension: ".cls"},
	"ApexTrigger":   {sourceField: "Body", extension: ".trigger"},
	"ApexPage":      {sourceField: "Markup", extension: ".page"},
	"ApexComponent": {sourceField: "Markup", extension: ".component"},
}

// IsExecutableType reports whether metadataType is deployed as source code.
func IsExecutableType(metadataType string) bool {
	_, ok := executableTypes[metadataType]
	return ok
}

// DeployRequest is one metadata component. Source comes from FilePath or
// from Content (code) or Metadata (declarative fields), never both.
type DeployRequest struct {
	Type      string
	FullName  string
	FilePath  string
	Content   string
	Metadata  map[string]any
	CheckOnly bool
}

// DeployProblem is a compile or save problem reported for a component.
type DeployProblem struct {
	Component string `json:"component,omitempty"`
	Problem   string `json:"problem"`
	Line      int    `json:"line,omitempty"`
	Column    int    `json:"column,omitempty"`
}

// DeployResult is the outcome of a deployment.
type DeployResult struct {
	Type      string          `json:"type"`
	FullName  string          `json:"full_name"`
	Path      DeployPath      `json:"path"`
	CheckOnly bool            `json:"check_only,omitempty"`
	Exists    bool            `json:"exists"`
	Action    string          `json:"action"`
	Success   bool            `json:"success"`
	ID        string          `json:"id,omitempty"`
	Job       *jobs.Outcome   `json:"job,omitempty"`
	Problems  []DeployProblem `json:"problems,omitempty"`
}

type deploySource struct {
	fullName string
	code     string
	fields   map[string]any
}

// prepareDeploy resolves the component source and runs local validation.
// It never contacts the remote side.
func prepareDeploy(req DeployRequest) (*deploySource, error) {
	if err := validateAPIName("type", req.Type); err != nil {
		return nil, err
	}
	hasInline := req.Content != "" || len(req.Metadata) > 0
	if req.FilePath != "" && hasInline {
		return nil, sferr.NewValidationError("file_path", "cannot be combined with content or metadata")
	}
	if req.FilePath == "" && !hasInline {
		return nil, sferr.NewValidationError("content", "file_path, content or metadata is required")
	}

	src := &deploySource{fullName: strings.TrimSpace(req.FullName), code: req.Content, fields: maps.Clone(req.Metadata)}
	if req.FilePath != "" {
		if err := src.load(req.Type, req.FilePath); err != nil {
			return nil, err
		}
	}

	if IsExecutableType(req.Type) {
		if strings.TrimSpace(src.code) == "" {
			return nil, sferr.NewValidationError("content", req.Type+" requires source code")
		}
		if err := validateAPIName("full_name", src.fullName); err != nil {
			return nil, err
		}
		if err := checkSource(req.Type, src.fullName, src.code); err != nil {
			return nil, err
		}
		return src, nil
	}

	if len(src.fields) == 0 {
		return nil, sferr.NewValidationError("metadata", req.Type+" requires a metadata payload")
	}
	if src.fullName == "" {
		src.fullName, _ = src.fields["fullName"].(string)
	}
	if src.fullName == "" {
		return nil, sferr.NewValidationError("full_name", "is required")
	}
	delete(src.fields, "fullName")
	return src, nil
}

func (s *deploySource) load(metadataType, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is supplied by the operator
	if err != nil {
		return sferr.NewValidationError("file_path", err.Error())
	}
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	if IsExecutableType(metadataType) {
		s.code = string(data)
		if s.fullName == "" {
			s.fullName = stem
		}
		return nil
	}

	fields := map[string]any{}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".json":
		err = json.Unmarshal(data, &fields)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fields)
	default:
		return sferr.NewValidationError("file_path", "declarative payloads must be .json, .yaml or .yml")
	}
	if err != nil {
		return sferr.NewValidationError("file_path", "parse "+base+": "+err.Error())
	}
	s.fields = fields
	return nil
}

var (
	pageMarkup      = regexp.MustCompile(`(?is)^\s*(<\?xml[^>]*>\s*)?<apex:page\b`)
	componentMarkup = regexp.MustCompile(`(?is)^\s*(<\?xml[^>]*>\s*)?<apex:component\b`)
)

func classDeclaration(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(class|interface|enum)\s+` + regexp.QuoteMeta(name) + `\b`)
}

func triggerDeclaration(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\btrigger\s+` + regexp.QuoteMeta(name) + `\s+on\s+([A-Za-z][A-Za-z0-9_]*)`)
}

func checkSource(metadataType, name, code string) error {
	switch metadataType {
	case "ApexClass":
		if !classDeclaration(name).MatchString(code) {
			return sferr.NewValidationError("content", "no class, interface or enum named "+name)
		}
	case "ApexTrigger":
		if !triggerDeclaration(name).MatchString(code) {
			return sferr.NewValidationError("content", "no trigger named "+name)
		}
	case "ApexPage":
		if !pageMarkup.MatchString(code) {
			return sferr.NewValidationError("content", "markup must start with <apex:page>")
		}
	case "ApexComponent":
		if !componentMarkup.MatchString(code) {
			return sferr.NewValidationError("content", "markup must start with <apex:component>")
		}
	}
	return nil
}

// Deploy validates and deploys one component. A component the remote side
// rejects is returned with its problems together with a
// *sferr.RemoteOperationError.
func (r *Router) Deploy(ctx context.Context, req DeployRequest) (*DeployResult, error) {
	src, err := prepareDeploy(req)
	if err != nil {
		return nil, err
	}

	sess, err := r.session(ctx)
	if err != nil {
		return nil, err
	}
	api := sess.API

	res := &DeployResult{Type: req.Type, FullName: src.fullName, CheckOnly: req.CheckOnly}
	if IsExecutableType(req.Type) {
		res.Path = DeployPathTooling
		id, err := lookupExecutable(ctx, api, req.Type, src.fullName)
		if err != nil {
			return nil, err
		}
		res.Exists, res.ID = id != "", id
		res.Action = actionFor(res.Exists)
		if req.CheckOnly {
			res.Success = true
			return res, nil
		}
		if !res.Exists {
			return r.createExecutable(ctx, api, req.Type, src, res)
		}
		return r.deployContainer(ctx, api, req.Type, src, res)
	}

	res.Path = DeployPathMetadata
	existing, err := api.ReadMetadata(ctx, req.Type, []string{src.fullName})
	if err != nil {
		return nil, err //nolint:wrapcheck // remote errors are reported verbatim
	}
	res.Exists = len(existing) > 0
	res.Action = actionFor(res.Exists)
	if req.CheckOnly {
		res.Success = true
		return res, nil
	}
	return r.upsertDeclarative(ctx, api, req.Type, src, res)
}

func actionFor(exists bool) string {
	if exists {
		return ActionUpdate
	}
	return ActionCreate
}

func lookupExecutable(ctx context.Context, api salesforce.API, metadataType, name string) (string, error) {
	found, err := api.ToolingQuery(ctx, fmt.Sprintf("SELECT Id FROM %s WHERE Name = %s", metadataType, quote(name)))
	if err != nil {
		return "", err //nolint:wrapcheck // remote errors are reported verbatim
	}
	if len(found.Records) == 0 {
		return "", nil
	}
	return stringField(found.Records[0], "Id"), nil
}

func (r *Router) createExecutable(ctx context.Context, api salesforce.API, metadataType string, src *deploySource, res *DeployResult) (*DeployResult, error) {
	fields := salesforce.Record{executableTypes[metadataType].sourceField: src.code}
	switch metadataType {
	case "ApexTrigger":
		m := triggerDeclaration(src.fullName).FindStringSubmatch(src.code)
		fields["TableEnumOrId"] = m[1]
	case "ApexPage", "ApexComponent":
		fields["Name"] = src.fullName
		fields["MasterLabel"] = src.fullName
	}

	saved, err := api.ToolingCreate(ctx, metadataType, fields)
	if err != nil {
		if failure, ok := recordFailure(err); ok {
			res.Problems = []DeployProblem{{Component: src.fullName, Problem: failure.Message}}
			return res, err
		}
		return nil, err //nolint:wrapcheck // remote errors are reported verbatim
	}
	res.ID, res.Success = saved.ID, true
	slog.Info("created component", "type", metadataType, "name", src.fullName, "id", saved.ID)
	return res, nil
}

func containerName() string {
	return "mcp_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// deployContainer updates an existing component through a metadata
// container and awaits the compile request.
func (r *Router) deployContainer(ctx context.Context, api salesforce.API, metadataType string, src *deploySource, res *DeployResult) (*DeployResult, error) {
	container, err := api.ToolingCreate(ctx, "MetadataContainer", salesforce.Record{"Name": containerName()})
	if err != nil {
		return nil, fmt.Errorf("create metadata container: %w", err)
	}
	if _, err := api.ToolingCreate(ctx, metadataType+"Member", salesforce.Record{
		"MetadataContainerId": container.ID,
		"ContentEntityId":     res.ID,
		"Body":                src.code,
	}); err != nil {
		return nil, fmt.Errorf("add %s to container: %w", metadataType, err)
	}
	request, err := api.ToolingCreate(ctx, "ContainerAsyncRequest", salesforce.Record{
		"MetadataContainerId": container.ID,
		"IsCheckOnly":         false,
	})
	if err != nil {
		return nil, fmt.Errorf("submit container request: %w", err)
	}
	submitted := r.now()
	slog.Info("deploy submitted", "job_id", request.ID, "type", metadataType, "name", src.fullName)

	var last salesforce.Record
	outcome, err := r.poller.Await(ctx, jobs.Handle{ID: request.ID, SubmittedAt: submitted}, func(ctx context.Context) (*jobs.Status, error) {
		rec, err := api.ToolingRecord(ctx, "ContainerAsyncRequest", request.ID)
		if err != nil {
			return nil, err //nolint:wrapcheck // remote errors are reported verbatim
		}
		last = rec
		return &jobs.Status{State: stringField(rec, "State"), Message: stringField(rec, "ErrorMsg")}, nil
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // poll errors already name the job
	}
	res.Job = outcome
	if outcome.Succeeded() {
		res.Success = true
		return res, nil
	}

	res.Problems = containerProblems(last, src.fullName)
	rerr := &sferr.RemoteOperationError{Operation: "deploy_metadata", Code: outcome.RemoteState, Message: outcome.Message}
	if len(res.Problems) > 0 {
		rerr.Message = res.Problems[0].Problem
	}
	if rerr.Message == "" {
		rerr.Message = "deployment ended in state " + outcome.RemoteState
	}
	return res, rerr
}

func containerProblems(rec salesforce.Record, fullName string) []DeployProblem {
	failures, _ := field(rec, "DeployDetails.componentFailures").([]any)
	problems := make([]DeployProblem, 0, len(failures))
	for _, f := range failures {
		m, ok := f.(map[string]any)
		if !ok {
			continue
		}
		p := DeployProblem{
			Component: stringField(m, "fullName"),
			Problem:   stringField(m, "problem"),
			Line:      intField(m, "lineNumber"),
			Column:    intField(m, "columnNumber"),
		}
		if p.Component == "" {
			p.Component = fullName
		}
		problems = append(problems, p)
	}
	if len(problems) == 0 {
		if msg := stringField(rec, "ErrorMsg"); msg != "" {
			problems = append(problems, DeployProblem{Component: fullName, Problem: msg})
		}
	}
	return problems
}

func (r *Router) upsertDeclarative(ctx context.Context, api salesforce.API, metadataType string, src *deploySource, res *DeployResult) (*DeployResult, error) {
	results, err := api.UpsertMetadata(ctx, metadataType, []salesforce.MetadataComponent{{FullName: src.fullName, Fields: src.fields}})
	if err != nil {
		return nil, err //nolint:wrapcheck // remote errors are reported verbatim
	}
	if len(results) == 0 {
		return nil, &sferr.RemoteOperationError{Operation: "deploy_metadata", Message: "no result returned for " + src.fullName}
	}

	saved := results[0]
	if saved.Success {
		res.Success = true
		if saved.Created {
			res.Action = ActionCreate
		}
		return res, nil
	}

	rerr := &sferr.RemoteOperationError{Operation: "deploy_metadata", Message: "component rejected"}
	for i, e := range saved.Errors {
		res.Problems = append(res.Problems, DeployProblem{Component: src.fullName, Problem: e.Message})
		if i == 0 {
			rerr.Code, rerr.Message, rerr.Fields = e.StatusCode, e.Message, e.Fields
		}
	}
	return res, rerr
}

// RetrieveRequest names components of one type to fetch.
type RetrieveRequest struct {
	Type      string
	FullNames []string
	// OutputDir, when set, receives one file per retrieved component.
	OutputDir string
}

// RetrievedComponent is one fetched component.
type RetrievedComponent struct {
	FullName string            `json:"full_name"`
	ID       string            `json:"id,omitempty"`
	Content  string            `json:"content,omitempty"`
	Metadata salesforce.Record `json:"metadata,omitempty"`
	File     string            `json:"file,omitempty"`
}

// RetrieveResult is the outcome of a retrieval.
type RetrieveResult struct {
	Type       string               `json:"type"`
	Path       DeployPath           `json:"path"`
	Components []RetrievedComponent `json:"components"`
	Missing    []string             `json:"missing,omitempty"`
}

// Retrieve fetches components by name, optionally writing each to disk.
func (r *Router) Retrieve(ctx context.Context, req RetrieveRequest) (*RetrieveResult, error) {
	if err := validateAPIName("type", req.Type); err != nil {
		return nil, err
	}
	if len(req.FullNames) == 0 {
		return nil, sferr.NewValidationError("full_names", "at least one name is required")
	}
	exec, executable := executableTypes[req.Type]
	for _, name := range req.FullNames {
		if strings.TrimSpace(name) == "" {
			return nil, sferr.NewValidationError("full_names", "names must not be empty")
		}
		if executable {
			if err := validateAPIName("full_names", name); err != nil {
				return nil, err
			}
		}
	}

	sess, err := r.session(ctx)
	if err != nil {
		return nil, err
	}

	res := &RetrieveResult{Type: req.Type, Components: []RetrievedComponent{}}
	if executable {
		res.Path = DeployPathTooling
		found, err := sess.API.ToolingQuery(ctx, fmt.Sprintf("SELECT Id, Name, %s FROM %s WHERE Name IN %s",
			exec.sourceField, req.Type, quoteList(req.FullNames)))
		if err != nil {
			return nil, err //nolint:wrapcheck // remote errors are reported verbatim
		}
		for _, rec := range found.Records {
			res.Components = append(res.Components, RetrievedComponent{
				FullName: stringField(rec, "Name"),
				ID:       stringField(rec, "Id"),
				Content:  stringField(rec, exec.sourceField),
			})
		}
	} else {
		res.Path = DeployPathMetadata
		found, err := sess.API.ReadMetadata(ctx, req.Type, req.FullNames)
		if err != nil {
			return nil, err //nolint:wrapcheck // remote errors are reported verbatim
		}
		for _, rec := range found {
			res.Components = append(res.Components, RetrievedComponent{FullName: stringField(rec, "fullName"), Metadata: rec})
		}
	}

	got := make(map[string]bool, len(res.Components))
	for _, c := range res.Components {
		got[strings.ToLower(c.FullName)] = true
	}
	for _, name := range req.FullNames {
		if !got[strings.ToLower(name)] {
			res.Missing = append(res.Missing, name)
		}
	}

	if req.OutputDir != "" {
		if err := writeComponents(req.OutputDir, exec.extension, res.Components); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func writeComponents(dir, extension string, components []RetrievedComponent) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for i := range components {
		c := &components[i]
		stem := fileStem(c.FullName)

		var (
			data []byte
			name string
		)
		if c.Metadata != nil {
			out, err := yaml.Marshal(c.Metadata)
			if err != nil {
				return fmt.Errorf("encode %s: %w", c.FullName, err)
			}
			data, name = out, stem+".yaml"
		} else {
			data, name = []byte(c.Content), stem+extension
		}

		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		c.File = path
	}
	return nil
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._ -]`)

func fileStem(fullName string) string {
	stem := unsafeFileChars.ReplaceAllString(fullName, "_")
	stem = strings.TrimLeft(stem, ".")
	if stem == "" {
		stem = "component"
	}
	return stem
}
