package router

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/txn2/mcp-salesforce/pkg/jobs"
	"github.com/txn2/mcp-salesforce/pkg/salesforce"
	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

// Test outcomes reported by ApexTestResult.
const (
	TestOutcomePass = "Pass"
	TestOutcomeFail = "Fail"
	TestOutcomeSkip = "Skip"
)

// TestRunRequest selects the test classes to run. With no names, every
// class whose name contains "Test" runs.
type TestRunRequest struct {
	ClassNames      []string
	IncludeCoverage bool
}

// TestMethodResult is one test method's outcome.
type TestMethodResult struct {
	Class      string `json:"class"`
	Method     string `json:"method"`
	Outcome    string `json:"outcome"`
	Message    string `json:"message,omitempty"`
	StackTrace string `json:"stack_trace,omitempty"`
	RunTimeMS  int    `json:"run_time_ms"`
}

// CoverageResult is the aggregate line coverage of one class or trigger.
type CoverageResult struct {
	Name      string  `json:"name"`
	Covered   int     `json:"covered"`
	Uncovered int     `json:"uncovered"`
	Percent   float64 `json:"percent"`
}

// TestRunResult is the outcome of a test run.
type TestRunResult struct {
	JobID    string             `json:"job_id"`
	Success  bool               `json:"success"`
	Job      *jobs.Outcome      `json:"job"`
	Classes  []string           `json:"classes"`
	Total    int                `json:"total"`
	Passed   int                `json:"passed"`
	Failed   int                `json:"failed"`
	Skipped  int                `json:"skipped"`
	Tests    []TestMethodResult `json:"tests"`
	Coverage []CoverageResult   `json:"coverage,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
}

// RunTests submits an asynchronous test run, awaits it and collects the
// per-method results. A run that finishes with failing tests is a
// completed run with Success false, not an error.
func (r *Router) RunTests(ctx context.Context, req TestRunRequest) (*TestRunResult, error) {
	for _, name := range req.ClassNames {
		if err := validateAPIName("class_names", name); err != nil {
			return nil, err
		}
	}

	sess, err := r.session(ctx)
	if err != nil {
		return nil, err
	}
	api := sess.API

	ids, names, err := resolveTestClasses(ctx, api, req.ClassNames)
	if err != nil {
		return nil, err
	}

	jobID, err := api.RunTestsAsynchronous(ctx, ids)
	if err != nil {
		return nil, err //nolint:wrapcheck // remote errors are reported verbatim
	}
	submitted := r.now()
	slog.Info("test run submitted", "job_id", jobID, "classes", len(ids))

	outcome, err := r.poller.Await(ctx, jobs.Handle{ID: jobID, SubmittedAt: submitted}, func(ctx context.Context) (*jobs.Status, error) {
		return asyncApexJobStatus(ctx, api, jobID)
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // poll errors already name the job
	}

	res := &TestRunResult{JobID: jobID, Job: outcome, Classes: names, Tests: []TestMethodResult{}}
	if err := collectTestResults(ctx, api, jobID, res); err != nil {
		return nil, err
	}
	res.Success = outcome.Succeeded() && res.Failed == 0

	if req.IncludeCoverage {
		if err := collectCoverage(ctx, api, ids, res); err != nil {
			slog.Warn("coverage not retrieved", "job_id", jobID, "error", err)
			res.Warnings = append(res.Warnings, "coverage not retrieved: "+err.Error())
		}
	}
	return res, nil
}

func resolveTestClasses(ctx context.Context, api salesforce.API, names []string) ([]string, []string, error) {
	soql := "SELECT Id, Name FROM ApexClass WHERE Name LIKE '%Test%' ORDER BY Name"
	if len(names) > 0 {
		soql = "SELECT Id, Name FROM ApexClass WHERE Name IN " + quoteList(names) + " ORDER BY Name"
	}
	found, err := api.Query(ctx, soql)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve test classes: %w", err)
	}

	byName := make(map[string]string, len(found.Records))
	var ids, resolved []string
	for _, rec := range found.Records {
		id, name := stringField(rec, "Id"), stringField(rec, "Name")
		if id == "" {
			continue
		}
		byName[strings.ToLower(name)] = id
		ids = append(ids, id)
		resolved = append(resolved, name)
	}

	if len(names) == 0 {
		if len(ids) == 0 {
			return nil, nil, sferr.NewValidationError("class_names", "no test classes found")
		}
		return ids, resolved, nil
	}

	var unknown []string
	for _, n := range names {
		if _, ok := byName[strings.ToLower(n)]; !ok {
			unknown = append(unknown, n)
		}
	}
	if len(unknown) > 0 {
		return nil, nil, sferr.NewValidationError("class_names", "unknown test classes: "+strings.Join(unknown, ", "))
	}
	return ids, resolved, nil
}

func asyncApexJobStatus(ctx context.Context, api salesforce.API, jobID string) (*jobs.Status, error) {
	found, err := api.Query(ctx, fmt.Sprintf(
		"SELECT Id, Status, JobItemsProcessed, TotalJobItems, NumberOfErrors, ExtendedStatus FROM AsyncApexJob WHERE Id = %s",
		quote(jobID)))
	if err != nil {
		return nil, err //nolint:wrapcheck // remote errors are reported verbatim
	}
	if len(found.Records) == 0 {
		return &jobs.Status{}, nil
	}
	rec := found.Records[0]
	return &jobs.Status{
		State:     stringField(rec, "Status"),
		Processed: intField(rec, "JobItemsProcessed"),
		Total:     intField(rec, "TotalJobItems"),
		Message:   stringField(rec, "ExtendedStatus"),
	}, nil
}

func collectTestResults(ctx context.Context, api salesforce.API, jobID string, res *TestRunResult) error {
	soql := fmt.Sprintf(
		"SELECT Id, Outcome, MethodName, Message, StackTrace, RunTime, ApexClass.Name FROM ApexTestResult WHERE AsyncApexJobId = %s",
		quote(jobID))
	page, err := api.Query(ctx, soql)
	if err != nil {
		return fmt.Errorf("collect test results: %w", err)
	}
	rows := page.Records
	for !page.Done && page.NextRecordsURL != "" {
		if page, err = api.QueryMore(ctx, page.NextRecordsURL); err != nil {
			return fmt.Errorf("collect test results: %w", err)
		}
		rows = append(rows, page.Records...)
	}

	for _, rec := range rows {
		t := TestMethodResult{
			Class:      stringField(rec, "ApexClass.Name"),
			Method:     stringField(rec, "MethodName"),
			Outcome:    stringField(rec, "Outcome"),
			Message:    stringField(rec, "Message"),
			StackTrace: stringField(rec, "StackTrace"),
			RunTimeMS:  intField(rec, "RunTime"),
		}
		switch t.Outcome {
		case TestOutcomePass:
			res.Passed++
		case TestOutcomeSkip:
			res.Skipped++
		default:
			res.Failed++
		}
		res.Tests = append(res.Tests, t)
	}
	res.Total = len(res.Tests)
	slices.SortFunc(res.Tests, func(a, b TestMethodResult) int {
		if c := strings.Compare(a.Class, b.Class); c != 0 {
			return c
		}
		return strings.Compare(a.Method, b.Method)
	})
	return nil
}

func collectCoverage(ctx context.Context, api salesforce.API, classIDs []string, res *TestRunResult) error {
	found, err := api.ToolingQuery(ctx,
		"SELECT ApexClassOrTriggerId, ApexClassOrTrigger.Name, NumLinesCovered, NumLinesUncovered FROM ApexCodeCoverageAggregate")
	if err != nil {
		return err //nolint:wrapcheck // caller adds context
	}
	for _, rec := range found.Records {
		// Test classes are excluded from coverage.
		if slices.Contains(classIDs, stringField(rec, "ApexClassOrTriggerId")) {
			continue
		}
		covered, uncovered := intField(rec, "NumLinesCovered"), intField(rec, "NumLinesUncovered")
		c := CoverageResult{Name: stringField(rec, "ApexClassOrTrigger.Name"), Covered: covered, Uncovered: uncovered}
		if lines := covered + uncovered; lines > 0 {
			c.Percent = float64(covered*10000/lines) / 100
		}
		res.Coverage = append(res.Coverage, c)
	}
	slices.SortFunc(res.Coverage, func(a, b CoverageResult) int { return strings.Compare(a.Name, b.Name) })
	return nil
}
