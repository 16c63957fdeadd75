package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/txn2/mcp-salesforce/pkg/salesforce"
	"github.com/txn2/mcp-salesforce/pkg/session"
	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

// Debug log settings used when no trace flag is active.
const (
	DebugLevelName   = "MCP_Salesforce"
	TraceFlagLogType = "DEVELOPER_LOG"
	traceFlagWindow  = time.Hour
	soqlDateTime     = "2006-01-02T15:04:05Z"
)

// ExecuteRequest is a block of anonymous Apex.
type ExecuteRequest struct {
	Code       string
	CaptureLog bool
}

// ExecuteResult is the outcome of anonymous Apex.
type ExecuteResult struct {
	salesforce.ExecuteAnonymousResult
	LogID    string   `json:"log_id,omitempty"`
	Log      string   `json:"log,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ExecuteApex runs anonymous Apex. A compile failure or uncaught exception
// is returned as a *sferr.RemoteOperationError alongside the result so the
// debug log is not lost.
func (r *Router) ExecuteApex(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, sferr.NewValidationError("code", "is required")
	}

	sess, err := r.session(ctx)
	if err != nil {
		return nil, err
	}

	res := &ExecuteResult{}
	var userID string
	if req.CaptureLog {
		userID, err = r.userID(ctx, sess)
		if err == nil {
			err = r.ensureTraceFlag(ctx, sess.API, userID)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("debug log capture unavailable", "error", err)
			res.Warnings = append(res.Warnings, "debug log capture unavailable: "+err.Error())
			req.CaptureLog = false
		}
	}

	out, err := sess.API.ExecuteAnonymous(ctx, code)
	if err != nil {
		return nil, err //nolint:wrapcheck // remote errors are reported verbatim
	}
	res.ExecuteAnonymousResult = *out

	if req.CaptureLog {
		if err := r.attachLatestLog(ctx, sess.API, userID, res); err != nil {
			slog.Warn("debug log not retrieved", "error", err)
			res.Warnings = append(res.Warnings, "debug log not retrieved: "+err.Error())
		}
	}

	switch {
	case !out.Compiled:
		return res, &sferr.RemoteOperationError{
			Operation: "execute_apex",
			Code:      "COMPILE_ERROR",
			Message:   fmt.Sprintf("line %d, column %d: %s", out.Line, out.Column, out.CompileProblem),
		}
	case !out.Success:
		return res, &sferr.RemoteOperationError{
			Operation: "execute_apex",
			Code:      "APEX_EXCEPTION",
			Message:   out.ExceptionMessage,
		}
	}
	return res, nil
}

func (r *Router) userID(ctx context.Context, sess *session.Session) (string, error) {
	if sess.Identity != nil && sess.Identity.UserID != "" {
		return sess.Identity.UserID, nil
	}
	id, err := sess.API.Identity(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve current user: %w", err)
	}
	return id.UserID, nil
}

// ensureTraceFlag makes sure the user has an unexpired developer-log trace
// flag, creating a debug level and flag only when none exists.
func (r *Router) ensureTraceFlag(ctx context.Context, api salesforce.API, userID string) error {
	now := r.now().UTC()
	existing, err := api.ToolingQuery(ctx, fmt.Sprintf(
		"SELECT Id, ExpirationDate FROM TraceFlag WHERE TracedEntityId = %s AND LogType = %s AND ExpirationDate > %s",
		quote(userID), quote(TraceFlagLogType), now.Format(soqlDateTime)))
	if err != nil {
		return fmt.Errorf("look up trace flag: %w", err)
	}
	if len(existing.Records) > 0 {
		return nil
	}

	levelID, err := r.debugLevel(ctx, api)
	if err != nil {
		return err
	}
	_, err = api.ToolingCreate(ctx, "TraceFlag", salesforce.Record{
		"TracedEntityId": userID,
		"LogType":        TraceFlagLogType,
		"DebugLevelId":   levelID,
		"StartDate":      now.Format(soqlDateTime),
		"ExpirationDate": now.Add(traceFlagWindow).Format(soqlDateTime),
	})
	if err != nil {
		return fmt.Errorf("create trace flag: %w", err)
	}
	slog.Info("created trace flag", "user_id", userID, "expires", now.Add(traceFlagWindow))
	return nil
}

func (r *Router) debugLevel(ctx context.Context, api salesforce.API) (string, error) {
	found, err := api.ToolingQuery(ctx, "SELECT Id FROM DebugLevel WHERE DeveloperName = "+quote(DebugLevelName))
	if err != nil {
		return "", fmt.Errorf("look up debug level: %w", err)
	}
	if len(found.Records) > 0 {
		if id := stringField(found.Records[0], "Id"); id != "" {
			return id, nil
		}
	}

	created, err := api.ToolingCreate(ctx, "DebugLevel", salesforce.Record{
		"DeveloperName": DebugLevelName,
		"MasterLabel":   DebugLevelName,
		"ApexCode":      "FINEST",
		"ApexProfiling": "INFO",
		"Callout":       "INFO",
		"Database":      "INFO",
		"System":        "DEBUG",
		"Validation":    "INFO",
		"Visualforce":   "INFO",
		"Workflow":      "INFO",
	})
	if err != nil {
		return "", fmt.Errorf("create debug level: %w", err)
	}
	return created.ID, nil
}

func (r *Router) attachLatestLog(ctx context.Context, api salesforce.API, userID string, res *ExecuteResult) error {
	logs, err := api.ToolingQuery(ctx, fmt.Sprintf(
		"SELECT Id, LogLength, StartTime FROM ApexLog WHERE LogUserId = %s ORDER BY StartTime DESC LIMIT 1",
		quote(userID)))
	if err != nil {
		return fmt.Errorf("find log: %w", err)
	}
	if len(logs.Records) == 0 {
		return fmt.Errorf("no log recorded for user %s", userID)
	}
	id := stringField(logs.Records[0], "Id")
	body, err := api.ApexLogBody(ctx, id)
	if err != nil {
		return fmt.Errorf("download log %s: %w", id, err)
	}
	res.LogID, res.Log = id, body
	return nil
}
