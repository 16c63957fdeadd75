// Package sferr defines the error taxonomy shared by every layer of the
// Salesforce adapter. Each type carries enough context for the response
// envelope to report it without re-wording the remote platform's text.
package sferr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind names an error class in the response envelope.
type Kind string

// Error kinds.
const (
	KindConfiguration   Kind = "configuration"
	KindAuthentication  Kind = "authentication"
	KindConnection      Kind = "connection"
	KindRemoteOperation Kind = "remote_operation"
	KindTimeout         Kind = "timeout"
	KindValidation      Kind = "validation"
	KindInternal        Kind = "internal"
)

// ConfigurationError reports missing or contradictory environment variables.
// It is fatal at startup.
type ConfigurationError struct {
	Missing []string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if len(e.Missing) > 0 {
		msg += " (missing: " + strings.Join(e.Missing, ", ") + ")"
	}
	return msg
}

// Category classifies an authentication failure.
type Category string

// Authentication failure categories.
const (
	CategoryNetworkUnreachable  Category = "network_unreachable"
	CategoryInvalidClient       Category = "invalid_client_credentials"
	CategoryInvalidRefreshToken Category = "invalid_refresh_token"
	CategoryRedirectMismatch    Category = "redirect_mismatch"
	CategoryInvalidLogin        Category = "invalid_login"
	CategoryUnknown             Category = "unknown"
	CategoryAllStrategiesFailed Category = "all_strategies_failed"
	CategorySessionNotConfirmed Category = "session_not_confirmed"
)

// AuthenticationError is raised by an authentication strategy or by the
// manager when no strategy produced a session.
type AuthenticationError struct {
	Strategy string
	Category Category
	Hint     string
	Err      error
}

func (e *AuthenticationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "authentication failed (%s", e.Strategy)
	if e.Category != "" {
		fmt.Fprintf(&b, ", %s", e.Category)
	}
	b.WriteString(")")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// ConnectionError reports an unusable or unreachable session, as opposed to
// rejected credentials.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return "connection error during " + e.Op
	}
	return "connection error during " + e.Op + ": " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// RemoteOperationError carries the remote platform's rejection verbatim.
type RemoteOperationError struct {
	Operation  string
	StatusCode int
	Code       string
	Message    string
	Fields     []string
}

func (e *RemoteOperationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Operation)
	b.WriteString(": ")
	if e.Code != "" {
		b.WriteString(e.Code)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	return b.String()
}

// TimeoutError reports that a polled job never reached a terminal state.
type TimeoutError struct {
	JobID    string
	Attempts int
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s did not finish after %d status checks (%s)", e.JobID, e.Attempts, e.Elapsed.Round(time.Second))
}

// ValidationError reports a failed local pre-flight check. It is always
// raised before any remote call.
type ValidationError struct {
	Field   string
	Index   int
	Message string
}

// NewValidationError returns a ValidationError that is not tied to a list item.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Index: -1, Message: message}
}

func (e *ValidationError) Error() string {
	switch {
	case e.Index >= 0 && e.Field != "":
		return fmt.Sprintf("invalid item %d: %s: %s", e.Index, e.Field, e.Message)
	case e.Index >= 0:
		return fmt.Sprintf("invalid item %d: %s", e.Index, e.Message)
	case e.Field != "":
		return e.Field + ": " + e.Message
	default:
		return e.Message
	}
}

// KindOf maps err to its taxonomy kind.
func KindOf(err error) Kind {
	var (
		cfgErr     *ConfigurationError
		authErr    *AuthenticationError
		connErr    *ConnectionError
		remoteErr  *RemoteOperationError
		timeoutErr *TimeoutError
		valErr     *ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &valErr):
		return KindValidation
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &authErr):
		return KindAuthentication
	case errors.As(err, &timeoutErr):
		return KindTimeout
	case errors.As(err, &remoteErr):
		return KindRemoteOperation
	case errors.As(err, &connErr):
		return KindConnection
	default:
		return KindInternal
	}
}
