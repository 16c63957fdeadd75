package salesforce

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/http"
	"strings"

	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

// staleTokenPhrases are message fragments the platform uses when a token is
// no longer accepted.
var staleTokenPhrases = []string{
	"session expired or invalid",
	"expired access/refresh token",
	"invalid_session_id",
	"invalid_auth_header",
}

// IsStaleToken reports whether err indicates the access token was rejected
// and a refresh may recover the session.
func IsStaleToken(err error) bool {
	if err == nil {
		return false
	}
	var remote *sferr.RemoteOperationError
	if errors.As(err, &remote) {
		if remote.StatusCode == http.StatusUnauthorized {
			return true
		}
		switch remote.Code {
		case "INVALID_SESSION_ID", "INVALID_AUTH_HEADER":
			return true
		}
		return hasStalePhrase(remote.Message)
	}
	var auth *sferr.AuthenticationError
	if errors.As(err, &auth) {
		return false
	}
	return hasStalePhrase(err.Error())
}

func hasStalePhrase(msg string) bool {
	msg = strings.ToLower(msg)
	for _, p := range staleTokenPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func isTransient(err error) bool {
	var remote *sferr.RemoteOperationError
	if !errors.As(err, &remote) {
		return false
	}
	return remote.StatusCode == http.StatusTooManyRequests || remote.StatusCode == http.StatusServiceUnavailable
}

type restError struct {
	Message   string   `json:"message"`
	ErrorCode string   `json:"errorCode"`
	Fields    []string `json:"fields"`
}

type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type soapFault struct {
	Code   string `xml:"Body>Fault>faultcode"`
	String string `xml:"Body>Fault>faultstring"`
}

// parseRemoteError converts an error response into a RemoteOperationError,
// keeping the platform's own code and message.
func parseRemoteError(op string, status int, body []byte) *sferr.RemoteOperationError {
	e := &sferr.RemoteOperationError{Operation: op, StatusCode: status}
	trimmed := bytes.TrimSpace(body)

	switch {
	case bytes.HasPrefix(trimmed, []byte("[")):
		var list []restError
		if json.Unmarshal(trimmed, &list) == nil && len(list) > 0 {
			e.Code = list[0].ErrorCode
			e.Message = list[0].Message
			e.Fields = list[0].Fields
			if len(list) > 1 {
				msgs := make([]string, 0, len(list))
				for _, item := range list {
					msgs = append(msgs, item.Message)
				}
				e.Message = strings.Join(msgs, "; ")
			}
			return e
		}
	case bytes.HasPrefix(trimmed, []byte("{")):
		var single restError
		if json.Unmarshal(trimmed, &single) == nil && single.Message != "" {
			e.Code = single.ErrorCode
			e.Message = single.Message
			e.Fields = single.Fields
			return e
		}
		var oe oauthError
		if json.Unmarshal(trimmed, &oe) == nil && oe.Error != "" {
			e.Code = oe.Error
			e.Message = oe.ErrorDescription
			return e
		}
	case bytes.HasPrefix(trimmed, []byte("<")):
		var fault soapFault
		if xml.Unmarshal(trimmed, &fault) == nil && fault.String != "" {
			e.Code = strings.TrimPrefix(fault.Code, "sf:")
			e.Message = fault.String
			return e
		}
	}

	e.Message = http.StatusText(status)
	if len(trimmed) > 0 {
		e.Message = truncate(string(trimmed), 512)
	}
	return e
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
