package salesforce

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

// LoginResult is a session obtained from a username/password login.
type LoginResult struct {
	SessionID      string
	ServerURL      string
	InstanceURL    string
	UserID         string
	OrganizationID string
	Username       string
}

type loginResponse struct {
	ServerURL string `xml:"Body>loginResponse>result>serverUrl"`
	SessionID string `xml:"Body>loginResponse>result>sessionId"`
	UserID    string `xml:"Body>loginResponse>result>userId"`
	OrgID     string `xml:"Body>loginResponse>result>userInfo>organizationId"`
	UserName  string `xml:"Body>loginResponse>result>userInfo>userName"`
}

// Login performs a SOAP partner login. password must already carry the
// security token suffix when the org requires one.
func Login(ctx context.Context, client *http.Client, loginURL, apiVersion, username, password string) (*LoginResult, error) {
	if client == nil {
		client = http.DefaultClient
	}
	apiVersion = strings.TrimPrefix(apiVersion, "v")

	var body bytes.Buffer
	fmt.Fprintf(&body, `<login xmlns=%q>`, partnerNS)
	writeText(&body, "username", username)
	writeText(&body, "password", password)
	body.WriteString("</login>")

	endpoint := strings.TrimSuffix(loginURL, "/") + "/services/Soap/u/" + apiVersion
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(soapEnvelope("", body.String())))
	if err != nil {
		return nil, fmt.Errorf("login: build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=UTF-8")
	req.Header.Set("SOAPAction", "login")
	req.Header.Set("User-Agent", DefaultUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, &sferr.ConnectionError{Op: "login", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &sferr.ConnectionError{Op: "login", Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, parseRemoteError("login", resp.StatusCode, data)
	}

	var out loginResponse
	if err := xml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("login: decode response: %w", err)
	}
	if out.SessionID == "" || out.ServerURL == "" {
		return nil, &sferr.RemoteOperationError{Operation: "login", StatusCode: resp.StatusCode, Message: "login response carried no session"}
	}

	instance, err := url.Parse(out.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("login: parse server url: %w", err)
	}

	return &LoginResult{
		SessionID:      out.SessionID,
		ServerURL:      out.ServerURL,
		InstanceURL:    instance.Scheme + "://" + instance.Host,
		UserID:         out.UserID,
		OrganizationID: out.OrgID,
		Username:       out.UserName,
	}, nil
}
