package auth

import (
	"context"
	"errors"

	"github.com/txn2/mcp-salesforce/pkg/salesforce"
	"github.com/txn2/mcp-salesforce/pkg/session"
	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

// CredentialStrategy logs in with username, password and security token.
// A forced refresh logs in again.
type CredentialStrategy struct {
	creds    PasswordCredentials
	settings ConnectionSettings
}

// NewCredentialStrategy creates a CredentialStrategy.
func NewCredentialStrategy(creds PasswordCredentials, settings ConnectionSettings) *CredentialStrategy {
	return &CredentialStrategy{creds: creds, settings: settings}
}

// Name implements Strategy.
func (*CredentialStrategy) Name() string { return StrategyCredential }

// CanAuthenticate implements Strategy. The security token is optional for
// orgs with trusted IP ranges.
func (s *CredentialStrategy) CanAuthenticate() bool {
	return len(s.MissingVariables()) == 0
}

// MissingVariables implements MissingReporter.
func (s *CredentialStrategy) MissingVariables() []string {
	return missing(
		EnvUsername, s.creds.Username,
		EnvPassword, s.creds.Password,
	)
}

// Authenticate implements Strategy.
func (s *CredentialStrategy) Authenticate(ctx context.Context) (*session.Session, error) {
	tok, err := s.login(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := s.settings.open(tok, s.login)
	if err != nil {
		return nil, &sferr.AuthenticationError{Strategy: s.Name(), Category: sferr.CategoryUnknown, Hint: hintUnknown, Err: err}
	}
	return confirm(ctx, s.Name(), conn, false)
}

func (s *CredentialStrategy) login(ctx context.Context) (*salesforce.Token, error) {
	res, err := salesforce.Login(ctx, s.settings.httpClient(), s.creds.LoginURL, s.settings.apiVersion(),
		s.creds.Username, s.creds.Password+s.creds.SecurityToken)
	if err != nil {
		return nil, s.classify(err)
	}
	return &salesforce.Token{AccessToken: res.SessionID, InstanceURL: res.InstanceURL}, nil
}

func (s *CredentialStrategy) classify(err error) *sferr.AuthenticationError {
	e := &sferr.AuthenticationError{Strategy: s.Name(), Category: sferr.CategoryUnknown, Hint: hintUnknown, Err: err}

	var connErr *sferr.ConnectionError
	var remote *sferr.RemoteOperationError
	switch {
	case errors.As(err, &connErr):
		e.Category = sferr.CategoryNetworkUnreachable
		e.Hint = "The login endpoint could not be reached. Check SALESFORCE_LOGIN_URL and network connectivity."
	case errors.As(err, &remote):
		switch remote.Code {
		case "INVALID_LOGIN", "LOGIN_MUST_USE_SECURITY_TOKEN", "INVALID_OPERATION_WITH_EXPIRED_PASSWORD", "PASSWORD_LOCKOUT":
			e.Category = sferr.CategoryInvalidLogin
			e.Hint = "Login was rejected. Check SALESFORCE_USERNAME, SALESFORCE_PASSWORD and SALESFORCE_SECURITY_TOKEN, and whether the user is locked out."
		}
	}
	return e
}
