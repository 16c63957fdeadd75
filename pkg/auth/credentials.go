// Package auth resolves how the adapter signs in to Salesforce. Credentials
// are read once from the environment; an ordered list of strategies is
// tried until one produces a confirmed session.
package auth

import (
	"os"
	"strings"
)

// Environment variables read by EnvSource.
const (
	EnvClientID       = "SALESFORCE_CLIENT_ID"
	EnvClientSecret   = "SALESFORCE_CLIENT_SECRET"
	EnvRefreshToken   = "SALESFORCE_REFRESH_TOKEN"
	EnvInstanceURL    = "SALESFORCE_INSTANCE_URL"
	EnvRedirectURI    = "SALESFORCE_REDIRECT_URI"
	EnvUsername       = "SALESFORCE_USERNAME"
	EnvPassword       = "SALESFORCE_PASSWORD"
	EnvSecurityToken  = "SALESFORCE_SECURITY_TOKEN"
	EnvLoginURL       = "SALESFORCE_LOGIN_URL"
	EnvPrivateKeyFile = "SALESFORCE_PRIVATE_KEY_FILE"
)

// DefaultLoginURL is used when SALESFORCE_LOGIN_URL is unset.
const DefaultLoginURL = "https://login.salesforce.com"

// TokenCredentials drive the token-refresh strategy.
type TokenCredentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	InstanceURL  string
	RedirectURI  string
}

// JWTCredentials drive the JWT bearer strategy.
type JWTCredentials struct {
	ClientID       string
	Username       string
	PrivateKeyFile string
	LoginURL       string
}

// PasswordCredentials drive the credential-based strategy.
type PasswordCredentials struct {
	Username      string
	Password      string
	SecurityToken string
	LoginURL      string
}

// Credentials is the full credential set. It is not modified after loading.
type Credentials struct {
	Token    TokenCredentials
	JWT      JWTCredentials
	Password PasswordCredentials
}

// CredentialSource supplies the credential set.
type CredentialSource interface {
	Credentials() Credentials
}

// EnvSource is a CredentialSource backed by environment variables.
type EnvSource struct {
	creds Credentials
}

// NewEnvSource reads the credential set through getenv once.
func NewEnvSource(getenv func(string) string) *EnvSource {
	get := func(key string) string { return strings.TrimSpace(getenv(key)) }

	loginURL := strings.TrimSuffix(get(EnvLoginURL), "/")
	if loginURL == "" {
		loginURL = DefaultLoginURL
	}

	return &EnvSource{creds: Credentials{
		Token: TokenCredentials{
			ClientID:     get(EnvClientID),
			ClientSecret: get(EnvClientSecret),
			RefreshToken: get(EnvRefreshToken),
			InstanceURL:  strings.TrimSuffix(get(EnvInstanceURL), "/"),
			RedirectURI:  get(EnvRedirectURI),
		},
		JWT: JWTCredentials{
			ClientID:       get(EnvClientID),
			Username:       get(EnvUsername),
			PrivateKeyFile: get(EnvPrivateKeyFile),
			LoginURL:       loginURL,
		},
		Password: PasswordCredentials{
			Username:      get(EnvUsername),
			Password:      get(EnvPassword),
			SecurityToken: get(EnvSecurityToken),
			LoginURL:      loginURL,
		},
	}}
}

// LoadEnv reads the credential set from the process environment.
func LoadEnv() *EnvSource {
	return NewEnvSource(os.Getenv)
}

// Credentials implements CredentialSource.
func (s *EnvSource) Credentials() Credentials {
	return s.creds
}

// StaticSource is a CredentialSource holding a fixed credential set.
type StaticSource Credentials

// Credentials implements CredentialSource.
func (s StaticSource) Credentials() Credentials {
	return Credentials(s)
}

func missing(pairs ...string) []string {
	var out []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			out = append(out, pairs[i])
		}
	}
	return out
}
