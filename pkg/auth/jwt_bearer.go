package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/txn2/mcp-salesforce/pkg/salesforce"
	"github.com/txn2/mcp-salesforce/pkg/session"
	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

const (
	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	jwtLifetime    = 3 * time.Minute
)

// JWTBearerStrategy signs an RS256 assertion with the connected app's
// private key and exchanges it for an access token. The user must be
// pre-authorized for the app.
type JWTBearerStrategy struct {
	creds    JWTCredentials
	settings ConnectionSettings
	now      func() time.Time
}

// NewJWTBearerStrategy creates a JWTBearerStrategy.
func NewJWTBearerStrategy(creds JWTCredentials, settings ConnectionSettings) *JWTBearerStrategy {
	return &JWTBearerStrategy{creds: creds, settings: settings, now: time.Now}
}

// Name implements Strategy.
func (*JWTBearerStrategy) Name() string { return StrategyJWTBearer }

// CanAuthenticate implements Strategy. The key file is not read here.
func (s *JWTBearerStrategy) CanAuthenticate() bool {
	return len(s.MissingVariables()) == 0
}

// MissingVariables implements MissingReporter.
func (s *JWTBearerStrategy) MissingVariables() []string {
	return missing(
		EnvClientID, s.creds.ClientID,
		EnvUsername, s.creds.Username,
		EnvPrivateKeyFile, s.creds.PrivateKeyFile,
	)
}

// Authenticate implements Strategy.
func (s *JWTBearerStrategy) Authenticate(ctx context.Context) (*session.Session, error) {
	tok, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := s.settings.open(tok, s.fetch)
	if err != nil {
		return nil, s.fail(sferr.CategoryUnknown, "", err)
	}
	return confirm(ctx, s.Name(), conn, false)
}

// audience is the authorization server the assertion is addressed to.
func (s *JWTBearerStrategy) audience() string {
	if strings.Contains(s.creds.LoginURL, "test.salesforce.com") {
		return "https://test.salesforce.com"
	}
	return DefaultLoginURL
}

func (s *JWTBearerStrategy) assertion() (string, error) {
	pemBytes, err := os.ReadFile(s.creds.PrivateKeyFile)
	if err != nil {
		return "", fmt.Errorf("read private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	return signAssertion(key, s.creds.ClientID, s.creds.Username, s.audience(), s.now())
}

func signAssertion(key *rsa.PrivateKey, clientID, username, audience string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    clientID,
		Subject:   username,
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(jwtLifetime)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}
	return signed, nil
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	InstanceURL      string `json:"instance_url"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (s *JWTBearerStrategy) fetch(ctx context.Context) (*salesforce.Token, error) {
	assertion, err := s.assertion()
	if err != nil {
		return nil, s.fail(sferr.CategoryInvalidClient,
			"The signing key could not be loaded. Check SALESFORCE_PRIVATE_KEY_FILE points to a PEM encoded RSA key.", err)
	}

	form := url.Values{"grant_type": {jwtBearerGrant}, "assertion": {assertion}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.creds.LoginURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, s.fail(sferr.CategoryUnknown, "", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.settings.httpClient().Do(req)
	if err != nil {
		return nil, s.fail(sferr.CategoryNetworkUnreachable, hintNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, s.fail(sferr.CategoryNetworkUnreachable, hintNetwork, err)
	}

	var out tokenResponse
	_ = json.Unmarshal(body, &out)
	if resp.StatusCode >= http.StatusBadRequest || out.AccessToken == "" {
		cause := fmt.Errorf("token endpoint returned %d: %s %s", resp.StatusCode, out.Error, out.ErrorDescription)
		switch out.Error {
		case "invalid_client", "invalid_client_id":
			return nil, s.fail(sferr.CategoryInvalidClient, hintClient, cause)
		case "invalid_grant":
			return nil, s.fail(sferr.CategoryInvalidLogin,
				"The assertion was rejected. Check the user is pre-authorized for the connected app and the certificate matches the key.", cause)
		default:
			return nil, s.fail(sferr.CategoryUnknown, "", cause)
		}
	}

	instance := out.InstanceURL
	if instance == "" {
		instance = s.creds.LoginURL
	}
	return &salesforce.Token{AccessToken: out.AccessToken, InstanceURL: instance}, nil
}

func (s *JWTBearerStrategy) fail(cat sferr.Category, hint string, err error) *sferr.AuthenticationError {
	if hint == "" {
		hint = hintUnknown
	}
	return &sferr.AuthenticationError{Strategy: s.Name(), Category: cat, Hint: hint, Err: err}
}
