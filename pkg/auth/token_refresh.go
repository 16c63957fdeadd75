package auth

import (
	"context"
	"errors"
	"net"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/txn2/mcp-salesforce/pkg/salesforce"
	"github.com/txn2/mcp-salesforce/pkg/session"
	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

const tokenPath = "/services/oauth2/token"

// Remediation hints for token-refresh failures.
const (
	hintNetwork      = "The token endpoint could not be reached. Check SALESFORCE_INSTANCE_URL and network connectivity."
	hintClient       = "The connected app rejected the client credentials. Verify SALESFORCE_CLIENT_ID and SALESFORCE_CLIENT_SECRET."
	hintRefreshToken = "The refresh token is invalid, expired or revoked. Authorize the connected app again and update SALESFORCE_REFRESH_TOKEN."
	hintRedirect     = "The redirect URI does not match the connected app. Set SALESFORCE_REDIRECT_URI to the registered callback URL."
	hintUnknown      = "Token refresh failed. Inspect the error and the connected app configuration."
)

// TokenRefreshStrategy exchanges a long-lived refresh token for an access
// token at the instance's OAuth endpoint.
type TokenRefreshStrategy struct {
	creds    TokenCredentials
	settings ConnectionSettings
}

// NewTokenRefreshStrategy creates a TokenRefreshStrategy.
func NewTokenRefreshStrategy(creds TokenCredentials, settings ConnectionSettings) *TokenRefreshStrategy {
	return &TokenRefreshStrategy{creds: creds, settings: settings}
}

// Name implements Strategy.
func (*TokenRefreshStrategy) Name() string { return StrategyTokenRefresh }

// CanAuthenticate implements Strategy.
func (s *TokenRefreshStrategy) CanAuthenticate() bool {
	return len(s.MissingVariables()) == 0
}

// MissingVariables implements MissingReporter.
func (s *TokenRefreshStrategy) MissingVariables() []string {
	return missing(
		EnvClientID, s.creds.ClientID,
		EnvClientSecret, s.creds.ClientSecret,
		EnvRefreshToken, s.creds.RefreshToken,
		EnvInstanceURL, s.creds.InstanceURL,
	)
}

// Authenticate implements Strategy. A stale-token failure of the trial
// round-trip is retried once after a forced refresh.
func (s *TokenRefreshStrategy) Authenticate(ctx context.Context) (*session.Session, error) {
	tok, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := s.settings.open(tok, s.fetch)
	if err != nil {
		return nil, &sferr.AuthenticationError{Strategy: s.Name(), Category: sferr.CategoryUnknown, Hint: hintUnknown, Err: err}
	}
	return confirm(ctx, s.Name(), conn, true)
}

// fetch performs the refresh-token grant. It doubles as the connection's
// Refresher.
func (s *TokenRefreshStrategy) fetch(ctx context.Context) (*salesforce.Token, error) {
	cfg := &oauth2.Config{
		ClientID:     s.creds.ClientID,
		ClientSecret: s.creds.ClientSecret,
		RedirectURL:  s.creds.RedirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL:  s.creds.InstanceURL + tokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.settings.httpClient())

	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: s.creds.RefreshToken}).Token()
	if err != nil {
		return nil, s.classify(err)
	}

	instance, _ := tok.Extra("instance_url").(string)
	if instance == "" {
		instance = s.creds.InstanceURL
	}
	return &salesforce.Token{AccessToken: tok.AccessToken, InstanceURL: instance}, nil
}

func (s *TokenRefreshStrategy) classify(err error) *sferr.AuthenticationError {
	e := &sferr.AuthenticationError{Strategy: s.Name(), Category: sferr.CategoryUnknown, Hint: hintUnknown, Err: err}

	var retrieveErr *oauth2.RetrieveError
	var urlErr *url.Error
	var netErr net.Error
	switch {
	case errors.As(err, &retrieveErr):
		switch retrieveErr.ErrorCode {
		case "invalid_client", "invalid_client_id", "unauthorized_client":
			e.Category, e.Hint = sferr.CategoryInvalidClient, hintClient
		case "invalid_grant":
			e.Category, e.Hint = sferr.CategoryInvalidRefreshToken, hintRefreshToken
		case "redirect_uri_mismatch":
			e.Category, e.Hint = sferr.CategoryRedirectMismatch, hintRedirect
		}
	case errors.As(err, &urlErr), errors.As(err, &netErr):
		e.Category, e.Hint = sferr.CategoryNetworkUnreachable, hintNetwork
	}
	return e
}
