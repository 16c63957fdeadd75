package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/txn2/mcp-salesforce/pkg/salesforce"
	"github.com/txn2/mcp-salesforce/pkg/session"
	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

// Strategy is one way of establishing a session.
type Strategy interface {
	// Name identifies the strategy in errors and logs.
	Name() string
	// CanAuthenticate reports whether the required credentials are present.
	// It performs no I/O.
	CanAuthenticate() bool
	// Authenticate returns a session confirmed by a trial round-trip, or an
	// *sferr.AuthenticationError.
	Authenticate(ctx context.Context) (*session.Session, error)
}

// MissingReporter is implemented by strategies that can name the
// environment variables they lack.
type MissingReporter interface {
	MissingVariables() []string
}

// Strategy names.
const (
	StrategyTokenRefresh = "token_refresh"
	StrategyJWTBearer    = "jwt_bearer"
	StrategyCredential   = "credential"
)

// ConnectionSettings tune the connections strategies open.
type ConnectionSettings struct {
	APIVersion     string
	Timeout        time.Duration
	MaxRequestSize int64

	// Zero values fall back to the salesforce package defaults.
	MaxRetries int
	RateLimit  float64
	RateBurst  int

	HTTPClient *http.Client
}

func (c ConnectionSettings) apiVersion() string {
	if c.APIVersion == "" {
		return salesforce.DefaultAPIVersion
	}
	return c.APIVersion
}

func (c ConnectionSettings) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = salesforce.DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func (c ConnectionSettings) open(tok *salesforce.Token, refresher salesforce.Refresher) (*salesforce.Connection, error) {
	return salesforce.NewConnection(salesforce.Config{ //nolint:wrapcheck // callers wrap into AuthenticationError
		InstanceURL:    tok.InstanceURL,
		AccessToken:    tok.AccessToken,
		APIVersion:     c.apiVersion(),
		Timeout:        c.Timeout,
		MaxRequestSize: c.MaxRequestSize,
		MaxRetries:     c.MaxRetries,
		RateLimit:      c.RateLimit,
		RateBurst:      c.RateBurst,
		HTTPClient:     c.httpClient(),
		Refresher:      refresher,
	})
}

// confirm runs the trial round-trip. With retryStale, one stale-token
// failure is answered by a forced refresh and a single retry.
func confirm(ctx context.Context, strategy string, conn *salesforce.Connection, retryStale bool) (*session.Session, error) {
	id, err := conn.Identity(ctx)
	if err != nil && retryStale && salesforce.IsStaleToken(err) {
		if err = conn.Refresh(ctx); err == nil {
			id, err = conn.Identity(ctx)
		}
	}
	if err != nil {
		var authErr *sferr.AuthenticationError
		if errors.As(err, &authErr) {
			return nil, authErr
		}
		return nil, trialFailure(strategy, err)
	}
	return &session.Session{
		API:           conn,
		Strategy:      strategy,
		Identity:      id,
		EstablishedAt: time.Now(),
	}, nil
}

func trialFailure(strategy string, err error) *sferr.AuthenticationError {
	var connErr *sferr.ConnectionError
	if errors.As(err, &connErr) {
		return &sferr.AuthenticationError{
			Strategy: strategy,
			Category: sferr.CategoryNetworkUnreachable,
			Hint:     "The instance could not be reached. Check the instance URL and network connectivity.",
			Err:      err,
		}
	}
	return &sferr.AuthenticationError{
		Strategy: strategy,
		Category: sferr.CategorySessionNotConfirmed,
		Hint:     "A token was issued but the trial request was rejected. Check the user's API access and the connected app's OAuth scopes.",
		Err:      err,
	}
}
