// Package session owns the single authenticated Salesforce session. It
// re-validates the session on a fixed interval, heals stale tokens with one
// forced refresh and re-authenticates from scratch when the session cannot
// be recovered.
package session

import (
	"context"
	"time"

	"github.com/txn2/mcp-salesforce/pkg/salesforce"
)

// Session is an authenticated, validated handle to the remote platform.
type Session struct {
	// API is the connection the session was established on. It is refreshed
	// in place and replaced wholesale when the session is discarded.
	API salesforce.API

	// Strategy names the authentication strategy that produced the session.
	Strategy string

	// Identity is the user confirmed by the trial round-trip.
	Identity *salesforce.Identity

	// EstablishedAt is when the session was created.
	EstablishedAt time.Time
}

// Authenticator produces new sessions. The auth manager implements it.
type Authenticator interface {
	Authenticate(ctx context.Context) (*Session, error)
}

// AuthenticatorFunc adapts a func to Authenticator.
type AuthenticatorFunc func(ctx context.Context) (*Session, error)

// Authenticate implements Authenticator.
func (f AuthenticatorFunc) Authenticate(ctx context.Context) (*Session, error) {
	return f(ctx)
}
