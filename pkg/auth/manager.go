package auth

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/txn2/mcp-salesforce/pkg/session"
	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

var errAllFailed = errors.New("all authentication strategies failed")

// Manager tries strategies in a fixed priority order.
type Manager struct {
	strategies []Strategy
}

var _ session.Authenticator = (*Manager)(nil)

// NewManager creates a Manager over strategies, tried in the given order.
func NewManager(strategies ...Strategy) *Manager {
	return &Manager{strategies: strategies}
}

// DefaultStrategies returns the standard priority order: token refresh,
// JWT bearer, then username/password.
func DefaultStrategies(src CredentialSource, settings ConnectionSettings) []Strategy {
	creds := src.Credentials()
	return []Strategy{
		NewTokenRefreshStrategy(creds.Token, settings),
		NewJWTBearerStrategy(creds.JWT, settings),
		NewCredentialStrategy(creds.Password, settings),
	}
}

// Strategies returns the configured strategies in priority order.
func (m *Manager) Strategies() []Strategy {
	return slices.Clone(m.strategies)
}

// Configured reports whether at least one strategy can run. When none can,
// the returned error names every missing variable.
func (m *Manager) Configured() error {
	for _, s := range m.strategies {
		if s.CanAuthenticate() {
			return nil
		}
	}
	return m.configurationError()
}

// Authenticate implements session.Authenticator. Individual strategy
// failures are logged; the caller only learns that all of them failed.
func (m *Manager) Authenticate(ctx context.Context) (*session.Session, error) {
	eligible := 0
	for _, s := range m.strategies {
		if !s.CanAuthenticate() {
			slog.Debug("authentication strategy not configured", "strategy", s.Name())
			continue
		}
		eligible++

		sess, err := s.Authenticate(ctx)
		if err == nil {
			slog.Info("authenticated", "strategy", s.Name())
			return sess, nil
		}
		if ctx.Err() != nil {
			return nil, &sferr.ConnectionError{Op: "authenticate", Err: ctx.Err()}
		}

		var authErr *sferr.AuthenticationError
		if errors.As(err, &authErr) {
			slog.Warn("authentication strategy failed",
				"strategy", s.Name(), "category", authErr.Category, "hint", authErr.Hint, "error", err)
		} else {
			slog.Warn("authentication strategy failed", "strategy", s.Name(), "error", err)
		}
	}

	if eligible == 0 {
		return nil, m.configurationError()
	}
	return nil, &sferr.AuthenticationError{
		Strategy: "all",
		Category: sferr.CategoryAllStrategiesFailed,
		Hint:     "No configured authentication strategy succeeded. Check the server logs for details.",
		Err:      errAllFailed,
	}
}

func (m *Manager) configurationError() *sferr.ConfigurationError {
	var names []string
	for _, s := range m.strategies {
		r, ok := s.(MissingReporter)
		if !ok {
			continue
		}
		for _, v := range r.MissingVariables() {
			if !slices.Contains(names, v) {
				names = append(names, v)
			}
		}
	}
	return &sferr.ConfigurationError{
		Missing: names,
		Reason:  "no authentication strategy is configured",
	}
}
