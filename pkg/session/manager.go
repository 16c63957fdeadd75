package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/txn2/mcp-salesforce/pkg/salesforce"
)

// HealthCheckInterval is how long a validated session is reused before it
// is checked again.
const HealthCheckInterval = 5 * time.Minute

// Option configures a Manager.
type Option func(*Manager)

// WithHealthCheckInterval overrides HealthCheckInterval.
func WithHealthCheckInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager caches one session and keeps it healthy. It is safe for
// concurrent use; callers are serialized while a session is checked or
// re-established.
type Manager struct {
	auth     Authenticator
	interval time.Duration
	now      func() time.Time

	mu          sync.Mutex
	current     *Session
	unsubscribe func()

	// Touched by client callbacks, which may fire while mu is held.
	lastCheck  atomic.Int64
	invalid    atomic.Bool
	generation atomic.Uint64
}

// NewManager creates a Manager that authenticates through a.
func NewManager(a Authenticator, opts ...Option) *Manager {
	m := &Manager{
		auth:     a,
		interval: HealthCheckInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetSession returns the cached session when it was validated within the
// health-check interval and has not been invalidated by a client error.
// Otherwise it runs EnsureHealthySession.
func (m *Manager) GetSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && !m.invalid.Load() && m.now().Sub(m.lastChecked()) < m.interval {
		return m.current, nil
	}
	return m.ensureLocked(ctx)
}

// EnsureHealthySession validates the cached session with a trial
// round-trip, refreshing a stale token once, and re-authenticates when the
// session cannot be recovered.
func (m *Manager) EnsureHealthySession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureLocked(ctx)
}

func (m *Manager) ensureLocked(ctx context.Context) (*Session, error) {
	if m.current != nil && m.invalid.Load() {
		slog.Info("session invalidated by client error, re-authenticating", "strategy", m.current.Strategy)
		m.discardLocked()
	}

	if m.current != nil {
		err := probe(ctx, m.current)
		if err == nil {
			m.markChecked()
			return m.current, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}

		if salesforce.IsStaleToken(err) {
			slog.Info("session token rejected, refreshing", "strategy", m.current.Strategy)
			if err = m.current.API.Refresh(ctx); err == nil {
				if err = probe(ctx, m.current); err == nil {
					m.invalid.Store(false)
					m.markChecked()
					return m.current, nil
				}
			}
		}

		slog.Warn("discarding unhealthy session", "strategy", m.current.Strategy, "error", err)
		m.discardLocked()
	}

	s, err := m.auth.Authenticate(ctx)
	if err != nil {
		return nil, err //nolint:wrapcheck // authentication errors carry their own taxonomy
	}
	m.installLocked(s)
	slog.Info("session established", "strategy", s.Strategy, "instance_url", s.API.Info().InstanceURL)
	return s, nil
}

func probe(ctx context.Context, s *Session) error {
	_, err := s.API.Identity(ctx)
	return err //nolint:wrapcheck // classified by the caller
}

func (m *Manager) installLocked(s *Session) {
	gen := m.generation.Add(1)
	m.current = s
	m.invalid.Store(false)
	m.markChecked()
	m.unsubscribe = s.API.Subscribe(salesforce.Listener{
		OnRefresh: func(salesforce.ConnectionInfo) {
			if m.generation.Load() == gen {
				m.markChecked()
			}
		},
		OnError: func(err error) {
			if m.generation.Load() == gen {
				slog.Warn("session invalidated", "error", err)
				m.invalid.Store(true)
			}
		},
	})
}

func (m *Manager) discardLocked() {
	m.generation.Add(1)
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	m.current = nil
	m.invalid.Store(false)
	m.lastCheck.Store(0)
}

func (m *Manager) markChecked() {
	m.lastCheck.Store(m.now().UnixNano())
}

func (m *Manager) lastChecked() time.Time {
	n := m.lastCheck.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// CloseSession discards the session and resets health-check state. It is
// safe to call more than once.
func (m *Manager) CloseSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		slog.Info("closing session", "strategy", m.current.Strategy)
	}
	m.discardLocked()
}

// Status describes the cached session without validating it.
type Status struct {
	Connected     bool      `json:"connected"`
	Strategy      string    `json:"strategy,omitempty"`
	InstanceURL   string    `json:"instance_url,omitempty"`
	APIVersion    string    `json:"api_version,omitempty"`
	Username      string    `json:"username,omitempty"`
	OrgID         string    `json:"organization_id,omitempty"`
	EstablishedAt time.Time `json:"established_at,omitzero"`
	LastCheck     time.Time `json:"last_check,omitzero"`
	Invalidated   bool      `json:"invalidated,omitempty"`
}

// Status reports the current session state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Status{}
	}
	info := m.current.API.Info()
	st := Status{
		Connected:     true,
		Strategy:      m.current.Strategy,
		InstanceURL:   info.InstanceURL,
		APIVersion:    info.APIVersion,
		EstablishedAt: m.current.EstablishedAt,
		LastCheck:     m.lastChecked(),
		Invalidated:   m.invalid.Load(),
	}
	if id := m.current.Identity; id != nil {
		st.Username = id.Username
		st.OrgID = id.OrganizationID
	}
	return st
}
