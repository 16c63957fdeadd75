package platform

import (
	"log/slog"
	"net/http"

	"github.com/txn2/mcp-salesforce/pkg/auth"
	"github.com/txn2/mcp-salesforce/pkg/health"
	"github.com/txn2/mcp-salesforce/pkg/jobs"
	"github.com/txn2/mcp-salesforce/pkg/middleware"
	"github.com/txn2/mcp-salesforce/pkg/registry"
)

// Options configures the platform.
type Options struct {
	// Config is the platform configuration.
	Config *Config

	// Credentials (optional, read from the environment if not provided).
	Credentials auth.CredentialSource

	// Strategies (optional, built from Credentials if not provided).
	Strategies []auth.Strategy

	// HTTPClient is shared by every connection the strategies open (optional).
	HTTPClient *http.Client

	// Poller (optional, built from config if not provided).
	Poller *jobs.Poller

	// AuditLogger (optional, will be created from config if not provided).
	AuditLogger middleware.AuditLogger

	// Logger receives audit records when AuditLogger is not provided.
	Logger *slog.Logger

	// Health (optional, will be created if not provided).
	Health *health.Checker

	// ToolkitRegistry (optional, will be created if not provided).
	ToolkitRegistry *registry.Registry
}

// Option is a functional option for configuring the platform.
type Option func(*Options)

// WithConfig sets the configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithCredentials sets the credential source.
func WithCredentials(src auth.CredentialSource) Option {
	return func(o *Options) {
		o.Credentials = src
	}
}

// WithStrategies replaces the default strategy list.
func WithStrategies(strategies ...auth.Strategy) Option {
	return func(o *Options) {
		o.Strategies = strategies
	}
}

// WithHTTPClient sets the HTTP client used by Salesforce connections.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) {
		o.HTTPClient = c
	}
}

// WithPoller sets the job poller.
func WithPoller(p *jobs.Poller) Option {
	return func(o *Options) {
		o.Poller = p
	}
}

// WithAuditLogger sets the audit logger.
func WithAuditLogger(logger middleware.AuditLogger) Option {
	return func(o *Options) {
		o.AuditLogger = logger
	}
}

// WithLogger sets the slog logger used for audit records.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithHealth sets the readiness checker.
func WithHealth(c *health.Checker) Option {
	return func(o *Options) {
		o.Health = c
	}
}

// WithToolkitRegistry sets the toolkit registry.
func WithToolkitRegistry(reg *registry.Registry) Option {
	return func(o *Options) {
		o.ToolkitRegistry = reg
	}
}
