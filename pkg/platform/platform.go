package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-salesforce/pkg/audit"
	"github.com/txn2/mcp-salesforce/pkg/auth"
	"github.com/txn2/mcp-salesforce/pkg/health"
	"github.com/txn2/mcp-salesforce/pkg/jobs"
	"github.com/txn2/mcp-salesforce/pkg/middleware"
	"github.com/txn2/mcp-salesforce/pkg/registry"
	"github.com/txn2/mcp-salesforce/pkg/router"
	"github.com/txn2/mcp-salesforce/pkg/session"
	sftools "github.com/txn2/mcp-salesforce/pkg/toolkits/salesforce"
)

// ToolkitName is the instance name of the Salesforce toolkit.
const ToolkitName = "default"

// Platform is the server facade: it owns the session, the router, the
// toolkit and the MCP server they are registered on.
type Platform struct {
	config *Config

	mcpServer *mcp.Server
	lifecycle *Lifecycle
	health    *health.Checker

	authManager *auth.Manager
	sessions    *session.Manager
	router      *router.Router

	toolkit         *sftools.Toolkit
	toolkitRegistry *registry.Registry

	auditLogger middleware.AuditLogger
}

// New creates a new platform instance.
func New(opts ...Option) (*Platform, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Config == nil {
		return nil, errors.New("config is required")
	}

	p := &Platform{
		config:    options.Config,
		lifecycle: NewLifecycle(),
	}

	if err := p.initializeComponents(options); err != nil {
		return nil, fmt.Errorf("initializing components: %w", err)
	}

	return p, nil
}

// initializeComponents builds the component graph bottom-up.
func (p *Platform) initializeComponents(opts *Options) error {
	p.initAuth(opts)
	p.initSession()
	p.initRouter(opts)
	p.initAudit(opts)
	if err := p.initToolkit(opts); err != nil {
		return err
	}
	p.finalizeSetup()
	return nil
}

func (p *Platform) initAuth(opts *Options) {
	strategies := opts.Strategies
	if len(strategies) == 0 {
		src := opts.Credentials
		if src == nil {
			src = auth.LoadEnv()
		}
		sf := p.config.Salesforce
		strategies = auth.DefaultStrategies(src, auth.ConnectionSettings{
			APIVersion:     sf.APIVersion,
			Timeout:        sf.Timeout,
			MaxRequestSize: sf.MaxRequestSize,
			MaxRetries:     sf.MaxRetries,
			RateLimit:      sf.RateLimit,
			RateBurst:      sf.RateBurst,
			HTTPClient:     opts.HTTPClient,
		})
	}
	p.authManager = auth.NewManager(strategies...)
}

func (p *Platform) initSession() {
	var sessOpts []session.Option
	if d := p.config.Session.HealthCheckInterval; d > 0 {
		sessOpts = append(sessOpts, session.WithHealthCheckInterval(d))
	}
	p.sessions = session.NewManager(p.authManager, sessOpts...)
	p.lifecycle.OnStop(func(context.Context) error {
		p.sessions.CloseSession()
		return nil
	})
}

func (p *Platform) initRouter(opts *Options) {
	poller := opts.Poller
	if poller == nil {
		poller = jobs.NewPoller()
		if d := p.config.Jobs.PollInterval; d > 0 {
			poller.Interval = d
		}
		if n := p.config.Jobs.MaxPollAttempts; n > 0 {
			poller.MaxAttempts = n
		}
	}
	p.router = router.New(p.sessions, p.config.Routing, router.WithPoller(poller))
}

func (p *Platform) initAudit(opts *Options) {
	switch {
	case opts.AuditLogger != nil:
		p.auditLogger = opts.AuditLogger
	case p.config.Audit.Enabled:
		logger := opts.Logger
		if logger == nil {
			logger = slog.Default()
		}
		p.auditLogger = middleware.NewAuditLoggerAdapter(audit.NewSlogLogger(logger, p.config.Audit))
	default:
		p.auditLogger = &middleware.NoopAuditLogger{}
	}
}

func (p *Platform) initToolkit(opts *Options) error {
	p.health = opts.Health
	if p.health == nil {
		p.health = health.NewChecker()
	}

	names := make([]string, 0, len(p.authManager.Strategies()))
	for _, s := range p.authManager.Strategies() {
		names = append(names, s.Name())
	}
	p.toolkit = sftools.New(ToolkitName, p.config.Toolkit, p.router,
		sftools.WithSessionInfo(p.sessions),
		sftools.WithReadiness(p.health),
		sftools.WithStrategies(names),
	)

	p.toolkitRegistry = opts.ToolkitRegistry
	if p.toolkitRegistry == nil {
		p.toolkitRegistry = registry.NewRegistry()
	}
	if err := p.toolkitRegistry.Register(p.toolkit); err != nil {
		return fmt.Errorf("registering toolkit: %w", err)
	}
	p.lifecycle.RegisterCloser(p.toolkitRegistry)
	return nil
}

// finalizeSetup creates the MCP server, installs the middleware and
// registers tools and prompts.
func (p *Platform) finalizeSetup() {
	p.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    p.config.Server.Name,
		Version: p.config.Server.Version,
	}, &mcp.ServerOptions{
		Instructions: p.config.Server.Instructions,
	})

	// innermost first: audit, then client logging, then the tool-call gate
	p.mcpServer.AddReceivingMiddleware(middleware.MCPAuditMiddleware(p.auditLogger))
	if p.config.ClientLogging.Enabled {
		p.mcpServer.AddReceivingMiddleware(middleware.MCPClientLoggingMiddleware(p.config.ClientLogging))
	}
	p.mcpServer.AddReceivingMiddleware(middleware.MCPToolCallMiddleware(middleware.ToolCallConfig{
		Readiness: p.health,
		Toolkits:  p.toolkitRegistry,
		ReadOnly:  p.config.Toolkit.ReadOnly,
		Transport: "stdio",
	}))

	p.toolkitRegistry.RegisterAllTools(p.mcpServer)
	p.registerPrompts()
}

// Start checks that at least one authentication strategy is configured,
// runs the lifecycle and marks the server ready. A *sferr.ConfigurationError
// is returned when no strategy can run.
func (p *Platform) Start(ctx context.Context) error {
	if err := p.authManager.Configured(); err != nil {
		return err //nolint:wrapcheck // configuration error is reported to the operator as-is
	}

	if err := p.lifecycle.Start(ctx); err != nil {
		return err
	}

	if p.config.Session.ConnectOnStart {
		if sess, err := p.sessions.GetSession(ctx); err != nil {
			slog.Warn("initial connection failed; retrying on first tool call", "error", err)
		} else {
			slog.Info("connected", "strategy", sess.Strategy)
		}
	}

	p.health.SetReady()
	slog.Info("platform ready",
		"tools", len(p.toolkit.Tools()),
		"read_only", p.config.Toolkit.ReadOnly,
		"dml_bulk_threshold", p.config.Routing.DMLBulkThreshold,
		"query_bulk_threshold", p.config.Routing.QueryBulkThreshold,
	)
	return nil
}

// Stop refuses new tool calls and runs the stop callbacks, which discard
// the session.
func (p *Platform) Stop(ctx context.Context) error {
	p.health.SetDraining()
	return p.lifecycle.Stop(ctx)
}

// MCPServer returns the MCP server.
func (p *Platform) MCPServer() *mcp.Server {
	return p.mcpServer
}

// Config returns the platform configuration.
func (p *Platform) Config() *Config {
	return p.config
}

// Sessions returns the session manager.
func (p *Platform) Sessions() *session.Manager {
	return p.sessions
}

// Router returns the operation router.
func (p *Platform) Router() *router.Router {
	return p.router
}

// Health returns the readiness checker.
func (p *Platform) Health() *health.Checker {
	return p.health
}

// ToolkitRegistry returns the toolkit registry.
func (p *Platform) ToolkitRegistry() *registry.Registry {
	return p.toolkitRegistry
}

// closeResource closes a resource and appends any error.
func closeResource(errs *[]error, closer Closer) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		*errs = append(*errs, err)
	}
}

// Close discards the session and closes the audit logger.
func (p *Platform) Close() error {
	var errs []error

	p.sessions.CloseSession()
	if closer, ok := p.auditLogger.(Closer); ok {
		closeResource(&errs, closer)
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing platform: %w", errors.Join(errs...))
	}
	return nil
}
