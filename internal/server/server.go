// Package server builds and runs the MCP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-salesforce/pkg/platform"
)

// Version is set at build time.
var Version = "dev"

// LoadConfig reads the configuration file at path, or the defaults when
// path is empty, applies environment overrides and validates the result.
func LoadConfig(path string, getenv func(string) string) (*platform.Config, error) {
	cfg := platform.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = platform.LoadConfig(path); err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}
	if cfg.Server.Version == "dev" {
		cfg.Server.Version = Version
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err //nolint:wrapcheck // validation errors already name the config
	}
	return cfg, nil
}

// New creates the platform for cfg.
func New(cfg *platform.Config, opts ...platform.Option) (*mcp.Server, *platform.Platform, error) {
	p, err := platform.New(append([]platform.Option{platform.WithConfig(cfg)}, opts...)...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating platform: %w", err)
	}
	return p.MCPServer(), p, nil
}

// Run starts p, serves the MCP protocol on transport until ctx is
// cancelled or the client disconnects, then drains and stops p. A
// cancelled context is a clean shutdown.
func Run(ctx context.Context, p *platform.Platform, transport mcp.Transport) error {
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("starting platform: %w", err)
	}

	serveErr := p.MCPServer().Run(ctx, transport)
	if errors.Is(serveErr, context.Canceled) || ctx.Err() != nil {
		serveErr = nil
	}

	// the run context is already cancelled on interrupt
	stopErr := p.Stop(context.WithoutCancel(ctx))
	slog.Info("server stopped")

	if serveErr != nil {
		return fmt.Errorf("serving: %w", serveErr)
	}
	return stopErr
}

// ParseLevel maps a configured level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}
