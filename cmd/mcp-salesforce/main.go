// Package main provides the entry point for the mcp-salesforce server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	mcpserver "github.com/txn2/mcp-salesforce/internal/server"
	"github.com/txn2/mcp-salesforce/pkg/auth"
	"github.com/txn2/mcp-salesforce/pkg/platform"
)

func main() {
	if err := run(os.Args[1:], os.Getenv, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	showVersion bool
}

func parseFlags(args []string) (serverOptions, error) {
	opts := serverOptions{}
	fs := flag.NewFlagSet("mcp-salesforce", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file (optional)")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, fmt.Errorf("parsing flags: %w", err)
	}
	return opts, nil
}

// setupLogging installs a JSON handler on stderr; stdout carries the protocol.
func setupLogging(w io.Writer, levelName string) (*slog.Logger, error) {
	level, err := mcpserver.ParseLevel(levelName)
	if err != nil {
		return nil, err //nolint:wrapcheck // already describes the bad level
	}
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, nil
}

func run(args []string, getenv func(string) string, stderr io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	if opts.showVersion {
		fmt.Printf("mcp-salesforce version %s\n", mcpserver.Version)
		return nil
	}

	cfg, err := mcpserver.LoadConfig(opts.configPath, getenv)
	if err != nil {
		return err //nolint:wrapcheck // config errors are reported as-is
	}

	logger, err := setupLogging(stderr, cfg.LogLevel)
	if err != nil {
		return err
	}

	_, p, err := mcpserver.New(cfg,
		platform.WithCredentials(auth.NewEnvSource(getenv)),
		platform.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer func() { _ = p.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting mcp-salesforce", "version", mcpserver.Version, "transport", "stdio")
	return mcpserver.Run(ctx, p, &mcp.StdioTransport{}) //nolint:wrapcheck // Run wraps its own errors
}
