package platform

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// registerPrompts registers the configured server-level prompts followed by
// any prompt files found in the prompts directory. A file whose name
// matches a configured prompt is skipped.
func (p *Platform) registerPrompts() {
	seen := make(map[string]bool, len(p.config.Server.Prompts))
	for _, promptCfg := range p.config.Server.Prompts {
		seen[promptCfg.Name] = true
		p.registerPrompt(promptCfg)
	}

	fromDir, err := loadPromptDir(p.config.Server.PromptsDir)
	if err != nil {
		slog.Warn("prompts directory not loaded", "dir", p.config.Server.PromptsDir, "error", err)
		return
	}
	for _, promptCfg := range fromDir {
		if seen[promptCfg.Name] {
			continue
		}
		p.registerPrompt(promptCfg)
	}
}

// registerPrompt registers a single prompt with the MCP server.
func (p *Platform) registerPrompt(cfg PromptConfig) {
	content := cfg.Content

	p.mcpServer.AddPrompt(&mcp.Prompt{
		Name:        cfg.Name,
		Description: cfg.Description,
	}, func(_ context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{
			Description: cfg.Description,
			Messages: []*mcp.PromptMessage{
				{
					Role:    "user",
					Content: &mcp.TextContent{Text: content},
				},
			},
		}, nil
	})
}

// loadPromptDir reads every .md and .txt file in dir as a prompt named
// after the file. A missing or empty dir yields no prompts.
func loadPromptDir(dir string) ([]PromptConfig, error) {
	if dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading prompts directory: %w", err)
	}

	var prompts []PromptConfig
	for _, entry := range entries {
		if entry.IsDir() || !isPromptFile(entry.Name()) {
			continue
		}
		// #nosec G304 -- path is constructed from directory listing, not user input
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			slog.Warn("skipping prompt file", "file", entry.Name(), "error", err)
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		prompts = append(prompts, PromptConfig{
			Name:        name,
			Description: firstLine(string(content)),
			Content:     string(content),
		})
	}

	sort.Slice(prompts, func(i, j int) bool { return prompts[i].Name < prompts[j].Name })
	return prompts, nil
}

// isPromptFile checks if a filename is a valid prompt file.
func isPromptFile(name string) bool {
	if strings.ContainsAny(name, "/\\") || name == ".." {
		return false
	}
	return strings.HasSuffix(name, ".txt") || strings.HasSuffix(name, ".md")
}

// firstLine returns the first non-blank line without a leading markdown
// heading marker.
func firstLine(s string) string {
	for line := range strings.SplitSeq(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return strings.TrimSpace(strings.TrimLeft(line, "#"))
	}
	return ""
}
