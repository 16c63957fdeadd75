// Package platform wires the Salesforce session, router and tools into an
// MCP server and manages their lifecycle.
package platform

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/txn2/mcp-salesforce/pkg/audit"
	"github.com/txn2/mcp-salesforce/pkg/middleware"
	"github.com/txn2/mcp-salesforce/pkg/router"
	"github.com/txn2/mcp-salesforce/pkg/salesforce"
	sftools "github.com/txn2/mcp-salesforce/pkg/toolkits/salesforce"
)

// CurrentConfigVersion is the config API version this build reads.
const CurrentConfigVersion = "v1"

// Environment variables that override configuration. Credentials are read
// separately by the auth package.
const (
	EnvAPIVersion         = "SALESFORCE_API_VERSION"
	EnvTimeout            = "SALESFORCE_TIMEOUT"
	EnvMaxRequestSize     = "SALESFORCE_MAX_REQUEST_SIZE"
	EnvDMLBulkThreshold   = "SALESFORCE_DML_BULK_THRESHOLD"
	EnvQueryBulkThreshold = "SALESFORCE_QUERY_BULK_THRESHOLD"
	EnvReadOnly           = "SALESFORCE_READ_ONLY"
	EnvLogLevel           = "MCP_SALESFORCE_LOG_LEVEL"
)

// DefaultServerName is the MCP implementation name.
const DefaultServerName = "mcp-salesforce"

// Config holds the complete server configuration.
type Config struct {
	APIVersion    string                         `yaml:"apiVersion"`
	Server        ServerConfig                   `yaml:"server"`
	Salesforce    SalesforceConfig               `yaml:"salesforce"`
	Routing       router.Config                  `yaml:"routing"`
	Session       SessionConfig                  `yaml:"session"`
	Jobs          JobsConfig                     `yaml:"jobs"`
	Toolkit       sftools.Config                 `yaml:"toolkit"`
	Audit         audit.Config                   `yaml:"audit"`
	ClientLogging middleware.ClientLoggingConfig `yaml:"client_logging"`
	LogLevel      string                         `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Name         string         `yaml:"name" validate:"required"`
	Version      string         `yaml:"version"`
	Instructions string         `yaml:"instructions"`
	Prompts      []PromptConfig `yaml:"prompts" validate:"dive"`
	// PromptsDir holds additional prompts, one .md or .txt file each.
	PromptsDir string `yaml:"prompts_dir"`
}

// PromptConfig defines a server-level MCP prompt.
type PromptConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description"`
	Content     string `yaml:"content" validate:"required"`
}

// SalesforceConfig tunes the REST connection opened by every strategy.
type SalesforceConfig struct {
	APIVersion     string        `yaml:"api_version" validate:"omitempty,apiversion"`
	Timeout        time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxRequestSize int64         `yaml:"max_request_size" validate:"gte=0"`
	MaxRetries     int           `yaml:"max_retries" validate:"gte=0"`
	RateLimit      float64       `yaml:"rate_limit" validate:"gte=0"`
	RateBurst      int           `yaml:"rate_burst" validate:"gte=0"`
}

// SessionConfig configures the session manager.
type SessionConfig struct {
	HealthCheckInterval time.Duration `yaml:"health_check_interval" validate:"gte=0"`
	// ConnectOnStart authenticates during startup instead of on the first
	// tool call. A failure is logged and retried lazily.
	ConnectOnStart bool `yaml:"connect_on_start"`
}

// JobsConfig configures the async job poller.
type JobsConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval" validate:"gte=0"`
	MaxPollAttempts int           `yaml:"max_poll_attempts" validate:"gte=0"`
}

var apiVersionPattern = regexp.MustCompile(`^v?\d+\.\d$`)

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by the administrator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration, expanding ${VAR} references and
// applying defaults.
func ParseConfig(data []byte) (*Config, error) {
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.APIVersion != "" && cfg.APIVersion != CurrentConfigVersion {
		return nil, fmt.Errorf("unsupported config apiVersion %q; supported versions: %s", cfg.APIVersion, CurrentConfigVersion)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.APIVersion == "" {
		cfg.APIVersion = CurrentConfigVersion
	}
	if cfg.Server.Name == "" {
		cfg.Server.Name = DefaultServerName
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = "dev"
	}
	if cfg.Salesforce.APIVersion == "" {
		cfg.Salesforce.APIVersion = salesforce.DefaultAPIVersion
	}
	if cfg.Salesforce.Timeout == 0 {
		cfg.Salesforce.Timeout = salesforce.DefaultTimeout
	}
	if cfg.Salesforce.MaxRequestSize == 0 {
		cfg.Salesforce.MaxRequestSize = salesforce.DefaultMaxRequestSize
	}
	if cfg.Routing.DMLBulkThreshold == 0 {
		cfg.Routing.DMLBulkThreshold = router.DefaultDMLBulkThreshold
	}
	if cfg.Routing.QueryBulkThreshold == 0 {
		cfg.Routing.QueryBulkThreshold = router.DefaultQueryBulkThreshold
	}
	if cfg.Routing.DescribeCacheTTL == 0 {
		cfg.Routing.DescribeCacheTTL = router.DefaultDescribeCacheTTL
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// ApplyEnv overrides configuration from environment variables read through
// getenv. Unset variables leave the configured value alone.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	get := func(key string) string { return strings.TrimSpace(getenv(key)) }
	var errs []error

	if v := get(EnvAPIVersion); v != "" {
		c.Salesforce.APIVersion = v
	}
	if v := get(EnvTimeout); v != "" {
		d, err := parseTimeout(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvTimeout, err))
		} else {
			c.Salesforce.Timeout = d
		}
	}
	if v := get(EnvMaxRequestSize); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvMaxRequestSize, err))
		} else {
			c.Salesforce.MaxRequestSize = n
		}
	}
	if v := get(EnvDMLBulkThreshold); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvDMLBulkThreshold, err))
		} else {
			c.Routing.DMLBulkThreshold = n
		}
	}
	if v := get(EnvQueryBulkThreshold); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvQueryBulkThreshold, err))
		} else {
			c.Routing.QueryBulkThreshold = n
		}
	}
	if v := get(EnvReadOnly); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvReadOnly, err))
		} else {
			c.Toolkit.ReadOnly = b
		}
	}
	if v := get(EnvLogLevel); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	return errors.Join(errs...)
}

// parseTimeout accepts a Go duration ("90s", "2m") or a bare number of
// seconds.
func parseTimeout(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative timeout %q", v)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", v, err)
	}
	return d, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("apiversion", func(fl validator.FieldLevel) bool {
		return apiVersionPattern.MatchString(fl.Field().String())
	})

	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config validation: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("config validation errors: %s", strings.Join(msgs, "; "))
	}
	return nil
}
