// Package router maps each adapter operation onto the remote API calls that
// implement it. It chooses between direct, paginated and bulk execution
// paths by payload size, caches describe results and hands long-running
// jobs to the poller.
package router

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/txn2/mcp-salesforce/pkg/jobs"
	"github.com/txn2/mcp-salesforce/pkg/session"
	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

// Default thresholds.
const (
	DefaultDMLBulkThreshold   = 200
	DefaultQueryBulkThreshold = 2000
	DefaultDescribeCacheTTL   = time.Hour
)

// SessionProvider hands out a live session. session.Manager implements it.
type SessionProvider interface {
	GetSession(ctx context.Context) (*session.Session, error)
}

// Config holds the routing thresholds. Values are fixed for the lifetime
// of a Router.
type Config struct {
	// DMLBulkThreshold is the largest record count sent through the
	// standard API; larger payloads go to a bulk ingest job.
	DMLBulkThreshold int `yaml:"dml_bulk_threshold" validate:"gte=1"`

	// QueryBulkThreshold is the largest LIMIT answered with one round
	// trip; queries without a LIMIT or above it are paginated.
	QueryBulkThreshold int `yaml:"query_bulk_threshold" validate:"gte=1"`

	// DescribeCacheTTL bounds how long a describe result is reused.
	DescribeCacheTTL time.Duration `yaml:"describe_cache_ttl"`
}

func (c Config) withDefaults() Config {
	if c.DMLBulkThreshold <= 0 {
		c.DMLBulkThreshold = DefaultDMLBulkThreshold
	}
	if c.QueryBulkThreshold <= 0 {
		c.QueryBulkThreshold = DefaultQueryBulkThreshold
	}
	if c.DescribeCacheTTL <= 0 {
		c.DescribeCacheTTL = DefaultDescribeCacheTTL
	}
	return c
}

// Option configures a Router.
type Option func(*Router)

// WithPoller replaces the job poller.
func WithPoller(p *jobs.Poller) Option {
	return func(r *Router) {
		if p != nil {
			r.poller = p
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// Router executes adapter operations against the session it is given.
type Router struct {
	sessions SessionProvider
	cfg      Config
	poller   *jobs.Poller
	now      func() time.Time

	describeMu    sync.Mutex
	describeCache map[string]cacheEntry
}

// New creates a Router.
func New(sessions SessionProvider, cfg Config, opts ...Option) *Router {
	r := &Router{
		sessions:      sessions,
		cfg:           cfg.withDefaults(),
		poller:        jobs.NewPoller(),
		now:           time.Now,
		describeCache: make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective thresholds.
func (r *Router) Config() Config {
	return r.cfg
}

func (r *Router) session(ctx context.Context) (*session.Session, error) {
	return r.sessions.GetSession(ctx) //nolint:wrapcheck // session errors carry their own taxonomy
}

var apiNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

func validateAPIName(field, name string) error {
	if name == "" {
		return sferr.NewValidationError(field, "is required")
	}
	if !apiNamePattern.MatchString(name) {
		return sferr.NewValidationError(field, "is not a valid API name: "+name)
	}
	return nil
}

// quote renders s as a SOQL string literal.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quote(v)
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}

// field reads a possibly dotted path from a query record.
func field(rec map[string]any, path string) any {
	var cur any = rec
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func stringField(rec map[string]any, path string) string {
	s, _ := field(rec, path).(string)
	return s
}

func intField(rec map[string]any, path string) int {
	switch v := field(rec, path).(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
