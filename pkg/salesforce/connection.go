package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

// Connection defaults.
const (
	DefaultAPIVersion     = "62.0"
	DefaultTimeout        = 120 * time.Second
	DefaultMaxRequestSize = 10 << 20
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = 500 * time.Millisecond
	DefaultRateLimit      = 25.0
	DefaultRateBurst      = 10
	DefaultUserAgent      = "mcp-salesforce"
)

// Config configures a Connection.
type Config struct {
	InstanceURL string
	AccessToken string
	APIVersion  string

	// Timeout bounds a single HTTP round-trip (default: 120s).
	Timeout time.Duration

	// MaxRequestSize rejects request bodies above this many bytes before
	// they are sent. Zero or negative disables the check.
	MaxRequestSize int64

	// MaxRetries for responses the platform marks as transient (429, 503).
	MaxRetries int
	RetryDelay time.Duration

	// RateLimit in requests per second, with RateBurst burst size.
	RateLimit float64
	RateBurst int

	UserAgent string

	// HTTPClient overrides the client built from Timeout. Useful in tests.
	HTTPClient *http.Client

	// Refresher is invoked by Refresh. A connection without one cannot
	// renew its token in place.
	Refresher Refresher
}

// Connection is a live, token-bearing handle to one Salesforce org.
type Connection struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter

	mu          sync.RWMutex
	accessToken string
	instanceURL string
	refreshedAt time.Time

	listenersMu  sync.Mutex
	listeners    map[uint64]Listener
	nextListener uint64
}

var _ API = (*Connection)(nil)

// NewConnection builds a connection from cfg, filling defaults.
func NewConnection(cfg Config) (*Connection, error) {
	if cfg.InstanceURL == "" {
		return nil, errors.New("salesforce: instance URL is required")
	}
	if cfg.AccessToken == "" {
		return nil, errors.New("salesforce: access token is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	cfg.APIVersion = strings.TrimPrefix(cfg.APIVersion, "v")
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRequestSize == 0 {
		cfg.MaxRequestSize = DefaultMaxRequestSize
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = DefaultRateBurst
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Connection{
		cfg:         cfg,
		httpClient:  httpClient,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		accessToken: cfg.AccessToken,
		instanceURL: strings.TrimSuffix(cfg.InstanceURL, "/"),
		refreshedAt: time.Now(),
		listeners:   make(map[uint64]Listener),
	}, nil
}

// Info implements API.
func (c *Connection) Info() ConnectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.infoLocked()
}

func (c *Connection) infoLocked() ConnectionInfo {
	return ConnectionInfo{
		InstanceURL: c.instanceURL,
		APIVersion:  c.cfg.APIVersion,
		RefreshedAt: c.refreshedAt,
	}
}

// AccessToken returns the current bearer token.
func (c *Connection) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

func (c *Connection) credentials() (token, instance string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken, c.instanceURL
}

// Subscribe implements API.
func (c *Connection) Subscribe(l Listener) func() {
	c.listenersMu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = l
	c.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenersMu.Lock()
			delete(c.listeners, id)
			c.listenersMu.Unlock()
		})
	}
}

func (c *Connection) snapshotListeners() []Listener {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	out := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		out = append(out, l)
	}
	return out
}

// Refresh implements API.
func (c *Connection) Refresh(ctx context.Context) error {
	if c.cfg.Refresher == nil {
		return &sferr.ConnectionError{Op: "refresh", Err: errors.New("connection cannot refresh its token")}
	}
	tok, err := c.cfg.Refresher(ctx)
	if err != nil {
		return err
	}
	if tok == nil || tok.AccessToken == "" {
		return &sferr.ConnectionError{Op: "refresh", Err: errors.New("refresh returned no access token")}
	}

	c.mu.Lock()
	c.accessToken = tok.AccessToken
	if tok.InstanceURL != "" {
		c.instanceURL = strings.TrimSuffix(tok.InstanceURL, "/")
	}
	c.refreshedAt = time.Now()
	info := c.infoLocked()
	c.mu.Unlock()

	for _, l := range c.snapshotListeners() {
		if l.OnRefresh != nil {
			l.OnRefresh(info)
		}
	}
	return nil
}

// Identity implements API.
func (c *Connection) Identity(ctx context.Context) (*Identity, error) {
	var out Identity
	if err := c.getJSON(ctx, "identity", "/services/oauth2/userinfo", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// request is a single logical call; it may be sent more than once.
type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	accept      string
	headers     map[string]string
}

type response struct {
	statusCode int
	header     http.Header
	body       []byte
}

func (c *Connection) dataPath(elem ...string) string {
	return "/services/data/v" + c.cfg.APIVersion + "/" + strings.Join(elem, "/")
}

func (c *Connection) toolingPath(elem ...string) string {
	return c.dataPath(append([]string{"tooling"}, elem...)...)
}

func (c *Connection) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	resp, err := c.do(ctx, &request{op: op, method: http.MethodGet, path: path, query: query})
	if err != nil {
		return err
	}
	return decodeJSON(op, resp.body, out)
}

func (c *Connection) sendJSON(ctx context.Context, op, method, path string, in, out any) (*response, error) {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
	}
	resp, err := c.do(ctx, &request{op: op, method: method, path: path, body: body, contentType: "application/json"})
	if err != nil {
		return nil, err
	}
	if out != nil {
		if err := decodeJSON(op, resp.body, out); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func decodeJSON(op string, body []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// do sends req with rate limiting and retries transient rejections.
func (c *Connection) do(ctx context.Context, req *request) (*response, error) {
	if c.cfg.MaxRequestSize > 0 && int64(len(req.body)) > c.cfg.MaxRequestSize {
		return nil, sferr.NewValidationError("request",
			fmt.Sprintf("%s payload is %d bytes, above the %d byte limit", req.op, len(req.body), c.cfg.MaxRequestSize))
	}

	backoff := retry.WithMaxRetries(uint64(c.cfg.MaxRetries), retry.NewExponential(c.cfg.RetryDelay)) //nolint:gosec // MaxRetries is non-negative
	var resp *response
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limiter: %w", req.op, err)
		}
		r, err := c.doOnce(ctx, req)
		if err != nil {
			if isTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		c.reportError(ctx, err)
		return nil, err
	}
	return resp, nil
}

func (c *Connection) doOnce(ctx context.Context, req *request) (*response, error) {
	token, instance := c.credentials()

	target := req.path
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = instance + "/" + strings.TrimPrefix(target, "/")
	}
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", req.op, err)
	}

	accept := req.accept
	if accept == "" {
		accept = "application/json"
	}
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", accept)
	if req.body != nil {
		contentType := req.contentType
		if contentType == "" {
			contentType = "application/json"
		}
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &sferr.ConnectionError{Op: req.op, Err: err}
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &sferr.ConnectionError{Op: req.op, Err: fmt.Errorf("read response: %w", err)}
	}

	if httpResp.StatusCode >= http.StatusBadRequest {
		return nil, parseRemoteError(req.op, httpResp.StatusCode, data)
	}

	return &response{statusCode: httpResp.StatusCode, header: httpResp.Header, body: data}, nil
}

// reportError notifies listeners about errors that make the session
// unusable: stale tokens and transport failures.
func (c *Connection) reportError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	var connErr *sferr.ConnectionError
	if !IsStaleToken(err) && !errors.As(err, &connErr) {
		return
	}
	for _, l := range c.snapshotListeners() {
		if l.OnError != nil {
			l.OnError(err)
		}
	}
}
