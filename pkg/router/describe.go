package router

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/txn2/mcp-salesforce/pkg/salesforce"
	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

type cacheEntry struct {
	result    *salesforce.DescribeResult
	fetchedAt time.Time
}

// DescribeResult is an object's schema and where it came from.
type DescribeResult struct {
	*salesforce.DescribeResult
	Cached    bool      `json:"cached"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Describe returns the schema of object, reusing a cached copy younger than
// the configured TTL. Object names are matched case-insensitively.
func (r *Router) Describe(ctx context.Context, object string) (*DescribeResult, error) {
	if err := validateAPIName("object", object); err != nil {
		return nil, err
	}
	key := strings.ToLower(object)
	now := r.now()

	r.describeMu.Lock()
	entry, ok := r.describeCache[key]
	r.describeMu.Unlock()
	if ok && now.Sub(entry.fetchedAt) < r.cfg.DescribeCacheTTL {
		slog.Debug("describe cache hit", "object", object)
		return &DescribeResult{DescribeResult: entry.result, Cached: true, FetchedAt: entry.fetchedAt}, nil
	}

	sess, err := r.session(ctx)
	if err != nil {
		return nil, err
	}
	desc, err := sess.API.Describe(ctx, object)
	if err != nil {
		return nil, err //nolint:wrapcheck // remote errors are reported verbatim
	}

	r.describeMu.Lock()
	r.describeCache[key] = cacheEntry{result: desc, fetchedAt: now}
	r.describeMu.Unlock()

	return &DescribeResult{DescribeResult: desc, FetchedAt: now}, nil
}

// ClearDescribeCache drops one cached object, or every object when object is
// empty. It returns the number of entries removed.
func (r *Router) ClearDescribeCache(object string) int {
	r.describeMu.Lock()
	defer r.describeMu.Unlock()

	if object == "" {
		n := len(r.describeCache)
		clear(r.describeCache)
		return n
	}
	key := strings.ToLower(object)
	if _, ok := r.describeCache[key]; !ok {
		return 0
	}
	delete(r.describeCache, key)
	return 1
}

// CachedObjects lists the objects currently held in the describe cache.
func (r *Router) CachedObjects() []string {
	r.describeMu.Lock()
	defer r.describeMu.Unlock()

	names := make([]string, 0, len(r.describeCache))
	for _, e := range r.describeCache {
		names = append(names, e.result.Name)
	}
	sort.Strings(names)
	return names
}

// ListObjectsRequest filters the global object list.
type ListObjectsRequest struct {
	// Pattern is a case-insensitive substring of the name or label.
	Pattern    string
	CustomOnly bool
}

// ListObjectsResult is the filtered global object list.
type ListObjectsResult struct {
	Objects []salesforce.GlobalObject `json:"objects"`
	Count   int                       `json:"count"`
}

// ListObjects describes every object in the org and filters the list.
func (r *Router) ListObjects(ctx context.Context, req ListObjectsRequest) (*ListObjectsResult, error) {
	sess, err := r.session(ctx)
	if err != nil {
		return nil, err
	}
	global, err := sess.API.DescribeGlobal(ctx)
	if err != nil {
		return nil, err //nolint:wrapcheck // remote errors are reported verbatim
	}
	if global == nil {
		return nil, &sferr.RemoteOperationError{Operation: "describe_global", Message: "empty response"}
	}

	pattern := strings.ToLower(strings.TrimSpace(req.Pattern))
	out := make([]salesforce.GlobalObject, 0, len(global.SObjects))
	for _, o := range global.SObjects {
		if req.CustomOnly && !o.Custom {
			continue
		}
		if pattern != "" &&
			!strings.Contains(strings.ToLower(o.Name), pattern) &&
			!strings.Contains(strings.ToLower(o.Label), pattern) {
			continue
		}
		out = append(out, o)
	}
	return &ListObjectsResult{Objects: out, Count: len(out)}, nil
}
