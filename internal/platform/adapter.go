// Package platform implements the Platform Adapter of spec.md §4.5:
// bounded, rate-aware, cache-aware transport to the code-review platform,
// over three surfaces — a REST write/read API (google/go-github), a
// GraphQL bulk-query API (shurcooL/githubv4), and raw-file fetch over
// plain HTTPS.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-github/v66/github"
	"github.com/redis/go-redis/v9"
	"github.com/shurcooL/githubv4"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"

	"github.com/sethvargo/go-retry"

	"github.com/ciqueue/runner/contracts"
)

// Config configures an Adapter.
type Config struct {
	Token        string
	MaxRetries   uint64
	RetryDelay   time.Duration
	CacheTTL     time.Duration
	HTTPClient   *http.Client // for raw-file fetch; defaults to http.DefaultClient
}

// Adapter implements contracts.PlatformAdapter.
type Adapter struct {
	rest    *github.Client
	graphql *githubv4.Client
	http    *http.Client

	cache   responseCache
	rest429 *resourceLimiter
	gql429  *resourceLimiter
	breaker *gobreaker.CircuitBreaker

	retryAttempts uint64
	retryDelay    time.Duration

	clock func() time.Time
	log   logr.Logger
}

// New builds an Adapter. cache may be nil, in which case an in-process
// cache is used — callers construct a redis-backed cache via NewRedisCache
// when config.Redis.Addr is set.
func New(cfg Config, cache responseCache, log logr.Logger) *Adapter {
	rest429 := newResourceLimiter()
	gql429 := newResourceLimiter()

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	httpClient := oauth2.NewClient(context.Background(), src)
	httpClient.Transport = &rateLimitTransport{
		base:  httpClient.Transport,
		rest:  rest429,
		gql:   gql429,
		clock: time.Now,
		log:   func(err error) { log.Error(err, "rate limit observation failed") },
	}

	if cache == nil {
		cache = newInProcessCache()
	}

	rawClient := cfg.HTTPClient
	if rawClient == nil {
		rawClient = http.DefaultClient
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "platform-adapter",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = time.Second
	}

	return &Adapter{
		rest:          github.NewClient(httpClient),
		graphql:       githubv4.NewClient(httpClient),
		http:          rawClient,
		cache:         cache,
		rest429:       rest429,
		gql429:        gql429,
		breaker:       breaker,
		retryAttempts: maxRetries,
		retryDelay:    retryDelay,
		clock:         time.Now,
		log:           log,
	}
}

// NewRedisCache constructs the redis-backed responseCache used by New. Pass
// its result as Adapter's cache argument when config.Redis.Addr is set;
// pass nil to fall back to an in-process cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) responseCache {
	return newRedisCache(client, ttl)
}

// withRetry runs fn, retrying transient failures (connection errors, 5xx)
// up to the configured attempt count with a fixed delay, and trips the
// circuit breaker across calls so a persistently failing platform stops
// accepting new attempts until its cooldown elapses (spec.md §4.5 retry
// policy + SPEC_FULL.md's circuit-breaking addition).
func (a *Adapter) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := a.breaker.Execute(func() (any, error) {
		return nil, retry.Do(ctx, retry.WithMaxRetries(a.retryAttempts, retry.NewConstant(a.retryDelay)), func(ctx context.Context) error {
			err := fn(ctx)
			if err == nil {
				return nil
			}
			if isTransient(err) {
				return retry.RetryableError(fmt.Errorf("%w: %v", contracts.ErrTransientPlatform, err))
			}
			return fmt.Errorf("%w: %v", contracts.ErrPlatformRejected, err)
		})
	})
	return err
}

func isTransient(err error) bool {
	var ghErr *github.ErrorResponse
	if errOK := asGitHubError(err, &ghErr); errOK {
		return ghErr.Response != nil && ghErr.Response.StatusCode >= 500
	}
	// Connection errors (no structured GitHub response) are transient.
	return true
}

func asGitHubError(err error, target **github.ErrorResponse) bool {
	ge, ok := err.(*github.ErrorResponse)
	if !ok {
		return false
	}
	*target = ge
	return true
}

// GetPullRequests fetches open PRs for (owner, repo) in bulk via GraphQL,
// including each PR's head commit statuses and labels in the same
// round-trip (spec.md §4.5).
func (a *Adapter) GetPullRequests(ctx context.Context, owner, repo string) ([]contracts.PullRequest, error) {
	if err := a.gql429.wait(ctx); err != nil {
		return nil, err
	}

	var query pullRequestsQuery
	variables := map[string]any{
		"owner": githubv4.String(owner),
		"name":  githubv4.String(repo),
	}

	err := a.withRetry(ctx, func(ctx context.Context) error {
		return a.graphql.Query(ctx, &query, variables)
	})
	if err != nil {
		return nil, fmt.Errorf("GetPullRequests(%s/%s): %w", owner, repo, err)
	}

	return query.toPullRequests(), nil
}

// GetStatus reads the most recent status for (sha, context) via the REST
// API. Every call is a conditional GET against the ETag cache: a matching
// If-None-Match lets the platform answer 304 Not Modified, which costs no
// rate budget and is served from the cached list (spec.md §4.5).
func (a *Adapter) GetStatus(ctx context.Context, owner, repo string, sha contracts.SHA, c contracts.Context) (contracts.Status, error) {
	if err := a.rest429.wait(ctx); err != nil {
		return contracts.Status{}, err
	}

	key := statusesCacheKey(owner, repo, sha)
	etag, cachedBody, hasCache := a.cache.Get(ctx, key)

	var statuses []*github.RepoStatus
	notModified := false
	err := a.withRetry(ctx, func(ctx context.Context) error {
		notModified = false
		url := fmt.Sprintf("repos/%s/%s/commits/%s/statuses", owner, repo, sha)
		req, reqErr := a.rest.NewRequest(http.MethodGet, url, nil)
		if reqErr != nil {
			return reqErr
		}
		if hasCache {
			req.Header.Set("If-None-Match", etag)
		}

		resp, doErr := a.rest.Do(ctx, req, &statuses)
		if resp != nil && resp.StatusCode == http.StatusNotModified {
			notModified = true
			return nil
		}
		if doErr != nil {
			return doErr
		}
		a.cache.Set(ctx, key, resp.Header.Get("ETag"), mustMarshalStatuses(statuses))
		return nil
	})
	if err != nil {
		return contracts.Status{}, fmt.Errorf("GetStatus(%s, %s): %w", sha, c, err)
	}

	if notModified {
		if !hasCache {
			return contracts.Status{}, contracts.ErrNotFound
		}
		if unmarshalErr := json.Unmarshal(cachedBody, &statuses); unmarshalErr != nil {
			return contracts.Status{}, fmt.Errorf("GetStatus(%s, %s): decoding cached statuses: %w", sha, c, unmarshalErr)
		}
	}

	for _, s := range statuses {
		if s.GetContext() == string(c) {
			state, _ := contracts.StateFromString(strings.ToUpper(s.GetState()))
			return contracts.Status{Context: c, State: state, Description: s.GetDescription(), TargetURL: s.GetTargetURL()}, nil
		}
	}
	return contracts.Status{}, contracts.ErrNotFound
}

func mustMarshalStatuses(statuses []*github.RepoStatus) []byte {
	body, err := json.Marshal(statuses)
	if err != nil {
		return nil
	}
	return body
}

// CreateStatus writes a new status via the REST API, and evicts any cached
// statuses list for the commit so the next GetStatus observes the write
// (spec.md §4.5 cache-invalidation-on-write).
func (a *Adapter) CreateStatus(ctx context.Context, owner, repo string, sha contracts.SHA, s contracts.Status) error {
	if err := a.rest429.wait(ctx); err != nil {
		return err
	}

	status := &github.RepoStatus{
		State:       github.String(string(s.State)),
		Description: github.String(s.Description),
		Context:     github.String(string(s.Context)),
		TargetURL:   github.String(s.TargetURL),
	}

	err := a.withRetry(ctx, func(ctx context.Context) error {
		_, _, err := a.rest.Repositories.CreateStatus(ctx, owner, repo, string(sha), status)
		return err
	})
	if err != nil {
		return fmt.Errorf("CreateStatus(%s, %s): %w", sha, s.Context, err)
	}

	a.cache.Evict(ctx, statusesCacheKey(owner, repo, sha))
	return nil
}

// AddLabel adds a label to a PR via the REST issues API.
func (a *Adapter) AddLabel(ctx context.Context, owner, repo string, pr contracts.PRNumber, l contracts.Label) error {
	if err := a.rest429.wait(ctx); err != nil {
		return err
	}
	return a.withRetry(ctx, func(ctx context.Context) error {
		_, _, err := a.rest.Issues.AddLabelsToIssue(ctx, owner, repo, int(pr), []string{string(l)})
		return err
	})
}

// RemoveLabel removes a label from a PR via the REST issues API.
func (a *Adapter) RemoveLabel(ctx context.Context, owner, repo string, pr contracts.PRNumber, l contracts.Label) error {
	if err := a.rest429.wait(ctx); err != nil {
		return err
	}
	return a.withRetry(ctx, func(ctx context.Context) error {
		_, err := a.rest.Issues.RemoveLabelForIssue(ctx, owner, repo, int(pr), string(l))
		return err
	})
}

// FetchFile retrieves a file's raw content at a given ref over plain HTTPS,
// using the ETag cache the same way GetStatus does.
func (a *Adapter) FetchFile(ctx context.Context, owner, repo, ref, path string) ([]byte, error) {
	url := fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", owner, repo, ref, path)

	if etag, body, ok := a.cache.Get(ctx, url); ok {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("If-None-Match", etag)
		req.Header.Set("Cache-Control", "no-cache")
		resp, err := a.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", contracts.ErrTransientPlatform, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotModified {
			return body, nil
		}
		return a.storeAndReturn(ctx, url, resp)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrTransientPlatform, err)
	}
	defer resp.Body.Close()
	return a.storeAndReturn(ctx, url, resp)
}

func (a *Adapter) storeAndReturn(ctx context.Context, url string, resp *http.Response) ([]byte, error) {
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d: %w", url, resp.StatusCode, contracts.ErrNotFound)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	a.cache.Set(ctx, url, resp.Header.Get("ETag"), body)
	return bytes.Clone(body), nil
}

// RateLimit reports the platform's current rate-limit state for a
// resource ("core" or "graphql"), for operator-facing introspection (e.g. a
// future /metrics gauge). It also feeds the observed state back into the
// resource's limiter, but this is not how the limiter stays tuned in normal
// operation — every response on the shared transport (rateLimitTransport)
// already does that for both REST and GraphQL traffic.
func (a *Adapter) RateLimit(ctx context.Context, resource string) (contracts.RateLimitInfo, error) {
	limits, _, err := a.rest.RateLimit.Get(ctx)
	if err != nil {
		return contracts.RateLimitInfo{}, fmt.Errorf("%w: %v", contracts.ErrTransientPlatform, err)
	}

	var rate *github.Rate
	switch resource {
	case "graphql":
		rate = limits.GraphQL
	default:
		rate = limits.Core
	}
	info := contracts.RateLimitInfo{Limit: rate.Limit, Remaining: rate.Remaining, ResetAt: rate.Reset.Time}

	limiter := a.rest429
	if resource == "graphql" {
		limiter = a.gql429
	}
	if err := limiter.observe(ctx, info, a.clock); err != nil {
		return info, err
	}
	return info, nil
}

func statusesCacheKey(owner, repo string, sha contracts.SHA) string {
	return fmt.Sprintf("statuses:%s/%s@%s", owner, repo, sha)
}
