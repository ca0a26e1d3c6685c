package platform

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ciqueue/runner/contracts"
)

// ephemeralFloor is the remaining-requests threshold below which the
// adapter pre-emptively sleeps until reset, treating the budget as
// exhausted before making the call that would hit zero (spec.md §4.5).
const ephemeralFloor = 60

// resourceLimiter tracks one platform resource's (REST or GraphQL) rate
// limit state and blocks callers when the budget is low or exhausted.
type resourceLimiter struct {
	limiter *rate.Limiter
}

// newResourceLimiter builds a limiter seeded with a generous steady-state
// rate; observed RateLimit responses retune it via observe.
func newResourceLimiter() *resourceLimiter {
	return &resourceLimiter{limiter: rate.NewLimiter(rate.Every(time.Second), 5)}
}

// wait blocks until a token is available or ctx is cancelled.
func (r *resourceLimiter) wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// observe updates the limiter from the platform's self-reported rate-limit
// headers, and blocks the caller until reset if the budget is already
// exhausted or below the ephemeral floor.
func (r *resourceLimiter) observe(ctx context.Context, info contracts.RateLimitInfo, clock func() time.Time) error {
	if info.Remaining == 0 || info.Remaining < ephemeralFloor {
		sleep := info.ResetAt.Sub(clock())
		if sleep > 0 {
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if info.Limit > 0 {
		windowSeconds := max(info.ResetAt.Sub(clock()).Seconds(), 1)
		r.limiter.SetLimit(rate.Limit(float64(info.Remaining) / windowSeconds))
	}
	return nil
}

// rateLimitTransport wraps an http.RoundTripper and retunes the adapter's
// resourceLimiters from the live X-RateLimit-* headers on every response,
// REST and GraphQL alike — both go-github and githubv4 issue plain HTTP
// requests over this transport, so this is the one place that sees every
// response regardless of which client surface made the call.
type rateLimitTransport struct {
	base  http.RoundTripper
	rest  *resourceLimiter
	gql   *resourceLimiter
	clock func() time.Time
	log   func(err error)
}

func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodGet {
		// RoundTripper implementations must not mutate the request they are
		// given, so set the header on a shallow clone.
		req = req.Clone(req.Context())
		req.Header.Set("Cache-Control", "no-cache")
	}

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	info, ok := parseRateLimitHeaders(resp.Header)
	if !ok {
		return resp, nil
	}

	limiter := t.rest
	if strings.Contains(req.URL.Path, "/graphql") {
		limiter = t.gql
	}
	if observeErr := limiter.observe(req.Context(), info, t.clock); observeErr != nil && t.log != nil {
		t.log(observeErr)
	}
	return resp, nil
}

func parseRateLimitHeaders(h http.Header) (contracts.RateLimitInfo, bool) {
	limit, limitOK := parseHeaderInt(h, "X-RateLimit-Limit")
	remaining, remainingOK := parseHeaderInt(h, "X-RateLimit-Remaining")
	reset, resetOK := parseHeaderInt(h, "X-RateLimit-Reset")
	if !limitOK || !remainingOK || !resetOK {
		return contracts.RateLimitInfo{}, false
	}
	return contracts.RateLimitInfo{
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   time.Unix(int64(reset), 0),
	}, true
}

func parseHeaderInt(h http.Header, key string) (int, bool) {
	v := h.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
