package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-github/v66/github"
	"github.com/stretchr/testify/require"

	"github.com/ciqueue/runner/contracts"
)

func TestIsTransient_ServerErrorIsTransient(t *testing.T) {
	err := &github.ErrorResponse{Response: &http.Response{StatusCode: http.StatusBadGateway}}
	require.True(t, isTransient(err))
}

func TestIsTransient_ClientErrorIsNotTransient(t *testing.T) {
	err := &github.ErrorResponse{Response: &http.Response{StatusCode: http.StatusUnprocessableEntity}}
	require.False(t, isTransient(err))
}

func TestIsTransient_ConnectionErrorIsTransient(t *testing.T) {
	require.True(t, isTransient(errors.New("dial tcp: connection refused")))
}

// statusPayload mirrors the subset of github.RepoStatus fields the test
// server needs to round-trip.
type statusPayload struct {
	Context     string `json:"context"`
	State       string `json:"state"`
	Description string `json:"description"`
}

func TestGetStatus_ConditionalGETServesCachedBodyOn304(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widget/commits/sha1/statuses", func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "no-cache", r.Header.Get("Cache-Control"), "expected Cache-Control: no-cache on every GET")
		if r.Header.Get("If-None-Match") == `"etag-1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"etag-1"`)
		body, _ := json.Marshal([]statusPayload{{Context: "fedora/build", State: "pending", Description: "unassigned"}})
		w.Write(body)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := New(Config{Token: "t"}, nil, logr.Discard())
	httpClient := srv.Client()
	httpClient.Transport = &rateLimitTransport{base: httpClient.Transport, rest: a.rest429, gql: a.gql429, clock: time.Now}
	client := github.NewClient(httpClient)
	baseURL, _ := client.BaseURL.Parse(srv.URL + "/")
	client.BaseURL = baseURL
	a.rest = client

	ctx := context.Background()
	_, err := a.GetStatus(ctx, "acme", "widget", "sha1", "fedora/build")
	require.NoError(t, err, "first GetStatus")

	st, err := a.GetStatus(ctx, "acme", "widget", "sha1", "fedora/build")
	require.NoError(t, err, "second GetStatus")
	require.Equal(t, contracts.StatePending, st.State, "expected state served from cache")
	require.Equal(t, 2, calls, "expected two round-trips (first populates cache, second gets 304)")
}

func TestRateLimitTransport_ObservesHeadersOnEveryResponse(t *testing.T) {
	reset := time.Now().Add(time.Minute).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "4000")
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", reset))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rest := newResourceLimiter()
	gql := newResourceLimiter()
	transport := &rateLimitTransport{base: http.DefaultTransport, rest: rest, gql: gql, clock: time.Now}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Empty(t, req.Header.Get("Cache-Control"), "RoundTrip must not mutate the caller's original request")

	// Remaining (4000) is above ephemeralFloor, so observe retunes the REST
	// limiter to about 4000/60s ≈ 67/s, away from the seeded 1/s, without
	// touching the GraphQL one.
	require.NotEqual(t, gql.limiter.Limit(), rest.limiter.Limit(), "expected rate observation to retune only the matched resource's limiter")
}
