package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

func newFakeCSE(t *testing.T, handler http.HandlerFunc) *GoogleSource {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	src, err := NewGoogleSource(context.Background(), "test-key", "test-cx",
		option.WithEndpoint(server.URL),
		option.WithHTTPClient(server.Client()),
	)
	require.NoError(t, err)
	return src
}

func TestSearchAssignsRankScores(t *testing.T) {
	src := newFakeCSE(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "acme corp news 2026", r.URL.Query().Get("q"))
		assert.Equal(t, "test-cx", r.URL.Query().Get("cx"))

		resp := customsearch.Search{Items: []*customsearch.Result{
			{Link: "https://example.com/a", Title: "A", Snippet: "first"},
			{Link: "https://example.com/b", Title: "B", Snippet: "second"},
			{Link: ""}, // missing link is skipped
			{Link: "https://example.com/c", Title: "C", Snippet: "fourth"},
		}}
		_ = json.NewEncoder(w).Encode(resp)
	})

	results, err := src.Search(context.Background(), "acme corp news 2026", 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 1.0, results[0].Score)
	assert.Equal(t, 0.75, results[1].Score)
	assert.Equal(t, 0.25, results[2].Score, "rank score counts skipped entries")
	assert.Equal(t, "https://example.com/a", results[0].URL)
}

func TestSearchServerError(t *testing.T) {
	src := newFakeCSE(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":503,"message":"backend"}}`, http.StatusServiceUnavailable)
	})

	_, err := src.Search(context.Background(), "acme corp news 2026", 10)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestDiscoverWebsite(t *testing.T) {
	src := newFakeCSE(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Acme Corp official website", r.URL.Query().Get("q"))
		resp := customsearch.Search{Items: []*customsearch.Result{
			{Link: "https://acme.example.com"},
		}}
		_ = json.NewEncoder(w).Encode(resp)
	})

	url, err := src.DiscoverWebsite(context.Background(), "Acme Corp")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.example.com", url)
}

func TestRankScore(t *testing.T) {
	tests := []struct {
		name     string
		rank     int
		total    int
		expected float64
	}{
		{"First of ten", 0, 10, 1.0},
		{"Last of ten", 9, 10, 0.1},
		{"Middle of four", 1, 4, 0.75},
		{"Out of range", 5, 5, 0},
		{"Empty result set", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, RankScore(tt.rank, tt.total), 1e-9)
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"Rate limited", &googleapi.Error{Code: 429}, true},
		{"Server error", &googleapi.Error{Code: 500}, true},
		{"Rate limit via 403 reason", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}}}, true},
		{"Quota exhausted 403", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "dailyLimitExceeded"}}}, false},
		{"Bad request", &googleapi.Error{Code: 400}, false},
		{"Unauthorized", &googleapi.Error{Code: 401}, false},
		{"Deadline exceeded", context.DeadlineExceeded, true},
		{"Plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
		})
	}
}
