// Package search wraps the web search backend behind a small Source
// interface so analyzers can be tested against fakes. The production
// implementation uses Google Programmable Search.
package search

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DefaultLimit is the number of results requested per query.
const DefaultLimit = 10

// Result is one search hit with a relevance score in [0, 1].
type Result struct {
	URL     string
	Title   string
	Snippet string
	Score   float64
}

// Source executes one search query and returns scored results.
type Source interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// GoogleSource implements Source on Google Programmable Search.
type GoogleSource struct {
	svc *customsearch.Service
	cx  string
}

// NewGoogleSource creates a search source bound to a Programmable
// Search engine ID.
func NewGoogleSource(ctx context.Context, apiKey, cx string, opts ...option.ClientOption) (*GoogleSource, error) {
	all := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := customsearch.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("failed to create customsearch service: %w", err)
	}
	return &GoogleSource{svc: svc, cx: cx}, nil
}

// Search runs one query. The API reports no relevance signal, so scores
// are derived from result rank: the first hit scores 1.0 and the rest
// decay linearly to 1/n.
func (g *GoogleSource) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 || limit > DefaultLimit {
		limit = DefaultLimit
	}

	resp, err := g.svc.Cse.List().Cx(g.cx).Q(query).Num(int64(limit)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("search failed for %q: %w", query, err)
	}

	results := make([]Result, 0, len(resp.Items))
	for i, item := range resp.Items {
		if item.Link == "" {
			continue
		}
		results = append(results, Result{
			URL:     item.Link,
			Title:   item.Title,
			Snippet: item.Snippet,
			Score:   RankScore(i, len(resp.Items)),
		})
	}
	return results, nil
}

// DiscoverWebsite finds the company's main website URL when the caller
// did not supply one.
func (g *GoogleSource) DiscoverWebsite(ctx context.Context, company string) (string, error) {
	query := fmt.Sprintf("%s official website", company)
	resp, err := g.svc.Cse.List().Cx(g.cx).Q(query).Num(3).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("website discovery failed for %q: %w", company, err)
	}
	if len(resp.Items) == 0 {
		return "", fmt.Errorf("no search results found for %s", company)
	}
	return resp.Items[0].Link, nil
}

// RankScore maps a result's rank to a relevance score in (0, 1].
func RankScore(rank, total int) float64 {
	if total <= 0 || rank < 0 || rank >= total {
		return 0
	}
	return float64(total-rank) / float64(total)
}

// IsTransient reports whether a search error is worth one retry.
// Rate limits, server errors, and network timeouts qualify; quota
// exhaustion and auth failures do not.
func IsTransient(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code >= 500 {
			return true
		}
		if apiErr.Code == 403 {
			for _, e := range apiErr.Errors {
				if e.Reason == "rateLimitExceeded" || e.Reason == "userRateLimitExceeded" {
					return true
				}
			}
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Connection-level failures surface as *net.OpError or wrapped
	// syscall errors without a typed API error.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return strings.Contains(err.Error(), "connection reset")
}
