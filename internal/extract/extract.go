// Package extract turns document URLs into full page text for
// enrichment. Extraction is plain HTTP first; pages that come back
// nearly empty are assumed to be JavaScript-rendered and retried
// through a headless browser when one is available.
package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jonathan/company-researcher/internal/fetch"
)

// MaxContentChars caps extracted text per document so briefing prompts
// stay within model context limits.
const MaxContentChars = 40000

// DefaultConcurrency bounds concurrent extractions across all jobs.
const DefaultConcurrency = 20

// Extractor fetches a URL and returns its readable text.
type Extractor interface {
	Extract(ctx context.Context, url string, selectors []string) (string, error)
}

// Options configures a WebExtractor.
type Options struct {
	Fetch          *fetch.Options
	UseBrowser     bool
	BrowserTimeout time.Duration
	MaxChars       int
	Concurrency    int64
	Verbose        bool
}

// DefaultExtractOptions returns production defaults with the browser
// fallback enabled.
func DefaultExtractOptions() *Options {
	return &Options{
		Fetch:          fetch.DefaultOptions(),
		UseBrowser:     true,
		BrowserTimeout: 30 * time.Second,
		MaxChars:       MaxContentChars,
		Concurrency:    DefaultConcurrency,
	}
}

// WebExtractor implements Extractor over HTTP with an optional headless
// browser fallback. One extractor is shared process-wide; its semaphore
// is the global extraction cap.
type WebExtractor struct {
	opts *Options
	sem  *semaphore.Weighted
}

// NewWebExtractor creates an extractor with the given options
// (DefaultExtractOptions if nil).
func NewWebExtractor(opts *Options) *WebExtractor {
	if opts == nil {
		opts = DefaultExtractOptions()
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = MaxContentChars
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &WebExtractor{
		opts: opts,
		sem:  semaphore.NewWeighted(opts.Concurrency),
	}
}

// Extract fetches the URL and returns its main text, truncated to the
// configured limit. selectors picks the content region; nil uses the
// general-purpose set.
func (e *WebExtractor) Extract(ctx context.Context, url string, selectors []string) (string, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("extraction cancelled while queued: %w", err)
	}
	defer e.sem.Release(1)

	if len(selectors) == 0 {
		selectors = fetch.DefaultTextSelectors()
	}

	result, err := fetch.URL(ctx, url, e.opts.Fetch)
	if err != nil {
		return "", err
	}

	text, err := fetch.ExtractMainText(result.HTML, selectors)
	if err != nil {
		return "", fmt.Errorf("failed to extract text from %s: %w", url, err)
	}

	if fetch.ShouldUseBrowser(text) && e.opts.UseBrowser {
		html, berr := fetch.WithBrowser(ctx, url, e.opts.BrowserTimeout, e.opts.Verbose)
		if berr == nil {
			if rendered, rerr := fetch.ExtractMainText(html, selectors); rerr == nil && len(rendered) > len(text) {
				text = rendered
			}
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("no readable content at %s", url)
	}
	return Truncate(text, e.opts.MaxChars), nil
}

// Truncate cuts text to at most max characters, breaking at the last
// newline before the limit when one is reasonably close.
func Truncate(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	cut := text[:max]
	if idx := strings.LastIndexByte(cut, '\n'); idx > max/2 {
		cut = cut[:idx]
	}
	return cut
}
