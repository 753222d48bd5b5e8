// Package enricher implements the content extraction stage. Kept
// documents are fetched in full by a bounded worker pool; failures
// shrink the category's enrichment denominator rather than stalling it.
package enricher

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/company-researcher/internal/events"
	"github.com/jonathan/company-researcher/internal/extract"
	"github.com/jonathan/company-researcher/internal/fetch"
	"github.com/jonathan/company-researcher/internal/store"
	"github.com/jonathan/company-researcher/internal/types"
)

// Config holds the enrichment tunables.
type Config struct {
	// Workers bounds concurrent extractions for one job.
	Workers int
	// FailureDegrade is how many consecutive failures within a
	// category mark it degraded.
	FailureDegrade int
	Verbose        bool
}

// DefaultConfig returns the production enrichment settings.
func DefaultConfig() Config {
	return Config{
		Workers:        10,
		FailureDegrade: 3,
	}
}

// CountsFunc lets the enricher update the job's live counters as
// documents finish.
type CountsFunc func(category types.Category, fn func(*types.CategoryCounts))

// CategoryResult summarizes one category's enrichment.
type CategoryResult struct {
	Category types.Category
	// Total is the final denominator: kept documents minus failures.
	Total    int
	Enriched int
	Degraded bool
}

// Enricher runs the extraction pool for a job.
type Enricher struct {
	extractor extract.Extractor
	cfg       Config
}

// New creates an enricher over the given extractor.
func New(extractor extract.Extractor, cfg Config) *Enricher {
	if cfg.Workers <= 0 {
		cfg = DefaultConfig()
	}
	return &Enricher{extractor: extractor, cfg: cfg}
}

type task struct {
	category types.Category
	doc      types.Document
}

type catState struct {
	total         int
	enriched      int
	remaining     int
	consecFail    int
	maxConsecFail int
}

// Enrich extracts full content for every kept document in the given
// categories. Each category's completion is announced once its last
// in-flight extraction finishes. A context cancellation aborts the pool
// and is returned; individual extraction failures are not errors.
func (e *Enricher) Enrich(ctx context.Context, docs *store.DocumentStore, categories []types.Category, emit events.Emitter, counts CountsFunc) (map[types.Category]CategoryResult, error) {
	var tasks []task
	states := make(map[types.Category]*catState, len(categories))
	results := make(map[types.Category]CategoryResult, len(categories))

	for _, cat := range categories {
		kept := docs.Kept(cat)
		states[cat] = &catState{total: len(kept), remaining: len(kept)}
		if len(kept) == 0 {
			emit(events.CategoryComplete{Category: cat, Total: 0, Enriched: 0})
			continue
		}
		for _, doc := range kept {
			tasks = append(tasks, task{category: cat, doc: doc})
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for _, t := range tasks {
		t := t
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			text, err := e.extractor.Extract(gctx, t.doc.URL, selectorsFor(t.category))

			mu.Lock()
			defer mu.Unlock()
			st := states[t.category]
			st.remaining--

			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				st.total--
				st.consecFail++
				if st.consecFail > st.maxConsecFail {
					st.maxConsecFail = st.consecFail
				}
				docs.Update(t.category, t.doc.URL, func(d *types.Document) {
					d.ExtractionError = err.Error()
				})
				counts(t.category, func(c *types.CategoryCounts) { c.EnrichedTotal-- })
				emit(events.ExtractionError{Category: t.category, URL: t.doc.URL, Error: err.Error()})
				if e.cfg.Verbose {
					log.Printf("[ENRICHER] %s extraction failed for %s: %v", t.category, t.doc.URL, err)
				}
			} else {
				st.enriched++
				st.consecFail = 0
				docs.Update(t.category, t.doc.URL, func(d *types.Document) {
					d.EnrichedContent = text
				})
				counts(t.category, func(c *types.CategoryCounts) { c.EnrichedDone++ })
				emit(events.Extracted{Category: t.category, URL: t.doc.URL, Chars: len(text)})
			}

			if st.remaining == 0 {
				degraded := st.maxConsecFail >= e.cfg.FailureDegrade
				emit(events.CategoryComplete{
					Category: t.category,
					Total:    st.total,
					Enriched: st.enriched,
					Degraded: degraded,
				})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for cat, st := range states {
		results[cat] = CategoryResult{
			Category: cat,
			Total:    st.total,
			Enriched: st.enriched,
			Degraded: st.maxConsecFail >= e.cfg.FailureDegrade,
		}
	}
	return results, nil
}

// selectorsFor picks content selectors suited to the category's
// typical pages.
func selectorsFor(category types.Category) []string {
	switch category {
	case types.CategoryNews:
		return fetch.NewsArticleSelectors()
	case types.CategoryCompany:
		return fetch.CompanyPageSelectors()
	default:
		return fetch.DefaultTextSelectors()
	}
}
