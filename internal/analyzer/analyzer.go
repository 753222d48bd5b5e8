// Package analyzer implements the research stage: one analyzer per
// category generates search queries with the LLM, runs them against the
// search source, and feeds results into the shared document store.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jonathan/company-researcher/internal/events"
	"github.com/jonathan/company-researcher/internal/llm"
	"github.com/jonathan/company-researcher/internal/prompts"
	"github.com/jonathan/company-researcher/internal/schemas"
	"github.com/jonathan/company-researcher/internal/search"
	"github.com/jonathan/company-researcher/internal/store"
	"github.com/jonathan/company-researcher/internal/types"
)

// Config holds the analyzer tunables.
type Config struct {
	// QueryBudget caps search queries issued per category.
	QueryBudget int
	// BatchSize is how many queries the LLM is asked for at once.
	BatchSize int
	// ResultsPerQuery limits search hits requested per query.
	ResultsPerQuery int
	// LowYieldMin is the minimum new documents a query must add to
	// count as productive.
	LowYieldMin int
	// LowYieldStop is how many consecutive unproductive queries end
	// the category early.
	LowYieldStop int
	// RetryBackoff is the pause before the single retry of a
	// transient search failure.
	RetryBackoff time.Duration
	Verbose      bool
}

// DefaultConfig returns the production analyzer settings.
func DefaultConfig() Config {
	return Config{
		QueryBudget:     8,
		BatchSize:       4,
		ResultsPerQuery: search.DefaultLimit,
		LowYieldMin:     2,
		LowYieldStop:    2,
		RetryBackoff:    500 * time.Millisecond,
	}
}

// Result summarizes one category's research pass.
type Result struct {
	Category  types.Category
	Queries   int
	Documents int
	// Degraded marks a category where every query failed or nothing
	// was found. The pipeline proceeds without its documents.
	Degraded bool
}

// Analyzer runs the research stage for single categories. One instance
// is shared by all four category passes of a job.
type Analyzer struct {
	llm    llm.Client
	source search.Source
	cfg    Config
	now    func() time.Time
}

// New creates an analyzer over the given LLM and search source.
func New(client llm.Client, source search.Source, cfg Config) *Analyzer {
	if cfg.QueryBudget <= 0 {
		cfg = DefaultConfig()
	}
	return &Analyzer{llm: client, source: source, cfg: cfg, now: time.Now}
}

// Research runs one category as rounds of generate-then-search: each
// round asks the LLM for the next query batch informed by what earlier
// rounds already found, until the query budget, the low-yield stop, or
// the context ends it. The returned Result is informational; a degraded
// category is not an error.
func (a *Analyzer) Research(ctx context.Context, input types.JobInput, category types.Category, docs *store.DocumentStore, emit events.Emitter) (Result, error) {
	res := Result{Category: category}

	issued := make(map[string]struct{})
	var found []string
	lowYieldRun := 0
	failures := 0

rounds:
	for res.Queries < a.cfg.QueryBudget {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		batch := a.cfg.BatchSize
		if remaining := a.cfg.QueryBudget - res.Queries; batch > remaining {
			batch = remaining
		}

		emit(events.QueryGenerating{Category: category})
		queries, fromDefaults := a.generateQueries(ctx, input, category, batch, found)

		ran := 0
		for _, query := range queries {
			if _, dup := issued[query]; dup {
				continue
			}
			issued[query] = struct{}{}
			if res.Queries >= a.cfg.QueryBudget {
				break
			}
			if ctx.Err() != nil {
				return res, ctx.Err()
			}

			emit(events.QueryGenerated{Category: category, Query: query})
			res.Queries++
			ran++

			results, err := a.searchWithRetry(ctx, query)
			if err != nil {
				failures++
				if a.cfg.Verbose {
					log.Printf("[ANALYZER] %s query %q failed: %v", category, query, err)
				}
				continue
			}

			newDocs := 0
			for _, r := range results {
				doc := types.Document{
					URL:      r.URL,
					Category: category,
					Title:    r.Title,
					Snippet:  r.Snippet,
					Score:    r.Score,
					Query:    query,
				}
				norm, isNew := docs.Add(doc)
				if isNew {
					newDocs++
					res.Documents++
					found = append(found, fmt.Sprintf("%s (%s)", r.Title, norm))
				}
				emit(events.DocumentFound{
					Category: category,
					URL:      norm,
					Title:    r.Title,
					Score:    r.Score,
					New:      isNew,
				})
			}

			if newDocs < a.cfg.LowYieldMin {
				lowYieldRun++
				if lowYieldRun >= a.cfg.LowYieldStop {
					if a.cfg.Verbose {
						log.Printf("[ANALYZER] %s stopping early after %d low-yield queries", category, lowYieldRun)
					}
					break rounds
				}
			} else {
				lowYieldRun = 0
			}
		}

		// Defaults are deterministic; another round would repeat them.
		// A round where every query was a duplicate means the model has
		// run out of new angles.
		if fromDefaults || ran == 0 {
			break
		}
	}

	if res.Queries > 0 && failures == res.Queries {
		res.Degraded = true
	}
	if res.Documents == 0 {
		res.Degraded = true
	}
	return res, nil
}

// searchWithRetry runs one query, retrying once after a backoff when
// the failure looks transient.
func (a *Analyzer) searchWithRetry(ctx context.Context, query string) ([]search.Result, error) {
	results, err := a.source.Search(ctx, query, a.cfg.ResultsPerQuery)
	if err == nil {
		return results, nil
	}
	if !search.IsTransient(err) {
		return nil, err
	}

	select {
	case <-time.After(a.cfg.RetryBackoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	results, retryErr := a.source.Search(ctx, query, a.cfg.ResultsPerQuery)
	if retryErr != nil {
		return nil, fmt.Errorf("retry failed: %w", retryErr)
	}
	return results, nil
}

// maxPriorInPrompt caps how many earlier findings are echoed back to
// the model; the most recent ones are the most informative.
const maxPriorInPrompt = 12

// generateQueries asks the LLM for the next count queries, feeding back
// what prior rounds already found so the model covers new ground, and
// validates the response against the expected schema. Invalid or failed
// generations fall back to deterministic default queries so a category
// is never empty-handed; the returned bool reports that fallback.
func (a *Analyzer) generateQueries(ctx context.Context, input types.JobInput, category types.Category, count int, prior []string) ([]string, bool) {
	focus, err := prompts.Get("research.json", "focus-"+string(category))
	if err != nil {
		focus = ""
	}

	var contextLines strings.Builder
	if input.Industry != "" {
		contextLines.WriteString("\nIndustry: " + input.Industry)
	}
	if input.HQLocation != "" {
		contextLines.WriteString("\nHeadquarters: " + input.HQLocation)
	}

	var previous strings.Builder
	if len(prior) > 0 {
		if len(prior) > maxPriorInPrompt {
			prior = prior[len(prior)-maxPriorInPrompt:]
		}
		previous.WriteString("\n\nSources already found. Generate queries that cover aspects these do NOT:\n")
		for _, line := range prior {
			previous.WriteString("- " + line + "\n")
		}
	}

	template := prompts.MustGet("research.json", "generate-queries")
	prompt := prompts.Format(template, map[string]string{
		"Company":  input.Company,
		"Context":  contextLines.String(),
		"Date":     a.now().Format("January 2, 2006"),
		"Count":    fmt.Sprintf("%d", count),
		"Focus":    focus,
		"Previous": previous.String(),
	})

	raw, err := a.llm.GenerateJSON(ctx, prompt, llm.TierLite)
	if err != nil {
		if a.cfg.Verbose {
			log.Printf("[ANALYZER] %s query generation failed, using defaults: %v", category, err)
		}
		return a.defaultQueries(input, category), true
	}

	if err := schemas.ValidateJSONString(schemas.SearchQueries, raw); err != nil {
		if a.cfg.Verbose {
			log.Printf("[ANALYZER] %s query generation returned invalid JSON, using defaults: %v", category, err)
		}
		return a.defaultQueries(input, category), true
	}

	var queries []string
	if err := json.Unmarshal([]byte(raw), &queries); err != nil {
		return a.defaultQueries(input, category), true
	}

	valid := queries[:0]
	for _, q := range queries {
		if len(strings.Fields(q)) >= 3 {
			valid = append(valid, q)
		}
	}
	if len(valid) == 0 {
		return a.defaultQueries(input, category), true
	}
	if len(valid) > count {
		valid = valid[:count]
	}
	return valid, false
}

// categoryKeyword feeds the category-specific default query.
var categoryKeyword = map[types.Category]string{
	types.CategoryCompany:   "products services",
	types.CategoryIndustry:  "market position competitors",
	types.CategoryFinancial: "revenue funding",
	types.CategoryNews:      "announcements",
}

func (a *Analyzer) defaultQueries(input types.JobInput, category types.Category) []string {
	year := a.now().Year()
	return []string{
		fmt.Sprintf("%s overview %d", input.Company, year),
		fmt.Sprintf("%s recent news %d", input.Company, year),
		fmt.Sprintf("%s %s %d", input.Company, categoryKeyword[category], year),
		fmt.Sprintf("%s industry analysis %d", input.Company, year),
	}
}
