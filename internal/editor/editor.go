// Package editor implements the final compilation stage: category
// briefs are cleaned of cross-category duplication, compiled into one
// report by the LLM's streaming mode, and suffixed with source
// references. This is the only stage whose failure fails the job.
package editor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonathan/company-researcher/internal/events"
	"github.com/jonathan/company-researcher/internal/llm"
	"github.com/jonathan/company-researcher/internal/prompts"
	"github.com/jonathan/company-researcher/internal/store"
	"github.com/jonathan/company-researcher/internal/types"
)

// sectionOrder fixes the report section sequence.
var sectionOrder = []types.Category{
	types.CategoryCompany,
	types.CategoryIndustry,
	types.CategoryFinancial,
	types.CategoryNews,
}

var sectionTitles = map[types.Category]string{
	types.CategoryCompany:   "Company Overview",
	types.CategoryIndustry:  "Industry Analysis",
	types.CategoryFinancial: "Financial Analysis",
	types.CategoryNews:      "Recent Developments",
}

// Config holds the editor tunables.
type Config struct {
	// SimilarityThreshold is the word-overlap ratio above which two
	// paragraphs in different sections count as duplicates.
	SimilarityThreshold float64
	Verbose             bool
}

// DefaultConfig returns the production editor settings.
func DefaultConfig() Config {
	return Config{SimilarityThreshold: 0.85}
}

// Editor compiles the final report.
type Editor struct {
	llm llm.Client
	cfg Config
	now func() time.Time
}

// New creates an editor over the given LLM client.
func New(client llm.Client, cfg Config) *Editor {
	if cfg.SimilarityThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Editor{llm: client, cfg: cfg, now: time.Now}
}

// Compile builds the final report from the briefs, streaming chunks as
// the model produces them. An error here is fatal to the job; the
// caller preserves the briefs in the failure payload.
func (e *Editor) Compile(ctx context.Context, input types.JobInput, briefs map[types.Category]types.BriefingRecord, docs *store.DocumentStore, emit events.Emitter) (string, error) {
	texts := make(map[types.Category]string, len(briefs))
	for cat, rec := range briefs {
		text := rec.Text
		if rec.Status != types.BriefDone || strings.TrimSpace(text) == "" {
			text = types.InsufficientDataMarker
		}
		texts[cat] = text
	}
	deduped := RemoveNearDuplicates(texts, e.cfg.SimilarityThreshold)

	var sections strings.Builder
	for _, cat := range sectionOrder {
		text, ok := deduped[cat]
		if !ok {
			continue
		}
		sections.WriteString(fmt.Sprintf("%s\n%s\n%s\n\n", sectionTitles[cat], strings.Repeat("=", 40), text))
	}

	template := prompts.MustGet("editor.json", "compile-report")
	prompt := prompts.Format(template, map[string]string{
		"Company":  input.Company,
		"Sections": sections.String(),
		"Date":     e.now().Format("2006-01-02"),
	})

	report, err := e.llm.GenerateStream(ctx, prompt, llm.TierAdvanced, func(chunk string) error {
		emit(events.ReportChunk{Chunk: chunk})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("report compilation failed: %w", err)
	}

	refs := References(docs)
	if refs != "" {
		emit(events.ReportChunk{Chunk: refs})
		report += refs
	}
	return report, nil
}

// RemoveNearDuplicates drops paragraphs that substantially repeat a
// paragraph already used by an earlier section, walking sections in
// report order so the first occurrence always survives.
func RemoveNearDuplicates(texts map[types.Category]string, threshold float64) map[types.Category]string {
	out := make(map[types.Category]string, len(texts))
	var seen []map[string]struct{}

	for _, cat := range sectionOrder {
		text, ok := texts[cat]
		if !ok {
			continue
		}
		var kept []string
		for _, para := range strings.Split(text, "\n\n") {
			words := wordSet(para)
			if len(words) == 0 {
				continue
			}
			dup := false
			for _, prior := range seen {
				if jaccard(words, prior) >= threshold {
					dup = true
					break
				}
			}
			if dup {
				continue
			}
			seen = append(seen, words)
			kept = append(kept, para)
		}
		if len(kept) == 0 {
			// A section reduced to nothing falls back to its
			// original text rather than vanishing from the report.
			kept = []string{text}
		}
		out[cat] = strings.Join(kept, "\n\n")
	}
	return out
}

// References renders the source appendix: every kept document's URL,
// grouped by section in report order.
func References(docs *store.DocumentStore) string {
	var sb strings.Builder
	for _, cat := range sectionOrder {
		kept := docs.Kept(cat)
		if len(kept) == 0 {
			continue
		}
		if sb.Len() == 0 {
			sb.WriteString("\n\n## References\n")
		}
		sb.WriteString(fmt.Sprintf("\n### %s\n", sectionTitles[cat]))
		for _, d := range kept {
			if d.Title != "" {
				sb.WriteString(fmt.Sprintf("- %s (%s)\n", d.Title, d.URL))
			} else {
				sb.WriteString(fmt.Sprintf("- %s\n", d.URL))
			}
		}
	}
	return sb.String()
}

func wordSet(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.Trim(w, ".,;:!?()\"'")] = struct{}{}
	}
	delete(set, "")
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
