// Package briefing implements the summarization stage: one brief per
// category, synthesized by the LLM from that category's enriched
// documents. A category that cannot produce a brief gets a placeholder
// record instead of blocking the job.
package briefing

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/company-researcher/internal/events"
	"github.com/jonathan/company-researcher/internal/llm"
	"github.com/jonathan/company-researcher/internal/prompts"
	"github.com/jonathan/company-researcher/internal/store"
	"github.com/jonathan/company-researcher/internal/types"
)

const docSeparator = "\n----------------------------------------\n"

// Config holds the briefing tunables.
type Config struct {
	// MaxDocs caps documents fed into one brief prompt.
	MaxDocs int
	// RetryBackoff is the pause before the single retry of a failed
	// generation.
	RetryBackoff time.Duration
	Verbose      bool
}

// DefaultConfig returns the production briefing settings.
func DefaultConfig() Config {
	return Config{
		MaxDocs:      15,
		RetryBackoff: time.Second,
	}
}

// SetFunc records a finished brief on the job.
type SetFunc func(category types.Category, rec types.BriefingRecord)

// Briefer generates category briefs.
type Briefer struct {
	llm llm.Client
	cfg Config
}

// New creates a briefer over the given LLM client.
func New(client llm.Client, cfg Config) *Briefer {
	if cfg.MaxDocs <= 0 {
		cfg = DefaultConfig()
	}
	return &Briefer{llm: client, cfg: cfg}
}

// Brief generates one brief per category, in parallel. Failed
// categories receive a failed placeholder record; only context
// cancellation aborts the stage.
func (b *Briefer) Brief(ctx context.Context, input types.JobInput, docs *store.DocumentStore, categories []types.Category, emit events.Emitter, set SetFunc) (map[types.Category]types.BriefingRecord, error) {
	out := make(map[types.Category]types.BriefingRecord, len(categories))
	var results [4]types.BriefingRecord
	if len(categories) > len(results) {
		return nil, fmt.Errorf("too many categories: %d", len(categories))
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, cat := range categories {
		i, cat := i, cat
		g.Go(func() error {
			rec, err := b.briefCategory(gctx, input, docs, cat, emit)
			if err != nil {
				return err
			}
			results[i] = rec
			set(cat, rec)
			emit(events.BriefingComplete{Category: cat, Status: rec.Status, Text: rec.Text})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, cat := range categories {
		out[cat] = results[i]
	}
	return out, nil
}

// briefCategory produces one category's record. Only a context error is
// returned; generation failures become a placeholder record.
func (b *Briefer) briefCategory(ctx context.Context, input types.JobInput, docs *store.DocumentStore, category types.Category, emit events.Emitter) (types.BriefingRecord, error) {
	var withContent []types.Document
	for _, d := range docs.Kept(category) {
		if d.Content() != "" {
			withContent = append(withContent, d)
		}
	}
	if len(withContent) > b.cfg.MaxDocs {
		withContent = withContent[:b.cfg.MaxDocs]
	}

	emit(events.BriefingStart{Category: category, Documents: len(withContent)})

	if len(withContent) == 0 {
		return types.BriefingRecord{Status: types.BriefFailed, Text: types.InsufficientDataMarker}, nil
	}

	prompt := b.buildPrompt(input, category, withContent)

	text, err := b.llm.GenerateContent(ctx, prompt, llm.TierStandard)
	if err != nil {
		if ctx.Err() != nil {
			return types.BriefingRecord{}, ctx.Err()
		}
		if b.cfg.Verbose {
			log.Printf("[BRIEFING] %s generation failed, retrying once: %v", category, err)
		}
		select {
		case <-time.After(b.cfg.RetryBackoff):
		case <-ctx.Done():
			return types.BriefingRecord{}, ctx.Err()
		}
		text, err = b.llm.GenerateContent(ctx, prompt, llm.TierStandard)
	}
	if err != nil {
		if ctx.Err() != nil {
			return types.BriefingRecord{}, ctx.Err()
		}
		return types.BriefingRecord{Status: types.BriefFailed, Text: types.InsufficientDataMarker}, nil
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return types.BriefingRecord{Status: types.BriefFailed, Text: types.InsufficientDataMarker}, nil
	}
	return types.BriefingRecord{Status: types.BriefDone, Text: text}, nil
}

func (b *Briefer) buildPrompt(input types.JobInput, category types.Category, docs []types.Document) string {
	industry := input.Industry
	if industry == "" {
		industry = "Unknown"
	}

	intro, err := prompts.Get("briefing.json", "briefing-"+string(category))
	if err != nil {
		intro = prompts.MustGet("briefing.json", "briefing-default")
	}
	intro = prompts.Format(intro, map[string]string{
		"Company":  input.Company,
		"Industry": industry,
	})

	texts := make([]string, 0, len(docs))
	for _, d := range docs {
		texts = append(texts, fmt.Sprintf("Title: %s\n\nContent: %s", d.Title, d.Content()))
	}

	body := prompts.MustGet("briefing.json", "briefing-body")
	return prompts.Format(body, map[string]string{
		"Intro":     intro,
		"Documents": docSeparator + strings.Join(texts, docSeparator) + docSeparator,
	})
}
