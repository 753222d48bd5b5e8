// Package curator implements the relevance filtering stage. Each
// category's documents are scored snapshots from the store; curation
// keeps the ones above a relevance threshold, capped at a fixed count,
// and lowers the threshold stepwise when nothing clears it.
package curator

import (
	"log"

	"github.com/jonathan/company-researcher/internal/events"
	"github.com/jonathan/company-researcher/internal/store"
	"github.com/jonathan/company-researcher/internal/types"
)

// Config holds the curation tunables.
type Config struct {
	// Threshold is the base relevance cutoff.
	Threshold float64
	// Cap limits documents kept per category.
	Cap int
	// MinViable is the smallest acceptable kept count before the
	// threshold starts dropping.
	MinViable int
	// Decrement is the step the threshold falls by per relaxation.
	Decrement float64
	Verbose   bool
}

// DefaultConfig returns the production curation settings.
func DefaultConfig() Config {
	return Config{
		Threshold: 0.4,
		Cap:       30,
		MinViable: 1,
		Decrement: 0.1,
	}
}

// Result summarizes one category's curation pass.
type Result struct {
	Category types.Category
	Initial  int
	Kept     int
	// EffectiveThreshold is the cutoff actually applied, after any
	// relaxation. Equals Config.Threshold when no fallback was needed.
	EffectiveThreshold float64
}

// Curate filters one category in the store, marking survivors as kept.
// Documents are considered in descending score order; ties keep their
// insertion order, so reruns over the same store are deterministic.
func Curate(docs *store.DocumentStore, category types.Category, cfg Config, emit events.Emitter) Result {
	snapshot := docs.Snapshot(category)
	res := Result{
		Category:           category,
		Initial:            len(snapshot),
		EffectiveThreshold: cfg.Threshold,
	}

	emit(events.CategoryStart{Category: category, Initial: res.Initial})

	kept := selectAbove(snapshot, cfg.Threshold, cfg.Cap)
	threshold := cfg.Threshold
	for len(kept) < cfg.MinViable && threshold > 0 {
		threshold -= cfg.Decrement
		if threshold < 0 {
			threshold = 0
		}
		kept = selectAbove(snapshot, threshold, cfg.Cap)
		if cfg.Verbose {
			log.Printf("[CURATOR] %s relaxed threshold to %.1f, kept %d", category, threshold, len(kept))
		}
	}
	res.EffectiveThreshold = threshold
	res.Kept = len(kept)

	for _, doc := range kept {
		docs.Update(category, doc.URL, func(d *types.Document) { d.Kept = true })
		emit(events.DocumentKept{Category: category, URL: doc.URL, Score: doc.Score})
	}

	emit(events.CurationComplete{
		Category:  category,
		Initial:   res.Initial,
		Kept:      res.Kept,
		Threshold: res.EffectiveThreshold,
	})
	return res
}

func selectAbove(docs []types.Document, threshold float64, limit int) []types.Document {
	out := make([]types.Document, 0, limit)
	for _, d := range docs {
		if d.Score >= threshold {
			out = append(out, d)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}
