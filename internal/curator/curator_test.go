package curator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/company-researcher/internal/events"
	"github.com/jonathan/company-researcher/internal/store"
	"github.com/jonathan/company-researcher/internal/types"
)

func seedStore(scores ...float64) *store.DocumentStore {
	s := store.NewDocumentStore()
	for i, score := range scores {
		s.Add(types.Document{
			URL:      fmt.Sprintf("https://example.com/doc-%d", i),
			Category: types.CategoryNews,
			Score:    score,
		})
	}
	return s
}

func collect(sink *[]events.Payload) events.Emitter {
	return func(p events.Payload) { *sink = append(*sink, p) }
}

func TestCurateKeepsAboveThreshold(t *testing.T) {
	s := seedStore(0.9, 0.5, 0.4, 0.39, 0.1)
	var emitted []events.Payload

	res := Curate(s, types.CategoryNews, DefaultConfig(), collect(&emitted))

	assert.Equal(t, 5, res.Initial)
	assert.Equal(t, 3, res.Kept, "0.4 is inclusive")
	assert.Equal(t, 0.4, res.EffectiveThreshold)

	kept := s.Kept(types.CategoryNews)
	require.Len(t, kept, 3)
	for _, d := range kept {
		assert.GreaterOrEqual(t, d.Score, 0.4)
	}
}

func TestCurateAppliesCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cap = 2

	s := seedStore(0.9, 0.8, 0.7, 0.6)
	var emitted []events.Payload

	res := Curate(s, types.CategoryNews, cfg, collect(&emitted))
	assert.Equal(t, 2, res.Kept)

	kept := s.Kept(types.CategoryNews)
	require.Len(t, kept, 2)
	// Highest scores survive the cap.
	scores := []float64{kept[0].Score, kept[1].Score}
	assert.Contains(t, scores, 0.9)
	assert.Contains(t, scores, 0.8)
}

func TestCurateRelaxesThresholdUntilViable(t *testing.T) {
	// Best document sits at 0.15: two decrements (0.3, 0.2) still miss
	// it, the third (0.1) catches it.
	s := seedStore(0.15, 0.05)
	var emitted []events.Payload

	res := Curate(s, types.CategoryNews, DefaultConfig(), collect(&emitted))

	assert.Equal(t, 1, res.Kept)
	assert.InDelta(t, 0.1, res.EffectiveThreshold, 1e-9)

	var complete events.CurationComplete
	for _, p := range emitted {
		if c, ok := p.(events.CurationComplete); ok {
			complete = c
		}
	}
	assert.InDelta(t, 0.1, complete.Threshold, 1e-9, "event reports the effective threshold")
}

func TestCurateEmptyCategoryFallsToFloor(t *testing.T) {
	s := store.NewDocumentStore()
	var emitted []events.Payload

	res := Curate(s, types.CategoryNews, DefaultConfig(), collect(&emitted))

	assert.Equal(t, 0, res.Initial)
	assert.Equal(t, 0, res.Kept)
	assert.InDelta(t, 0.0, res.EffectiveThreshold, 1e-9, "threshold bottoms out at zero")
}

func TestCurateEventOrdering(t *testing.T) {
	s := seedStore(0.9, 0.5)
	var emitted []events.Payload

	Curate(s, types.CategoryNews, DefaultConfig(), collect(&emitted))

	require.GreaterOrEqual(t, len(emitted), 4)
	assert.IsType(t, events.CategoryStart{}, emitted[0])
	assert.IsType(t, events.CurationComplete{}, emitted[len(emitted)-1])

	// DocumentKept events arrive in descending score order.
	var keptScores []float64
	for _, p := range emitted {
		if k, ok := p.(events.DocumentKept); ok {
			keptScores = append(keptScores, k.Score)
		}
	}
	require.Len(t, keptScores, 2)
	assert.Equal(t, 0.9, keptScores[0])
	assert.Equal(t, 0.5, keptScores[1])
}
