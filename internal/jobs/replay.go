package jobs

import (
	"github.com/jonathan/company-researcher/internal/events"
	"github.com/jonathan/company-researcher/internal/types"
)

// ReplayJob folds an event log into the job state it describes. Feeding
// the full log of a finished job yields its final phase, counters,
// briefs, and result; feeding a prefix yields the state at that point.
func ReplayJob(id string, log []events.Event) Job {
	j := Job{
		ID:     id,
		Phase:  PhasePending,
		Counts: make(map[types.Category]types.CategoryCounts),
		Briefs: make(map[types.Category]types.BriefingRecord),
	}

	for _, ev := range log {
		switch p := ev.Payload.(type) {
		case events.Processing:
			if phase := Phase(p.Phase); phaseKnown(phase) {
				j.Phase = phase
			}
		case events.CategoryStart:
			c := j.Counts[p.Category]
			c.Initial = p.Initial
			j.Counts[p.Category] = c
		case events.CurationComplete:
			c := j.Counts[p.Category]
			c.Initial = p.Initial
			c.Kept = p.Kept
			c.EnrichedTotal = p.Kept
			j.Counts[p.Category] = c
		case events.Extracted:
			c := j.Counts[p.Category]
			c.EnrichedDone++
			j.Counts[p.Category] = c
		case events.ExtractionError:
			c := j.Counts[p.Category]
			c.EnrichedTotal--
			j.Counts[p.Category] = c
		case events.BriefingComplete:
			j.Briefs[p.Category] = types.BriefingRecord{Status: p.Status, Text: p.Text}
		case events.Completed:
			j.Phase = PhaseCompleted
			j.Result = p.Report
		case events.Failed:
			j.Phase = PhaseFailed
			j.Error = p.Reason
			for cat, rec := range p.Briefs {
				j.Briefs[cat] = rec
			}
		}
	}
	return j
}

func phaseKnown(p Phase) bool {
	_, ok := phaseOrder[p]
	return ok || p == PhaseFailed
}
