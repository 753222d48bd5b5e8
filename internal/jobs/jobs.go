// Package jobs holds the authoritative per-job state record and its
// phase machine. The orchestrator is the only writer of a job's phase;
// the manager serializes access so readers (status endpoint, snapshot
// resync) always see a consistent copy.
package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/company-researcher/internal/types"
)

// Phase is a research job's lifecycle state.
type Phase string

// Phases in their fixed total order. failed is reachable from any
// non-terminal phase.
const (
	PhasePending   Phase = "pending"
	PhaseSearching Phase = "searching"
	PhaseCurating  Phase = "curating"
	PhaseEnriching Phase = "enriching"
	PhaseBriefing  Phase = "briefing"
	PhaseEditing   Phase = "editing"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

var phaseOrder = map[Phase]int{
	PhasePending:   0,
	PhaseSearching: 1,
	PhaseCurating:  2,
	PhaseEnriching: 3,
	PhaseBriefing:  4,
	PhaseEditing:   5,
	PhaseCompleted: 6,
}

// Terminal reports whether the phase ends the job.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Sentinel errors for phase machine violations. These indicate bugs in
// the caller, never conditions to retry.
var (
	ErrUnknownJob        = errors.New("unknown job")
	ErrTerminalJob       = errors.New("job is terminal")
	ErrInvalidTransition = errors.New("invalid phase transition")
)

// Job is the single authoritative record of one research request.
type Job struct {
	ID        string                                  `json:"id"`
	Input     types.JobInput                          `json:"input"`
	Phase     Phase                                   `json:"phase"`
	CreatedAt time.Time                               `json:"created_at"`
	Result    string                                  `json:"result,omitempty"`
	Error     string                                  `json:"error,omitempty"`
	Counts    map[types.Category]types.CategoryCounts `json:"counts"`
	Briefs    map[types.Category]types.BriefingRecord `json:"briefs"`
}

func newJob(id string, input types.JobInput, now time.Time) *Job {
	return &Job{
		ID:        id,
		Input:     input,
		Phase:     PhasePending,
		CreatedAt: now,
		Counts:    make(map[types.Category]types.CategoryCounts),
		Briefs:    make(map[types.Category]types.BriefingRecord),
	}
}

// clone returns a deep copy safe to hand outside the manager's lock.
func (j *Job) clone() Job {
	out := *j
	out.Counts = make(map[types.Category]types.CategoryCounts, len(j.Counts))
	for k, v := range j.Counts {
		out.Counts[k] = v
	}
	out.Briefs = make(map[types.Category]types.BriefingRecord, len(j.Briefs))
	for k, v := range j.Briefs {
		out.Briefs[k] = v
	}
	return out
}

// Manager is the concurrency-safe registry of live jobs. All mutation
// funnels through its methods under one lock; combined with the
// orchestrator being the sole phase writer this gives the serialized
// command path for job state.
type Manager struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

// NewManager returns an empty job registry.
func NewManager() *Manager {
	return &Manager{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

// Create registers a new pending job and returns a copy of it.
func (m *Manager) Create(input types.JobInput) Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := newJob(uuid.New().String(), input, m.now())
	m.jobs[j.ID] = j
	return j.clone()
}

// Get returns a copy of the job, if known.
func (m *Manager) Get(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return j.clone(), true
}

// Advance moves the job to the next non-terminal phase. Each phase is
// entered exactly once and never revisited; skipping is also rejected so
// an out-of-order orchestrator bug surfaces immediately.
func (m *Manager) Advance(id string, next Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrUnknownJob
	}
	if j.Phase.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminalJob, j.Phase)
	}
	if next.Terminal() {
		return fmt.Errorf("%w: %s -> %s must use Complete or Fail", ErrInvalidTransition, j.Phase, next)
	}
	if phaseOrder[next] != phaseOrder[j.Phase]+1 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Phase, next)
	}
	j.Phase = next
	return nil
}

// Complete moves the job from editing to completed and records the report.
func (m *Manager) Complete(id, report string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrUnknownJob
	}
	if j.Phase.Terminal() {
		return fmt.Errorf("%w: duplicate terminal transition from %s", ErrInvalidTransition, j.Phase)
	}
	if j.Phase != PhaseEditing {
		return fmt.Errorf("%w: %s -> completed", ErrInvalidTransition, j.Phase)
	}
	j.Phase = PhaseCompleted
	j.Result = report
	return nil
}

// Fail moves the job to failed from any non-terminal phase. Partial
// artifacts (counts, briefs) are retained, never cleared.
func (m *Manager) Fail(id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrUnknownJob
	}
	if j.Phase.Terminal() {
		return fmt.Errorf("%w: duplicate terminal transition from %s", ErrInvalidTransition, j.Phase)
	}
	j.Phase = PhaseFailed
	j.Error = reason
	return nil
}

// UpdateCounts applies fn to a category's counters and enforces the
// counter invariants afterwards. An invariant violation is a bug in the
// calling stage and is reported, not repaired.
func (m *Manager) UpdateCounts(id string, category types.Category, fn func(*types.CategoryCounts)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrUnknownJob
	}
	if j.Phase.Terminal() {
		return fmt.Errorf("%w: counts frozen", ErrTerminalJob)
	}

	c := j.Counts[category]
	fn(&c)
	if c.Kept < 0 || c.Kept > c.Initial {
		return fmt.Errorf("counts invariant violated for %s: kept=%d initial=%d", category, c.Kept, c.Initial)
	}
	if c.EnrichedDone < 0 || c.EnrichedDone > c.EnrichedTotal {
		return fmt.Errorf("counts invariant violated for %s: done=%d total=%d", category, c.EnrichedDone, c.EnrichedTotal)
	}
	j.Counts[category] = c
	return nil
}

// SetBrief records a category's briefing outcome.
func (m *Manager) SetBrief(id string, category types.Category, rec types.BriefingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrUnknownJob
	}
	if j.Phase.Terminal() {
		return fmt.Errorf("%w: briefs frozen", ErrTerminalJob)
	}
	j.Briefs[category] = rec
	return nil
}

// Briefs returns a copy of the job's briefing records.
func (m *Manager) Briefs(id string) map[types.Category]types.BriefingRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil
	}
	out := make(map[types.Category]types.BriefingRecord, len(j.Briefs))
	for k, v := range j.Briefs {
		out[k] = v
	}
	return out
}

// Restore inserts a previously persisted job, used when loading state
// from the persistence store after a restart.
func (m *Manager) Restore(j Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := j.clone()
	m.jobs[j.ID] = &cp
}
