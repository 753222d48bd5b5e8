// Package pipeline contains the orchestrator that drives a research
// job through its phases. The orchestrator is the sole writer of a
// job's phase and the sole publisher of its terminal event; stages
// report through it rather than touching job state directly.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/company-researcher/internal/analyzer"
	"github.com/jonathan/company-researcher/internal/briefing"
	"github.com/jonathan/company-researcher/internal/editor"
	"github.com/jonathan/company-researcher/internal/enricher"
	"github.com/jonathan/company-researcher/internal/events"
	"github.com/jonathan/company-researcher/internal/jobs"
	"github.com/jonathan/company-researcher/internal/store"
	"github.com/jonathan/company-researcher/internal/types"

	curatorpkg "github.com/jonathan/company-researcher/internal/curator"
)

// CancelReason is the failure text recorded for cancelled jobs.
const CancelReason = "cancelled"

// DeadlineReason is the failure text recorded when the job deadline fires.
const DeadlineReason = "job deadline exceeded"

// WebsiteDiscoverer finds a company's main site when the submitter did
// not provide one. Optional; nil skips discovery.
type WebsiteDiscoverer interface {
	DiscoverWebsite(ctx context.Context, company string) (string, error)
}

// Persister saves job state to durable storage. Optional; nil keeps
// everything in process memory. Persistence failures are logged, never
// fatal to the job.
type Persister interface {
	SaveJob(ctx context.Context, job jobs.Job) error
	SaveEvent(ctx context.Context, ev events.Event) error
	SaveReport(ctx context.Context, jobID, report string) error
}

// Config holds the orchestrator timings and stage settings.
type Config struct {
	// JobTimeout bounds the whole job.
	JobTimeout time.Duration
	// SearchTimeout bounds the searching phase so one slow category
	// cannot eat the whole job budget.
	SearchTimeout time.Duration
	// DisconnectGrace is how long a job with zero subscribers keeps
	// running before it is cancelled. Zero disables the behavior.
	DisconnectGrace time.Duration
	Curator         curatorpkg.Config
	Verbose         bool
}

// DefaultConfig returns the production orchestrator settings.
func DefaultConfig() Config {
	return Config{
		JobTimeout:      10 * time.Minute,
		SearchTimeout:   3 * time.Minute,
		DisconnectGrace: 30 * time.Second,
		Curator:         curatorpkg.DefaultConfig(),
	}
}

// Orchestrator sequences the research pipeline for every job.
type Orchestrator struct {
	manager     *jobs.Manager
	broadcaster *events.Broadcaster
	analyzer    *analyzer.Analyzer
	enricher    *enricher.Enricher
	briefer     *briefing.Briefer
	editor      *editor.Editor
	discoverer  WebsiteDiscoverer
	persist     Persister
	cfg         Config
	validate    *validator.Validate

	mu      sync.Mutex
	running map[string]*runState
	timers  map[string]*time.Timer
}

type runState struct {
	cancel context.CancelFunc

	mu     sync.Mutex
	reason string
}

func (r *runState) setReason(reason string) {
	r.mu.Lock()
	if r.reason == "" {
		r.reason = reason
	}
	r.mu.Unlock()
}

func (r *runState) getReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Manager     *jobs.Manager
	Broadcaster *events.Broadcaster
	Analyzer    *analyzer.Analyzer
	Enricher    *enricher.Enricher
	Briefer     *briefing.Briefer
	Editor      *editor.Editor
	Discoverer  WebsiteDiscoverer
	Persister   Persister
}

// New creates an orchestrator and installs its presence watcher on the
// broadcaster.
func New(deps Deps, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = def.SearchTimeout
	}
	if cfg.Curator == (curatorpkg.Config{}) {
		cfg.Curator = def.Curator
	}
	// DisconnectGrace stays as given; zero means the watcher is off.
	o := &Orchestrator{
		manager:     deps.Manager,
		broadcaster: deps.Broadcaster,
		analyzer:    deps.Analyzer,
		enricher:    deps.Enricher,
		briefer:     deps.Briefer,
		editor:      deps.Editor,
		discoverer:  deps.Discoverer,
		persist:     deps.Persister,
		cfg:         cfg,
		validate:    validator.New(),
		running:     make(map[string]*runState),
		timers:      make(map[string]*time.Timer),
	}
	o.broadcaster.SetPresenceFunc(o.onPresence)
	return o
}

// Manager exposes the job registry for read access.
func (o *Orchestrator) Manager() *jobs.Manager { return o.manager }

// Broadcaster exposes the event log for subscriptions.
func (o *Orchestrator) Broadcaster() *events.Broadcaster { return o.broadcaster }

// Submit validates the input, registers a new job, and starts its
// pipeline in the background.
func (o *Orchestrator) Submit(input types.JobInput) (jobs.Job, error) {
	if err := o.validate.Struct(input); err != nil {
		return jobs.Job{}, fmt.Errorf("invalid job input: %w", err)
	}

	job := o.manager.Create(input)
	o.saveJob(job.ID)

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.JobTimeout)
	rs := &runState{cancel: cancel}
	o.mu.Lock()
	o.running[job.ID] = rs
	o.mu.Unlock()

	go o.run(ctx, job, rs)
	return job, nil
}

// Cancel stops a running job. The job ends failed("cancelled") once its
// in-flight work unwinds.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	rs, ok := o.running[jobID]
	o.mu.Unlock()
	if !ok {
		if _, exists := o.manager.Get(jobID); exists {
			return jobs.ErrTerminalJob
		}
		return jobs.ErrUnknownJob
	}
	rs.setReason(CancelReason)
	rs.cancel()
	return nil
}

// Snapshot builds the full-state resync payload for a reconnecting
// subscriber. The broadcaster fills in LastSeq on delivery.
func (o *Orchestrator) Snapshot(jobID string) (events.Snapshot, bool) {
	job, ok := o.manager.Get(jobID)
	if !ok {
		return events.Snapshot{}, false
	}
	return events.Snapshot{
		Phase:  string(job.Phase),
		Counts: job.Counts,
		Briefs: job.Briefs,
		Result: job.Result,
		Error:  job.Error,
	}, true
}

// run drives one job through all phases. Any stage error ends the job
// failed; only the editor stage and cancellation/timeout can get here.
func (o *Orchestrator) run(ctx context.Context, job jobs.Job, rs *runState) {
	defer func() {
		rs.cancel()
		o.mu.Lock()
		delete(o.running, job.ID)
		if t, ok := o.timers[job.ID]; ok {
			t.Stop()
			delete(o.timers, job.ID)
		}
		o.mu.Unlock()
	}()

	emit := o.emitter(job.ID)
	docs := store.NewDocumentStore()

	if err := o.searchPhase(ctx, job, docs, emit); err != nil {
		o.fail(job.ID, rs, err)
		return
	}
	if err := o.curatePhase(ctx, job, docs, emit); err != nil {
		o.fail(job.ID, rs, err)
		return
	}
	if err := o.enrichPhase(ctx, job, docs, emit); err != nil {
		o.fail(job.ID, rs, err)
		return
	}
	briefs, err := o.briefPhase(ctx, job, docs, emit)
	if err != nil {
		o.fail(job.ID, rs, err)
		return
	}
	if err := o.editPhase(ctx, job, docs, briefs, emit); err != nil {
		o.fail(job.ID, rs, err)
		return
	}
}

func (o *Orchestrator) searchPhase(ctx context.Context, job jobs.Job, docs *store.DocumentStore, emit events.Emitter) error {
	if err := o.enterPhase(ctx, job.ID, jobs.PhaseSearching, emit); err != nil {
		return err
	}

	o.seedGrounding(ctx, job, docs, emit)

	sctx := ctx
	var cancel context.CancelFunc
	if o.cfg.SearchTimeout > 0 {
		sctx, cancel = context.WithTimeout(ctx, o.cfg.SearchTimeout)
		defer cancel()
	}

	var wg sync.WaitGroup
	for _, cat := range types.AllCategories() {
		cat := cat
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.analyzer.Research(sctx, job.Input, cat, docs, emit); err != nil {
				// Phase deadline settles the phase; it is not fatal
				// unless the whole job is done.
				if ctx.Err() == nil && o.cfg.Verbose {
					log.Printf("[PIPELINE] job %s: %s analyzer stopped: %v", job.ID, cat, err)
				}
			}
		}()
	}
	wg.Wait()

	return ctx.Err()
}

// seedGrounding plants the company's own site as a top-scored company
// document, discovering the URL when the submitter omitted it.
func (o *Orchestrator) seedGrounding(ctx context.Context, job jobs.Job, docs *store.DocumentStore, emit events.Emitter) {
	url := job.Input.CompanyURL
	if url == "" && o.discoverer != nil {
		found, err := o.discoverer.DiscoverWebsite(ctx, job.Input.Company)
		if err != nil {
			if o.cfg.Verbose {
				log.Printf("[PIPELINE] job %s: website discovery failed: %v", job.ID, err)
			}
			return
		}
		url = found
	}
	if url == "" {
		return
	}

	norm, isNew := docs.Add(types.Document{
		URL:      url,
		Category: types.CategoryCompany,
		Title:    job.Input.Company,
		Snippet:  fmt.Sprintf("Official website of %s", job.Input.Company),
		Score:    1.0,
	})
	emit(events.DocumentFound{Category: types.CategoryCompany, URL: norm, Title: job.Input.Company, Score: 1.0, New: isNew})
}

func (o *Orchestrator) curatePhase(ctx context.Context, job jobs.Job, docs *store.DocumentStore, emit events.Emitter) error {
	if err := o.enterPhase(ctx, job.ID, jobs.PhaseCurating, emit); err != nil {
		return err
	}

	for _, cat := range types.AllCategories() {
		res := curatorpkg.Curate(docs, cat, o.cfg.Curator, emit)
		err := o.manager.UpdateCounts(job.ID, cat, func(c *types.CategoryCounts) {
			c.Initial = res.Initial
			c.Kept = res.Kept
			c.EnrichedTotal = res.Kept
		})
		if err != nil {
			return err
		}
	}
	o.saveJob(job.ID)
	return ctx.Err()
}

func (o *Orchestrator) enrichPhase(ctx context.Context, job jobs.Job, docs *store.DocumentStore, emit events.Emitter) error {
	if err := o.enterPhase(ctx, job.ID, jobs.PhaseEnriching, emit); err != nil {
		return err
	}

	counts := func(cat types.Category, fn func(*types.CategoryCounts)) {
		if err := o.manager.UpdateCounts(job.ID, cat, fn); err != nil {
			log.Printf("[PIPELINE] job %s: count update failed: %v", job.ID, err)
		}
	}
	_, err := o.enricher.Enrich(ctx, docs, types.AllCategories(), emit, counts)
	if err != nil {
		return err
	}
	o.saveJob(job.ID)
	return ctx.Err()
}

func (o *Orchestrator) briefPhase(ctx context.Context, job jobs.Job, docs *store.DocumentStore, emit events.Emitter) (map[types.Category]types.BriefingRecord, error) {
	if err := o.enterPhase(ctx, job.ID, jobs.PhaseBriefing, emit); err != nil {
		return nil, err
	}

	set := func(cat types.Category, rec types.BriefingRecord) {
		if err := o.manager.SetBrief(job.ID, cat, rec); err != nil {
			log.Printf("[PIPELINE] job %s: brief record failed: %v", job.ID, err)
		}
	}
	briefs, err := o.briefer.Brief(ctx, job.Input, docs, types.AllCategories(), emit, set)
	if err != nil {
		return nil, err
	}
	o.saveJob(job.ID)
	return briefs, ctx.Err()
}

func (o *Orchestrator) editPhase(ctx context.Context, job jobs.Job, docs *store.DocumentStore, briefs map[types.Category]types.BriefingRecord, emit events.Emitter) error {
	if err := o.enterPhase(ctx, job.ID, jobs.PhaseEditing, emit); err != nil {
		return err
	}

	report, err := o.editor.Compile(ctx, job.Input, briefs, docs, emit)
	if err != nil {
		return err
	}

	if err := o.manager.Complete(job.ID, report); err != nil {
		return err
	}
	emit(events.Completed{Report: report})
	o.saveJob(job.ID)
	if o.persist != nil {
		if err := o.persist.SaveReport(context.Background(), job.ID, report); err != nil {
			log.Printf("[PIPELINE] job %s: report persistence failed: %v", job.ID, err)
		}
	}
	return nil
}

// enterPhase advances the job and announces the new phase.
func (o *Orchestrator) enterPhase(ctx context.Context, jobID string, phase jobs.Phase, emit events.Emitter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.manager.Advance(jobID, phase); err != nil {
		return err
	}
	emit(events.Processing{Phase: string(phase)})
	o.saveJob(jobID)
	return nil
}

// fail ends the job, preserving whatever briefs exist in the failure
// payload.
func (o *Orchestrator) fail(jobID string, rs *runState, cause error) {
	reason := rs.getReason()
	if reason == "" {
		switch {
		case errors.Is(cause, context.DeadlineExceeded):
			reason = DeadlineReason
		case errors.Is(cause, context.Canceled):
			reason = CancelReason
		default:
			reason = cause.Error()
		}
	}

	if err := o.manager.Fail(jobID, reason); err != nil {
		log.Printf("[PIPELINE] job %s: fail transition rejected: %v", jobID, err)
		return
	}

	briefs := o.manager.Briefs(jobID)
	if len(briefs) > 0 {
		for _, cat := range types.AllCategories() {
			if _, ok := briefs[cat]; !ok {
				briefs[cat] = types.BriefingRecord{Status: types.BriefFailed, Text: types.InsufficientDataMarker}
			}
		}
	}

	emit := o.emitter(jobID)
	emit(events.Failed{Reason: reason, Briefs: briefs})
	o.saveJob(jobID)
	log.Printf("[PIPELINE] job %s failed: %s", jobID, reason)
}

// emitter binds the broadcaster and persistence hook to one job.
func (o *Orchestrator) emitter(jobID string) events.Emitter {
	return func(p events.Payload) {
		ev, err := o.broadcaster.Publish(jobID, p)
		if err != nil {
			log.Printf("[PIPELINE] job %s: event %s rejected: %v", jobID, p.EventType(), err)
			return
		}
		if o.persist != nil {
			if err := o.persist.SaveEvent(context.Background(), ev); err != nil {
				log.Printf("[PIPELINE] job %s: event persistence failed: %v", jobID, err)
			}
		}
	}
}

func (o *Orchestrator) saveJob(jobID string) {
	if o.persist == nil {
		return
	}
	job, ok := o.manager.Get(jobID)
	if !ok {
		return
	}
	if err := o.persist.SaveJob(context.Background(), job); err != nil {
		log.Printf("[PIPELINE] job %s: persistence failed: %v", jobID, err)
	}
}

// onPresence watches subscriber counts. A running job abandoned by all
// clients is cancelled after the grace period unless someone reconnects.
func (o *Orchestrator) onPresence(jobID string, subscribers int) {
	if o.cfg.DisconnectGrace <= 0 {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if subscribers > 0 {
		if t, ok := o.timers[jobID]; ok {
			t.Stop()
			delete(o.timers, jobID)
		}
		return
	}

	if _, ok := o.running[jobID]; !ok {
		return
	}
	if _, ok := o.timers[jobID]; ok {
		return
	}
	o.timers[jobID] = time.AfterFunc(o.cfg.DisconnectGrace, func() {
		if o.broadcaster.Subscribers(jobID) > 0 {
			return
		}
		if err := o.Cancel(jobID); err == nil {
			log.Printf("[PIPELINE] job %s cancelled after client disconnect", jobID)
		}
	})
}
