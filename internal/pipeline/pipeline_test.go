package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/company-researcher/internal/analyzer"
	"github.com/jonathan/company-researcher/internal/briefing"
	"github.com/jonathan/company-researcher/internal/curator"
	"github.com/jonathan/company-researcher/internal/editor"
	"github.com/jonathan/company-researcher/internal/enricher"
	"github.com/jonathan/company-researcher/internal/events"
	"github.com/jonathan/company-researcher/internal/jobs"
	"github.com/jonathan/company-researcher/internal/llm"
	"github.com/jonathan/company-researcher/internal/search"
	"github.com/jonathan/company-researcher/internal/types"
)

// fakeLLM serves all three generation modes: query JSON for analyzers,
// brief text for the briefer, and streamed chunks for the editor.
type fakeLLM struct {
	mu        sync.Mutex
	queries   string
	brief     string
	chunks    []string
	streamErr error
	// briefLimit > 0 makes brief generations beyond the limit hang
	// until the context ends, simulating slow categories.
	briefLimit int
	briefCalls int
}

func (f *fakeLLM) GenerateContent(ctx context.Context, prompt string, tier llm.ModelTier) (string, error) {
	f.mu.Lock()
	f.briefCalls++
	hang := f.briefLimit > 0 && f.briefCalls > f.briefLimit
	brief := f.brief
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return brief, nil
}

func (f *fakeLLM) GenerateJSON(ctx context.Context, prompt string, tier llm.ModelTier) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries, nil
}

func (f *fakeLLM) GenerateStream(ctx context.Context, prompt string, tier llm.ModelTier, fn func(string) error) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streamErr != nil {
		return "", f.streamErr
	}
	var full strings.Builder
	for _, c := range f.chunks {
		full.WriteString(c)
		if err := fn(c); err != nil {
			return "", err
		}
	}
	return full.String(), nil
}

func (f *fakeLLM) GetModel(tier llm.ModelTier) string { return "fake" }
func (f *fakeLLM) Close() error                       { return nil }

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		queries: `["acme corp company overview", "acme corp latest announcements"]`,
		brief:   "A synthesized category brief about Acme Corp.",
		chunks:  []string{"## Acme Corp Research Report\n\n", "Compiled findings."},
	}
}

type fakeSource struct{}

func (fakeSource) Search(ctx context.Context, query string, limit int) ([]search.Result, error) {
	slug := strings.ReplaceAll(query, " ", "-")
	return []search.Result{
		{URL: fmt.Sprintf("https://example.com/%s/primary", slug), Title: "Primary " + query, Snippet: "snippet", Score: 0.9},
		{URL: fmt.Sprintf("https://example.com/%s/secondary", slug), Title: "Secondary " + query, Snippet: "snippet", Score: 0.6},
	}, nil
}

// fakeExtractor returns canned text, optionally blocking until the
// context ends to let tests exercise cancellation and deadlines.
type fakeExtractor struct {
	block bool
}

func (f *fakeExtractor) Extract(ctx context.Context, url string, selectors []string) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return "Extracted full text about Acme Corp from " + url, nil
}

type fakeDiscoverer struct {
	url string
}

func (f *fakeDiscoverer) DiscoverWebsite(ctx context.Context, company string) (string, error) {
	if f.url == "" {
		return "", errors.New("no result")
	}
	return f.url, nil
}

type fakePersister struct {
	mu      sync.Mutex
	jobs    int
	events  int
	reports []string
}

func (f *fakePersister) SaveJob(ctx context.Context, job jobs.Job) error {
	f.mu.Lock()
	f.jobs++
	f.mu.Unlock()
	return nil
}

func (f *fakePersister) SaveEvent(ctx context.Context, ev events.Event) error {
	f.mu.Lock()
	f.events++
	f.mu.Unlock()
	return nil
}

func (f *fakePersister) SaveReport(ctx context.Context, jobID, report string) error {
	f.mu.Lock()
	f.reports = append(f.reports, report)
	f.mu.Unlock()
	return nil
}

type testDeps struct {
	llm        *fakeLLM
	extractor  *fakeExtractor
	discoverer WebsiteDiscoverer
	persister  Persister
}

func newTestOrchestrator(t *testing.T, d testDeps, cfg Config) *Orchestrator {
	t.Helper()
	if d.llm == nil {
		d.llm = newFakeLLM()
	}
	if d.extractor == nil {
		d.extractor = &fakeExtractor{}
	}

	acfg := analyzer.DefaultConfig()
	acfg.RetryBackoff = time.Millisecond
	bcfg := briefing.DefaultConfig()
	bcfg.RetryBackoff = time.Millisecond

	if cfg.JobTimeout == 0 {
		cfg = Config{
			JobTimeout:    5 * time.Second,
			SearchTimeout: 2 * time.Second,
			Curator:       curator.DefaultConfig(),
		}
	}

	return New(Deps{
		Manager:     jobs.NewManager(),
		Broadcaster: events.NewBroadcaster(0),
		Analyzer:    analyzer.New(d.llm, fakeSource{}, acfg),
		Enricher:    enricher.New(d.extractor, enricher.DefaultConfig()),
		Briefer:     briefing.New(d.llm, bcfg),
		Editor:      editor.New(d.llm, editor.DefaultConfig()),
		Discoverer:  d.discoverer,
		Persister:   d.persister,
	}, cfg)
}

// collectTerminal reads the subscriber until a terminal event arrives.
func collectTerminal(t *testing.T, sub *events.Subscriber) []events.Event {
	t.Helper()
	var out []events.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatal("subscriber closed before terminal event")
			}
			out = append(out, ev)
			if ev.Type.Terminal() {
				return out
			}
		case <-deadline:
			t.Fatalf("no terminal event after %d events", len(out))
		}
	}
}

func phasesOf(evs []events.Event) []string {
	var phases []string
	for _, ev := range evs {
		if p, ok := ev.Payload.(events.Processing); ok {
			phases = append(phases, p.Phase)
		}
	}
	return phases
}

func TestPipelineCompletesEndToEnd(t *testing.T) {
	persist := &fakePersister{}
	o := newTestOrchestrator(t, testDeps{persister: persist}, Config{})

	job, err := o.Submit(types.JobInput{
		Company:    "Acme Corp",
		CompanyURL: "https://acme.example.com",
		Industry:   "Robotics",
	})
	require.NoError(t, err)
	assert.Equal(t, jobs.PhasePending, job.Phase)

	sub := o.Broadcaster().Subscribe(job.ID)
	defer sub.Close()
	evs := collectTerminal(t, sub)

	completed, ok := evs[len(evs)-1].Payload.(events.Completed)
	require.True(t, ok, "job should complete")
	assert.Contains(t, completed.Report, "## Acme Corp Research Report")
	assert.Contains(t, completed.Report, "## References", "kept sources appear in the appendix")

	assert.Equal(t, []string{"searching", "curating", "enriching", "briefing", "editing"}, phasesOf(evs))

	// The submitted site is seeded as a top-scored company document
	// before any analyzer runs.
	seed, ok := evs[1].Payload.(events.DocumentFound)
	require.True(t, ok)
	assert.Equal(t, types.CategoryCompany, seed.Category)
	assert.Equal(t, "https://acme.example.com", seed.URL)
	assert.Equal(t, 1.0, seed.Score)

	final, ok := o.Manager().Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, jobs.PhaseCompleted, final.Phase)
	assert.Equal(t, completed.Report, final.Result)
	for _, cat := range types.AllCategories() {
		c := final.Counts[cat]
		assert.Greater(t, c.Kept, 0, "%s should keep documents", cat)
		assert.Equal(t, c.EnrichedTotal, c.EnrichedDone, "%s should enrich everything", cat)
		assert.Equal(t, types.BriefDone, final.Briefs[cat].Status)
	}

	persist.mu.Lock()
	defer persist.mu.Unlock()
	require.Len(t, persist.reports, 1)
	assert.Equal(t, completed.Report, persist.reports[0])
	assert.Equal(t, len(evs), persist.events)
	assert.Greater(t, persist.jobs, 0)
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	o := newTestOrchestrator(t, testDeps{}, Config{})

	_, err := o.Submit(types.JobInput{})
	require.Error(t, err, "company name is required")

	_, err = o.Submit(types.JobInput{Company: "Acme Corp", CompanyURL: "not a url"})
	require.Error(t, err)
}

func TestPipelineDiscoversWebsiteWhenURLMissing(t *testing.T) {
	o := newTestOrchestrator(t, testDeps{discoverer: &fakeDiscoverer{url: "https://found.example.com"}}, Config{})

	job, err := o.Submit(types.JobInput{Company: "Acme Corp"})
	require.NoError(t, err)

	sub := o.Broadcaster().Subscribe(job.ID)
	defer sub.Close()
	evs := collectTerminal(t, sub)

	seed, ok := evs[1].Payload.(events.DocumentFound)
	require.True(t, ok)
	assert.Equal(t, "https://found.example.com", seed.URL)
	assert.Equal(t, 1.0, seed.Score)
}

func TestEditorFailurePreservesBriefs(t *testing.T) {
	client := newFakeLLM()
	client.streamErr = errors.New("model unavailable")
	o := newTestOrchestrator(t, testDeps{llm: client}, Config{})

	job, err := o.Submit(types.JobInput{Company: "Acme Corp"})
	require.NoError(t, err)

	sub := o.Broadcaster().Subscribe(job.ID)
	defer sub.Close()
	evs := collectTerminal(t, sub)

	failed, ok := evs[len(evs)-1].Payload.(events.Failed)
	require.True(t, ok)
	assert.Contains(t, failed.Reason, "report compilation failed")

	require.Len(t, failed.Briefs, 4, "completed briefs survive the failure")
	for _, cat := range types.AllCategories() {
		assert.Equal(t, types.BriefDone, failed.Briefs[cat].Status)
		assert.NotEmpty(t, failed.Briefs[cat].Text)
	}

	final, _ := o.Manager().Get(job.ID)
	assert.Equal(t, jobs.PhaseFailed, final.Phase)
	assert.Len(t, final.Briefs, 4)
}

func TestCancelFailsRunningJob(t *testing.T) {
	o := newTestOrchestrator(t, testDeps{extractor: &fakeExtractor{block: true}}, Config{})

	job, err := o.Submit(types.JobInput{Company: "Acme Corp"})
	require.NoError(t, err)

	sub := o.Broadcaster().Subscribe(job.ID)
	defer sub.Close()

	deadline := time.After(5 * time.Second)
	var evs []events.Event
	cancelled := false
	for {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok)
			evs = append(evs, ev)
			if p, isPhase := ev.Payload.(events.Processing); isPhase && p.Phase == "enriching" && !cancelled {
				require.NoError(t, o.Cancel(job.ID))
				cancelled = true
			}
			if ev.Type.Terminal() {
				failed, isFailed := ev.Payload.(events.Failed)
				require.True(t, isFailed)
				assert.Equal(t, CancelReason, failed.Reason)
				final, _ := o.Manager().Get(job.ID)
				assert.Equal(t, jobs.PhaseFailed, final.Phase)
				assert.Equal(t, CancelReason, final.Error)
				return
			}
		case <-deadline:
			t.Fatalf("job did not terminate after cancel, saw %d events", len(evs))
		}
	}
}

func TestCancelUnknownAndFinishedJobs(t *testing.T) {
	o := newTestOrchestrator(t, testDeps{}, Config{})

	assert.ErrorIs(t, o.Cancel("no-such-job"), jobs.ErrUnknownJob)

	job, err := o.Submit(types.JobInput{Company: "Acme Corp"})
	require.NoError(t, err)
	sub := o.Broadcaster().Subscribe(job.ID)
	defer sub.Close()
	collectTerminal(t, sub)

	require.Eventually(t, func() bool {
		return errors.Is(o.Cancel(job.ID), jobs.ErrTerminalJob)
	}, time.Second, 10*time.Millisecond, "finished job is no longer cancellable")
}

func TestJobDeadlineForcesFailure(t *testing.T) {
	cfg := Config{
		JobTimeout:    150 * time.Millisecond,
		SearchTimeout: time.Second,
		Curator:       curator.DefaultConfig(),
	}
	o := newTestOrchestrator(t, testDeps{extractor: &fakeExtractor{block: true}}, cfg)

	job, err := o.Submit(types.JobInput{Company: "Acme Corp"})
	require.NoError(t, err)

	sub := o.Broadcaster().Subscribe(job.ID)
	defer sub.Close()
	evs := collectTerminal(t, sub)

	failed, ok := evs[len(evs)-1].Payload.(events.Failed)
	require.True(t, ok)
	assert.Equal(t, DeadlineReason, failed.Reason)
}

func TestDeadlineDuringBriefingKeepsPartialBriefs(t *testing.T) {
	// Two categories brief instantly; the other two hang until the job
	// deadline. The failure payload must carry the finished briefs and
	// mark the unfinished categories insufficient.
	client := newFakeLLM()
	client.briefLimit = 2
	cfg := Config{
		JobTimeout:    400 * time.Millisecond,
		SearchTimeout: 200 * time.Millisecond,
		Curator:       curator.DefaultConfig(),
	}
	o := newTestOrchestrator(t, testDeps{llm: client}, cfg)

	job, err := o.Submit(types.JobInput{Company: "Acme Corp"})
	require.NoError(t, err)

	sub := o.Broadcaster().Subscribe(job.ID)
	defer sub.Close()
	evs := collectTerminal(t, sub)

	failed, ok := evs[len(evs)-1].Payload.(events.Failed)
	require.True(t, ok)
	assert.Equal(t, DeadlineReason, failed.Reason)

	require.Len(t, failed.Briefs, 4, "every category is accounted for")
	var done, insufficient int
	for _, cat := range types.AllCategories() {
		rec := failed.Briefs[cat]
		switch rec.Status {
		case types.BriefDone:
			done++
			assert.NotEmpty(t, rec.Text)
		case types.BriefFailed:
			insufficient++
			assert.Equal(t, types.InsufficientDataMarker, rec.Text)
		default:
			t.Fatalf("unexpected brief status %q for %s", rec.Status, cat)
		}
	}
	assert.Equal(t, 2, done, "briefs finished before the deadline survive")
	assert.Equal(t, 2, insufficient)

	final, _ := o.Manager().Get(job.ID)
	assert.Equal(t, jobs.PhaseFailed, final.Phase)
	assert.Equal(t, DeadlineReason, final.Error)
}

func TestNewFillsMissingConfigFields(t *testing.T) {
	def := DefaultConfig()
	custom := curator.Config{Threshold: 0.8, Cap: 3, MinViable: 1, Decrement: 0.05}

	o := New(Deps{
		Manager:     jobs.NewManager(),
		Broadcaster: events.NewBroadcaster(0),
	}, Config{Curator: custom})

	assert.Equal(t, def.JobTimeout, o.cfg.JobTimeout)
	assert.Equal(t, def.SearchTimeout, o.cfg.SearchTimeout)
	assert.Equal(t, custom, o.cfg.Curator, "explicit settings survive defaulting")
	assert.Zero(t, o.cfg.DisconnectGrace, "zero grace means the watcher stays off")

	o = New(Deps{
		Manager:     jobs.NewManager(),
		Broadcaster: events.NewBroadcaster(0),
	}, Config{JobTimeout: time.Minute})

	assert.Equal(t, time.Minute, o.cfg.JobTimeout)
	assert.Equal(t, def.Curator, o.cfg.Curator)
}

func TestDisconnectGraceCancelsAbandonedJob(t *testing.T) {
	cfg := Config{
		JobTimeout:      5 * time.Second,
		SearchTimeout:   2 * time.Second,
		DisconnectGrace: 50 * time.Millisecond,
		Curator:         curator.DefaultConfig(),
	}
	o := newTestOrchestrator(t, testDeps{extractor: &fakeExtractor{block: true}}, cfg)

	job, err := o.Submit(types.JobInput{Company: "Acme Corp"})
	require.NoError(t, err)

	sub := o.Broadcaster().Subscribe(job.ID)
	deadline := time.After(5 * time.Second)
	for {
		var ev events.Event
		select {
		case ev = <-sub.Events():
		case <-deadline:
			t.Fatal("pipeline never reached enrichment")
		}
		if p, ok := ev.Payload.(events.Processing); ok && p.Phase == "enriching" {
			break
		}
	}
	sub.Close()

	require.Eventually(t, func() bool {
		j, ok := o.Manager().Get(job.ID)
		return ok && j.Phase == jobs.PhaseFailed
	}, 2*time.Second, 10*time.Millisecond, "abandoned job should be cancelled after the grace period")

	final, _ := o.Manager().Get(job.ID)
	assert.Equal(t, CancelReason, final.Error)
}

func TestDisconnectGraceResetByReconnect(t *testing.T) {
	cfg := Config{
		JobTimeout:      time.Second,
		SearchTimeout:   500 * time.Millisecond,
		DisconnectGrace: 10 * time.Minute,
		Curator:         curator.DefaultConfig(),
	}
	o := newTestOrchestrator(t, testDeps{}, cfg)

	job, err := o.Submit(types.JobInput{Company: "Acme Corp"})
	require.NoError(t, err)

	first := o.Broadcaster().Subscribe(job.ID)
	first.Close()
	second := o.Broadcaster().Subscribe(job.ID)
	defer second.Close()

	evs := collectTerminal(t, second)
	_, ok := evs[len(evs)-1].Payload.(events.Completed)
	assert.True(t, ok, "reconnecting before the grace period keeps the job alive")
}

func TestSnapshotReflectsFinalState(t *testing.T) {
	o := newTestOrchestrator(t, testDeps{}, Config{})

	_, ok := o.Snapshot("no-such-job")
	assert.False(t, ok)

	job, err := o.Submit(types.JobInput{Company: "Acme Corp"})
	require.NoError(t, err)
	sub := o.Broadcaster().Subscribe(job.ID)
	defer sub.Close()
	collectTerminal(t, sub)

	snap, ok := o.Snapshot(job.ID)
	require.True(t, ok)
	assert.Equal(t, string(jobs.PhaseCompleted), snap.Phase)
	assert.NotEmpty(t, snap.Result)
	assert.Len(t, snap.Briefs, 4)
}

func TestReplayFromPublishedEvents(t *testing.T) {
	o := newTestOrchestrator(t, testDeps{}, Config{})

	job, err := o.Submit(types.JobInput{Company: "Acme Corp"})
	require.NoError(t, err)
	sub := o.Broadcaster().Subscribe(job.ID)
	defer sub.Close()
	collectTerminal(t, sub)

	replayed := jobs.ReplayJob(job.ID, o.Broadcaster().History(job.ID))
	live, _ := o.Manager().Get(job.ID)

	assert.Equal(t, live.Phase, replayed.Phase)
	assert.Equal(t, live.Result, replayed.Result)
	assert.Equal(t, live.Briefs, replayed.Briefs)
	for _, cat := range types.AllCategories() {
		assert.Equal(t, live.Counts[cat].Kept, replayed.Counts[cat].Kept, "%s kept", cat)
		assert.Equal(t, live.Counts[cat].EnrichedDone, replayed.Counts[cat].EnrichedDone, "%s enriched", cat)
	}
}
