package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jonathan/company-researcher/internal/analyzer"
	"github.com/jonathan/company-researcher/internal/briefing"
	"github.com/jonathan/company-researcher/internal/config"
	"github.com/jonathan/company-researcher/internal/curator"
	"github.com/jonathan/company-researcher/internal/db"
	"github.com/jonathan/company-researcher/internal/editor"
	"github.com/jonathan/company-researcher/internal/enricher"
	"github.com/jonathan/company-researcher/internal/events"
	"github.com/jonathan/company-researcher/internal/extract"
	"github.com/jonathan/company-researcher/internal/jobs"
	"github.com/jonathan/company-researcher/internal/llm"
	"github.com/jonathan/company-researcher/internal/pipeline"
	"github.com/jonathan/company-researcher/internal/search"
)

// app bundles everything the run and serve commands share.
type app struct {
	orchestrator *pipeline.Orchestrator
	database     *db.DB // nil without DATABASE_URL
	llmClient    llm.Client
}

func (a *app) close() {
	if a.llmClient != nil {
		_ = a.llmClient.Close()
	}
	if a.database != nil {
		a.database.Close()
	}
}

// buildApp wires the pipeline from configuration: LLM client, search
// source, extractor, the four stages, and optional persistence.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable or config 'gemini_api_key' is required")
	}
	if cfg.SearchAPIKey == "" || cfg.SearchEngineID == "" {
		return nil, fmt.Errorf("SEARCH_API_KEY and SEARCH_ENGINE_ID are required (env or config file)")
	}

	client, err := llm.NewClient(ctx, llm.DefaultConfig(), cfg.GeminiAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	source, err := search.NewGoogleSource(ctx, cfg.SearchAPIKey, cfg.SearchEngineID)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create search source: %w", err)
	}

	extractOpts := extract.DefaultExtractOptions()
	extractOpts.UseBrowser = cfg.UseBrowser
	extractOpts.Verbose = cfg.Verbose
	extractor := extract.NewWebExtractor(extractOpts)

	analyzerCfg := analyzer.DefaultConfig()
	analyzerCfg.QueryBudget = cfg.QueryBudget
	analyzerCfg.Verbose = cfg.Verbose

	curatorCfg := curator.DefaultConfig()
	curatorCfg.Threshold = cfg.CurationThreshold
	curatorCfg.Cap = cfg.CurationCap
	curatorCfg.Verbose = cfg.Verbose

	enricherCfg := enricher.DefaultConfig()
	enricherCfg.Workers = cfg.EnrichWorkers
	enricherCfg.Verbose = cfg.Verbose

	briefingCfg := briefing.DefaultConfig()
	briefingCfg.Verbose = cfg.Verbose

	editorCfg := editor.DefaultConfig()
	editorCfg.Verbose = cfg.Verbose

	a := &app{llmClient: client}

	pipelineCfg := pipeline.DefaultConfig()
	pipelineCfg.JobTimeout = time.Duration(cfg.JobTimeoutMinutes) * time.Minute
	pipelineCfg.DisconnectGrace = time.Duration(cfg.DisconnectGraceSecs) * time.Second
	pipelineCfg.Curator = curatorCfg
	pipelineCfg.Verbose = cfg.Verbose

	deps := pipeline.Deps{
		Manager:     jobs.NewManager(),
		Broadcaster: events.NewBroadcaster(events.DefaultQueueSize),
		Analyzer:    analyzer.New(client, source, analyzerCfg),
		Enricher:    enricher.New(extractor, enricherCfg),
		Briefer:     briefing.New(client, briefingCfg),
		Editor:      editor.New(client, editorCfg),
		Discoverer:  source,
	}

	if cfg.DatabaseURL != "" {
		database, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := database.EnsureSchema(ctx); err != nil {
			database.Close()
			a.close()
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}
		a.database = database
		deps.Persister = database
	}

	a.orchestrator = pipeline.New(deps, pipelineCfg)
	return a, nil
}

// finishConfig applies env fallbacks and defaults, then validates.
// Flag overrides run before this, so merged precedence is flags over
// file over environment over defaults.
func finishConfig(cfg *config.Config) error {
	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	return cfg.Validate()
}
