package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/company-researcher/internal/config"
	"github.com/jonathan/company-researcher/internal/events"
	"github.com/jonathan/company-researcher/internal/jobs"
	"github.com/jonathan/company-researcher/internal/observability"
	"github.com/jonathan/company-researcher/internal/types"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Research a company end-to-end and print the report",
	Long: `Runs the full research pipeline for one company: search -> curate -> enrich -> brief -> edit.

Progress is printed as it happens and the final Markdown report is streamed to stdout (or written to --out). Configuration can be loaded from a JSON file using --config; command-line arguments override config file values.`,
	RunE: runResearchCmd,
}

var (
	runConfigPath  string
	runCompany     string
	runCompanyURL  string
	runIndustry    string
	runHQLocation  string
	runOut         string
	runAPIKey      string
	runSearchKey   string
	runSearchCX    string
	runDatabaseURL string
	runUseBrowser  bool
	runVerbose     bool
)

func init() {
	// Config file flag (processed first)
	runCommand.Flags().StringVar(&runConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")

	runCommand.Flags().StringVarP(&runCompany, "company", "c", "", "Company name to research (required)")
	runCommand.Flags().StringVar(&runCompanyURL, "company-url", "", "Company website URL (optional, auto-discovered if not provided)")
	runCommand.Flags().StringVar(&runIndustry, "industry", "", "Industry hint to narrow searches")
	runCommand.Flags().StringVar(&runHQLocation, "hq", "", "Headquarters location hint")
	runCommand.Flags().StringVarP(&runOut, "out", "o", "", "Write the report to a file instead of stdout")
	runCommand.Flags().BoolVar(&runUseBrowser, "use-browser", false, "Use headless browser fallback for SPA sites (requires Chrome)")
	runCommand.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print detailed debug information")

	// Credentials can be passed as flags, or read from env vars
	runCommand.Flags().StringVar(&runAPIKey, "api-key", "", "Gemini API key (optional, defaults to GEMINI_API_KEY env var)")
	runCommand.Flags().StringVar(&runSearchKey, "search-key", "", "Google Programmable Search API key (optional, defaults to SEARCH_API_KEY env var)")
	runCommand.Flags().StringVar(&runSearchCX, "search-cx", "", "Programmable Search engine ID (optional, defaults to SEARCH_ENGINE_ID env var)")
	runCommand.Flags().StringVar(&runDatabaseURL, "db-url", "", "PostgreSQL connection URL for persistence (optional, defaults to DATABASE_URL env var)")

	rootCmd.AddCommand(runCommand)
}

func runResearchCmd(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	// Step 1: Load config file if provided
	var cfg config.Config
	if runConfigPath != "" {
		loadedCfg, err := config.LoadConfig(runConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loadedCfg
		if runVerbose {
			fmt.Fprintf(os.Stdout, "Loaded config from: %s\n", runConfigPath)
		}
	}

	// Step 2: Apply CLI overrides (command-line args take priority)
	if cmd.Flags().Changed("api-key") {
		cfg.GeminiAPIKey = runAPIKey
	}
	if cmd.Flags().Changed("search-key") {
		cfg.SearchAPIKey = runSearchKey
	}
	if cmd.Flags().Changed("search-cx") {
		cfg.SearchEngineID = runSearchCX
	}
	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = runDatabaseURL
	}
	if cmd.Flags().Changed("use-browser") {
		cfg.UseBrowser = runUseBrowser
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = runVerbose
	}

	// Step 3: Environment fallbacks, defaults, validation
	if err := finishConfig(&cfg); err != nil {
		return err
	}

	if runCompany == "" {
		return fmt.Errorf("--company is required")
	}

	a, err := buildApp(ctx, &cfg)
	if err != nil {
		return err
	}
	defer a.close()

	input := types.JobInput{
		Company:    runCompany,
		CompanyURL: runCompanyURL,
		Industry:   runIndustry,
		HQLocation: runHQLocation,
	}

	job, err := a.orchestrator.Submit(input)
	if err != nil {
		return err
	}

	printer := observability.NewPrinter(os.Stdout)
	printer.SetVerbose(cfg.Verbose)

	// The report streams through ReportChunk events; everything else
	// becomes a progress line. Writing to a file suppresses the chunk
	// passthrough and saves the final report instead.
	sub := a.orchestrator.Broadcaster().Subscribe(job.ID)
	defer sub.Close()

	var terminal events.Event
	for ev := range sub.Events() {
		if _, isChunk := ev.Payload.(events.ReportChunk); isChunk && runOut != "" {
			continue
		}
		printer.PrintEvent(ev)
		if ev.Type.Terminal() {
			terminal = ev
			break
		}
	}

	final, _ := a.orchestrator.Manager().Get(job.ID)
	if cfg.Verbose {
		printer.PrintJobSummary(final)
	}

	if failed, ok := terminal.Payload.(events.Failed); ok {
		return fmt.Errorf("research failed: %s", failed.Reason)
	}

	if runOut != "" && final.Phase == jobs.PhaseCompleted {
		if err := os.WriteFile(runOut, []byte(final.Result), 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Report written to %s\n", runOut)
	}

	return nil
}
