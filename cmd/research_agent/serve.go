package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/company-researcher/internal/config"
	"github.com/jonathan/company-researcher/internal/server"
)

var (
	serveConfigPath string
	serveAddr       string
	serveVerbose    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that accepts research jobs and streams their progress over SSE.

Persistence is enabled when DATABASE_URL is set; JWT auth when JWT_SECRET is set.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to config.json file")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default :8080)")
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "Print detailed debug information")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	var cfg config.Config
	if serveConfigPath != "" {
		loadedCfg, err := config.LoadConfig(serveConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loadedCfg
	}
	if cmd.Flags().Changed("addr") {
		cfg.Addr = serveAddr
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = serveVerbose
	}
	if err := finishConfig(&cfg); err != nil {
		return err
	}

	a, err := buildApp(ctx, &cfg)
	if err != nil {
		return err
	}
	defer a.close()

	srv, err := server.New(a.orchestrator, a.database, server.Config{Addr: cfg.Addr})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start()
}
