// Package main provides the entry point for the company research agent.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "research_agent",
	Short: "Company Research Agent",
	Long:  "Research agent that builds a Markdown research report for a company from live web sources, runnable as a one-shot CLI or as an HTTP API server with SSE progress streams.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
