package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/company-researcher/internal/config"
	"github.com/jonathan/company-researcher/internal/server"
)

var tokenClientID string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a JWT for API access",
	Long:  "Generates a bearer token signed with JWT_SECRET, for use against a server running with auth enabled.",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenClientID, "client-id", "", "Client identifier to embed in the token (required)")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(_ *cobra.Command, _ []string) error {
	if tokenClientID == "" {
		return fmt.Errorf("--client-id is required")
	}

	jwtConfig, err := config.NewJWTConfig()
	if err != nil {
		return err
	}

	token, err := server.NewJWTService(jwtConfig).GenerateToken(tokenClientID)
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	fmt.Fprintln(os.Stdout, token)
	return nil
}
