// Package config provides configuration loading and validation for the
// research agent. Settings come from a JSON file, environment variables
// (optionally via .env), and CLI flags, in increasing precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Defaults for the research pipeline tunables.
const (
	DefaultQueryBudget       = 8
	DefaultCurationThreshold = 0.4
	DefaultCurationCap       = 30
	DefaultEnrichWorkers     = 10
	DefaultJobTimeoutMinutes = 10
	DefaultDisconnectGraceS  = 30
	DefaultAddr              = ":8080"
)

// Config is the application configuration. All fields are optional in
// the file; missing values use defaults or come from the environment.
type Config struct {
	// Credentials
	GeminiAPIKey   string `json:"gemini_api_key,omitempty"`   // Gemini API key
	SearchAPIKey   string `json:"search_api_key,omitempty"`   // Google Programmable Search API key
	SearchEngineID string `json:"search_engine_id,omitempty"` // Programmable Search engine ID (cx)
	DatabaseURL    string `json:"database_url,omitempty"`     // PostgreSQL connection URL (optional persistence)

	// Server
	Addr string `json:"addr,omitempty"` // HTTP listen address

	// Behavior
	UseBrowser bool `json:"use_browser,omitempty"` // Use headless browser fallback for SPA sites
	Verbose    bool `json:"verbose,omitempty"`     // Print detailed debug information

	// Research tunables
	QueryBudget         int     `json:"query_budget,omitempty"`          // Max search queries per analyzer
	CurationThreshold   float64 `json:"curation_threshold,omitempty"`    // Base relevance threshold
	CurationCap         int     `json:"curation_cap,omitempty"`          // Max documents kept per category
	EnrichWorkers       int     `json:"enrich_workers,omitempty"`        // Extraction workers per job
	JobTimeoutMinutes   int     `json:"job_timeout_minutes,omitempty"`   // Whole-job deadline
	DisconnectGraceSecs int     `json:"disconnect_grace_secs,omitempty"` // Grace before cancelling abandoned jobs
}

// LoadConfig loads configuration from a JSON file.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// ApplyEnv fills credential fields from environment variables when the
// file left them empty. Call after godotenv has loaded any .env file.
func (c *Config) ApplyEnv() {
	if c.GeminiAPIKey == "" {
		c.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.SearchAPIKey == "" {
		c.SearchAPIKey = os.Getenv("SEARCH_API_KEY")
	}
	if c.SearchEngineID == "" {
		c.SearchEngineID = os.Getenv("SEARCH_ENGINE_ID")
	}
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
}

// ApplyDefaults fills unset tunables with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.QueryBudget <= 0 {
		c.QueryBudget = DefaultQueryBudget
	}
	if c.CurationThreshold <= 0 {
		c.CurationThreshold = DefaultCurationThreshold
	}
	if c.CurationCap <= 0 {
		c.CurationCap = DefaultCurationCap
	}
	if c.EnrichWorkers <= 0 {
		c.EnrichWorkers = DefaultEnrichWorkers
	}
	if c.JobTimeoutMinutes <= 0 {
		c.JobTimeoutMinutes = DefaultJobTimeoutMinutes
	}
	if c.DisconnectGraceSecs <= 0 {
		c.DisconnectGraceSecs = DefaultDisconnectGraceS
	}
}

// Validate checks that the configuration has valid values. Required
// credentials are checked by the commands that need them.
func (c *Config) Validate() error {
	if c.QueryBudget < 0 {
		return fmt.Errorf("config error: 'query_budget' must be non-negative")
	}
	if c.CurationThreshold < 0 || c.CurationThreshold > 1 {
		return fmt.Errorf("config error: 'curation_threshold' must be in [0, 1]")
	}
	if c.CurationCap < 0 {
		return fmt.Errorf("config error: 'curation_cap' must be non-negative")
	}
	if c.EnrichWorkers < 0 {
		return fmt.Errorf("config error: 'enrich_workers' must be non-negative")
	}
	if c.JobTimeoutMinutes < 0 {
		return fmt.Errorf("config error: 'job_timeout_minutes' must be non-negative")
	}
	return nil
}
