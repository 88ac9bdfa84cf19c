package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Default returns a configuration with every default applied, valid as-is
// against a local sqlite store with the mock generator.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Generation.Mock = true
	return cfg
}

// Load reads and parses the configuration file and environment variables
func Load(configPath string) (*Config, *Secrets, error) {
	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse TOML
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply defaults
	applyDefaults(&cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Additional input security validation
	if err := cfg.ValidateInputs(); err != nil {
		return nil, nil, fmt.Errorf("input validation failed: %w", err)
	}

	// Load secrets from environment
	secrets, err := LoadSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	return &cfg, secrets, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	// Engine defaults
	if cfg.Engine.MinStock == 0 {
		cfg.Engine.MinStock = 10
	}
	if cfg.Engine.DefaultBatchSize == 0 {
		cfg.Engine.DefaultBatchSize = 5
	}
	if cfg.Engine.MaxBatchSize == 0 {
		cfg.Engine.MaxBatchSize = 20
	}
	// SyncWaitMS defaults to 0: fetches return what they have immediately.

	// Generation defaults
	if cfg.Generation.Workers == 0 {
		cfg.Generation.Workers = 4
	}
	if cfg.Generation.MaxAttempts == 0 {
		cfg.Generation.MaxAttempts = 5
	}
	if cfg.Generation.BackoffBaseMS == 0 {
		cfg.Generation.BackoffBaseMS = 500
	}
	// NOTE: In TOML, we can't distinguish 0 from unset, so an explicit
	// backoff_jitter = 0.0 also becomes the default.
	if cfg.Generation.BackoffJitter == 0 {
		cfg.Generation.BackoffJitter = 0.2
	}
	if cfg.Generation.DeadlineMS == 0 {
		cfg.Generation.DeadlineMS = 30000
	}
	if cfg.Generation.QueueCapacity == 0 {
		cfg.Generation.QueueCapacity = 64
	}
	if cfg.Generation.SubmitBlockMS == 0 {
		cfg.Generation.SubmitBlockMS = 50
	}
	if cfg.Generation.PerCallCount == 0 {
		cfg.Generation.PerCallCount = 10
	}

	// Store defaults
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.DSN == "" && cfg.Store.Driver == "sqlite" {
		cfg.Store.DSN = "quizforge.db"
	}

	// Generator defaults
	if cfg.Generator.Temperature == 0 {
		cfg.Generator.Temperature = 0.7
	}
	if cfg.Generator.TopP == 0 {
		cfg.Generator.TopP = 1.0
	}
	if cfg.Generator.MaxOutputTokens == 0 {
		cfg.Generator.MaxOutputTokens = 4096
	}
	if cfg.Generator.RateLimitPerMinute == 0 {
		cfg.Generator.RateLimitPerMinute = 60
	}
	// Default max_retries is 2.
	// NOTE: In TOML, we can't distinguish 0 from unset, so:
	// - Unset (0) → defaults to 2
	// - Explicitly set to -1 → no HTTP-level retries
	// - Any positive number → use that value
	if cfg.Generator.MaxRetries == 0 {
		cfg.Generator.MaxRetries = 2
	}
	if cfg.Generator.HTTPTimeoutSeconds == 0 {
		cfg.Generator.HTTPTimeoutSeconds = 120
	}
	if cfg.Generator.PromptTemplate == "" {
		cfg.Generator.PromptTemplate = GetDefaultQuestionTemplate()
	}
	if cfg.Generator.SystemPrompt == "" {
		cfg.Generator.SystemPrompt = GetDefaultSystemPrompt()
	}
}
