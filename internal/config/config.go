package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/quizforge/quizforge/pkg/models"
)

// Config represents the complete application configuration
type Config struct {
	Engine     EngineConfig     `toml:"engine"`
	Generation GenerationConfig `toml:"generation"`
	Store      StoreConfig      `toml:"store"`
	Generator  GeneratorConfig  `toml:"generator"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

// EngineConfig holds dispatch-side settings
type EngineConfig struct {
	MinStock         int `toml:"min_stock"`          // Replenish when scoped stock drops below this
	SyncWaitMS       int `toml:"sync_wait_ms"`       // How long a fetch may wait on generation (0 = return immediately)
	DefaultBatchSize int `toml:"default_batch_size"` // Batch size when the caller does not specify one
	MaxBatchSize     int `toml:"max_batch_size"`     // Upper bound on a single fetch
}

// GenerationConfig holds coordinator settings
type GenerationConfig struct {
	Workers       int     `toml:"workers"`         // Concurrent generation workers
	MaxAttempts   int     `toml:"max_attempts"`    // Attempts per job before it fails
	BackoffBaseMS int     `toml:"backoff_base_ms"` // Base delay for exponential backoff
	BackoffJitter float64 `toml:"backoff_jitter"`  // Jitter fraction (0 = unset, defaults to 0.2)
	DeadlineMS    int     `toml:"deadline_ms"`     // Per-generation-call deadline
	QueueCapacity int     `toml:"queue_capacity"`  // Bounded job queue size
	SubmitBlockMS int     `toml:"submit_block_ms"` // Max time submit may block on a full queue
	PerCallCount  int     `toml:"per_call_count"`  // Cap on questions requested per generator call
	Mock          bool    `toml:"mock"`            // Use the deterministic offline generator
}

// StoreConfig selects and configures the inventory store backend
type StoreConfig struct {
	Driver string `toml:"driver"` // "sqlite" or "postgres"
	DSN    string `toml:"dsn"`
}

// GeneratorConfig represents the question generator model endpoint
type GeneratorConfig struct {
	BaseURL            string  `toml:"base_url"`
	ModelName          string  `toml:"model_name"`
	Temperature        float64 `toml:"temperature"`
	TopP               float64 `toml:"top_p"`
	MaxOutputTokens    int     `toml:"max_output_tokens"`
	RateLimitPerMinute int     `toml:"rate_limit_per_minute"`
	MaxRetries         int     `toml:"max_retries"`          // HTTP-level retries (0 = default 2, -1 = none)
	HTTPTimeoutSeconds int     `toml:"http_timeout_seconds"` // 0 = default 120
	UseJSONMode        bool    `toml:"use_json_mode"`        // Ask the endpoint for structured JSON output
	PromptTemplate     string  `toml:"prompt_template"`      // Overrides the built-in question template
	SystemPrompt       string  `toml:"system_prompt"`        // Overrides the built-in system prompt
}

// MetricsConfig controls the optional Prometheus endpoint
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"` // Empty = endpoint disabled
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	APIKeys map[string]string
}

const (
	// MaxWorkers is the maximum allowed generation concurrency
	MaxWorkers = 256
	// MaxQueueCapacity is the maximum allowed job queue size
	MaxQueueCapacity = 4096
	// MaxBatchLimit is the hard cap on a single fetch batch
	MaxBatchLimit = 100
	// MaxPerCallCount is the hard cap on questions per generator call
	MaxPerCallCount = 50
	// MaxJobAttempts is the maximum allowed attempts per job
	MaxJobAttempts = 10
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Engine.MinStock < 0 {
		return fmt.Errorf("engine.min_stock must not be negative (got %d)", c.Engine.MinStock)
	}
	if c.Engine.SyncWaitMS < 0 {
		return fmt.Errorf("engine.sync_wait_ms must not be negative (got %d)", c.Engine.SyncWaitMS)
	}
	if c.Engine.DefaultBatchSize < 1 {
		return fmt.Errorf("engine.default_batch_size must be at least 1 (got %d)", c.Engine.DefaultBatchSize)
	}
	if c.Engine.MaxBatchSize < c.Engine.DefaultBatchSize {
		return fmt.Errorf("engine.max_batch_size (%d) must not be below default_batch_size (%d)", c.Engine.MaxBatchSize, c.Engine.DefaultBatchSize)
	}
	if c.Engine.MaxBatchSize > MaxBatchLimit {
		return fmt.Errorf("engine.max_batch_size must not exceed %d (got %d)", MaxBatchLimit, c.Engine.MaxBatchSize)
	}

	if c.Generation.Workers < 1 {
		return fmt.Errorf("generation.workers must be at least 1 (got %d)", c.Generation.Workers)
	}
	if c.Generation.Workers > MaxWorkers {
		return fmt.Errorf("generation.workers must not exceed %d (got %d)", MaxWorkers, c.Generation.Workers)
	}
	if c.Generation.MaxAttempts < 1 || c.Generation.MaxAttempts > MaxJobAttempts {
		return fmt.Errorf("generation.max_attempts must be between 1 and %d (got %d)", MaxJobAttempts, c.Generation.MaxAttempts)
	}
	if c.Generation.BackoffBaseMS < 1 {
		return fmt.Errorf("generation.backoff_base_ms must be at least 1 (got %d)", c.Generation.BackoffBaseMS)
	}
	if c.Generation.BackoffJitter <= 0 || c.Generation.BackoffJitter > 1 {
		return fmt.Errorf("generation.backoff_jitter must be in (0, 1] (got %.2f)", c.Generation.BackoffJitter)
	}
	if c.Generation.DeadlineMS < 1 {
		return fmt.Errorf("generation.deadline_ms must be at least 1 (got %d)", c.Generation.DeadlineMS)
	}
	if c.Generation.QueueCapacity < 1 || c.Generation.QueueCapacity > MaxQueueCapacity {
		return fmt.Errorf("generation.queue_capacity must be between 1 and %d (got %d)", MaxQueueCapacity, c.Generation.QueueCapacity)
	}
	if c.Generation.SubmitBlockMS < 0 || c.Generation.SubmitBlockMS > 1000 {
		return fmt.Errorf("generation.submit_block_ms must be between 0 and 1000 (got %d)", c.Generation.SubmitBlockMS)
	}
	if c.Generation.PerCallCount < 1 || c.Generation.PerCallCount > MaxPerCallCount {
		return fmt.Errorf("generation.per_call_count must be between 1 and %d (got %d)", MaxPerCallCount, c.Generation.PerCallCount)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres (got %q)", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}

	// The live generator endpoint is only required when the mock is off.
	if !c.Generation.Mock {
		if c.Generator.BaseURL == "" {
			return fmt.Errorf("generator.base_url is required (or set generation.mock = true)")
		}
		if c.Generator.ModelName == "" {
			return fmt.Errorf("generator.model_name is required (or set generation.mock = true)")
		}
	}
	if c.Generator.Temperature < 0 || c.Generator.Temperature > 2 {
		return fmt.Errorf("generator.temperature must be between 0 and 2 (got %.2f)", c.Generator.Temperature)
	}
	if c.Generator.TopP < 0 || c.Generator.TopP > 1 {
		return fmt.Errorf("generator.top_p must be between 0 and 1 (got %.2f)", c.Generator.TopP)
	}
	if c.Generator.MaxOutputTokens < 1 {
		return fmt.Errorf("generator.max_output_tokens must be at least 1 (got %d)", c.Generator.MaxOutputTokens)
	}
	if c.Generator.RateLimitPerMinute < 1 {
		return fmt.Errorf("generator.rate_limit_per_minute must be at least 1 (got %d)", c.Generator.RateLimitPerMinute)
	}

	return nil
}

// DifficultySetValid rejects unknown difficulty names early so a bad CLI
// flag fails before touching the store.
func DifficultySetValid(names []string) error {
	for _, n := range names {
		if !models.Difficulty(strings.ToLower(strings.TrimSpace(n))).Valid() {
			return fmt.Errorf("unknown difficulty %q (allowed: easy, medium, hard)", n)
		}
	}
	return nil
}

// LoadSecrets loads sensitive credentials from environment variables
func LoadSecrets() (*Secrets, error) {
	secrets := &Secrets{
		APIKeys: make(map[string]string),
	}

	// Generic API key (provider-agnostic)
	if key := os.Getenv("API_KEY"); key != "" {
		secrets.APIKeys["generic"] = key
	}

	// Provider-specific API keys (optional, override generic)
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		secrets.APIKeys["openai"] = key
	}
	if key := os.Getenv("NVIDIA_API_KEY"); key != "" {
		secrets.APIKeys["nvidia"] = key
	}
	if key := os.Getenv("TOGETHER_API_KEY"); key != "" {
		secrets.APIKeys["together"] = key
	}
	if key := os.Getenv("GROQ_API_KEY"); key != "" {
		secrets.APIKeys["groq"] = key
	}

	return secrets, nil
}

// GetAPIKey returns the API key for a given base URL
func (s *Secrets) GetAPIKey(baseURL string) string {
	if strings.Contains(baseURL, "openai.com") {
		if key := s.APIKeys["openai"]; key != "" {
			return key
		}
	}
	if strings.Contains(baseURL, "nvidia.com") {
		if key := s.APIKeys["nvidia"]; key != "" {
			return key
		}
	}
	if strings.Contains(baseURL, "together.xyz") || strings.Contains(baseURL, "together.ai") {
		if key := s.APIKeys["together"]; key != "" {
			return key
		}
	}
	if strings.Contains(baseURL, "groq.com") {
		if key := s.APIKeys["groq"]; key != "" {
			return key
		}
	}

	// Fall back to generic API_KEY for any OpenAI-compatible provider
	if key := s.APIKeys["generic"]; key != "" {
		return key
	}

	// No key found; could be a local server without auth
	return ""
}

// GetProviderName extracts a provider name from a base URL for rate limiting
func GetProviderName(baseURL string) string {
	if strings.Contains(baseURL, "openai.com") {
		return "openai"
	}
	if strings.Contains(baseURL, "nvidia.com") {
		return "nvidia"
	}
	if strings.Contains(baseURL, "together.xyz") || strings.Contains(baseURL, "together.ai") {
		return "together"
	}
	if strings.Contains(baseURL, "groq.com") {
		return "groq"
	}
	// For localhost or unknown providers, use the full base URL as provider name
	return baseURL
}
