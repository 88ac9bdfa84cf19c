package config

import (
	"os"
	"testing"
)

func validConfig() Config {
	return Config{
		Engine: EngineConfig{
			MinStock:         10,
			DefaultBatchSize: 5,
			MaxBatchSize:     20,
		},
		Generation: GenerationConfig{
			Workers:       4,
			MaxAttempts:   5,
			BackoffBaseMS: 500,
			BackoffJitter: 0.2,
			DeadlineMS:    30000,
			QueueCapacity: 64,
			SubmitBlockMS: 50,
			PerCallCount:  10,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "quizforge.db",
		},
		Generator: GeneratorConfig{
			BaseURL:            "https://api.example.com/v1",
			ModelName:          "test-model",
			Temperature:        0.7,
			TopP:               1.0,
			MaxOutputTokens:    1024,
			RateLimitPerMinute: 60,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "negative min stock",
			mutate:  func(c *Config) { c.Engine.MinStock = -1 },
			wantErr: true,
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Generation.Workers = 0 },
			wantErr: true,
		},
		{
			name:    "too many workers",
			mutate:  func(c *Config) { c.Generation.Workers = MaxWorkers + 1 },
			wantErr: true,
		},
		{
			name:    "jitter above one",
			mutate:  func(c *Config) { c.Generation.BackoffJitter = 1.5 },
			wantErr: true,
		},
		{
			name:    "jitter zero",
			mutate:  func(c *Config) { c.Generation.BackoffJitter = 0 },
			wantErr: true,
		},
		{
			name:    "batch sizes inverted",
			mutate:  func(c *Config) { c.Engine.MaxBatchSize = 2 },
			wantErr: true,
		},
		{
			name:    "unknown store driver",
			mutate:  func(c *Config) { c.Store.Driver = "oracle" },
			wantErr: true,
		},
		{
			name:    "empty dsn",
			mutate:  func(c *Config) { c.Store.DSN = "" },
			wantErr: true,
		},
		{
			name:    "missing generator url",
			mutate:  func(c *Config) { c.Generator.BaseURL = "" },
			wantErr: true,
		},
		{
			name: "mock generator allows missing url",
			mutate: func(c *Config) {
				c.Generator.BaseURL = ""
				c.Generator.ModelName = ""
				c.Generation.Mock = true
			},
			wantErr: false,
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *Config) { c.Generator.Temperature = 2.5 },
			wantErr: true,
		},
		{
			name:    "per call count above cap",
			mutate:  func(c *Config) { c.Generation.PerCallCount = MaxPerCallCount + 1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDifficultySetValid(t *testing.T) {
	if err := DifficultySetValid([]string{"easy", " MEDIUM ", "hard"}); err != nil {
		t.Errorf("Expected difficulty names to pass, got: %v", err)
	}
	if err := DifficultySetValid([]string{"easy", "impossible"}); err == nil {
		t.Error("Expected error for unknown difficulty, got nil")
	}
}

func TestLoadSecrets(t *testing.T) {
	// Set test environment variables
	if err := os.Setenv("OPENAI_API_KEY", "test-key-123"); err != nil {
		t.Fatalf("Failed to set OPENAI_API_KEY: %v", err)
	}
	if err := os.Setenv("NVIDIA_API_KEY", "test-nvidia-key"); err != nil {
		t.Fatalf("Failed to set NVIDIA_API_KEY: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("OPENAI_API_KEY")
		_ = os.Unsetenv("NVIDIA_API_KEY")
	}()

	secrets, err := LoadSecrets()
	if err != nil {
		t.Fatalf("LoadSecrets() error = %v", err)
	}

	if secrets.APIKeys["openai"] != "test-key-123" {
		t.Errorf("Expected OpenAI key to be 'test-key-123', got %s", secrets.APIKeys["openai"])
	}

	if secrets.APIKeys["nvidia"] != "test-nvidia-key" {
		t.Errorf("Expected NVIDIA key to be 'test-nvidia-key', got %s", secrets.APIKeys["nvidia"])
	}
}

func TestGetAPIKey(t *testing.T) {
	secrets := &Secrets{
		APIKeys: map[string]string{
			"openai": "openai-key",
			"nvidia": "nvidia-key",
		},
	}

	tests := []struct {
		name    string
		baseURL string
		want    string
	}{
		{
			name:    "OpenAI URL",
			baseURL: "https://api.openai.com/v1",
			want:    "openai-key",
		},
		{
			name:    "NVIDIA URL",
			baseURL: "https://integrate.api.nvidia.com/v1",
			want:    "nvidia-key",
		},
		{
			name:    "Unknown URL",
			baseURL: "https://unknown.com/v1",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := secrets.GetAPIKey(tt.baseURL)
			if got != tt.want {
				t.Errorf("GetAPIKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetAPIKey_GenericFallback(t *testing.T) {
	secrets := &Secrets{
		APIKeys: map[string]string{"generic": "any-key"},
	}
	if got := secrets.GetAPIKey("http://localhost:8080/v1"); got != "any-key" {
		t.Errorf("Expected generic fallback key, got %q", got)
	}
}

func TestGetProviderName(t *testing.T) {
	tests := []struct {
		baseURL string
		want    string
	}{
		{"https://api.openai.com/v1", "openai"},
		{"https://api.together.xyz/v1", "together"},
		{"http://localhost:11434/v1", "http://localhost:11434/v1"},
	}

	for _, tt := range tests {
		if got := GetProviderName(tt.baseURL); got != tt.want {
			t.Errorf("GetProviderName(%q) = %q, want %q", tt.baseURL, got, tt.want)
		}
	}
}
