// Package config loads and validates zenus configuration. The core only
// sees configuration through the typed Config snapshot; hot reloads swap
// the snapshot atomically at transaction boundaries.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all zenus configuration.
type Config struct {
	// StateRoot is where logs, databases and caches live. Default ~/.zenus.
	StateRoot string `yaml:"state_root"`

	LLM            LLMConfig            `yaml:"llm"`
	Fallback       FallbackConfig       `yaml:"fallback"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
	Cache          CacheConfig          `yaml:"cache"`
	Safety         SafetyConfig         `yaml:"safety"`
	Planner        PlannerConfig        `yaml:"planner"`
	GoalLoop       GoalLoopConfig       `yaml:"goal_loop"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// LLMConfig configures the translator provider.
type LLMConfig struct {
	Provider       string  `yaml:"provider"` // anthropic, openai, deepseek, ollama, gemini
	Model          string  `yaml:"model"`
	APIKey         string  `yaml:"api_key"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	// NoProgressTimeoutSeconds bounds the gap between stream chunks when
	// streaming is active (streams have no wall-clock timeout).
	NoProgressTimeoutSeconds int `yaml:"no_progress_timeout_seconds"`
}

// FallbackConfig configures the provider fallback chain.
type FallbackConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Providers []string `yaml:"providers"` // ordered, highest priority first
}

// CircuitBreakerConfig configures per-service circuit breakers.
type CircuitBreakerConfig struct {
	FailureThreshold int     `yaml:"failure_threshold"`
	TimeoutSeconds   float64 `yaml:"timeout_seconds"`
	SuccessThreshold int     `yaml:"success_threshold"`
	WindowSeconds    float64 `yaml:"window_seconds"`
}

// RetryConfig configures retry budgets and backoff.
type RetryConfig struct {
	MaxAttempts         int     `yaml:"max_attempts"`
	InitialDelaySeconds float64 `yaml:"initial_delay_seconds"`
	MaxDelaySeconds     float64 `yaml:"max_delay_seconds"`
	ExponentialBase     float64 `yaml:"exponential_base"`
	Jitter              bool    `yaml:"jitter"`
	BudgetTotal         int     `yaml:"budget_total"`
	WindowSeconds       float64 `yaml:"window_seconds"`
}

// CacheConfig configures the intent cache.
type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
	MaxEntries int `yaml:"max_entries"`
}

// SafetyConfig configures execution safety rails.
type SafetyConfig struct {
	SandboxEnabled bool     `yaml:"sandbox_enabled"`
	AllowedPaths   []string `yaml:"allowed_paths"`
	// DefaultStepTimeoutSeconds applies to tool classes that are not
	// exempt from wall-clock timeouts.
	DefaultStepTimeoutSeconds int `yaml:"default_step_timeout_seconds"`
}

// PlannerConfig configures concurrent dispatch.
type PlannerConfig struct {
	WorkerPool int `yaml:"worker_pool"`
}

// GoalLoopConfig configures the iterative outer loop.
type GoalLoopConfig struct {
	MaxIterations  int `yaml:"max_iterations"`
	BatchSize      int `yaml:"batch_size"`
	StuckThreshold int `yaml:"stuck_threshold"`
}

// LoggingConfig configures debug logging.
type LoggingConfig struct {
	Debug bool   `yaml:"debug"`
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultStateRoot returns ~/.zenus (falling back to a relative path when
// the home directory cannot be resolved).
func DefaultStateRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".zenus"
	}
	return filepath.Join(home, ".zenus")
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		StateRoot: DefaultStateRoot(),
		LLM: LLMConfig{
			Provider:                 "gemini",
			Model:                    "gemini-2.5-flash",
			MaxTokens:                8192,
			Temperature:              0.2,
			TimeoutSeconds:           30,
			NoProgressTimeoutSeconds: 120,
		},
		Fallback: FallbackConfig{
			Enabled:   true,
			Providers: []string{"gemini"},
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			TimeoutSeconds:   60,
			SuccessThreshold: 2,
			WindowSeconds:    300,
		},
		Retry: RetryConfig{
			MaxAttempts:         3,
			InitialDelaySeconds: 1,
			MaxDelaySeconds:     30,
			ExponentialBase:     2.0,
			Jitter:              true,
			BudgetTotal:         10,
			WindowSeconds:       60,
		},
		Cache: CacheConfig{
			TTLSeconds: 3600,
			MaxEntries: 500,
		},
		Safety: SafetyConfig{
			SandboxEnabled:            false,
			DefaultStepTimeoutSeconds: 60,
		},
		Planner: PlannerConfig{
			WorkerPool: 4,
		},
		GoalLoop: GoalLoopConfig{
			MaxIterations:  50,
			BatchSize:      12,
			StuckThreshold: 3,
		},
		Logging: LoggingConfig{
			Debug: false,
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, merging over defaults and
// applying environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "gemini"
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && c.LLM.Provider == "anthropic" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.LLM.Provider == "openai" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("ZENUS_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if root := os.Getenv("ZENUS_STATE_ROOT"); root != "" {
		c.StateRoot = root
	}
	if model := os.Getenv("ZENUS_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if pool := os.Getenv("ZENUS_WORKER_POOL"); pool != "" {
		if n, err := strconv.Atoi(pool); err == nil && n > 0 {
			c.Planner.WorkerPool = n
		}
	}
	if debug := os.Getenv("ZENUS_DEBUG"); debug == "1" || debug == "true" {
		c.Logging.Debug = true
	}
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"anthropic", "openai", "deepseek", "ollama", "gemini"}

// Validate validates the configuration against the enumerated contract.
func (c *Config) Validate() error {
	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid llm.provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature out of range: %v", c.LLM.Temperature)
	}
	if c.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be positive")
	}
	if c.CircuitBreaker.SuccessThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.success_threshold must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	if c.Retry.ExponentialBase < 1 {
		return fmt.Errorf("retry.exponential_base must be >= 1, got %v", c.Retry.ExponentialBase)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive")
	}
	if c.Planner.WorkerPool <= 0 {
		return fmt.Errorf("planner.worker_pool must be positive")
	}
	if c.GoalLoop.MaxIterations <= 0 {
		return fmt.Errorf("goal_loop.max_iterations must be positive")
	}
	if c.GoalLoop.BatchSize <= 0 {
		return fmt.Errorf("goal_loop.batch_size must be positive")
	}
	if c.GoalLoop.StuckThreshold <= 0 {
		return fmt.Errorf("goal_loop.stuck_threshold must be positive")
	}
	return nil
}

// ConfigPath returns the canonical config.yaml path under the state root.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.StateRoot, "config.yaml")
}

// LLMTimeout returns the model-call timeout as a duration.
func (c *Config) LLMTimeout() time.Duration {
	if c.LLM.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// NoProgressTimeout returns the per-chunk stream timeout.
func (c *Config) NoProgressTimeout() time.Duration {
	if c.LLM.NoProgressTimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.LLM.NoProgressTimeoutSeconds) * time.Second
}

// StepTimeout returns the default per-step timeout.
func (c *Config) StepTimeout() time.Duration {
	if c.Safety.DefaultStepTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Safety.DefaultStepTimeoutSeconds) * time.Second
}

// CacheTTL returns the intent cache TTL.
func (c *Config) CacheTTL() time.Duration {
	if c.Cache.TTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}
