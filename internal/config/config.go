// Package config loads forgeloop configuration from .forge/config.yaml
// with environment variable overrides. Missing files fall back to defaults
// so a bare `forge run` works with only an API key exported.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all forgeloop configuration.
type Config struct {
	// Oracle configures the generation oracle client.
	Oracle OracleConfig `yaml:"oracle"`

	// Improvement configures the cycle chain defaults.
	Improvement ImprovementConfig `yaml:"improvement"`

	// Feedback configures feedback interpretation and polling.
	Feedback FeedbackConfig `yaml:"feedback"`

	// Store configures persistence.
	Store StoreConfig `yaml:"store"`

	// Logging configures log verbosity.
	Logging LoggingConfig `yaml:"logging"`
}

// OracleConfig configures the generation oracle.
type OracleConfig struct {
	Provider    string `yaml:"provider"` // gemini
	APIKey      string `yaml:"api_key"`
	Model       string `yaml:"model"`
	CallTimeout string `yaml:"call_timeout"` // per-call timeout for all oracle-dependent steps
}

// ImprovementConfig configures the cycle orchestrator.
type ImprovementConfig struct {
	DefaultTargetConfidence float64 `yaml:"default_target_confidence"`
	DefaultMaxCycles        int     `yaml:"default_max_cycles"`
	SimilarityThreshold     float64 `yaml:"similarity_threshold"` // gap analyzer token match floor
	MaxConcurrentChains     int     `yaml:"max_concurrent_chains"` // fallback when no resource profile
	MaxRuns                 int     `yaml:"max_runs"`              // continuous-mode run ceiling
}

// FeedbackConfig configures the feedback interpreter and channel.
type FeedbackConfig struct {
	QualityFloor float64 `yaml:"quality_floor"`
	PollInterval string  `yaml:"poll_interval"`
	InboxDir     string  `yaml:"inbox_dir"`
}

// StoreConfig configures SQLite persistence.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
	ModulesDir   string `yaml:"modules_dir"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Verbose bool `yaml:"verbose"`
}

// Default returns the default configuration, rooted at workspace.
func Default(workspace string) *Config {
	return &Config{
		Oracle: OracleConfig{
			Provider:    "gemini",
			Model:       "gemini-2.5-flash",
			CallTimeout: "60s",
		},
		Improvement: ImprovementConfig{
			DefaultTargetConfidence: 0.85,
			DefaultMaxCycles:        3,
			SimilarityThreshold:     0.5,
			MaxConcurrentChains:     4,
			MaxRuns:                 10,
		},
		Feedback: FeedbackConfig{
			QualityFloor: 0.3,
			PollInterval: "1h",
			InboxDir:     filepath.Join(workspace, ".forge", "feedback"),
		},
		Store: StoreConfig{
			DatabasePath: filepath.Join(workspace, ".forge", "forge.db"),
			ModulesDir:   filepath.Join(workspace, ".forge", "modules"),
		},
		Logging: LoggingConfig{},
	}
}

// Load reads .forge/config.yaml under workspace, falling back to defaults
// when the file does not exist, then applies environment overrides.
func Load(workspace string) (*Config, error) {
	cfg := Default(workspace)

	path := filepath.Join(workspace, ".forge", "config.yaml")
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

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Oracle.APIKey = key
		if c.Oracle.Provider == "" {
			c.Oracle.Provider = "gemini"
		}
	}
	if model := os.Getenv("FORGE_ORACLE_MODEL"); model != "" {
		c.Oracle.Model = model
	}
	if timeout := os.Getenv("FORGE_ORACLE_TIMEOUT"); timeout != "" {
		c.Oracle.CallTimeout = timeout
	}
	if path := os.Getenv("FORGE_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if interval := os.Getenv("FORGE_POLL_INTERVAL"); interval != "" {
		c.Feedback.PollInterval = interval
	}
	if chains := os.Getenv("FORGE_MAX_CHAINS"); chains != "" {
		if n, err := strconv.Atoi(chains); err == nil && n > 0 {
			c.Improvement.MaxConcurrentChains = n
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Oracle.APIKey == "" {
		return fmt.Errorf("oracle API key not configured (set GEMINI_API_KEY or oracle.api_key)")
	}
	if c.Improvement.DefaultTargetConfidence < 0 || c.Improvement.DefaultTargetConfidence > 1 {
		return fmt.Errorf("default target confidence %.2f outside [0,1]", c.Improvement.DefaultTargetConfidence)
	}
	if c.Improvement.DefaultMaxCycles < 1 {
		return fmt.Errorf("default max cycles must be >= 1")
	}
	if c.Feedback.QualityFloor < 0 || c.Feedback.QualityFloor > 1 {
		return fmt.Errorf("feedback quality floor %.2f outside [0,1]", c.Feedback.QualityFloor)
	}
	return nil
}

// GetCallTimeout returns the oracle per-call timeout as a duration.
func (c *Config) GetCallTimeout() time.Duration {
	d, err := time.ParseDuration(c.Oracle.CallTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetPollInterval returns the continuous-mode poll interval as a duration.
func (c *Config) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.Feedback.PollInterval)
	if err != nil {
		return time.Hour
	}
	return d
}
