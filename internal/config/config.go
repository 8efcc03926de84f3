// Package config holds all aegis configuration. Each concern lives in its
// own file with yaml tags and a Default constructor; Load merges the yaml
// file over defaults and then applies environment overrides.
package config

import (
	"os"
	"time"

	"aegis/internal/aerr"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration tree.
type Config struct {
	Name    string `yaml:"name"`
	DataDir string `yaml:"data_dir"`

	Memory     MemoryConfig     `yaml:"memory"`
	LLM        LLMConfig        `yaml:"llm"`
	Auth       AuthConfig       `yaml:"auth"`
	Reasoning  ReasoningConfig  `yaml:"reasoning"`
	CAG        CAGConfig        `yaml:"cag"`
	Health     HealthConfig     `yaml:"health"`
	RateLimits RateLimitsConfig `yaml:"rate_limits"`
	Learning   LearningConfig   `yaml:"learning"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig controls the zap core.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	OutputPath  string `yaml:"output_path"`
}

// Default returns the fully-populated default tree.
func Default() *Config {
	return &Config{
		Name:       "aegis",
		DataDir:    ".aegis",
		Memory:     DefaultMemoryConfig(),
		LLM:        DefaultLLMConfig(),
		Auth:       DefaultAuthConfig(),
		Reasoning:  DefaultReasoningConfig(),
		CAG:        DefaultCAGConfig(),
		Health:     DefaultHealthConfig(),
		RateLimits: DefaultRateLimitsConfig(),
		Learning:   DefaultLearningConfig(),
		Runtime:    DefaultRuntimeConfig(),
		Logging:    LoggingConfig{Level: "info"},
	}
}

// Load reads a yaml file over the defaults. A missing file is not an error;
// the defaults apply. A malformed file is a ConfigError.
func Load(path string) (*Config, error) {
	const op = "config.Load"
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, aerr.E(aerr.KindConfig, op, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, aerr.E(aerr.KindConfig, op, "invalid yaml", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the runtime cannot operate with.
func (c *Config) Validate() error {
	const op = "config.Validate"
	if c.Memory.CacheSize <= 0 {
		return aerr.E(aerr.KindConfig, op, "memory.cache_size must be positive")
	}
	if c.Memory.WorkingMemoryCapacity <= 0 {
		return aerr.E(aerr.KindConfig, op, "memory.working_memory_capacity must be positive")
	}
	if c.Reasoning.MaxSteps <= 0 {
		return aerr.E(aerr.KindConfig, op, "reasoning.max_steps must be positive")
	}
	if c.CAG.SimilarityThreshold <= 0 || c.CAG.SimilarityThreshold > 1 {
		return aerr.E(aerr.KindConfig, op, "cag.similarity_threshold must be in (0,1]")
	}
	switch c.Memory.VectorStore {
	case VectorStoreInMemory, VectorStoreServer, VectorStoreSQL:
	default:
		return aerr.Errorf(aerr.KindConfig, op, "unknown memory.vector_store %q", c.Memory.VectorStore)
	}
	if !c.Runtime.Mode.Valid() {
		return aerr.Errorf(aerr.KindConfig, op, "unknown runtime.mode %q", c.Runtime.Mode)
	}
	return nil
}

// MasterKey reads MASTER_ENCRYPTION_KEY from the environment. Enforcement of
// the minimum length happens in secure.NewCodec; this only reports absence.
func MasterKey() ([]byte, error) {
	key := os.Getenv("MASTER_ENCRYPTION_KEY")
	if key == "" {
		return nil, aerr.E(aerr.KindConfig, "config.MasterKey", "MASTER_ENCRYPTION_KEY is not set")
	}
	return []byte(key), nil
}

// ApplyEnv overlays recognized environment variables onto the config.
// AEGIS_MODE and AEGIS_SIMULATION are the operational toggles; the rest
// mirror the llm.* options for container deployments.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("AEGIS_MODE"); v != "" {
		if m := Mode(v); m.Valid() {
			c.Runtime.Mode = m
		}
	}
	if v := os.Getenv("AEGIS_SIMULATION"); v == "true" || v == "1" {
		c.Runtime.SimulateAll = true
	}
	if v := os.Getenv("AEGIS_LLM_URL"); v != "" {
		c.LLM.APIURL = v
	}
	if v := os.Getenv("AEGIS_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("AEGIS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// parseDuration converts a yaml duration string with a fallback.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
