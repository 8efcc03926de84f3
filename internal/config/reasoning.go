package config

import "time"

// Reasoning strategy names.
const (
	StrategyAuto            = "auto"
	StrategyZeroShot        = "zero-shot"
	StrategyEvolutionary    = "evolutionary"
	StrategyFirstPrinciples = "first-principles"
)

// ReasoningConfig tunes the planner/executor.
type ReasoningConfig struct {
	MaxSteps int    `yaml:"max_steps"`
	Timeout  string `yaml:"timeout"`
	Strategy string `yaml:"strategy"`

	// DepthBudget feeds the auto-selection heuristic.
	DepthBudget int `yaml:"depth_budget"`

	// Evolutionary strategy knobs.
	Population  int     `yaml:"population"`
	TopK        int     `yaml:"top_k"`
	Generations int     `yaml:"generations"`
	PlateauEps  float64 `yaml:"plateau_eps"`
}

func DefaultReasoningConfig() ReasoningConfig {
	return ReasoningConfig{
		MaxSteps:    8,
		Timeout:     "30s",
		Strategy:    StrategyAuto,
		DepthBudget: 3,
		Population:  6,
		TopK:        2,
		Generations: 4,
		PlateauEps:  1e-4,
	}
}

func (r ReasoningConfig) TimeoutDuration() time.Duration {
	return parseDuration(r.Timeout, 30*time.Second)
}

// HealthConfig tunes the health monitor scheduler.
type HealthConfig struct {
	Interval string `yaml:"interval"`

	// CacheHitRateFloor marks the memory probe degraded below this rate.
	CacheHitRateFloor float64 `yaml:"cache_hit_rate_floor"`

	// LLMPingBudget is the response-time band separating healthy from degraded.
	LLMPingBudget string `yaml:"llm_ping_budget"`
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		Interval:          "5m",
		CacheHitRateFloor: 0.3,
		LLMPingBudget:     "2s",
	}
}

func (h HealthConfig) IntervalDuration() time.Duration {
	return parseDuration(h.Interval, 5*time.Minute)
}

func (h HealthConfig) LLMPingBudgetDuration() time.Duration {
	return parseDuration(h.LLMPingBudget, 2*time.Second)
}
