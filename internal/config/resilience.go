package config

import "time"

// BucketConfig is a token-bucket limit (capacity, refill per second).
type BucketConfig struct {
	Capacity  int     `yaml:"capacity"`
	RefillRPS float64 `yaml:"refill_rps"`
}

// WindowConfig is a sliding-window limit (max requests per window).
type WindowConfig struct {
	MaxRequests int    `yaml:"max_requests"`
	Window      string `yaml:"window"`
}

func (w WindowConfig) WindowDuration() time.Duration {
	return parseDuration(w.Window, time.Minute)
}

// RateLimitsConfig carries the per-resource limits.
type RateLimitsConfig struct {
	LLM    BucketConfig `yaml:"llm"`
	Tool   WindowConfig `yaml:"tool"`
	Memory BucketConfig `yaml:"memory"`

	// Breaker settings are shared by all wrapped backends.
	BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
	BreakerResetTimeout     string `yaml:"breaker_reset_timeout"`
	BreakerHalfOpenRequests int    `yaml:"breaker_half_open_requests"`
}

func DefaultRateLimitsConfig() RateLimitsConfig {
	return RateLimitsConfig{
		LLM:                     BucketConfig{Capacity: 10, RefillRPS: 1},
		Tool:                    WindowConfig{MaxRequests: 5, Window: "60s"},
		Memory:                  BucketConfig{Capacity: 100, RefillRPS: 10},
		BreakerFailureThreshold: 5,
		BreakerResetTimeout:     "30s",
		BreakerHalfOpenRequests: 2,
	}
}

func (r RateLimitsConfig) BreakerResetTimeoutDuration() time.Duration {
	return parseDuration(r.BreakerResetTimeout, 30*time.Second)
}
