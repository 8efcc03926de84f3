package config

import "time"

// Vector store variants.
const (
	VectorStoreInMemory = "inmemory"
	VectorStoreServer   = "server"
	VectorStoreSQL      = "sql"
)

// MemoryConfig configures the memory subsystem and its persistence.
type MemoryConfig struct {
	// VectorStore selects the similarity backend: inmemory, server, sql.
	VectorStore string `yaml:"vector_store"`

	// PersistencePath overrides DataDir/memory when non-empty.
	PersistencePath string `yaml:"persistence_path"`

	// ServerURL is the endpoint for the external vector server variant.
	ServerURL string `yaml:"server_url"`

	// SQLPath is the sqlite database path for the sql variant.
	SQLPath string `yaml:"sql_path"`

	// CacheSize caps the CAG cache entry count.
	CacheSize int `yaml:"cache_size"`

	// CacheTTL is a duration string; expired entries miss and are removed.
	CacheTTL string `yaml:"cache_ttl"`

	// WorkingMemoryCapacity bounds the transient ring buffer.
	WorkingMemoryCapacity int `yaml:"working_memory_capacity"`
}

// DefaultMemoryConfig returns the standard defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		VectorStore:           VectorStoreInMemory,
		CacheSize:             10000,
		CacheTTL:              "1h",
		WorkingMemoryCapacity: 10,
	}
}

// CacheTTLDuration parses CacheTTL with the 1h default.
func (m MemoryConfig) CacheTTLDuration() time.Duration {
	return parseDuration(m.CacheTTL, time.Hour)
}

// CAGConfig tunes the cache-augmented generation tier.
type CAGConfig struct {
	// SimilarityThreshold is the minimum cosine score for a semantic hit.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// PreWarmOnStart replays persisted popular queries at boot.
	PreWarmOnStart bool `yaml:"pre_warm_on_start"`
}

func DefaultCAGConfig() CAGConfig {
	return CAGConfig{SimilarityThreshold: 0.85}
}

// LearningConfig tunes the feedback loop.
type LearningConfig struct {
	// Rate is the EMA alpha applied to each metric sample.
	Rate float64 `yaml:"rate"`

	// HistoryLimit caps the learning entry history (FIFO trim).
	HistoryLimit int `yaml:"history_limit"`
}

func DefaultLearningConfig() LearningConfig {
	return LearningConfig{Rate: 0.1, HistoryLimit: 1000}
}
