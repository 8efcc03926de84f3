package config

import "time"

// LLMConfig configures the generation backend. The backend is a plain RPC
// endpoint exposing generate and embed; aegis never falls back to fabricated
// output when it is unreachable.
type LLMConfig struct {
	APIURL    string `yaml:"api_url"`
	Timeout   string `yaml:"timeout"`
	MaxTokens int    `yaml:"max_tokens"`

	// EmbeddingDimensions is the fixed dimensionality D of the embed RPC.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`

	// MaxContextChars bounds the ranked snippets in augmented prompts.
	MaxContextChars int `yaml:"max_context_chars"`
}

func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		APIURL:              "http://localhost:8090",
		Timeout:             "15s",
		MaxTokens:           2048,
		EmbeddingDimensions: 384,
		MaxContextChars:     6000,
	}
}

// TimeoutDuration parses Timeout with the 15s default.
func (l LLMConfig) TimeoutDuration() time.Duration {
	return parseDuration(l.Timeout, 15*time.Second)
}
