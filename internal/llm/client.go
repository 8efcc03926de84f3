// Package llm is the client for the generation backend. The backend is an
// RPC endpoint exposing generate(prompt) → text; aegis surfaces a typed
// error instead of fabricating output when it is unreachable.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"aegis/internal/aerr"
	"aegis/internal/logging"

	"go.uber.org/zap"
)

// Client is the minimal generation interface the pipeline and planner use.
// Kept small so tests can substitute a mock, mirroring the split between
// interface and concrete HTTP client used elsewhere in the codebase.
type Client interface {
	// Generate produces text for a prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateWithSystem produces text with a separate system preamble.
	GenerateWithSystem(ctx context.Context, system, prompt string) (string, error)
}

// Pinger is implemented by clients that support a cheap health probe.
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// HTTPClient talks JSON over HTTP to the backend.
type HTTPClient struct {
	baseURL   string
	maxTokens int
	client    *http.Client
}

// NewHTTPClient builds a client with the configured per-call timeout and a
// bounded connection pool; idle connections are reaped after a minute.
func NewHTTPClient(baseURL string, maxTokens int, timeout time.Duration) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        8,
		MaxIdleConnsPerHost: 8,
		MaxConnsPerHost:     16,
		IdleConnTimeout:     time.Minute,
	}
	return &HTTPClient{
		baseURL:   baseURL,
		maxTokens: maxTokens,
		client:    &http.Client{Timeout: timeout, Transport: transport},
	}
}

type generateRequest struct {
	Prompt    string `json:"prompt"`
	System    string `json:"system,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type generateResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func (c *HTTPClient) Generate(ctx context.Context, prompt string) (string, error) {
	return c.GenerateWithSystem(ctx, "", prompt)
}

func (c *HTTPClient) GenerateWithSystem(ctx context.Context, system, prompt string) (string, error) {
	const op = "llm.Generate"
	body, err := json.Marshal(generateRequest{Prompt: prompt, System: system, MaxTokens: c.maxTokens})
	if err != nil {
		return "", aerr.E(aerr.KindInternal, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", aerr.E(aerr.KindInternal, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", aerr.E(aerr.KindTimeout, op, ctx.Err())
		}
		return "", aerr.E(aerr.KindBackendUnavailable, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", aerr.E(aerr.KindRateLimited, op, "backend rate limited")
	case resp.StatusCode >= 500:
		return "", aerr.Errorf(aerr.KindBackendUnavailable, op, "backend returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", aerr.Errorf(aerr.KindValidation, op, "backend rejected request with %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", aerr.E(aerr.KindBackendUnavailable, op, "malformed generate response", err)
	}
	if out.Error != "" {
		return "", aerr.E(aerr.KindBackendUnavailable, op, out.Error)
	}

	logging.Get(logging.CategoryLLM).Debug("generate complete",
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("response_chars", len(out.Text)),
		zap.Duration("elapsed", time.Since(start)))
	return out.Text, nil
}

// Ping issues a minimal generation and reports the round-trip time.
func (c *HTTPClient) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	_, err := c.Generate(ctx, "ping")
	return time.Since(start), err
}
