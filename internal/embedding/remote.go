package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"aegis/internal/aerr"
	"aegis/internal/logging"

	"go.uber.org/zap"
)

// RemoteEngine calls the LLM backend's embed RPC over HTTP JSON.
type RemoteEngine struct {
	baseURL    string
	dimensions int
	client     *http.Client
}

// NewRemoteEngine builds an engine against baseURL with the given fixed
// dimensionality and per-call timeout.
func NewRemoteEngine(baseURL string, dimensions int, timeout time.Duration) *RemoteEngine {
	return &RemoteEngine{
		baseURL:    baseURL,
		dimensions: dimensions,
		client:     &http.Client{Timeout: timeout},
	}
}

func (e *RemoteEngine) Name() string    { return "remote" }
func (e *RemoteEngine) Dimensions() int { return e.dimensions }

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// Embed generates a single embedding.
func (e *RemoteEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch posts texts to the backend and validates dimensionality.
func (e *RemoteEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embedding.EmbedBatch"
	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, aerr.E(aerr.KindInternal, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, aerr.E(aerr.KindInternal, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, aerr.E(aerr.KindTimeout, op, ctx.Err())
		}
		return nil, aerr.E(aerr.KindBackendUnavailable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, aerr.Errorf(aerr.KindBackendUnavailable, op, "embed rpc returned %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, aerr.E(aerr.KindBackendUnavailable, op, "malformed embed response", err)
	}
	if len(out.Vectors) != len(texts) {
		return nil, aerr.Errorf(aerr.KindBackendUnavailable, op,
			"embed rpc returned %d vectors for %d texts", len(out.Vectors), len(texts))
	}
	for i, v := range out.Vectors {
		if len(v) != e.dimensions {
			return nil, aerr.Errorf(aerr.KindBackendUnavailable, op,
				"vector %d has dimension %d, want %d", i, len(v), e.dimensions)
		}
	}

	logging.Get(logging.CategoryLLM).Debug("embed batch complete",
		zap.Int("texts", len(texts)),
		zap.Duration("elapsed", time.Since(start)))
	return out.Vectors, nil
}

// HealthCheck pings the backend embed endpoint with a single short text.
func (e *RemoteEngine) HealthCheck(ctx context.Context) error {
	_, err := e.Embed(ctx, "ping")
	if err != nil {
		return fmt.Errorf("embedding backend unhealthy: %w", err)
	}
	return nil
}
