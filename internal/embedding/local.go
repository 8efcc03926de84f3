package embedding

import (
	"context"
	"hash/fnv"
	"strings"
)

// LocalEngine produces deterministic embeddings from token hashes. It gives
// stable, dimension-correct vectors without a backend: near-identical texts
// share tokens and therefore land close in cosine space. Used by tests and
// as the degraded-mode engine when no backend is configured.
type LocalEngine struct {
	dimensions int
}

// NewLocalEngine builds a deterministic engine with the given dimension.
func NewLocalEngine(dimensions int) *LocalEngine {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &LocalEngine{dimensions: dimensions}
}

func (e *LocalEngine) Name() string    { return "local" }
func (e *LocalEngine) Dimensions() int { return e.dimensions }

// Embed hashes each whitespace token into a handful of vector buckets and
// normalizes the result.
func (e *LocalEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimensions)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		seed := h.Sum64()
		// Spread each token across 3 buckets with alternating sign.
		for j := 0; j < 3; j++ {
			idx := int((seed >> (j * 16)) % uint64(e.dimensions))
			sign := float32(1)
			if (seed>>(j*16+8))&1 == 1 {
				sign = -1
			}
			vec[idx] += sign
		}
	}
	Normalize(vec)
	return vec, nil
}

func (e *LocalEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
