// Package embedding provides vector embedding generation for semantic
// search. The production engine calls the LLM backend's embed RPC; a
// deterministic local engine backs tests and air-gapped operation.
package embedding

import (
	"context"
	"math"

	"aegis/internal/aerr"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed dimensionality of produced vectors.
	Dimensions() int

	// Name identifies the engine.
	Name() string
}

// HealthChecker is an optional interface for engines that can verify
// backend reachability before batch operations.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CosineSimilarity computes the cosine of the angle between a and b.
// Returns ValidationError on dimension mismatch or zero vectors.
func CosineSimilarity(a, b []float32) (float64, error) {
	const op = "embedding.CosineSimilarity"
	if len(a) != len(b) {
		return 0, aerr.Errorf(aerr.KindValidation, op, "dimension mismatch: %d != %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, aerr.E(aerr.KindValidation, op, "empty vectors")
	}

	dot := DotFused(a, b)
	var na, nb float64
	for i := range a {
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, aerr.E(aerr.KindValidation, op, "zero-magnitude vector")
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// DotBaseline is the reference inner product: a straight accumulation in
// float64. DotFused must stay numerically equivalent to it within 1e-9.
func DotBaseline(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// DotFused is the unrolled inner product used on the evolutionary fitness
// hot path. Four independent accumulators reduce loop overhead; they are
// combined pairwise so the summation order stays deterministic.
func DotFused(a, b []float32) float64 {
	var s0, s1, s2, s3 float64
	n := len(a)
	i := 0
	for ; i+4 <= n; i += 4 {
		s0 += float64(a[i]) * float64(b[i])
		s1 += float64(a[i+1]) * float64(b[i+1])
		s2 += float64(a[i+2]) * float64(b[i+2])
		s3 += float64(a[i+3]) * float64(b[i+3])
	}
	sum := (s0 + s1) + (s2 + s3)
	for ; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Normalize scales v to unit length in place. Zero vectors are untouched.
func Normalize(v []float32) {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return
	}
	inv := 1 / math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
