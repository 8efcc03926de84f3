package embedding

import (
	"context"
	"math"
	"math/rand"
	"testing"
)

func TestCosineSimilarityBasics(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}

	if s, _ := CosineSimilarity(a, a); math.Abs(s-1) > 1e-9 {
		t.Errorf("self similarity = %v, want 1", s)
	}
	if s, _ := CosineSimilarity(a, b); math.Abs(s) > 1e-9 {
		t.Errorf("orthogonal similarity = %v, want 0", s)
	}
	if _, err := CosineSimilarity(a, []float32{1}); err == nil {
		t.Error("dimension mismatch must error")
	}
	if _, err := CosineSimilarity([]float32{0, 0}, []float32{0, 0}); err == nil {
		t.Error("zero vectors must error")
	}
}

// The fused kernel must agree with the baseline within 1e-9 for all shapes,
// including lengths not divisible by the unroll factor.
func TestFusedKernelEquivalence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, n := range []int{0, 1, 2, 3, 4, 5, 7, 8, 15, 16, 33, 127, 384, 1536} {
		a := make([]float32, n)
		b := make([]float32, n)
		for i := range a {
			a[i] = rng.Float32()*2 - 1
			b[i] = rng.Float32()*2 - 1
		}
		base := DotBaseline(a, b)
		fused := DotFused(a, b)
		if math.Abs(base-fused) > 1e-9 {
			t.Errorf("n=%d: |baseline-fused| = %g > 1e-9", n, math.Abs(base-fused))
		}
	}
}

func TestLocalEngineDeterministic(t *testing.T) {
	eng := NewLocalEngine(64)
	ctx := context.Background()

	v1, err := eng.Embed(ctx, "sql injection attack")
	if err != nil {
		t.Fatal(err)
	}
	v2, _ := eng.Embed(ctx, "sql injection attack")

	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatal("embeddings for identical text must be identical")
		}
	}
	if len(v1) != 64 {
		t.Errorf("dimension = %d, want 64", len(v1))
	}
}

func TestLocalEngineSemanticNeighborhood(t *testing.T) {
	eng := NewLocalEngine(256)
	ctx := context.Background()

	a, _ := eng.Embed(ctx, "what is cross-site scripting")
	b, _ := eng.Embed(ctx, "explain cross-site scripting")
	c, _ := eng.Embed(ctx, "token bucket rate limiting")

	near, _ := CosineSimilarity(a, b)
	far, _ := CosineSimilarity(a, c)
	if near <= far {
		t.Errorf("overlapping texts (%v) should score above unrelated (%v)", near, far)
	}
}

func BenchmarkDotFused(b *testing.B) {
	v := make([]float32, 384)
	for i := range v {
		v[i] = float32(i) / 384
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		DotFused(v, v)
	}
}
