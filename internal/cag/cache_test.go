package cag

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"aegis/internal/bus"
	"aegis/internal/embedding"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestCache(max int, ttl time.Duration) *Cache {
	return NewCache(Options{
		MaxEntries:          max,
		TTL:                 ttl,
		SimilarityThreshold: 0.85,
		Engine:              embedding.NewLocalEngine(128),
		Bus:                 bus.New(),
	})
}

func TestNormalizeAndFingerprint(t *testing.T) {
	variants := []string{
		"What is SQL injection?",
		"  what is sql   injection  ",
		"WHAT... is,, SQL injection!!!",
	}
	want := Fingerprint(variants[0], "")
	for _, v := range variants {
		if Fingerprint(v, "") != want {
			t.Errorf("fingerprint unstable for %q", v)
		}
	}
	if Fingerprint("what is sql injection", "k=3") == want {
		t.Error("options must change the fingerprint")
	}
	if Normalize("  Hello,   World!! ") != "hello world" {
		t.Errorf("Normalize = %q", Normalize("  Hello,   World!! "))
	}
}

func TestExactHitBeforeSemantic(t *testing.T) {
	c := newTestCache(10, time.Hour)
	ctx := context.Background()
	c.Insert(ctx, "what is a rootkit", "", "A rootkit hides attacker presence.", nil, 0.8)

	hit, ok := c.Lookup(ctx, "What is a ROOTKIT?", "")
	if !ok || hit.Type != "exact" || hit.Score != 1 {
		t.Fatalf("hit = %+v, ok = %v", hit, ok)
	}
	if hit.Confidence != 0.8 {
		t.Errorf("confidence = %f", hit.Confidence)
	}
}

func TestSemanticHitAboveThreshold(t *testing.T) {
	c := newTestCache(10, time.Hour)
	ctx := context.Background()
	c.Insert(ctx, "how to detect port scanning activity", "", "Watch for SYN sweeps.", nil, 0.7)

	// Shares most tokens but normalizes to a different fingerprint.
	hit, ok := c.Lookup(ctx, "how to detect port scanning", "")
	if !ok {
		t.Fatal("expected semantic hit")
	}
	if hit.Type != "semantic" {
		t.Errorf("type = %s", hit.Type)
	}
	if hit.Score < 0.85 || hit.Score > 1 {
		t.Errorf("score = %f out of range", hit.Score)
	}

	if _, ok := c.Lookup(ctx, "completely unrelated pastry recipe", ""); ok {
		t.Error("unrelated query must miss")
	}
}

func TestTTLExpiryOnAccess(t *testing.T) {
	c := newTestCache(10, 10*time.Millisecond)
	ctx := context.Background()
	c.Insert(ctx, "ephemeral entry", "", "gone soon", nil, 1)

	time.Sleep(25 * time.Millisecond)
	if _, ok := c.Lookup(ctx, "ephemeral entry", ""); ok {
		t.Error("expired entry must miss")
	}
	if c.Len() != 0 {
		t.Error("expired entry must be removed on access")
	}
}

func TestTTLMeasuredFromCreation(t *testing.T) {
	c := newTestCache(10, 60*time.Millisecond)
	ctx := context.Background()
	c.Insert(ctx, "short lived entry", "", "still fresh", nil, 1)

	// Repeated hits keep the entry hot in LRU terms but must not extend
	// its lifetime past the creation TTL.
	deadline := time.Now().Add(140 * time.Millisecond)
	for time.Now().Before(deadline) {
		c.Lookup(ctx, "short lived entry", "")
		time.Sleep(15 * time.Millisecond)
	}

	if _, ok := c.Lookup(ctx, "short lived entry", ""); ok {
		t.Error("entry older than the TTL must miss even when accessed continuously")
	}
	if c.Len() != 0 {
		t.Error("entry older than the TTL must be removed")
	}
}

func TestLRUEvictionAtCapacity(t *testing.T) {
	c := newTestCache(3, time.Hour)
	ctx := context.Background()
	queries := []string{"alpha question", "bravo question", "charlie question", "delta question"}
	for _, q := range queries {
		c.Insert(ctx, q, "", "answer to "+q, nil, 1)
	}
	if c.Len() != 3 {
		t.Fatalf("Len = %d, want 3", c.Len())
	}
	// Oldest insertion is gone; semantic probe would still match siblings,
	// so check the exact index directly via a fresh lookup of the survivor.
	if _, ok := c.Lookup(ctx, "delta question", ""); !ok {
		t.Error("newest entry evicted")
	}
}

func TestSingleFlightComputesOnce(t *testing.T) {
	c := newTestCache(10, time.Hour)
	ctx := context.Background()

	var calls atomic.Int64
	release := make(chan struct{})
	compute := func(ctx context.Context) (string, []string, float64, error) {
		calls.Add(1)
		<-release
		return "shared answer", nil, 0.9, nil
	}

	const n = 8
	results := make([]Hit, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := c.GetOrCompute(ctx, "novel question about beacons", "", compute)
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = h
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("compute ran %d times, want 1", got)
	}
	for _, h := range results {
		if h.Response != "shared answer" {
			t.Errorf("caller got %q", h.Response)
		}
	}
	// Subsequent lookups hit the cache.
	if hit, ok := c.Lookup(ctx, "novel question about beacons", ""); !ok || hit.Type != "exact" {
		t.Error("result was not inserted")
	}
}

func TestGetOrComputePropagatesErrors(t *testing.T) {
	c := newTestCache(10, time.Hour)
	boom := errors.New("backend down")
	_, err := c.GetOrCompute(context.Background(), "failing query", "",
		func(ctx context.Context) (string, []string, float64, error) {
			return "", nil, 0, boom
		})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if c.Len() != 0 {
		t.Error("failed computation must not be cached")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	c := newTestCache(10, time.Hour)
	ctx := context.Background()
	c.Insert(ctx, "query one about malware", "", "answer one", []string{"src"}, 0.6)
	c.Insert(ctx, "query two about firewalls", "", "answer two", nil, 0.7)

	blob, err := c.Export()
	if err != nil {
		t.Fatal(err)
	}

	c2 := newTestCache(10, time.Hour)
	if err := c2.Import(blob); err != nil {
		t.Fatal(err)
	}
	if c2.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c2.Len())
	}
	hit, ok := c2.Lookup(ctx, "query one about malware", "")
	if !ok || hit.Response != "answer one" || len(hit.Sources) != 1 {
		t.Errorf("hit = %+v, ok = %v", hit, ok)
	}

	if err := c2.Import([]byte("not json")); err == nil {
		t.Error("garbage blob must be rejected")
	}
}

func TestHitRateAndBusEvents(t *testing.T) {
	b := bus.New()
	c := NewCache(Options{MaxEntries: 10, TTL: time.Hour, Engine: embedding.NewLocalEngine(64), Bus: b})
	ctx := context.Background()

	var hits, misses atomic.Int64
	b.Subscribe(bus.TopicCAGHit, func(_ context.Context, _ bus.Event) { hits.Add(1) })
	b.Subscribe(bus.TopicCAGMiss, func(_ context.Context, _ bus.Event) { misses.Add(1) })

	c.Insert(ctx, "known question", "", "known answer", nil, 1)
	c.Lookup(ctx, "known question", "")
	c.Lookup(ctx, "entirely different unknown thing", "")

	if hits.Load() != 1 || misses.Load() != 1 {
		t.Errorf("events: %d hits, %d misses", hits.Load(), misses.Load())
	}
	if r := c.HitRate(); r != 0.5 {
		t.Errorf("HitRate = %f, want 0.5", r)
	}
}
