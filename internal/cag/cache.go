package cag

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"aegis/internal/aerr"
	"aegis/internal/bus"
	"aegis/internal/embedding"
	"aegis/internal/logging"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Entry is one cached generation keyed by its query fingerprint.
type Entry struct {
	Fingerprint    string    `json:"fingerprint"`
	QueryText      string    `json:"queryText"`
	QueryEmbedding []float32 `json:"queryEmbedding"`
	Response       string    `json:"response"`
	Sources        []string  `json:"sources,omitempty"`
	Confidence     float64   `json:"confidence"`
	CreatedAt      int64     `json:"createdAt"`
	LastAccessed   int64     `json:"lastAccessed"`
	HitCount       int64     `json:"hitCount"`
}

// Hit is a successful cache lookup. Type is "exact" or "semantic"; Score is
// the cosine similarity for semantic hits and 1 for exact hits.
type Hit struct {
	Response   string
	Sources    []string
	Type       string
	Confidence float64
	Score      float64
}

// Options configures NewCache.
type Options struct {
	MaxEntries          int
	TTL                 time.Duration
	SimilarityThreshold float64
	Engine              embedding.Engine
	Bus                 *bus.Bus
}

// Cache is the exact+semantic response cache. Insertions for the same
// fingerprint are serialized through a single-flight group; entries expire
// on access past the TTL and the least recently used entry is dropped when
// the cache grows beyond MaxEntries.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]*list.Element // fingerprint → element holding *Entry
	order     *list.List               // front = most recently used
	maxSize   int
	ttl       time.Duration
	threshold float64

	engine embedding.Engine
	bus    *bus.Bus
	flight singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache builds a cache; zero options fall back to 10000 entries, a one
// hour TTL and a 0.85 semantic threshold.
func NewCache(opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 10000
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = 0.85
	}
	return &Cache{
		entries:   make(map[string]*list.Element),
		order:     list.New(),
		maxSize:   opts.MaxEntries,
		ttl:       opts.TTL,
		threshold: opts.SimilarityThreshold,
		engine:    opts.Engine,
		bus:       opts.Bus,
	}
}

// Lookup consults the exact index first, then the semantic index. TTL is
// checked synchronously: an expired entry is removed and counts as a miss.
func (c *Cache) Lookup(ctx context.Context, query, opts string) (Hit, bool) {
	fp := Fingerprint(query, opts)
	now := time.Now().UnixMilli()

	c.mu.Lock()
	if el, ok := c.entries[fp]; ok {
		e := el.Value.(*Entry)
		if c.expired(e, now) {
			c.removeLocked(el)
		} else {
			c.touchLocked(el, e, now)
			c.mu.Unlock()
			c.hits.Add(1)
			c.publish(ctx, bus.TopicCAGHit, map[string]any{"type": "exact", "fingerprint": fp})
			return Hit{Response: e.Response, Sources: e.Sources, Type: "exact", Confidence: e.Confidence, Score: 1}, true
		}
	}
	c.mu.Unlock()

	if hit, ok := c.semanticLookup(ctx, query, c.threshold, now); ok {
		c.hits.Add(1)
		c.publish(ctx, bus.TopicCAGHit, map[string]any{"type": "semantic", "score": hit.Score})
		return hit, true
	}

	c.misses.Add(1)
	c.publish(ctx, bus.TopicCAGMiss, map[string]any{"fingerprint": fp})
	return Hit{}, false
}

// Exact probes only the fingerprint index without publishing events. Used
// by the generation fallback ladder.
func (c *Cache) Exact(query, opts string) (Hit, bool) {
	fp := Fingerprint(query, opts)
	now := time.Now().UnixMilli()
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[fp]
	if !ok {
		return Hit{}, false
	}
	e := el.Value.(*Entry)
	if c.expired(e, now) {
		c.removeLocked(el)
		return Hit{}, false
	}
	c.touchLocked(el, e, now)
	return Hit{Response: e.Response, Sources: e.Sources, Type: "exact", Confidence: e.Confidence, Score: 1}, true
}

// BestSemantic returns the highest-scoring semantic entry at or above
// minScore without publishing hit/miss events. Used by the generation
// fallback ladder.
func (c *Cache) BestSemantic(ctx context.Context, query string, minScore float64) (Hit, bool) {
	return c.semanticLookup(ctx, query, minScore, time.Now().UnixMilli())
}

func (c *Cache) semanticLookup(ctx context.Context, query string, minScore float64, now int64) (Hit, bool) {
	if c.engine == nil {
		return Hit{}, false
	}
	qv, err := c.engine.Embed(ctx, Normalize(query))
	if err != nil {
		logging.Get(logging.CategoryCAG).Warn("semantic probe degraded", zap.Error(err))
		return Hit{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var bestEl *list.Element
	bestScore := minScore
	var expired []*list.Element
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		if c.expired(e, now) {
			expired = append(expired, el)
			continue
		}
		if len(e.QueryEmbedding) == 0 {
			continue
		}
		score, err := embedding.CosineSimilarity(qv, e.QueryEmbedding)
		if err != nil {
			continue
		}
		if score >= bestScore && (bestEl == nil || score > bestScore) {
			bestEl, bestScore = el, score
		}
	}
	for _, el := range expired {
		c.removeLocked(el)
	}
	if bestEl == nil {
		return Hit{}, false
	}
	e := bestEl.Value.(*Entry)
	c.touchLocked(bestEl, e, now)
	return Hit{Response: e.Response, Sources: e.Sources, Type: "semantic", Confidence: e.Confidence, Score: bestScore}, true
}

// LookupRaw adapts Lookup for memory retrieval: response text only.
func (c *Cache) LookupRaw(ctx context.Context, query string) (string, bool) {
	hit, ok := c.Lookup(ctx, query, "")
	if !ok {
		return "", false
	}
	return hit.Response, true
}

// Insert stores a generated response under the query's fingerprint,
// evicting the LRU tail when the cache is over capacity.
func (c *Cache) Insert(ctx context.Context, query, opts, response string, sources []string, confidence float64) error {
	fp := Fingerprint(query, opts)
	now := time.Now().UnixMilli()

	var qv []float32
	if c.engine != nil {
		var err error
		if qv, err = c.engine.Embed(ctx, Normalize(query)); err != nil {
			// Exact lookups still work without the embedding.
			logging.Get(logging.CategoryCAG).Warn("insert without embedding", zap.Error(err))
			qv = nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[fp]; ok {
		e := el.Value.(*Entry)
		e.Response, e.Sources, e.Confidence = response, sources, confidence
		e.QueryEmbedding = qv
		c.touchLocked(el, e, now)
		return nil
	}

	e := &Entry{
		Fingerprint:    fp,
		QueryText:      Normalize(query),
		QueryEmbedding: qv,
		Response:       response,
		Sources:        sources,
		Confidence:     confidence,
		CreatedAt:      now,
		LastAccessed:   now,
	}
	c.entries[fp] = c.order.PushFront(e)
	for c.order.Len() > c.maxSize {
		c.removeLocked(c.order.Back())
	}
	return nil
}

// GetOrCompute is the single-flight entry point for the generation
// pipeline: a lookup, and on miss one shared computation per fingerprint.
// Concurrent callers of the same fingerprint block on the first in-flight
// computation and receive its result.
func (c *Cache) GetOrCompute(ctx context.Context, query, opts string,
	compute func(ctx context.Context) (string, []string, float64, error)) (Hit, error) {

	if hit, ok := c.Lookup(ctx, query, opts); ok {
		return hit, nil
	}
	fp := Fingerprint(query, opts)
	v, err, _ := c.flight.Do(fp, func() (any, error) {
		response, sources, confidence, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Insert(ctx, query, opts, response, sources, confidence); err != nil {
			return nil, err
		}
		return Hit{Response: response, Sources: sources, Type: "generated", Confidence: confidence}, nil
	})
	if err != nil {
		return Hit{}, err
	}
	return v.(Hit), nil
}

// Seed inserts an interaction best-effort; memory writes must not fail on
// cache trouble.
func (c *Cache) Seed(query, response, contextInfo string, _ int64) {
	sources := []string(nil)
	if contextInfo != "" {
		sources = []string{contextInfo}
	}
	if err := c.Insert(context.Background(), query, "", response, sources, 0.9); err != nil {
		logging.Get(logging.CategoryCAG).Warn("cache seed failed", zap.Error(err))
	}
}

// PreWarm loads known query/response pairs, typically at startup.
func (c *Cache) PreWarm(ctx context.Context, pairs map[string]string) error {
	for q, r := range pairs {
		if err := c.Insert(ctx, q, "", r, nil, 1); err != nil {
			return err
		}
	}
	return nil
}

// Evict synchronously drops expired entries and trims past capacity. The
// same work happens incrementally on access; this is the background sweep.
func (c *Cache) Evict() int {
	now := time.Now().UnixMilli()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if c.expired(el.Value.(*Entry), now) {
			c.removeLocked(el)
			removed++
		}
		el = next
	}
	for c.order.Len() > c.maxSize {
		c.removeLocked(c.order.Back())
		removed++
	}
	return removed
}

// Clear drops every entry. Used by the self-healer when the cache is the
// suspected cause of a degraded verdict.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := c.order.Len()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
	c.hits.Store(0)
	c.misses.Store(0)
	return removed
}

// Export serializes every live entry for persistence alongside the memory
// stores.
func (c *Cache) Export() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := make([]*Entry, 0, c.order.Len())
	for el := c.order.Back(); el != nil; el = el.Prev() {
		entries = append(entries, el.Value.(*Entry))
	}
	return json.Marshal(entries)
}

// Import replaces the cache contents with a previously exported blob.
func (c *Cache) Import(blob []byte) error {
	var entries []*Entry
	if err := json.Unmarshal(blob, &entries); err != nil {
		return aerr.E(aerr.KindPersistenceCorrupt, "cag.Import", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element, len(entries))
	c.order.Init()
	for _, e := range entries {
		if e.Fingerprint == "" {
			continue
		}
		c.entries[e.Fingerprint] = c.order.PushFront(e)
	}
	for c.order.Len() > c.maxSize {
		c.removeLocked(c.order.Back())
	}
	return nil
}

// HitRate reports hits/(hits+misses) since startup; 0 before any lookup.
func (c *Cache) HitRate() float64 {
	h, m := c.hits.Load(), c.misses.Load()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// expired measures lifetime from creation. Hits refresh LastAccessed for
// LRU ordering only; they never extend an entry's life.
func (c *Cache) expired(e *Entry, now int64) bool {
	return now-e.CreatedAt > c.ttl.Milliseconds()
}

func (c *Cache) touchLocked(el *list.Element, e *Entry, now int64) {
	e.HitCount++
	e.LastAccessed = now
	c.order.MoveToFront(el)
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*Entry)
	delete(c.entries, e.Fingerprint)
	c.order.Remove(el)
}

func (c *Cache) publish(ctx context.Context, topic string, payload map[string]any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(ctx, bus.Event{Topic: topic, Payload: payload})
}
