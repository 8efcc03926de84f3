package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"aegis/internal/aerr"
	"aegis/internal/bus"
	"aegis/internal/logging"
	"aegis/internal/secure"
	"aegis/internal/vector"

	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"
)

// Persisted file names under the memory directory.
const (
	fileEpisodic   = "episodic.json"
	fileProcedural = "procedural.json"
	fileSemantic   = "semantic.json"
	fileGraph      = "conceptGraph.json"
)

// CacheSeeder lets the manager seed the CAG tier on stored interactions
// without importing it. Implemented by the cag package.
type CacheSeeder interface {
	Seed(query, response, context string, ts int64)
}

// SearchResult is one entry of SearchSimilar, unioned over the semantic
// store and the vector store.
type SearchResult struct {
	ID     string  `json:"id"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source string  `json:"source"` // semantic | vector
}

// RetrieveOptions controls RetrieveRelevant.
type RetrieveOptions struct {
	Limit    int
	UseCache bool
}

// Retrieval is the result of RetrieveRelevant.
type Retrieval struct {
	Memories    []SearchResult
	FromCache   bool
	CachedValue string
}

// retrievalCache is a small interface over the CAG lookup used by
// RetrieveRelevant; implemented by the cag package.
type retrievalCache interface {
	LookupRaw(ctx context.Context, query string) (string, bool)
}

// Manager exclusively owns the four stores and the concept graph. External
// components read through its methods; writers take the affected store's
// lock internally.
type Manager struct {
	dir   string
	codec *secure.Codec
	vec   vector.Store
	bus   *bus.Bus

	Semantic   *SemanticStore
	Episodic   *EpisodicStore
	Procedural *ProceduralStore
	Working    *WorkingMemory
	Graph      *ConceptGraph

	clock  clock
	seeder CacheSeeder
	rcache retrievalCache

	initMu      sync.Mutex
	initialized bool
}

// ManagerOptions configures NewManager.
type ManagerOptions struct {
	Dir                   string
	Codec                 *secure.Codec
	Vector                vector.Store
	Bus                   *bus.Bus
	Semantic              *SemanticStore
	WorkingMemoryCapacity int
}

// NewManager wires the subsystem. The semantic store is passed in because
// it shares the embedding engine with the vector store.
func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		dir:        opts.Dir,
		codec:      opts.Codec,
		vec:        opts.Vector,
		bus:        opts.Bus,
		Semantic:   opts.Semantic,
		Episodic:   NewEpisodicStore(),
		Procedural: NewProceduralStore(),
		Working:    NewWorkingMemory(opts.WorkingMemoryCapacity),
		Graph:      NewConceptGraph(),
	}
}

// SetCacheSeeder attaches the CAG seeding hook.
func (m *Manager) SetCacheSeeder(s CacheSeeder) { m.seeder = s }

// SetRetrievalCache attaches the CAG lookup hook for RetrieveRelevant.
func (m *Manager) SetRetrievalCache(c retrievalCache) { m.rcache = c }

// Initialize loads every persistent store. Any decryption failure aborts
// with PersistenceCorrupt and leaves the other stores untouched in memory.
// Idempotent: a second call (also under concurrency) is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if m.initialized {
		return nil
	}

	log := logging.Get(logging.CategoryMemory)

	var episodic []Item
	if err := m.loadStore(fileEpisodic, &episodic); err != nil {
		return err
	}
	var recipes []Recipe
	if err := m.loadStore(fileProcedural, &recipes); err != nil {
		return err
	}
	var semantic []SemanticEntry
	if err := m.loadStore(fileSemantic, &semantic); err != nil {
		return err
	}
	var graph graphSnapshot
	if err := m.loadStore(fileGraph, &graph); err != nil {
		return err
	}

	m.Episodic.restore(episodic)
	m.Procedural.restore(recipes)
	m.Semantic.restore(semantic)
	m.Graph.restore(graph)
	m.Working.Clear()

	for _, it := range episodic {
		m.clock.Observe(it.Timestamp)
	}
	for _, e := range semantic {
		m.clock.Observe(e.Timestamp)
	}

	m.initialized = true
	log.Info("memory subsystem initialized",
		zap.Int("episodic", m.Episodic.Count()),
		zap.Int("semantic", m.Semantic.Count()),
		zap.Int("procedural", m.Procedural.Count()),
		zap.Int("graph_nodes", m.Graph.NodeCount()))
	return nil
}

// loadStore reads one persisted snapshot. A missing file is first boot.
func (m *Manager) loadStore(name string, dst any) error {
	raw, err := m.codec.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		if aerr.Is(err, aerr.KindNotFound) {
			return nil
		}
		return err
	}
	if err := unmarshalWrapped(raw, dst); err != nil {
		return aerr.E(aerr.KindPersistenceCorrupt, "memory.loadStore", name, err)
	}
	return nil
}

// StoreInteraction appends the exchange to episodic memory, extracts
// concepts into the semantic store and graph, pushes working memory, and
// seeds the response cache.
func (m *Manager) StoreInteraction(ctx context.Context, input, output, contextInfo string) (string, error) {
	const op = "memory.StoreInteraction"
	ts := m.clock.Next()
	key := fmt.Sprintf("interaction-%d", ts)

	content := Map(map[string]Value{
		"input":   String(input),
		"output":  String(output),
		"context": String(contextInfo),
	})
	if err := m.Episodic.Append(Item{Key: key, Content: content, Timestamp: ts}); err != nil {
		return "", err
	}

	// Concept extraction feeds the semantic store, the vector store and the
	// graph. Vector backend failures degrade rather than fail the write.
	log := logging.Get(logging.CategoryMemory)
	concepts := ExtractConcepts(input+" "+output, 5)
	for _, c := range concepts {
		id := "concept-" + c
		if err := m.Semantic.Upsert(ctx, id, c, ts); err != nil {
			log.Warn("semantic upsert degraded", zap.String("concept", c), zap.Error(err))
			continue
		}
		if err := m.vec.Add(ctx, id, c); err != nil {
			log.Warn("vector add degraded", zap.String("concept", c), zap.Error(err))
		}
		m.Graph.AddNode(c, "concept", nil)
	}
	snippet := input
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	if err := m.Semantic.Upsert(ctx, key, input, ts); err != nil {
		log.Warn("semantic interaction upsert degraded", zap.Error(err))
	}
	if err := m.vec.Add(ctx, key, snippet); err != nil {
		log.Warn("vector interaction add degraded", zap.Error(err))
	}

	m.Working.Push(Item{Key: key, Content: String(input), Timestamp: ts})

	if m.seeder != nil {
		m.seeder.Seed(input, output, contextInfo, ts)
	}

	if m.bus != nil {
		m.bus.Publish(ctx, bus.Event{Topic: bus.TopicMemoryUpdate, Payload: map[string]any{
			"key":      key,
			"concepts": concepts,
		}})
	}
	return key, nil
}

// SearchSimilar unions semantic-store and vector-store hits, deduplicates
// by id keeping the best score, re-ranks, and truncates to limit.
func (m *Manager) SearchSimilar(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}

	best := make(map[string]SearchResult)

	semHits, semErr := m.Semantic.Search(ctx, query, limit*2)
	for _, h := range semHits {
		best[h.ID] = SearchResult{ID: h.ID, Text: h.Text, Score: h.Score, Source: "semantic"}
	}

	vecHits, vecErr := m.vec.FindSimilar(ctx, query, limit*2, 0)
	for _, h := range vecHits {
		if cur, ok := best[h.ID]; !ok || h.Score > cur.Score {
			best[h.ID] = SearchResult{ID: h.ID, Text: h.Text, Score: h.Score, Source: "vector"}
		}
	}

	if semErr != nil && vecErr != nil {
		// Both branches failed; there is nothing to degrade to.
		return nil, aerr.E(aerr.KindBackendUnavailable, "memory.SearchSimilar", semErr)
	}

	out := make([]SearchResult, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RetrieveRelevant is the cache-checked variant of SearchSimilar.
func (m *Manager) RetrieveRelevant(ctx context.Context, query string, opts RetrieveOptions) (Retrieval, error) {
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	if opts.UseCache && m.rcache != nil {
		if cached, ok := m.rcache.LookupRaw(ctx, query); ok {
			return Retrieval{FromCache: true, CachedValue: cached}, nil
		}
	}
	memories, err := m.SearchSimilar(ctx, query, opts.Limit)
	if err != nil {
		return Retrieval{}, err
	}
	return Retrieval{Memories: memories}, nil
}

// Persist snapshots all persistent stores concurrently. Each store write is
// atomic (write-then-rename); cross-store atomicity is not guaranteed and
// loaders must tolerate mixed generations.
func (m *Manager) Persist(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error { return m.persistStore(fileEpisodic, m.Episodic.snapshot()) })
	g.Go(func() error { return m.persistStore(fileProcedural, m.Procedural.snapshot()) })
	g.Go(func() error { return m.persistStore(fileSemantic, m.Semantic.snapshot()) })
	g.Go(func() error { return m.persistStore(fileGraph, m.Graph.snapshot()) })

	if err := g.Wait(); err != nil {
		return err
	}
	logging.Get(logging.CategoryMemory).Debug("memory persisted",
		zap.Int("episodic", m.Episodic.Count()),
		zap.Int("semantic", m.Semantic.Count()))
	return nil
}

func (m *Manager) persistStore(name string, payload any) error {
	raw, err := marshalWrapped(payload, m.clock.Next())
	if err != nil {
		return err
	}
	return m.codec.WriteFile(filepath.Join(m.dir, name), raw)
}

// Stats summarizes store sizes for health probes and snapshots.
type Stats struct {
	EpisodicCount   int `json:"episodic"`
	SemanticCount   int `json:"semantic"`
	ProceduralCount int `json:"procedural"`
	WorkingCount    int `json:"working"`
	GraphNodes      int `json:"graphNodes"`
	GraphEdges      int `json:"graphEdges"`
}

// Stats returns current store sizes.
func (m *Manager) Stats() Stats {
	return Stats{
		EpisodicCount:   m.Episodic.Count(),
		SemanticCount:   m.Semantic.Count(),
		ProceduralCount: m.Procedural.Count(),
		WorkingCount:    m.Working.Len(),
		GraphNodes:      m.Graph.NodeCount(),
		GraphEdges:      m.Graph.EdgeCount(),
	}
}
