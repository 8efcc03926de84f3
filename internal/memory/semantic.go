package memory

import (
	"context"
	"sort"
	"sync"

	"aegis/internal/embedding"
)

// SemanticEntry is one snippet with its embedding.
type SemanticEntry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
	Timestamp int64     `json:"timestamp"`
}

// SemanticHit is a similarity result from the semantic store.
type SemanticHit struct {
	ID    string
	Text  string
	Score float64
}

// SemanticStore holds text snippets with embeddings. Lookup is similarity
// only; there is deliberately no key-get.
type SemanticStore struct {
	engine embedding.Engine

	mu      sync.RWMutex
	entries map[string]SemanticEntry
}

// NewSemanticStore creates an empty store over an embedding engine.
func NewSemanticStore(engine embedding.Engine) *SemanticStore {
	return &SemanticStore{engine: engine, entries: make(map[string]SemanticEntry)}
}

// Upsert embeds text and stores or replaces the entry for id.
func (s *SemanticStore) Upsert(ctx context.Context, id, text string, ts int64) error {
	vec, err := s.engine.Embed(ctx, text)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.entries[id] = SemanticEntry{ID: id, Text: text, Embedding: vec, Timestamp: ts}
	s.mu.Unlock()
	return nil
}

// Search returns up to limit entries ranked by cosine similarity to query.
func (s *SemanticStore) Search(ctx context.Context, query string, limit int) ([]SemanticHit, error) {
	if limit <= 0 {
		return nil, nil
	}
	qv, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	hits := make([]SemanticHit, 0, len(s.entries))
	for _, e := range s.entries {
		score, err := embedding.CosineSimilarity(qv, e.Embedding)
		if err != nil {
			continue
		}
		hits = append(hits, SemanticHit{ID: e.ID, Text: e.Text, Score: score})
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Remove deletes an entry; unknown ids are a no-op.
func (s *SemanticStore) Remove(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// Count returns the number of entries.
func (s *SemanticStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *SemanticStore) snapshot() []SemanticEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SemanticEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *SemanticStore) restore(entries []SemanticEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]SemanticEntry, len(entries))
	for _, e := range entries {
		s.entries[e.ID] = e
	}
}
