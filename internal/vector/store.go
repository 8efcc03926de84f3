// Package vector provides the pluggable similarity stores behind the memory
// subsystem. Three variants exist: an in-memory map, an external vector
// server, and a sqlite table with the embedding serialized per row and the
// cosine ranking done in Go.
package vector

import (
	"context"
	"sort"
	"sync"

	"aegis/internal/aerr"
	"aegis/internal/embedding"
)

// Match is one similarity result.
type Match struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Store is the capability interface shared by all variants. Every method may
// fail with BackendUnavailable; callers translate that to degraded mode.
type Store interface {
	// Add embeds text and stores it under id. Idempotent on id.
	Add(ctx context.Context, id, text string) error

	// FindSimilar returns at most k matches with score >= threshold,
	// ordered by descending score.
	FindSimilar(ctx context.Context, query string, k int, threshold float64) ([]Match, error)

	// Remove deletes an entry. Unknown ids are a no-op.
	Remove(ctx context.Context, id string) error

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)
}

// InMemoryStore keeps vectors in a map and scans on lookup. The default
// variant; adequate up to tens of thousands of entries.
type InMemoryStore struct {
	engine embedding.Engine

	mu      sync.RWMutex
	entries map[string]memEntry
}

type memEntry struct {
	text string
	vec  []float32
}

// NewInMemoryStore builds the in-memory variant over an embedding engine.
func NewInMemoryStore(engine embedding.Engine) *InMemoryStore {
	return &InMemoryStore{engine: engine, entries: make(map[string]memEntry)}
}

func (s *InMemoryStore) Add(ctx context.Context, id, text string) error {
	vec, err := s.engine.Embed(ctx, text)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.entries[id] = memEntry{text: text, vec: vec}
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) FindSimilar(ctx context.Context, query string, k int, threshold float64) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	qv, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	matches := make([]Match, 0, len(s.entries))
	for id, e := range s.entries {
		score, err := embedding.CosineSimilarity(qv, e.vec)
		if err != nil {
			continue
		}
		if score >= threshold {
			matches = append(matches, Match{ID: id, Text: e.text, Score: score})
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *InMemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// rankMatches is shared by the server and sql variants after they fetch
// candidate rows.
func rankMatches(matches []Match, k int, threshold float64) []Match {
	filtered := matches[:0]
	for _, m := range matches {
		if m.Score >= threshold {
			filtered = append(filtered, m)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })
	if len(filtered) > k {
		filtered = filtered[:k]
	}
	return filtered
}

// New constructs a store variant by name.
func New(variant string, engine embedding.Engine, serverURL, sqlPath string) (Store, error) {
	switch variant {
	case "inmemory", "":
		return NewInMemoryStore(engine), nil
	case "server":
		return NewServerStore(serverURL, engine), nil
	case "sql":
		return NewSQLStore(sqlPath, engine)
	default:
		return nil, aerr.Errorf(aerr.KindConfig, "vector.New", "unknown vector store variant %q", variant)
	}
}
