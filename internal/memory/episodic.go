package memory

import (
	"strings"
	"sync"

	"aegis/internal/aerr"
)

// Interaction is one episodic record.
type Interaction struct {
	Input   string `json:"input"`
	Output  string `json:"output"`
	Context string `json:"context,omitempty"`
	TS      int64  `json:"ts"`
}

// EpisodicStore is an append-mostly ordered sequence of interactions with
// exact key-get and substring find.
type EpisodicStore struct {
	mu    sync.RWMutex
	items []Item
	byKey map[string]int
}

// NewEpisodicStore creates an empty store.
func NewEpisodicStore() *EpisodicStore {
	return &EpisodicStore{byKey: make(map[string]int)}
}

// Append adds an item. Duplicate keys are a ConflictingState error so the
// uniqueness invariant is never silently violated.
func (s *EpisodicStore) Append(item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byKey[item.Key]; exists {
		return aerr.Errorf(aerr.KindConflictingState, "memory.Episodic.Append", "duplicate key %q", item.Key)
	}
	s.byKey[item.Key] = len(s.items)
	s.items = append(s.items, item)
	return nil
}

// Get returns the item for key.
func (s *EpisodicStore) Get(key string) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byKey[key]
	if !ok {
		return Item{}, aerr.E(aerr.KindNotFound, "memory.Episodic.Get", key)
	}
	return s.items[idx], nil
}

// Find returns items whose rendered content contains the substring,
// in insertion order.
func (s *EpisodicStore) Find(substr string) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(substr)
	var out []Item
	for _, it := range s.items {
		if strings.Contains(strings.ToLower(it.Content.Text()), needle) {
			out = append(out, it)
		}
	}
	return out
}

// Update replaces the content of an existing item.
func (s *EpisodicStore) Update(key string, content Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byKey[key]
	if !ok {
		return aerr.E(aerr.KindNotFound, "memory.Episodic.Update", key)
	}
	s.items[idx].Content = content
	return nil
}

// Remove deletes an item. Later items keep their insertion order.
func (s *EpisodicStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byKey[key]
	if !ok {
		return aerr.E(aerr.KindNotFound, "memory.Episodic.Remove", key)
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	delete(s.byKey, key)
	for k, i := range s.byKey {
		if i > idx {
			s.byKey[k] = i - 1
		}
	}
	return nil
}

// All returns a copy of the items in insertion order.
func (s *EpisodicStore) All() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

// Count returns the number of items.
func (s *EpisodicStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// snapshot serializes the store for persistence.
func (s *EpisodicStore) snapshot() []Item { return s.All() }

// restore replaces the store contents from a persisted snapshot.
func (s *EpisodicStore) restore(items []Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make([]Item, len(items))
	copy(s.items, items)
	s.byKey = make(map[string]int, len(items))
	for i, it := range s.items {
		s.byKey[it.Key] = i
	}
}
