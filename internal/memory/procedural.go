package memory

import (
	"sort"
	"sync"

	"aegis/internal/aerr"
)

// RecipeOp is one declarative step in a stored procedure. Recipes replace
// serialized source code: the executor interprets {Op, Args} pairs, so
// nothing loaded from disk is ever evaluated as code.
type RecipeOp struct {
	Op   string           `json:"op"`
	Args map[string]Value `json:"args,omitempty"`
}

// Recipe is a named, parameterized sequence of ops.
type Recipe struct {
	Name     string           `json:"name"`
	Params   []string         `json:"params,omitempty"`
	Body     []RecipeOp       `json:"body"`
	Metadata map[string]Value `json:"metadata,omitempty"`
	Created  int64            `json:"created"`
}

// ProceduralStore maps names to recipes. Execution is gated by the tool
// registry; the store only holds the declarative form.
type ProceduralStore struct {
	mu      sync.RWMutex
	recipes map[string]Recipe
}

// NewProceduralStore creates an empty store.
func NewProceduralStore() *ProceduralStore {
	return &ProceduralStore{recipes: make(map[string]Recipe)}
}

// Put stores or replaces a recipe.
func (s *ProceduralStore) Put(r Recipe) error {
	if r.Name == "" {
		return aerr.E(aerr.KindValidation, "memory.Procedural.Put", "recipe name required")
	}
	s.mu.Lock()
	s.recipes[r.Name] = r
	s.mu.Unlock()
	return nil
}

// Get returns a recipe by name.
func (s *ProceduralStore) Get(name string) (Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recipes[name]
	if !ok {
		return Recipe{}, aerr.E(aerr.KindNotFound, "memory.Procedural.Get", name)
	}
	return r, nil
}

// Remove deletes a recipe.
func (s *ProceduralStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recipes[name]; !ok {
		return aerr.E(aerr.KindNotFound, "memory.Procedural.Remove", name)
	}
	delete(s.recipes, name)
	return nil
}

// Names returns all recipe names, sorted.
func (s *ProceduralStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.recipes))
	for n := range s.recipes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of recipes.
func (s *ProceduralStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.recipes)
}

func (s *ProceduralStore) snapshot() []Recipe {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Recipe, 0, len(s.recipes))
	for _, r := range s.recipes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *ProceduralStore) restore(recipes []Recipe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipes = make(map[string]Recipe, len(recipes))
	for _, r := range recipes {
		s.recipes[r.Name] = r
	}
}
