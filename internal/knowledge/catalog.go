package knowledge

import (
	"context"
	"sort"
	"strings"
	"sync"

	"aegis/internal/embedding"
	"aegis/internal/memory"
)

// Entry is one curated knowledge item. Category and Difficulty drive the
// catalog filters; the remaining fields feed the queryKnowledge response.
type Entry struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Category     string   `json:"category"`
	Difficulty   string   `json:"difficulty"` // beginner | intermediate | advanced
	Summary      string   `json:"summary"`
	Techniques   []string `json:"techniques,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	CodeExamples []string `json:"codeExamples,omitempty"`
	Sources      []string `json:"sources,omitempty"`
}

// Filter restricts Lookup. Empty fields match everything.
type Filter struct {
	Category   string
	Difficulty string
}

// Scored pairs an entry with its relevance to a query.
type Scored struct {
	Entry Entry
	Score float64
}

// Catalog indexes entries by id and mirrors each entry into the concept
// graph so planner context and knowledge lookups share one structure.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]Entry
	vecs    map[string][]float32

	graph  *memory.ConceptGraph
	engine embedding.Engine
}

// NewCatalog builds an empty catalog over the given graph and engine.
func NewCatalog(graph *memory.ConceptGraph, engine embedding.Engine) *Catalog {
	return &Catalog{
		entries: make(map[string]Entry),
		vecs:    make(map[string][]float32),
		graph:   graph,
		engine:  engine,
	}
}

// Register adds or replaces an entry and mirrors it into the concept graph
// as a "knowledge" node linked to its concept nodes.
func (c *Catalog) Register(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = strings.ToLower(strings.ReplaceAll(e.Title, " ", "-"))
	}

	var vec []float32
	if c.engine != nil {
		v, err := c.engine.Embed(ctx, e.Title+" "+e.Summary)
		if err == nil {
			vec = v
		}
	}

	c.mu.Lock()
	c.entries[e.ID] = e
	if vec != nil {
		c.vecs[e.ID] = vec
	}
	c.mu.Unlock()

	if c.graph != nil {
		nodeID := c.graph.AddNode(e.Title, "knowledge", map[string]memory.Value{
			"category":   memory.String(e.Category),
			"difficulty": memory.String(e.Difficulty),
			"entryId":    memory.String(e.ID),
		})
		for _, concept := range memory.ExtractConcepts(e.Summary, 5) {
			cid := c.graph.AddNode(concept, "concept", nil)
			c.graph.AddEdge(nodeID, cid, "covers", nil)
		}
	}
	return nil
}

// Lookup ranks entries against the query, applies the filter, and returns
// at most k results in descending relevance.
func (c *Catalog) Lookup(ctx context.Context, query string, f Filter, k int) ([]Scored, error) {
	if k <= 0 {
		k = 5
	}

	var qv []float32
	if c.engine != nil {
		if v, err := c.engine.Embed(ctx, query); err == nil {
			qv = v
		}
	}
	queryTokens := tokenSet(query)

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Scored, 0, len(c.entries))
	for id, e := range c.entries {
		if !f.matches(e) {
			continue
		}
		score := overlapScore(queryTokens, e)
		if qv != nil {
			if ev, ok := c.vecs[id]; ok {
				if cos, err := embedding.CosineSimilarity(qv, ev); err == nil {
					score = 0.5*score + 0.5*cos
				}
			}
		}
		if score > 0 {
			out = append(out, Scored{Entry: e, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Entry.ID < out[j].Entry.ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Get returns an entry by id.
func (c *Catalog) Get(id string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e, ok
}

// Categories lists the distinct categories present, sorted.
func (c *Catalog) Categories() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]bool)
	for _, e := range c.entries {
		seen[e.Category] = true
	}
	out := make([]string, 0, len(seen))
	for cat := range seen {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (f Filter) matches(e Entry) bool {
	if f.Category != "" && !strings.EqualFold(f.Category, e.Category) {
		return false
	}
	if f.Difficulty != "" && !strings.EqualFold(f.Difficulty, e.Difficulty) {
		return false
	}
	return true
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToLower(s)) {
		set[strings.Trim(t, ".,!?;:()[]\"'")] = true
	}
	return set
}

// overlapScore is the fraction of entry title+technique tokens present in
// the query's token set. Cheap lexical prior blended with the embedding.
func overlapScore(query map[string]bool, e Entry) float64 {
	tokens := strings.Fields(strings.ToLower(e.Title))
	for _, t := range e.Techniques {
		tokens = append(tokens, strings.Fields(strings.ToLower(t))...)
	}
	if len(tokens) == 0 {
		return 0
	}
	matched := 0
	for _, t := range tokens {
		if query[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}
