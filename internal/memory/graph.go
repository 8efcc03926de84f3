package memory

import (
	"hash/fnv"
	"sync"

	"aegis/internal/aerr"

	"github.com/google/uuid"
)

// Node is a labeled graph vertex.
type Node struct {
	ID         string           `json:"id"`
	Label      string           `json:"label"`
	Type       string           `json:"type"`
	Properties map[string]Value `json:"properties,omitempty"`
}

// Edge is a labeled directed edge between existing nodes.
type Edge struct {
	ID         string           `json:"id"`
	Source     string           `json:"source"`
	Target     string           `json:"target"`
	Label      string           `json:"label"`
	Properties map[string]Value `json:"properties,omitempty"`
}

const graphBuckets = 16

// ConceptGraph is the labeled directed graph over extracted knowledge
// entities. Nodes live in a flat arena addressed through an id index; edges
// reference nodes by arena slot. Deletion tombstones the slot and cascades
// to incident edges; Compact rebuilds the arena once tombstones accumulate.
// Property mutation takes a per-bucket lock keyed by node id so concurrent
// annotators do not serialize on the structural lock.
type ConceptGraph struct {
	mu sync.RWMutex // structural: arenas, indexes

	nodes     []Node
	nodeIdx   map[string]int // id → arena slot
	nodeDead  []bool
	edges     []Edge
	edgeIdx   map[string]int
	edgeDead  []bool
	tombstone int

	propMu [graphBuckets]sync.Mutex
}

// NewConceptGraph creates an empty graph.
func NewConceptGraph() *ConceptGraph {
	return &ConceptGraph{
		nodeIdx: make(map[string]int),
		edgeIdx: make(map[string]int),
	}
}

func bucketOf(id string) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % graphBuckets)
}

// AddNode inserts a node, generating an id when empty, and returns the id.
// An existing label+type pair is reused rather than duplicated.
func (g *ConceptGraph) AddNode(label, typ string, props map[string]Value) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, n := range g.nodes {
		if !g.nodeDead[i] && n.Label == label && n.Type == typ {
			return n.ID
		}
	}

	id := uuid.NewString()
	g.nodeIdx[id] = len(g.nodes)
	g.nodes = append(g.nodes, Node{ID: id, Label: label, Type: typ, Properties: props})
	g.nodeDead = append(g.nodeDead, false)
	return id
}

// GetNode returns a node by id.
func (g *ConceptGraph) GetNode(id string) (Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	slot, ok := g.nodeIdx[id]
	if !ok || g.nodeDead[slot] {
		return Node{}, aerr.E(aerr.KindNotFound, "memory.Graph.GetNode", id)
	}
	return g.nodes[slot], nil
}

// FindNodes returns live nodes matching label (exact) or all when empty.
func (g *ConceptGraph) FindNodes(label string) []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Node
	for i, n := range g.nodes {
		if g.nodeDead[i] {
			continue
		}
		if label == "" || n.Label == label {
			out = append(out, n)
		}
	}
	return out
}

// AddEdge links two existing nodes. Dangling endpoints are a ValidationError.
func (g *ConceptGraph) AddEdge(source, target, label string, props map[string]Value) (string, error) {
	const op = "memory.Graph.AddEdge"
	g.mu.Lock()
	defer g.mu.Unlock()

	if slot, ok := g.nodeIdx[source]; !ok || g.nodeDead[slot] {
		return "", aerr.Errorf(aerr.KindValidation, op, "source node %q does not exist", source)
	}
	if slot, ok := g.nodeIdx[target]; !ok || g.nodeDead[slot] {
		return "", aerr.Errorf(aerr.KindValidation, op, "target node %q does not exist", target)
	}

	id := uuid.NewString()
	g.edgeIdx[id] = len(g.edges)
	g.edges = append(g.edges, Edge{ID: id, Source: source, Target: target, Label: label, Properties: props})
	g.edgeDead = append(g.edgeDead, false)
	return id, nil
}

// Neighbors returns live nodes reachable over one edge from id, in either
// direction.
func (g *ConceptGraph) Neighbors(id string) []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool)
	var out []Node
	appendNode := func(nid string) {
		if seen[nid] {
			return
		}
		if slot, ok := g.nodeIdx[nid]; ok && !g.nodeDead[slot] {
			seen[nid] = true
			out = append(out, g.nodes[slot])
		}
	}
	for i, e := range g.edges {
		if g.edgeDead[i] {
			continue
		}
		if e.Source == id {
			appendNode(e.Target)
		}
		if e.Target == id {
			appendNode(e.Source)
		}
	}
	return out
}

// SetNodeProperty mutates one property under the node's bucket lock.
func (g *ConceptGraph) SetNodeProperty(id, key string, val Value) error {
	b := bucketOf(id)
	g.propMu[b].Lock()
	defer g.propMu[b].Unlock()

	// The slot must be resolved under the same write lock that mutates it:
	// a concurrent removal can compact the arena and invalidate slots.
	g.mu.Lock()
	slot, ok := g.nodeIdx[id]
	if !ok || g.nodeDead[slot] {
		g.mu.Unlock()
		return aerr.E(aerr.KindNotFound, "memory.Graph.SetNodeProperty", id)
	}
	if g.nodes[slot].Properties == nil {
		g.nodes[slot].Properties = make(map[string]Value)
	}
	g.nodes[slot].Properties[key] = val
	g.mu.Unlock()
	return nil
}

// RemoveNode tombstones a node and cascades to incident edges.
func (g *ConceptGraph) RemoveNode(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	slot, ok := g.nodeIdx[id]
	if !ok || g.nodeDead[slot] {
		return aerr.E(aerr.KindNotFound, "memory.Graph.RemoveNode", id)
	}
	g.nodeDead[slot] = true
	g.tombstone++
	for i, e := range g.edges {
		if !g.edgeDead[i] && (e.Source == id || e.Target == id) {
			g.edgeDead[i] = true
			g.tombstone++
		}
	}

	// Compact once a quarter of the arena is dead.
	if g.tombstone*4 > len(g.nodes)+len(g.edges) {
		g.compactLocked()
	}
	return nil
}

// NodeCount and EdgeCount report live entities.
func (g *ConceptGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for i := range g.nodes {
		if !g.nodeDead[i] {
			n++
		}
	}
	return n
}

func (g *ConceptGraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for i := range g.edges {
		if !g.edgeDead[i] {
			n++
		}
	}
	return n
}

// Compact rebuilds the arenas without tombstones.
func (g *ConceptGraph) Compact() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.compactLocked()
}

func (g *ConceptGraph) compactLocked() {
	liveNodes := make([]Node, 0, len(g.nodes))
	nodeIdx := make(map[string]int)
	for i, n := range g.nodes {
		if g.nodeDead[i] {
			continue
		}
		nodeIdx[n.ID] = len(liveNodes)
		liveNodes = append(liveNodes, n)
	}
	liveEdges := make([]Edge, 0, len(g.edges))
	edgeIdx := make(map[string]int)
	for i, e := range g.edges {
		if g.edgeDead[i] {
			continue
		}
		edgeIdx[e.ID] = len(liveEdges)
		liveEdges = append(liveEdges, e)
	}

	g.nodes = liveNodes
	g.nodeIdx = nodeIdx
	g.nodeDead = make([]bool, len(liveNodes))
	g.edges = liveEdges
	g.edgeIdx = edgeIdx
	g.edgeDead = make([]bool, len(liveEdges))
	g.tombstone = 0
}

// graphSnapshot is the persisted form: live entities only.
type graphSnapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

func (g *ConceptGraph) snapshot() graphSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	snap := graphSnapshot{}
	for i, n := range g.nodes {
		if !g.nodeDead[i] {
			snap.Nodes = append(snap.Nodes, n)
		}
	}
	for i, e := range g.edges {
		if !g.edgeDead[i] {
			snap.Edges = append(snap.Edges, e)
		}
	}
	return snap
}

func (g *ConceptGraph) restore(snap graphSnapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = snap.Nodes
	g.nodeIdx = make(map[string]int, len(snap.Nodes))
	g.nodeDead = make([]bool, len(snap.Nodes))
	for i, n := range snap.Nodes {
		g.nodeIdx[n.ID] = i
	}
	g.edges = snap.Edges
	g.edgeIdx = make(map[string]int, len(snap.Edges))
	g.edgeDead = make([]bool, len(snap.Edges))
	for i, e := range snap.Edges {
		g.edgeIdx[e.ID] = i
	}
	g.tombstone = 0
}
